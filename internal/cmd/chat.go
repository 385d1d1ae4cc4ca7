package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/shlex"
	"github.com/reeflective/readline"
	"github.com/spf13/cobra"

	"github.com/ktulhu-ai/ktulhu/internal/chat"
	"github.com/ktulhu-ai/ktulhu/internal/logging"
	"github.com/ktulhu-ai/ktulhu/internal/socket"
)

var (
	// chat-specific flags
	oncePrompt  string
	chatID      string
	openTimeout time.Duration
)

// chatCmd represents the chat command
var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Interactive chat with the assistant",
	Long: `Start an interactive chat with the Ktulhu assistant.

Replies are streamed as they are generated. Use --chat to continue a
stored chat and --once to send a single prompt and exit:
  ktulhu chat --once "What is the capital of France?"

Commands (interactive mode only):
  /new           - Start a new chat
  /chat ID       - Switch to a stored chat
  /cancel        - Cancel the current reply
  /help          - Show available commands`,
	RunE: runChat,
}

func init() {
	rootCmd.AddCommand(chatCmd)

	chatCmd.Flags().StringVar(&oncePrompt, "once", "", "Send a single prompt and exit (non-interactive mode)")
	chatCmd.Flags().StringVar(&chatID, "chat", "", "Continue the stored chat with this id")
	chatCmd.Flags().DurationVar(&openTimeout, "connect-timeout", 15*time.Second, "How long --once waits for the connection to open")
}

func runChat(cmd *cobra.Command, args []string) error {
	a := newApp(cfg)
	defer a.Close()
	if err := a.serveMetrics(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle SIGTERM for graceful shutdown. SIGINT is handled by readline
	// at the prompt and cancels the reply while one is streaming.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		select {
		case <-sigChan:
			cancel()
		case <-ctx.Done():
		}
	}()

	s := a.sessions.Current()
	if chatID != "" {
		s = a.sessions.SetChatID(chatID)
	}

	r := newREPL(a, os.Stdout)
	r.start(ctx)
	if chatID != "" {
		r.conv.LoadHistory(ctx, chatID)
	}
	a.connection().EnsureConnected(s)

	if oncePrompt != "" {
		return r.once(ctx, oncePrompt, openTimeout)
	}
	if chatID != "" {
		printThread(r.out, r.conv.History())
	}
	return r.loop(ctx)
}

// slashCommands defines the available slash commands with their descriptions.
var slashCommands = []struct {
	name        string
	description string
}{
	{"/help", "Show available commands"},
	{"/h", "Show available commands (alias)"},
	{"/?", "Show available commands (alias)"},
	{"/quit", "Exit the CLI"},
	{"/exit", "Exit the CLI (alias)"},
	{"/q", "Exit the CLI (alias)"},
	{"/new", "Start a new chat"},
	{"/chat", "Switch to a stored chat: /chat ID"},
	{"/history", "Show the messages of this chat"},
	{"/summaries", "List stored chats"},
	{"/attach", "Attach a file to the next prompt: /attach PATH [MIME]"},
	{"/attachments", "List queued attachments"},
	{"/detach", "Remove a queued attachment: /detach ID"},
	{"/cancel", "Cancel the current reply"},
	{"/regenerate", "Ask for a new answer to the last prompt"},
	{"/like", "Like the last answer"},
	{"/dislike", "Dislike the last answer"},
	{"/summary", "Rename this chat: /summary TEXT"},
	{"/delete", "Delete this chat and start a new one"},
	{"/status", "Show the connection status"},
}

// repl drives one conversation from the terminal.
type repl struct {
	app       *app
	conv      *chat.Conversation
	summaries *chat.SummaryList
	out       io.Writer

	// replyDone receives after every completed reply.
	replyDone chan struct{}
}

func newREPL(a *app, out io.Writer) *repl {
	return &repl{
		app:       a,
		conv:      a.conversation(a.sessions.Current()),
		summaries: chat.NewSummaryList(a.resolver),
		out:       out,
		replyDone: make(chan struct{}, 1),
	}
}

// start runs the conversation and the output printers until ctx is done.
func (r *repl) start(ctx context.Context) {
	conn := r.app.connection()
	go r.conv.Run(ctx)
	go r.summaries.Follow(ctx, conn.Streams().Summaries)
	go r.printUpdates(ctx)
	go r.printStatus(ctx, conn.SubscribeStatus())
}

func (r *repl) printUpdates(ctx context.Context) {
	sub := r.conv.Updates().Subscribe()
	defer sub.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-sub.C:
			if !ok {
				return
			}
			switch u.Kind {
			case chat.UpdateToken:
				fmt.Fprint(r.out, u.Text)
			case chat.UpdateDone:
				fmt.Fprintln(r.out)
				select {
				case r.replyDone <- struct{}{}:
				default:
				}
			case chat.UpdateSystem:
				fmt.Fprintf(r.out, "\nℹ️  %s\n", u.Text)
			case chat.UpdateAttachment:
				fmt.Fprintf(r.out, "\n📎 %s: %s\n", u.MessageID, u.Text)
			}
		}
	}
}

func (r *repl) printStatus(ctx context.Context, sub *socket.Subscription[socket.Status]) {
	defer sub.Close()
	logger := logging.CLI()
	var last socket.StatusKind
	for {
		select {
		case <-ctx.Done():
			return
		case st, ok := <-sub.C:
			if !ok {
				return
			}
			logger.Debug("connection status", "status", st.String())
			if st.Kind == socket.StatusError && last != socket.StatusError {
				fmt.Fprintf(r.out, "\n⚠️  Connection lost (%s), reconnecting...\n", st.Message)
			}
			if st.Kind == socket.StatusOpen && last == socket.StatusError {
				fmt.Fprintln(r.out, "\n✅ Reconnected")
			}
			last = st.Kind
		}
	}
}

// once sends a single prompt and returns after the reply completes.
func (r *repl) once(ctx context.Context, prompt string, timeout time.Duration) error {
	if err := waitOpen(ctx, r.app.connection(), timeout); err != nil {
		return err
	}
	if err := r.conv.SendPrompt(prompt, r.app.sessions.Current()); err != nil {
		return fmt.Errorf("prompt error: %w", err)
	}
	r.waitReply(ctx)
	return nil
}

// waitOpen blocks until the connection is open.
func waitOpen(ctx context.Context, conn *socket.Manager, timeout time.Duration) error {
	sub := conn.SubscribeStatus()
	defer sub.Close()
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var last socket.Status
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return fmt.Errorf("connection not open after %s (last status: %s)", timeout, last)
		case st, ok := <-sub.C:
			if !ok {
				return errors.New("status stream closed")
			}
			if st.Kind == socket.StatusOpen {
				return nil
			}
			last = st
		}
	}
}

// waitReply blocks until the pending reply completes. Ctrl+C cancels it.
func (r *repl) waitReply(ctx context.Context) {
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	defer signal.Stop(interrupt)

	// A system message with done set ends the reply without a completion.
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.replyDone:
			return
		case <-interrupt:
			r.conv.Cancel(r.app.sessions.Current())
			fmt.Fprintln(r.out, "\n🛑 Cancelled")
			return
		case <-ticker.C:
			if !r.conv.Thinking() {
				return
			}
		}
	}
}

func (r *repl) loop(ctx context.Context) error {
	rl := readline.NewShell()
	rl.Prompt.Primary(func() string { return "ktulhu> " })

	history := readline.NewInMemoryHistory()
	rl.History.Add("default", history)

	rl.Completer = func(line []rune, cursor int) readline.Completions {
		return completeInput(string(line), cursor)
	}

	fmt.Fprintln(r.out, "\n📝 Type your message and press Enter. Use /help for commands. Tab completes commands.")

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		line, err := rl.Readline()
		if err != nil {
			if err == io.EOF || err == readline.ErrInterrupt {
				fmt.Fprintln(r.out, "\n👋 Goodbye!")
				return nil
			}
			return err
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			if quit := r.handleCommand(ctx, line); quit {
				fmt.Fprintln(r.out, "👋 Goodbye!")
				return nil
			}
			continue
		}

		r.prompt(ctx, line)
	}
}

func (r *repl) prompt(ctx context.Context, text string) {
	// Drop a completion left over from a cancelled reply.
	select {
	case <-r.replyDone:
	default:
	}

	fmt.Fprintln(r.out)
	if err := r.conv.SendPrompt(text, r.app.sessions.Current()); err != nil {
		fmt.Fprintf(r.out, "❌ Error: %v (status: %s)\n", err, r.app.connection().Status())
		return
	}
	r.waitReply(ctx)
	fmt.Fprintln(r.out)
}

// handleCommand runs a slash command and reports whether the CLI should exit.
func (r *repl) handleCommand(ctx context.Context, line string) bool {
	parts, err := shlex.Split(line)
	if err != nil || len(parts) == 0 {
		fmt.Fprintf(r.out, "❌ Cannot parse command: %v\n", err)
		return false
	}
	name := strings.ToLower(strings.TrimPrefix(parts[0], "/"))
	args := parts[1:]
	s := r.app.sessions.Current()

	switch name {
	case "quit", "exit", "q":
		return true
	case "help", "h", "?":
		printHelp(r.out)
	case "new":
		s = r.app.sessions.NewChat()
		r.conv.Clear()
		r.app.connection().EnsureConnected(s)
		logging.WithSession(logging.CLI(), s).Info("Started new chat")
		fmt.Fprintf(r.out, "🆕 New chat %s\n", s.ChatID)
	case "chat":
		if len(args) != 1 {
			fmt.Fprintln(r.out, "Usage: /chat ID")
			return false
		}
		s = r.app.sessions.SetChatID(args[0])
		r.conv.LoadHistory(ctx, s.ChatID)
		r.app.connection().EnsureConnected(s)
		logging.WithSession(logging.CLI(), s).Info("Switched chat")
		printThread(r.out, r.conv.History())
	case "history":
		printThread(r.out, r.conv.History())
	case "summaries", "chats":
		printSummaries(r.out, r.summaries.Load(ctx, s.DeviceHash))
	case "attach":
		if len(args) < 1 || len(args) > 2 {
			fmt.Fprintln(r.out, "Usage: /attach PATH [MIME]")
			return false
		}
		mimeType := ""
		if len(args) == 2 {
			mimeType = args[1]
		}
		att, err := r.conv.AttachFile(ctx, args[0], mimeType)
		if err != nil {
			fmt.Fprintf(r.out, "❌ %v\n", err)
			return false
		}
		fmt.Fprintf(r.out, "📎 Queued %s (%s, %s)\n", att.Filename, att.ID, att.MimeType)
	case "attachments":
		atts := r.conv.Attachments()
		if len(atts) == 0 {
			fmt.Fprintln(r.out, "No attachments queued")
		}
		for _, att := range atts {
			state := att.RemoteURL
			switch {
			case att.Uploading:
				state = "uploading"
			case att.UploadError != "":
				state = "failed: " + att.UploadError
			}
			fmt.Fprintf(r.out, "  %s  %s  %s\n", att.ID, att.Filename, state)
		}
	case "detach":
		if len(args) != 1 {
			fmt.Fprintln(r.out, "Usage: /detach ID")
			return false
		}
		if !r.conv.RemoveAttachment(args[0]) {
			fmt.Fprintf(r.out, "❓ No attachment %s\n", args[0])
		}
	case "cancel":
		if r.conv.Cancel(s) {
			fmt.Fprintln(r.out, "🛑 Cancelled")
		} else {
			fmt.Fprintln(r.out, "❌ Cancel could not be sent")
		}
	case "regenerate":
		if err := r.conv.Regenerate(ctx, s); err != nil {
			fmt.Fprintf(r.out, "❌ %v\n", err)
			return false
		}
		r.waitReply(ctx)
	case "like", "dislike":
		msg, ok := r.conv.LastAssistant()
		if !ok {
			fmt.Fprintln(r.out, "❓ No answer to rate")
			return false
		}
		if err := r.conv.SendFeedback(ctx, s, msg.ID, name == "like"); err != nil {
			fmt.Fprintf(r.out, "❌ %v\n", err)
			return false
		}
		fmt.Fprintln(r.out, "👍 Thanks for the feedback")
	case "summary":
		text := strings.TrimSpace(strings.Join(args, " "))
		if text == "" {
			fmt.Fprintln(r.out, "Usage: /summary TEXT")
			return false
		}
		if err := r.app.client.UpdateSummary(ctx, s.ChatID, text); err != nil {
			fmt.Fprintf(r.out, "❌ %v\n", err)
			return false
		}
		fmt.Fprintln(r.out, "✏️  Summary updated")
	case "delete":
		if err := r.app.client.DeleteThread(ctx, s.ChatID); err != nil {
			fmt.Fprintf(r.out, "❌ %v\n", err)
			return false
		}
		r.summaries.Remove(s.ChatID)
		deleted := s.ChatID
		s = r.app.sessions.NewChat()
		r.conv.Clear()
		r.app.connection().EnsureConnected(s)
		logging.WithSession(logging.CLI(), s).Info("Deleted chat", "deleted_chat_id", deleted)
		fmt.Fprintf(r.out, "🗑️  Chat deleted, new chat %s\n", s.ChatID)
	case "status":
		fmt.Fprintf(r.out, "Connection: %s\nChat: %s\n", r.app.connection().Status(), s.ChatID)
	default:
		fmt.Fprintf(r.out, "❓ Unknown command: %s (use /help for available commands)\n", parts[0])
	}
	return false
}

func printHelp(w io.Writer) {
	fmt.Fprintln(w, "\nAvailable commands:")
	for _, c := range slashCommands {
		if strings.HasSuffix(c.description, "(alias)") {
			continue
		}
		fmt.Fprintf(w, "  %-13s - %s\n", c.name, c.description)
	}
	fmt.Fprintln(w, `
Tips:
  - Type your message and press Enter to send it
  - Press Ctrl+C while a reply streams to cancel it
  - Use up/down arrows for command history
  - Use Tab to autocomplete slash commands`)
}

// completeInput provides tab completion for the CLI input.
// It completes slash commands when the input starts with "/".
func completeInput(line string, cursor int) readline.Completions {
	if cursor > len(line) {
		cursor = len(line)
	}
	text := line[:cursor]

	if !strings.HasPrefix(text, "/") || strings.Contains(text, " ") {
		return readline.Completions{}
	}

	matches := matchCommands(text)
	if len(matches) == 0 {
		return readline.Completions{}
	}

	// Format: value1, desc1, value2, desc2, ...
	pairs := make([]string, 0, len(matches)*2)
	for _, i := range matches {
		pairs = append(pairs, slashCommands[i].name, slashCommands[i].description)
	}

	return readline.CompleteValuesDescribed(pairs...).
		Tag("commands").
		NoSpace('/') // Don't add space after completing partial command
}

// matchCommands returns the indexes of slash commands starting with prefix.
func matchCommands(prefix string) []int {
	var out []int
	for i, c := range slashCommands {
		if strings.HasPrefix(c.name, prefix) {
			out = append(out, i)
		}
	}
	return out
}
