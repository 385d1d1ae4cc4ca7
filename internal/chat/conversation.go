// Package chat keeps the client-side state of one conversation: its
// history, the assistant message being streamed, and the attachments
// queued for the next prompt.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/ktulhu-ai/ktulhu/internal/history"
	"github.com/ktulhu-ai/ktulhu/internal/protocol"
	"github.com/ktulhu-ai/ktulhu/internal/session"
	"github.com/ktulhu-ai/ktulhu/internal/socket"
	"github.com/ktulhu-ai/ktulhu/internal/upload"
)

var (
	// ErrNotConnected is returned when a prompt could not be sent.
	ErrNotConnected = errors.New("not connected")
	// ErrNothingToRegenerate is returned when the last message is not an
	// assistant reply following a user prompt.
	ErrNothingToRegenerate = errors.New("nothing to regenerate")
	// ErrMessageNotFound is returned when a message id is unknown.
	ErrMessageNotFound = errors.New("message not found")
)

// Transport sends prompts and exposes inbound streams. *socket.Manager
// satisfies it.
type Transport interface {
	SendPrompt(text string, s session.Session, attachments []protocol.PromptAttachment, language string) (string, bool)
	Cancel(s session.Session) bool
	Streams() *socket.Streams
}

// ThreadLoader loads stored history. *history.Resolver satisfies it.
type ThreadLoader interface {
	LoadThread(ctx context.Context, chatID string) []history.ChatMessage
}

// MessageStore edits stored messages. *client.Client satisfies it.
type MessageStore interface {
	DeleteMessage(ctx context.Context, chatID, messageID string) error
	SetMessageLiked(ctx context.Context, chatID, messageID string, liked bool) error
}

// Config holds the collaborators of a Conversation. Uploader may be nil,
// in which case attachments keep their local reference.
type Config struct {
	Transport Transport
	Threads   ThreadLoader
	Store     MessageStore
	Uploader  upload.Uploader
	Logger    *slog.Logger
}

// Conversation is safe for concurrent use.
type Conversation struct {
	transport Transport
	threads   ThreadLoader
	store     MessageStore
	uploader  upload.Uploader
	logger    *slog.Logger
	now       func() time.Time
	updates   *socket.Stream[Update]

	mu          sync.Mutex
	history     []history.ChatMessage
	attachments []protocol.PromptAttachment
	assistantID string
	requestID   string
	thinking    bool
	cancelled   bool
	loading     bool
	seq         int

	uploads sync.WaitGroup
}

// New creates an empty conversation. Call Run to start consuming the
// transport's streams.
func New(cfg Config) *Conversation {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Conversation{
		transport: cfg.Transport,
		threads:   cfg.Threads,
		store:     cfg.Store,
		uploader:  cfg.Uploader,
		logger:    logger,
		now:       time.Now,
		updates:   socket.NewStream[Update]("updates", 256, false),
	}
}

// Updates returns the stream of visible state changes.
func (c *Conversation) Updates() *socket.Stream[Update] {
	return c.updates
}

// Run applies inbound events until ctx is done.
func (c *Conversation) Run(ctx context.Context) error {
	streams := c.transport.Streams()
	tokens := streams.Tokens.Subscribe()
	defer tokens.Close()
	done := streams.Done.Subscribe()
	defer done.Close()
	system := streams.System.Subscribe()
	defer system.Close()
	messages := streams.Messages.Subscribe()
	defer messages.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		case tok := <-tokens.C:
			c.handleToken(tok)
		case <-done.C:
			// Events routed ahead of the completion may still be buffered.
			drain(messages, c.handleMetadata)
			drain(tokens, c.handleToken)
			c.handleDone()
		case ev := <-system.C:
			c.handleSystem(ev)
		case ev := <-messages.C:
			c.handleMetadata(ev)
		}
	}
}

func drain[T any](sub *socket.Subscription[T], apply func(T)) {
	for {
		select {
		case v := <-sub.C:
			apply(v)
		default:
			return
		}
	}
}

func (c *Conversation) nextID(prefix string) string {
	c.seq++
	return fmt.Sprintf("%s-%d-%d", prefix, c.now().UnixMilli(), c.seq)
}

func (c *Conversation) indexOf(id string) int {
	return slices.IndexFunc(c.history, func(m history.ChatMessage) bool { return m.ID == id })
}

func (c *Conversation) handleToken(tok string) {
	c.mu.Lock()
	if c.cancelled || c.assistantID == "" {
		c.mu.Unlock()
		return
	}
	i := c.indexOf(c.assistantID)
	if i < 0 {
		c.mu.Unlock()
		return
	}
	c.history[i].Content += tok
	id := c.assistantID
	c.mu.Unlock()

	c.updates.Publish(Update{Kind: UpdateToken, MessageID: id, Text: tok})
}

func (c *Conversation) handleDone() {
	c.mu.Lock()
	id := c.assistantID
	c.assistantID = ""
	c.requestID = ""
	c.thinking = false
	c.cancelled = false
	c.mu.Unlock()

	c.updates.Publish(Update{Kind: UpdateDone, MessageID: id})
}

func (c *Conversation) handleSystem(ev socket.Event) {
	text := ev.String("text", "message", "token")

	c.mu.Lock()
	var msg history.ChatMessage
	if strings.TrimSpace(text) != "" {
		msg = history.ChatMessage{
			ID:        c.nextID("sys"),
			Role:      history.RoleSystem,
			Content:   text,
			Timestamp: c.now().UnixMilli(),
		}
		c.history = append(c.history, msg)
	}
	if ev.Get("done").Bool() {
		c.assistantID = ""
		c.thinking = false
	}
	c.mu.Unlock()

	if msg.ID != "" {
		c.updates.Publish(Update{Kind: UpdateSystem, MessageID: msg.ID, Text: text})
	}
}

// handleMetadata attaches a server-assigned id to the streaming assistant
// message when the event names the assistant role or the pending request.
func (c *Conversation) handleMetadata(ev socket.Event) {
	messageID := ev.String("message_id", "messageId", "id")
	if messageID == "" {
		return
	}
	role := ev.String("role", "msg_role")
	requestID := ev.String("request_id", "requestId")

	c.mu.Lock()
	matches := strings.EqualFold(role, history.RoleAssistant) ||
		(requestID != "" && requestID == c.requestID)
	if !matches || c.assistantID == "" {
		c.mu.Unlock()
		return
	}
	i := c.indexOf(c.assistantID)
	if i < 0 || c.history[i].ServerID != "" {
		c.mu.Unlock()
		return
	}
	c.history[i].ServerID = messageID
	id := c.assistantID
	c.mu.Unlock()

	c.updates.Publish(Update{Kind: UpdateServerID, MessageID: id, Text: messageID})
}

// LoadHistory replaces the history with the stored thread of chatID.
func (c *Conversation) LoadHistory(ctx context.Context, chatID string) {
	c.mu.Lock()
	c.loading = true
	c.mu.Unlock()

	msgs := c.threads.LoadThread(ctx, chatID)

	c.mu.Lock()
	c.history = msgs
	c.assistantID = ""
	c.requestID = ""
	c.thinking = false
	c.loading = false
	c.mu.Unlock()

	c.updates.Publish(Update{Kind: UpdateHistory})
}

// Clear empties the history.
func (c *Conversation) Clear() {
	c.mu.Lock()
	c.history = nil
	c.assistantID = ""
	c.requestID = ""
	c.thinking = false
	c.cancelled = false
	c.mu.Unlock()

	c.updates.Publish(Update{Kind: UpdateHistory})
}

// SendPrompt appends the user message and an empty assistant placeholder,
// then sends the prompt with the queued attachments. The attachment queue
// is cleared either way.
func (c *Conversation) SendPrompt(text string, s session.Session) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	language := DetectLanguage(text)

	c.mu.Lock()
	atts := slices.Clone(c.attachments)
	now := c.now().UnixMilli()
	user := history.ChatMessage{
		ID:          c.nextID("u"),
		Role:        history.RoleUser,
		Content:     text,
		Attachments: slices.Clone(atts),
		Language:    language,
		Timestamp:   now,
	}
	placeholder := history.ChatMessage{
		ID:        c.nextID("a"),
		Role:      history.RoleAssistant,
		Timestamp: now,
	}
	c.history = append(c.history, user, placeholder)
	c.assistantID = placeholder.ID
	c.requestID = ""
	c.thinking = true
	c.cancelled = false
	c.attachments = nil
	c.mu.Unlock()

	requestID, ok := c.transport.SendPrompt(text, s, atts, language)

	c.mu.Lock()
	defer c.mu.Unlock()
	if !ok {
		c.dropPlaceholderLocked(placeholder.ID)
		return ErrNotConnected
	}
	if c.assistantID == placeholder.ID {
		c.requestID = requestID
	}
	return nil
}

func (c *Conversation) dropPlaceholderLocked(id string) {
	if i := c.indexOf(id); i >= 0 && c.history[i].Content == "" {
		c.history = slices.Delete(c.history, i, i+1)
	}
	if c.assistantID == id {
		c.assistantID = ""
		c.requestID = ""
		c.thinking = false
	}
}

// Cancel asks the server to stop the current response. Tokens that still
// arrive are ignored until the next completion or prompt.
func (c *Conversation) Cancel(s session.Session) bool {
	sent := c.transport.Cancel(s)

	c.mu.Lock()
	c.cancelled = true
	c.thinking = false
	c.requestID = ""
	c.mu.Unlock()
	return sent
}

// Regenerate deletes the last assistant reply on the server and asks for a
// new one to the preceding user prompt.
func (c *Conversation) Regenerate(ctx context.Context, s session.Session) error {
	c.mu.Lock()
	n := len(c.history)
	if n == 0 || c.history[n-1].Role != history.RoleAssistant {
		c.mu.Unlock()
		return ErrNothingToRegenerate
	}
	target := c.history[n-1]
	prev := -1
	for i := n - 2; i >= 0; i-- {
		if c.history[i].Role == history.RoleUser {
			prev = i
			break
		}
	}
	if prev < 0 {
		c.mu.Unlock()
		return ErrNothingToRegenerate
	}
	prompt := c.history[prev].Content
	c.mu.Unlock()

	if err := c.store.DeleteMessage(ctx, s.ChatID, target.RemoteID()); err != nil {
		return fmt.Errorf("regenerate: %w", err)
	}

	c.mu.Lock()
	if i := c.indexOf(target.ID); i >= 0 {
		c.history = slices.Delete(c.history, i, i+1)
	}
	placeholder := history.ChatMessage{
		ID:        c.nextID("a"),
		Role:      history.RoleAssistant,
		Timestamp: c.now().UnixMilli(),
	}
	c.history = append(c.history, placeholder)
	c.assistantID = placeholder.ID
	c.requestID = ""
	c.thinking = true
	c.cancelled = false
	c.mu.Unlock()
	c.updates.Publish(Update{Kind: UpdateHistory})

	requestID, ok := c.transport.SendPrompt(prompt, s, nil, "")

	c.mu.Lock()
	defer c.mu.Unlock()
	if !ok {
		c.dropPlaceholderLocked(placeholder.ID)
		return ErrNotConnected
	}
	if c.assistantID == placeholder.ID {
		c.requestID = requestID
	}
	return nil
}

// SendFeedback records a like or dislike for messageID.
func (c *Conversation) SendFeedback(ctx context.Context, s session.Session, messageID string, liked bool) error {
	c.mu.Lock()
	i := c.indexOf(messageID)
	var remoteID string
	if i >= 0 {
		remoteID = c.history[i].RemoteID()
	}
	c.mu.Unlock()

	if remoteID == "" {
		return ErrMessageNotFound
	}
	if err := c.store.SetMessageLiked(ctx, s.ChatID, remoteID, liked); err != nil {
		return fmt.Errorf("send feedback: %w", err)
	}
	return nil
}

// History returns a copy of the messages.
func (c *Conversation) History() []history.ChatMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]history.ChatMessage, len(c.history))
	for i, m := range c.history {
		m.Attachments = slices.Clone(m.Attachments)
		out[i] = m
	}
	return out
}

// LastAssistant returns the most recent assistant message.
func (c *Conversation) LastAssistant() (history.ChatMessage, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.history) - 1; i >= 0; i-- {
		if c.history[i].Role == history.RoleAssistant {
			return c.history[i], true
		}
	}
	return history.ChatMessage{}, false
}

// Thinking reports whether an assistant response is pending.
func (c *Conversation) Thinking() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.thinking
}

// Loading reports whether LoadHistory is in progress.
func (c *Conversation) Loading() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loading
}

// RequestID returns the request id of the pending response.
func (c *Conversation) RequestID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.requestID
}
