package chat

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ktulhu-ai/ktulhu/internal/history"
	"github.com/ktulhu-ai/ktulhu/internal/protocol"
	"github.com/ktulhu-ai/ktulhu/internal/session"
	"github.com/ktulhu-ai/ktulhu/internal/socket"
)

type sentPrompt struct {
	text        string
	attachments []protocol.PromptAttachment
	language    string
}

type fakeTransport struct {
	streams *socket.Streams

	mu        sync.Mutex
	connected bool
	prompts   []sentPrompt
	cancels   int
	nextID    int
}

func newFakeTransport(connected bool) *fakeTransport {
	return &fakeTransport{streams: socket.NewStreams(socket.StreamSizes{}, nil), connected: connected}
}

func (f *fakeTransport) SendPrompt(text string, _ session.Session, atts []protocol.PromptAttachment, language string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return "", false
	}
	f.nextID++
	f.prompts = append(f.prompts, sentPrompt{text: text, attachments: atts, language: language})
	return "req-" + string(rune('0'+f.nextID)), true
}

func (f *fakeTransport) Cancel(session.Session) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancels++
	return f.connected
}

func (f *fakeTransport) Streams() *socket.Streams {
	return f.streams
}

type fakeStore struct {
	mu        sync.Mutex
	deleteErr error
	deleted   []string
	liked     map[string]bool
}

func (f *fakeStore) DeleteMessage(_ context.Context, _, messageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deleted = append(f.deleted, messageID)
	return nil
}

func (f *fakeStore) SetMessageLiked(_ context.Context, _, messageID string, liked bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.liked == nil {
		f.liked = make(map[string]bool)
	}
	f.liked[messageID] = liked
	return nil
}

type fakeThreads []history.ChatMessage

func (f fakeThreads) LoadThread(context.Context, string) []history.ChatMessage {
	return append([]history.ChatMessage(nil), f...)
}

var sess = session.Session{DeviceHash: "d", SessionID: "s", ChatID: "c"}

func event(t *testing.T, raw string) socket.Event {
	t.Helper()
	streams := socket.NewStreams(socket.StreamSizes{}, nil)
	sub := streams.Messages.Subscribe()
	defer sub.Close()
	socket.NewRouter(streams, socket.NewCorrelator(), nil, nil).Route([]byte(raw))
	select {
	case ev := <-sub.C:
		return ev
	default:
		t.Fatalf("frame %s produced no event", raw)
		return socket.Event{}
	}
}

func TestConversation_StreamsIntoPlaceholder(t *testing.T) {
	tr := newFakeTransport(true)
	c := New(Config{Transport: tr})

	if err := c.SendPrompt("Hi", sess); err != nil {
		t.Fatalf("SendPrompt() error = %v", err)
	}
	if !c.Thinking() || c.RequestID() != "req-1" {
		t.Errorf("Thinking() = %v, RequestID() = %q", c.Thinking(), c.RequestID())
	}

	c.handleToken("Hel")
	c.handleToken("lo")
	c.handleDone()
	c.handleToken("late")

	h := c.History()
	if len(h) != 2 {
		t.Fatalf("history has %d messages, want 2", len(h))
	}
	if h[0].Role != history.RoleUser || h[0].Content != "Hi" {
		t.Errorf("user = %+v", h[0])
	}
	if h[1].Role != history.RoleAssistant || h[1].Content != "Hello" {
		t.Errorf("assistant = %+v", h[1])
	}
	if c.Thinking() || c.RequestID() != "" {
		t.Error("done should end thinking and clear the request id")
	}
}

func TestConversation_SendPromptDisconnected(t *testing.T) {
	tr := newFakeTransport(false)
	c := New(Config{Transport: tr})
	c.AddAttachment(protocol.PromptAttachment{ID: "a1", Filename: "f.txt"})

	err := c.SendPrompt("Hi", sess)
	if !errors.Is(err, ErrNotConnected) {
		t.Fatalf("SendPrompt() error = %v, want ErrNotConnected", err)
	}
	h := c.History()
	if len(h) != 1 || h[0].Role != history.RoleUser {
		t.Errorf("history = %+v, want only the user message", h)
	}
	if c.Thinking() {
		t.Error("Thinking() should be false")
	}
	if len(c.Attachments()) != 0 {
		t.Error("attachments should be cleared")
	}
}

func TestConversation_SendPromptCarriesAttachmentsAndLanguage(t *testing.T) {
	tr := newFakeTransport(true)
	c := New(Config{Transport: tr})
	c.AddAttachment(protocol.PromptAttachment{ID: "a1", Filename: "x.png", RemoteURL: "https://f/x.png"})

	if err := c.SendPrompt("Привіт", sess); err != nil {
		t.Fatal(err)
	}
	if err := c.SendPrompt("   ", sess); err != nil {
		t.Fatal(err)
	}

	if len(tr.prompts) != 1 {
		t.Fatalf("prompts sent = %d, want 1 (blank ignored)", len(tr.prompts))
	}
	p := tr.prompts[0]
	if p.language != "uk" || len(p.attachments) != 1 || p.attachments[0].ID != "a1" {
		t.Errorf("prompt = %+v", p)
	}
	if len(c.Attachments()) != 0 {
		t.Error("attachments should be cleared after send")
	}
	if h := c.History(); len(h[0].Attachments) != 1 || h[0].Language != "uk" {
		t.Errorf("user message = %+v", h[0])
	}
}

func TestConversation_ServerID(t *testing.T) {
	tests := []struct {
		name  string
		frame string
		want  string
	}{
		{"assistant role", `{"message_id":"srv-1","role":"assistant"}`, "srv-1"},
		{"msg_role", `{"messageId":"srv-2","msg_role":"ASSISTANT"}`, "srv-2"},
		{"matching request", `{"id":"srv-3","request_id":"req-1"}`, "srv-3"},
		{"other request", `{"id":"srv-4","requestId":"req-9"}`, ""},
		{"user role", `{"message_id":"srv-5","role":"user"}`, ""},
		{"no id", `{"role":"assistant"}`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(Config{Transport: newFakeTransport(true)})
			if err := c.SendPrompt("Hi", sess); err != nil {
				t.Fatal(err)
			}
			c.handleMetadata(event(t, tt.frame))
			c.handleMetadata(event(t, `{"message_id":"later","role":"assistant"}`))

			got := c.History()[1].ServerID
			if tt.want != "" && got != tt.want {
				t.Errorf("ServerID = %q, want %q", got, tt.want)
			}
			if tt.want == "" && got != "later" {
				t.Errorf("ServerID = %q, want the later assistant id", got)
			}
		})
	}
}

func TestConversation_SystemMessage(t *testing.T) {
	c := New(Config{Transport: newFakeTransport(true)})
	if err := c.SendPrompt("Hi", sess); err != nil {
		t.Fatal(err)
	}

	c.handleSystem(event(t, `{"type":"system","message":"Model overloaded","done":true}`))

	h := c.History()
	last := h[len(h)-1]
	if last.Role != history.RoleSystem || last.Content != "Model overloaded" {
		t.Errorf("last message = %+v", last)
	}
	if c.Thinking() {
		t.Error("system done should end thinking")
	}
	c.handleToken("ignored")
	if h := c.History(); h[1].Content != "" {
		t.Errorf("token after system done appended: %q", h[1].Content)
	}
}

func TestConversation_CancelIgnoresLateTokens(t *testing.T) {
	tr := newFakeTransport(true)
	c := New(Config{Transport: tr})
	if err := c.SendPrompt("Long story", sess); err != nil {
		t.Fatal(err)
	}
	c.handleToken("Once")

	if !c.Cancel(sess) {
		t.Error("Cancel() = false")
	}
	c.handleToken(" upon")
	if got := c.History()[1].Content; got != "Once" {
		t.Errorf("content after cancel = %q", got)
	}
	if c.Thinking() {
		t.Error("Cancel should end thinking")
	}

	c.handleDone()
	if err := c.SendPrompt("Next", sess); err != nil {
		t.Fatal(err)
	}
	c.handleToken("fresh")
	h := c.History()
	if got := h[len(h)-1].Content; got != "fresh" {
		t.Errorf("next response = %q", got)
	}
}

func TestConversation_Regenerate(t *testing.T) {
	tr := newFakeTransport(true)
	store := &fakeStore{}
	c := New(Config{Transport: tr, Store: store, Threads: fakeThreads{
		{ID: "u1", Role: history.RoleUser, Content: "Tell a joke"},
		{ID: "a1", ServerID: "srv-a1", Role: history.RoleAssistant, Content: "Bad joke"},
	}})
	c.LoadHistory(context.Background(), "c")

	if err := c.Regenerate(context.Background(), sess); err != nil {
		t.Fatalf("Regenerate() error = %v", err)
	}
	if len(store.deleted) != 1 || store.deleted[0] != "srv-a1" {
		t.Errorf("deleted = %v, want [srv-a1]", store.deleted)
	}
	if len(tr.prompts) != 1 || tr.prompts[0].text != "Tell a joke" {
		t.Errorf("prompts = %+v", tr.prompts)
	}
	h := c.History()
	if len(h) != 2 || h[1].ID == "a1" || h[1].Content != "" || h[1].Role != history.RoleAssistant {
		t.Errorf("history = %+v", h)
	}
	if !c.Thinking() {
		t.Error("Thinking() should be true after regenerate")
	}
}

func TestConversation_RegenerateFailures(t *testing.T) {
	base := fakeThreads{
		{ID: "u1", Role: history.RoleUser, Content: "Q"},
		{ID: "a1", Role: history.RoleAssistant, Content: "A"},
	}

	t.Run("last is user", func(t *testing.T) {
		c := New(Config{Transport: newFakeTransport(true), Store: &fakeStore{}, Threads: base[:1]})
		c.LoadHistory(context.Background(), "c")
		if err := c.Regenerate(context.Background(), sess); !errors.Is(err, ErrNothingToRegenerate) {
			t.Errorf("error = %v", err)
		}
	})

	t.Run("no preceding user", func(t *testing.T) {
		c := New(Config{Transport: newFakeTransport(true), Store: &fakeStore{}, Threads: base[1:]})
		c.LoadHistory(context.Background(), "c")
		if err := c.Regenerate(context.Background(), sess); !errors.Is(err, ErrNothingToRegenerate) {
			t.Errorf("error = %v", err)
		}
	})

	t.Run("delete fails", func(t *testing.T) {
		c := New(Config{Transport: newFakeTransport(true), Store: &fakeStore{deleteErr: errors.New("boom")}, Threads: base})
		c.LoadHistory(context.Background(), "c")
		if err := c.Regenerate(context.Background(), sess); err == nil {
			t.Error("expected error")
		}
		if h := c.History(); len(h) != 2 || h[1].ID != "a1" {
			t.Errorf("history changed: %+v", h)
		}
	})

	t.Run("send fails", func(t *testing.T) {
		c := New(Config{Transport: newFakeTransport(false), Store: &fakeStore{}, Threads: base})
		c.LoadHistory(context.Background(), "c")
		if err := c.Regenerate(context.Background(), sess); !errors.Is(err, ErrNotConnected) {
			t.Errorf("error = %v", err)
		}
		if h := c.History(); len(h) != 1 || c.Thinking() {
			t.Errorf("placeholder should be removed: %+v", h)
		}
	})
}

func TestConversation_SendFeedback(t *testing.T) {
	store := &fakeStore{}
	c := New(Config{Transport: newFakeTransport(true), Store: store, Threads: fakeThreads{
		{ID: "a1", ServerID: "srv-1", Role: history.RoleAssistant},
		{ID: "a2", Role: history.RoleAssistant},
	}})
	c.LoadHistory(context.Background(), "c")

	if err := c.SendFeedback(context.Background(), sess, "a1", true); err != nil {
		t.Fatal(err)
	}
	if err := c.SendFeedback(context.Background(), sess, "a2", false); err != nil {
		t.Fatal(err)
	}
	if liked, ok := store.liked["srv-1"]; !ok || !liked {
		t.Errorf("liked = %v", store.liked)
	}
	if liked, ok := store.liked["a2"]; !ok || liked {
		t.Errorf("liked = %v", store.liked)
	}
	if err := c.SendFeedback(context.Background(), sess, "nope", true); !errors.Is(err, ErrMessageNotFound) {
		t.Errorf("error = %v", err)
	}
}

func TestConversation_RunOrdersTokensBeforeDone(t *testing.T) {
	tr := newFakeTransport(true)
	c := New(Config{Transport: tr})
	updates := c.Updates().Subscribe()
	defer updates.Close()

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		c.Run(ctx)
	}()
	defer func() {
		cancel()
		<-runDone
	}()

	deadline := time.Now().Add(2 * time.Second)
	for tr.streams.Messages.Subscribers() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("Run did not subscribe")
		}
		time.Sleep(time.Millisecond)
	}

	if err := c.SendPrompt("Hi", sess); err != nil {
		t.Fatal(err)
	}
	tr.streams.Tokens.Publish("A")
	tr.streams.Tokens.Publish("B")
	tr.streams.Done.Publish(struct{}{})

	timeout := time.After(2 * time.Second)
	for {
		select {
		case u := <-updates.C:
			if u.Kind != UpdateDone {
				continue
			}
			if got := c.History()[1].Content; got != "AB" {
				t.Errorf("content at done = %q, want AB", got)
			}
			return
		case <-timeout:
			t.Fatal("no done update")
		}
	}
}

func TestConversation_RunKeepsServerIDSentWithDone(t *testing.T) {
	for i := 0; i < 20; i++ {
		tr := newFakeTransport(true)
		router := socket.NewRouter(tr.streams, socket.NewCorrelator(), nil, nil)
		c := New(Config{Transport: tr})
		updates := c.Updates().Subscribe()

		ctx, cancel := context.WithCancel(context.Background())
		runDone := make(chan struct{})
		go func() {
			defer close(runDone)
			c.Run(ctx)
		}()

		deadline := time.Now().Add(2 * time.Second)
		for tr.streams.Messages.Subscribers() == 0 {
			if time.Now().After(deadline) {
				t.Fatal("Run did not subscribe")
			}
			time.Sleep(time.Millisecond)
		}
		if err := c.SendPrompt("Hi", sess); err != nil {
			t.Fatal(err)
		}

		for j := 0; j < 50; j++ {
			router.Route([]byte("tok "))
		}
		router.Route([]byte(`{"message_id":"srv-1","role":"assistant","token":"hello","done":true}`))

		timeout := time.After(2 * time.Second)
	wait:
		for {
			select {
			case u := <-updates.C:
				if u.Kind == UpdateDone {
					break wait
				}
			case <-timeout:
				t.Fatal("no done update")
			}
		}
		if got := c.History()[1].ServerID; got != "srv-1" {
			t.Errorf("run %d: server id = %q, want srv-1", i, got)
		}

		cancel()
		<-runDone
		updates.Close()
	}
}

type fakeUploader struct {
	release chan struct{}
	url     string
	err     error
}

func (f *fakeUploader) Upload(ctx context.Context, _ []byte, filename, _ string) (string, error) {
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if f.err != nil {
		return "", f.err
	}
	return f.url + filename, nil
}

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestConversation_AttachFile(t *testing.T) {
	up := &fakeUploader{release: make(chan struct{}), url: "https://files/"}
	c := New(Config{Transport: newFakeTransport(true), Uploader: up})
	path := writeTemp(t, "notes.txt", "hello\n  world")

	att, err := c.AttachFile(context.Background(), path, "")
	if err != nil {
		t.Fatalf("AttachFile() error = %v", err)
	}
	if att.Filename != "notes.txt" || att.MimeType != "text/plain" || !att.Uploading {
		t.Errorf("attachment = %+v", att)
	}
	if att.OCRText != "hello\n  world" || att.Description != "OCR: hello world" {
		t.Errorf("text extraction: ocr=%q description=%q", att.OCRText, att.Description)
	}
	if att.SizeBytes != int64(len("hello\n  world")) {
		t.Errorf("SizeBytes = %d", att.SizeBytes)
	}

	// Send before the upload finishes; the sent copy still points at the local file.
	if err := c.SendPrompt("see file", sess); err != nil {
		t.Fatal(err)
	}
	close(up.release)
	c.WaitUploads()

	sent := c.History()[0].Attachments
	if len(sent) != 1 || sent[0].Path() != "https://files/notes.txt" || sent[0].Uploading {
		t.Errorf("history attachment = %+v", sent)
	}
}

func TestConversation_AttachFileUploadError(t *testing.T) {
	c := New(Config{Transport: newFakeTransport(true), Uploader: &fakeUploader{err: errors.New("quota exceeded")}})
	path := writeTemp(t, "pic.png", "\x89PNG\r\n\x1a\n")

	att, err := c.AttachFile(context.Background(), path, "")
	if err != nil {
		t.Fatal(err)
	}
	if att.PreviewData == "" {
		t.Error("image attachment should carry a preview")
	}
	c.WaitUploads()

	atts := c.Attachments()
	if len(atts) != 1 || atts[0].Uploading || atts[0].UploadError != "quota exceeded" {
		t.Errorf("attachments = %+v", atts)
	}
	if !c.RemoveAttachment(att.ID) || len(c.Attachments()) != 0 {
		t.Error("RemoveAttachment failed")
	}
}

func TestConversation_AttachFileMissing(t *testing.T) {
	c := New(Config{Transport: newFakeTransport(true)})
	if _, err := c.AttachFile(context.Background(), filepath.Join(t.TempDir(), "nope"), ""); err == nil {
		t.Error("expected error for missing file")
	}
}
