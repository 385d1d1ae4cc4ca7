package history

import "github.com/ktulhu-ai/ktulhu/internal/protocol"

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
	RoleSummary   = "summary"
)

// ChatMessage is a conversational turn resolved from a thread payload or
// built locally while streaming.
type ChatMessage struct {
	ID string `json:"id"`
	// ServerID is the durable id the backend assigned to a streamed message.
	ServerID    string                      `json:"server_id,omitempty"`
	Role        string                      `json:"role"`
	Content     string                      `json:"content"`
	Attachments []protocol.PromptAttachment `json:"attachments,omitempty"`
	Language    string                      `json:"language,omitempty"`
	Timestamp   int64                       `json:"ts"`
}

// RemoteID returns the id to use in REST calls about this message.
func (m ChatMessage) RemoteID() string {
	if m.ServerID != "" {
		return m.ServerID
	}
	return m.ID
}

// ChatSummary is one entry of the chat list.
type ChatSummary struct {
	ChatID    string `json:"chat_id"`
	Summary   string `json:"summary,omitempty"`
	Text      string `json:"text,omitempty"`
	Timestamp int64  `json:"ts"`
}

// Title returns the text to display for the chat.
func (s ChatSummary) Title() string {
	if s.Summary != "" {
		return s.Summary
	}
	return s.Text
}
