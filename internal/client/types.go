package client

// ThreadResponse is the strongly typed shape of GET /chat-thread/{id}.
// Backends place the messages under "messages" or "thread", optionally
// wrapped in a "data" envelope.
type ThreadResponse struct {
	ChatID      string          `json:"chat_id,omitempty"`
	ChatIDCamel string          `json:"chatId,omitempty"`
	Messages    []ThreadMessage `json:"messages,omitempty"`
	Thread      []ThreadMessage `json:"thread,omitempty"`
	Data        *ThreadResponse `json:"data,omitempty"`
}

// ThreadMessage is a decoded thread entry. The textual payload may be under
// any of Text, Summary, Message or Token.
type ThreadMessage struct {
	ID          string             `json:"id,omitempty"`
	Role        string             `json:"role,omitempty"`
	Text        *string            `json:"text,omitempty"`
	Summary     *string            `json:"summary,omitempty"`
	Message     *string            `json:"message,omitempty"`
	Token       *string            `json:"token,omitempty"`
	Ts          *int64             `json:"ts,omitempty"`
	Language    string             `json:"language,omitempty"`
	Attachments []ThreadAttachment `json:"attachments,omitempty"`
}

// ThreadAttachment is an attachment stored with a thread message.
type ThreadAttachment struct {
	ID            string   `json:"id,omitempty"`
	Filename      string   `json:"filename,omitempty"`
	MimeType      string   `json:"mime_type,omitempty"`
	Path          string   `json:"path,omitempty"`
	URL           string   `json:"url,omitempty"`
	Size          int64    `json:"size,omitempty"`
	Description   string   `json:"description,omitempty"`
	OCRText       string   `json:"ocr_text,omitempty"`
	Labels        []string `json:"labels,omitempty"`
	PreviewBase64 string   `json:"preview_base64,omitempty"`
}

// UpdateSummaryRequest is the body of PUT /chat-thread/{id}/summary.
type UpdateSummaryRequest struct {
	Summary string `json:"summary"`
}

// SetLikedRequest is the body of POST /chat-thread/{id}/messages/{messageId}/liked.
type SetLikedRequest struct {
	Liked bool `json:"liked"`
}
