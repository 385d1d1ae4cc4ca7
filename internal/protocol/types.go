// Package protocol defines the JSON envelopes exchanged with the Ktulhu
// backend over the persistent connection.
package protocol

// Outbound message types.
const (
	MsgTypeRegister = "register"
	MsgTypePrompt   = "prompt"
	MsgTypeCancel   = "cancel"
)

// Inbound logical types. A frame names its type under "type" or "msg_type".
const (
	TypeSystem  = "system"
	TypeSummary = "summary"
	TypeDone    = "done"
)

// AnalysisSource tags client-derived image analysis so the server can tell
// it apart from anything it computes itself.
const AnalysisSource = "ml_kit"

// Envelope holds the fields common to every outbound message.
type Envelope struct {
	MsgType    string `json:"msg_type"`
	RequestID  string `json:"request_id"`
	DeviceHash string `json:"device_hash"`
	SessionID  string `json:"session_id"`
	ChatID     string `json:"chat_id"`
	Text       string `json:"text"`
}

// PromptEnvelope is a prompt with its attachments and optional metadata.
// Attachments is always serialised, even when empty.
type PromptEnvelope struct {
	Envelope
	Attachments []WireAttachment `json:"attachments"`
	Metadata    *PromptMetadata  `json:"metadata,omitempty"`
	Language    string           `json:"language,omitempty"`
}

// WireAttachment is the attachment as sent inside a prompt envelope.
type WireAttachment struct {
	ID            string   `json:"id"`
	Filename      string   `json:"filename"`
	MimeType      string   `json:"mimeType,omitempty"`
	PreviewBase64 string   `json:"previewBase64,omitempty"`
	Path          string   `json:"path,omitempty"`
	Size          int64    `json:"size"`
	Description   string   `json:"description,omitempty"`
	OCRText       string   `json:"ocrText,omitempty"`
	Labels        []string `json:"labels,omitempty"`
}

// PromptMetadata carries optional side information for a prompt.
type PromptMetadata struct {
	ImageAnalysis []ImageAnalysis `json:"image_analysis,omitempty"`
}

// ImageAnalysis describes labels or OCR text the client derived for one attachment.
type ImageAnalysis struct {
	AttachmentID string   `json:"attachment_id"`
	Filename     string   `json:"filename"`
	MimeType     string   `json:"mime_type,omitempty"`
	Labels       []string `json:"labels,omitempty"`
	OCRText      string   `json:"ocr_text,omitempty"`
	Summary      string   `json:"summary,omitempty"`
	Source       string   `json:"source"`
}

// PromptAttachment is a file the user attached to the next prompt.
// RemoteURL supersedes LocalRef once the upload completes.
type PromptAttachment struct {
	ID          string   `json:"id"`
	Filename    string   `json:"filename"`
	MimeType    string   `json:"mime_type,omitempty"`
	LocalRef    string   `json:"local_ref,omitempty"`
	RemoteURL   string   `json:"remote_url,omitempty"`
	SizeBytes   int64    `json:"size_bytes"`
	Description string   `json:"description,omitempty"`
	OCRText     string   `json:"ocr_text,omitempty"`
	Labels      []string `json:"labels,omitempty"`
	PreviewData string   `json:"preview_data,omitempty"`
	Uploading   bool     `json:"uploading"`
	UploadError string   `json:"upload_error,omitempty"`
}

// Path returns the location sent on the wire: the remote URL when the
// upload finished, otherwise the local reference.
func (a PromptAttachment) Path() string {
	if a.RemoteURL != "" {
		return a.RemoteURL
	}
	return a.LocalRef
}
