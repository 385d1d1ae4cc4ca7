package protocol

import (
	"strings"

	"github.com/google/uuid"

	"github.com/ktulhu-ai/ktulhu/internal/session"
)

// NewRequestID returns a fresh unique request id.
func NewRequestID() string {
	return uuid.New().String()
}

// Register builds the envelope that binds the connection to s.
func Register(s session.Session) Envelope {
	return envelope(MsgTypeRegister, "", s, "")
}

// Cancel builds a cancel envelope for requestID.
func Cancel(requestID string, s session.Session) Envelope {
	return envelope(MsgTypeCancel, requestID, s, "")
}

// Prompt builds a prompt envelope. Attachments with labels or OCR text also
// contribute an image_analysis metadata entry.
func Prompt(requestID, text string, s session.Session, attachments []PromptAttachment, language string) PromptEnvelope {
	env := PromptEnvelope{
		Envelope:    envelope(MsgTypePrompt, requestID, s, text),
		Attachments: make([]WireAttachment, 0, len(attachments)),
		Language:    language,
	}

	var analysis []ImageAnalysis
	for _, att := range attachments {
		env.Attachments = append(env.Attachments, wireAttachment(att))
		if a, ok := imageAnalysis(att); ok {
			analysis = append(analysis, a)
		}
	}
	if len(analysis) > 0 {
		env.Metadata = &PromptMetadata{ImageAnalysis: analysis}
	}
	return env
}

func envelope(msgType, requestID string, s session.Session, text string) Envelope {
	return Envelope{
		MsgType:    msgType,
		RequestID:  requestID,
		DeviceHash: s.DeviceHash,
		SessionID:  s.SessionID,
		ChatID:     s.ChatID,
		Text:       text,
	}
}

func wireAttachment(att PromptAttachment) WireAttachment {
	w := WireAttachment{
		ID:            att.ID,
		Filename:      att.Filename,
		MimeType:      att.MimeType,
		PreviewBase64: att.PreviewData,
		Path:          att.Path(),
		Size:          att.SizeBytes,
	}
	if strings.TrimSpace(att.Description) != "" {
		w.Description = att.Description
	}
	if strings.TrimSpace(att.OCRText) != "" {
		w.OCRText = att.OCRText
	}
	if len(att.Labels) > 0 {
		w.Labels = att.Labels
	}
	return w
}

func imageAnalysis(att PromptAttachment) (ImageAnalysis, bool) {
	ocr := strings.TrimSpace(att.OCRText)
	if len(att.Labels) == 0 && ocr == "" {
		return ImageAnalysis{}, false
	}
	a := ImageAnalysis{
		AttachmentID: att.ID,
		Filename:     att.Filename,
		MimeType:     att.MimeType,
		Labels:       att.Labels,
		OCRText:      ocr,
		Source:       AnalysisSource,
	}
	if strings.TrimSpace(att.Description) != "" {
		a.Summary = att.Description
	}
	return a, true
}
