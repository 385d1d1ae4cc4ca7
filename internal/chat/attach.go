package chat

import (
	"context"
	"encoding/base64"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/ktulhu-ai/ktulhu/internal/protocol"
)

const (
	maxPlainText      = 8000
	maxDescriptionOCR = 400
)

// Attachments returns the attachments queued for the next prompt.
func (c *Conversation) Attachments() []protocol.PromptAttachment {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.attachments)
}

// AddAttachment queues att for the next prompt.
func (c *Conversation) AddAttachment(att protocol.PromptAttachment) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attachments = append(c.attachments, att)
}

// RemoveAttachment drops the queued attachment with id.
func (c *Conversation) RemoveAttachment(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.attachments)
	c.attachments = slices.DeleteFunc(c.attachments, func(a protocol.PromptAttachment) bool { return a.ID == id })
	return len(c.attachments) != n
}

// ClearAttachments empties the queue.
func (c *Conversation) ClearAttachments() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attachments = nil
}

// AttachFile reads a local file, queues it and uploads it in the
// background. The returned attachment is the queued, still-uploading copy.
// An empty mimeType is derived from the extension or the content.
func (c *Conversation) AttachFile(ctx context.Context, path, mimeType string) (protocol.PromptAttachment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return protocol.PromptAttachment{}, fmt.Errorf("attach %s: %w", path, err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	if mimeType == "" {
		mimeType = detectMime(path, data)
	}

	att := protocol.PromptAttachment{
		ID:        uuid.NewString(),
		Filename:  filepath.Base(path),
		MimeType:  mimeType,
		LocalRef:  "file://" + filepath.ToSlash(abs),
		SizeBytes: int64(len(data)),
		Uploading: c.uploader != nil,
	}
	switch {
	case strings.HasPrefix(strings.ToLower(mimeType), "image/"):
		att.PreviewData = "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
	case isPlainTextMime(mimeType):
		att.OCRText = plainText(data)
	}
	att.Description = describe(att.Labels, att.OCRText)

	c.AddAttachment(att)
	if c.uploader != nil {
		c.uploads.Add(1)
		go c.upload(ctx, att, data)
	}
	return att, nil
}

// WaitUploads blocks until background uploads finish.
func (c *Conversation) WaitUploads() {
	c.uploads.Wait()
}

func (c *Conversation) upload(ctx context.Context, att protocol.PromptAttachment, data []byte) {
	defer c.uploads.Done()

	url, err := c.uploader.Upload(ctx, data, att.Filename, att.MimeType)
	if err != nil {
		c.logger.Warn("Attachment upload failed", "attachment_id", att.ID, "filename", att.Filename, "error", err)
		c.updateAttachment(att.ID, func(a *protocol.PromptAttachment) {
			a.Uploading = false
			a.UploadError = err.Error()
		})
		c.updates.Publish(Update{Kind: UpdateAttachment, MessageID: att.ID, Text: err.Error()})
		return
	}

	c.logger.Debug("Attachment uploaded", "attachment_id", att.ID, "url", url)
	c.updateAttachment(att.ID, func(a *protocol.PromptAttachment) {
		a.RemoteURL = url
		a.Uploading = false
		a.UploadError = ""
	})
	c.propagateRemoteURL(att.ID, url)
	c.updates.Publish(Update{Kind: UpdateAttachment, MessageID: att.ID, Text: url})
}

func (c *Conversation) updateAttachment(id string, fn func(*protocol.PromptAttachment)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.attachments {
		if c.attachments[i].ID == id {
			fn(&c.attachments[i])
		}
	}
}

// propagateRemoteURL updates attachments already sent with a prompt.
func (c *Conversation) propagateRemoteURL(id, url string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.history {
		for j := range c.history[i].Attachments {
			a := &c.history[i].Attachments[j]
			if a.ID == id {
				a.RemoteURL = url
				a.Uploading = false
			}
		}
	}
}

func detectMime(path string, data []byte) string {
	if t := mime.TypeByExtension(strings.ToLower(filepath.Ext(path))); t != "" {
		if mt, _, err := mime.ParseMediaType(t); err == nil {
			return mt
		}
		return t
	}
	t := http.DetectContentType(data)
	if mt, _, err := mime.ParseMediaType(t); err == nil {
		return mt
	}
	return t
}

func isPlainTextMime(m string) bool {
	lower := strings.ToLower(m)
	if strings.HasPrefix(lower, "text/") {
		return true
	}
	for _, s := range []string{"json", "xml", "yaml", "csv", "javascript"} {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}

func plainText(data []byte) string {
	s := strings.ToValidUTF8(string(data), "")
	if utf8.RuneCountInString(s) > maxPlainText {
		s = string([]rune(s)[:maxPlainText])
	}
	return strings.TrimSpace(s)
}

// describe summarizes labels and OCR text, e.g. "cat, pet | OCR: hello".
func describe(labels []string, ocr string) string {
	var parts []string
	if len(labels) > 0 {
		parts = append(parts, strings.Join(labels, ", "))
	}
	if norm := strings.Join(strings.Fields(ocr), " "); norm != "" {
		if r := []rune(norm); len(r) > maxDescriptionOCR {
			norm = string(r[:maxDescriptionOCR])
		}
		parts = append(parts, "OCR: "+norm)
	}
	return strings.Join(parts, " | ")
}
