package history

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/ktulhu-ai/ktulhu/internal/client"
	"github.com/ktulhu-ai/ktulhu/internal/protocol"
)

// str returns the first non-blank string value among keys of v.
func str(v gjson.Result, keys ...string) string {
	for _, k := range keys {
		r := v.Get(k)
		if r.Type != gjson.String && r.Type != gjson.Number {
			continue
		}
		if s := r.String(); strings.TrimSpace(s) != "" {
			return s
		}
	}
	return ""
}

// millis returns the first numeric value among keys of v, or 0.
func millis(v gjson.Result, keys ...string) int64 {
	for _, k := range keys {
		if r := v.Get(k); r.Type == gjson.Number {
			return r.Int()
		}
	}
	return 0
}

// excluded reports whether role is not a conversational turn.
func excluded(role string) bool {
	return strings.EqualFold(role, RoleSystem) || strings.EqualFold(role, RoleSummary)
}

// parseRawThread hand-parses a thread payload. It never fails; a payload it
// cannot read yields no messages. Entries without an id are numbered under
// the payload's chat id, or requestedID when the payload names none.
func parseRawThread(raw []byte, requestedID string, now int64) []ChatMessage {
	if !gjson.ValidBytes(raw) {
		return nil
	}
	root := gjson.ParseBytes(raw)
	if !root.IsObject() {
		return nil
	}

	arr := root.Get("messages")
	if !arr.IsArray() {
		arr = root.Get("thread")
	}
	if !arr.IsArray() {
		return nil
	}
	chatID := str(root, "chat_id", "chatId")
	if chatID == "" {
		chatID = requestedID
	}

	var out []ChatMessage
	for _, m := range arr.Array() {
		if !m.IsObject() {
			continue
		}
		role := str(m, "role")
		if role == "" {
			role = RoleAssistant
		}
		if excluded(role) {
			continue
		}

		id := str(m, "id")
		if id == "" {
			id = fmt.Sprintf("%s-%d", chatID, len(out))
		}
		ts := millis(m, "ts")
		if ts == 0 {
			ts = now
		}
		out = append(out, ChatMessage{
			ID:          id,
			Role:        role,
			Content:     CleanContent(str(m, "text", "summary", "message", "token")),
			Attachments: parseRawAttachments(m.Get("attachments")),
			Language:    str(m, "language"),
			Timestamp:   ts,
		})
	}
	return out
}

// parseRawAttachments accepts snake_case and camelCase keys.
func parseRawAttachments(arr gjson.Result) []protocol.PromptAttachment {
	if !arr.IsArray() {
		return nil
	}
	var out []protocol.PromptAttachment
	for i, a := range arr.Array() {
		if !a.IsObject() {
			continue
		}
		id := str(a, "id")
		if id == "" {
			id = fmt.Sprintf("attachment-%d", i)
		}
		var labels []string
		for _, l := range a.Get("labels").Array() {
			if s := strings.TrimSpace(l.String()); s != "" {
				labels = append(labels, s)
			}
		}
		out = append(out, protocol.PromptAttachment{
			ID:          id,
			Filename:    str(a, "filename", "name"),
			MimeType:    str(a, "mime_type", "mimeType"),
			RemoteURL:   str(a, "path", "url", "remoteUrl", "remote_url"),
			SizeBytes:   millis(a, "size", "size_bytes", "sizeBytes"),
			Description: str(a, "description"),
			OCRText:     str(a, "ocr_text", "ocrText"),
			Labels:      labels,
			PreviewData: str(a, "preview_base64", "previewBase64", "previewData"),
		})
	}
	return out
}

// typedMessages unwraps a data envelope and picks messages, then thread.
func typedMessages(resp *client.ThreadResponse) []client.ThreadMessage {
	if resp == nil {
		return nil
	}
	if resp.Data != nil {
		if msgs := typedMessages(resp.Data); len(msgs) > 0 {
			return msgs
		}
	}
	if len(resp.Messages) > 0 {
		return resp.Messages
	}
	return resp.Thread
}

// typedChatID returns the chat id a typed payload names, preferring the
// outer envelope.
func typedChatID(resp *client.ThreadResponse, fallback string) string {
	for r := resp; r != nil; r = r.Data {
		if id := strings.TrimSpace(r.ChatID); id != "" {
			return id
		}
		if id := strings.TrimSpace(r.ChatIDCamel); id != "" {
			return id
		}
	}
	return fallback
}

func fromTyped(msgs []client.ThreadMessage, chatID string, now int64) []ChatMessage {
	var out []ChatMessage
	for _, m := range msgs {
		role := m.Role
		if role == "" {
			role = RoleAssistant
		}
		if excluded(role) {
			continue
		}
		id := m.ID
		if id == "" {
			id = fmt.Sprintf("%s-%d", chatID, len(out))
		}
		ts := now
		if m.Ts != nil && *m.Ts > 0 {
			ts = *m.Ts
		}
		out = append(out, ChatMessage{
			ID:          id,
			Role:        role,
			Content:     CleanContent(typedContent(m)),
			Attachments: fromTypedAttachments(m.Attachments),
			Language:    m.Language,
			Timestamp:   ts,
		})
	}
	return out
}

// typedContent checks text, summary, message and token in that order.
func typedContent(m client.ThreadMessage) string {
	for _, p := range []*string{m.Text, m.Summary, m.Message, m.Token} {
		if p != nil && strings.TrimSpace(*p) != "" {
			return *p
		}
	}
	return ""
}

func fromTypedAttachments(in []client.ThreadAttachment) []protocol.PromptAttachment {
	var out []protocol.PromptAttachment
	for i, a := range in {
		id := a.ID
		if id == "" {
			id = fmt.Sprintf("attachment-%d", i)
		}
		remote := a.Path
		if remote == "" {
			remote = a.URL
		}
		out = append(out, protocol.PromptAttachment{
			ID:          id,
			Filename:    a.Filename,
			MimeType:    a.MimeType,
			RemoteURL:   remote,
			SizeBytes:   a.Size,
			Description: a.Description,
			OCRText:     a.OCRText,
			Labels:      a.Labels,
			PreviewData: a.PreviewBase64,
		})
	}
	return out
}

// threadFacts holds what LoadSummaries needs from a re-fetched thread.
type threadFacts struct {
	summary   string
	summaryTs int64
	latestTs  int64
}

// parseThreadFacts finds the newest summary-role message and the latest
// message timestamp of a raw thread payload.
func parseThreadFacts(raw []byte) threadFacts {
	var f threadFacts
	if !gjson.ValidBytes(raw) {
		return f
	}
	root := gjson.ParseBytes(raw)
	arr := root.Get("messages")
	if !arr.IsArray() {
		arr = root.Get("thread")
	}
	if !arr.IsArray() {
		arr = root.Get("data.messages")
	}
	if !arr.IsArray() {
		arr = root.Get("data.thread")
	}

	for _, m := range arr.Array() {
		ts := millis(m, "ts")
		f.latestTs = max(f.latestTs, ts)
		if !strings.EqualFold(str(m, "role"), RoleSummary) {
			continue
		}
		text := str(m, "text", "summary", "message", "token")
		if text == "" || ts < f.summaryTs {
			continue
		}
		f.summary = text
		f.summaryTs = ts
	}
	return f
}

// chatEntries returns the summary list array, unwrapping a data envelope.
func chatEntries(raw []byte) []gjson.Result {
	if !gjson.ValidBytes(raw) {
		return nil
	}
	root := gjson.ParseBytes(raw)
	for _, path := range []string{"chats", "data.chats", "data"} {
		if r := root.Get(path); r.IsArray() {
			return r.Array()
		}
	}
	if root.IsArray() {
		return root.Array()
	}
	return nil
}
