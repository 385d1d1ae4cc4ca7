package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/ktulhu-ai/ktulhu/internal/history"
)

const untitled = "(untitled)"

func formatTime(ms int64) string {
	if ms <= 0 {
		return "-"
	}
	return time.UnixMilli(ms).Local().Format("2006-01-02 15:04")
}

// printThread writes messages as a readable transcript.
func printThread(w io.Writer, msgs []history.ChatMessage) {
	if len(msgs) == 0 {
		fmt.Fprintln(w, "(no messages)")
		return
	}
	for _, m := range msgs {
		fmt.Fprintf(w, "[%s] %s:\n", formatTime(m.Timestamp), m.Role)
		if m.Content != "" {
			fmt.Fprintln(w, indent(m.Content))
		}
		for _, att := range m.Attachments {
			ref := att.RemoteURL
			if ref == "" {
				ref = att.LocalRef
			}
			fmt.Fprintf(w, "  📎 %s %s\n", att.Filename, ref)
		}
	}
}

func indent(s string) string {
	return "  " + strings.ReplaceAll(s, "\n", "\n  ")
}

// printSummaries writes one line per chat, newest first.
func printSummaries(w io.Writer, list []history.ChatSummary) {
	if len(list) == 0 {
		fmt.Fprintln(w, "(no chats)")
		return
	}
	for _, s := range list {
		title := s.Title()
		if title == "" {
			title = untitled
		}
		fmt.Fprintf(w, "%s  %s  %s\n", formatTime(s.Timestamp), s.ChatID, title)
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
