package logging

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ktulhu-ai/ktulhu/internal/session"
)

func TestWithSession(t *testing.T) {
	var buf bytes.Buffer
	handler := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	base := slog.New(handler)

	logger := WithSession(base, session.Session{DeviceHash: "dev-1", SessionID: "sess-2", ChatID: "chat-3"})
	logger.Info("test message")

	output := buf.String()
	for _, want := range []string{"device_hash=dev-1", "session_id=sess-2", "chat_id=chat-3", "test message"} {
		if !strings.Contains(output, want) {
			t.Errorf("Expected %q in output, got: %s", want, output)
		}
	}
}

func TestWithSession_NilLogger(t *testing.T) {
	if logger := WithSession(nil, session.Session{}); logger != nil {
		t.Error("WithSession(nil, ...) should return nil")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.input); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestInitialize_UnknownLevel(t *testing.T) {
	if err := Initialize(Config{Level: "loud"}); err == nil {
		t.Error("Initialize() with unknown level should fail")
	}
}

func TestInitialize_ComponentFilter(t *testing.T) {
	var buf bytes.Buffer
	if err := Initialize(Config{Level: "debug", Components: []string{"socket"}, Output: &buf}); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	t.Cleanup(func() {
		_ = Initialize(Config{Level: "info", Output: os.Stderr})
	})

	Socket().Info("socket line")
	History().Info("history line")

	output := buf.String()
	if !strings.Contains(output, "socket line") || !strings.Contains(output, "component=socket") {
		t.Errorf("socket component should be logged, got: %s", output)
	}
	if strings.Contains(output, "history line") {
		t.Errorf("history component should be filtered, got: %s", output)
	}
}

func TestInitialize_FileLog(t *testing.T) {
	var console bytes.Buffer
	path := filepath.Join(t.TempDir(), "ktulhu.log")
	err := Initialize(Config{
		Level:     "warn",
		FileLevel: "debug",
		FileLog:   &FileLogConfig{Path: path},
		Output:    &console,
	})
	if err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	t.Cleanup(func() {
		_ = Close()
		_ = Initialize(Config{Level: "info", Output: os.Stderr})
	})

	Chat().Debug("debug only in file")
	if err := Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), "debug only in file") {
		t.Errorf("file log missing debug line: %s", data)
	}
	if strings.Contains(console.String(), "debug only in file") {
		t.Errorf("console should not receive debug line: %s", console.String())
	}
}
