package session

import (
	"strings"
	"testing"
)

func TestNew(t *testing.T) {
	s := New("dev-1")
	if s.DeviceHash != "dev-1" {
		t.Errorf("DeviceHash = %q, want %q", s.DeviceHash, "dev-1")
	}
	if s.SessionID == "" || s.ChatID == "" {
		t.Fatalf("New() left ids empty: %+v", s)
	}
	if s.SessionID == s.ChatID {
		t.Error("session and chat ids should differ")
	}
}

func TestSession_WithChat(t *testing.T) {
	s := Session{DeviceHash: "d", SessionID: "s", ChatID: "c1"}
	got := s.WithChat("c2")
	if got.ChatID != "c2" || got.SessionID != "s" || got.DeviceHash != "d" {
		t.Errorf("WithChat() = %+v", got)
	}
	if s.ChatID != "c1" {
		t.Error("WithChat mutated the receiver")
	}
	if got == s {
		t.Error("sessions with different chat ids compare equal")
	}
}

func TestSession_IsZero(t *testing.T) {
	if !(Session{}).IsZero() {
		t.Error("empty session should be zero")
	}
	if (Session{ChatID: "x"}).IsZero() {
		t.Error("session with chat id should not be zero")
	}
}

func TestManager(t *testing.T) {
	m := NewManager("dev")
	first := m.Current()

	second := m.NewChat()
	if second.ChatID == first.ChatID {
		t.Error("NewChat() kept the old chat id")
	}
	if second.SessionID != first.SessionID {
		t.Error("NewChat() changed the session id")
	}

	third := m.SetChatID("chat-42")
	if third.ChatID != "chat-42" || m.Current().ChatID != "chat-42" {
		t.Errorf("SetChatID() = %+v, current = %+v", third, m.Current())
	}
}

func TestFingerprint(t *testing.T) {
	a := fingerprint([]string{"linux", "amd64", "host"})
	b := fingerprint([]string{"linux", "amd64", " host\n"})
	if a != b {
		t.Errorf("fingerprint should ignore surrounding whitespace: %s vs %s", a, b)
	}
	if len(a) != 64 || strings.Trim(a, "0123456789abcdef") != "" {
		t.Errorf("fingerprint = %q, want 64 hex chars", a)
	}
	if fingerprint(nil) == fingerprint(nil) {
		t.Error("empty facts should fall back to random ids")
	}
	if Fingerprint() != Fingerprint() {
		t.Error("Fingerprint() should be stable on one host")
	}
}
