// Package session holds the identifiers that tie a client to a chat on the
// Ktulhu backend.
package session

import (
	"sync"

	"github.com/google/uuid"
)

// Session identifies the device, the client session and the active chat.
// All fields are opaque to the client. Changing any of them requires a new
// register envelope on the live connection.
type Session struct {
	DeviceHash string `json:"device_hash"`
	SessionID  string `json:"session_id"`
	ChatID     string `json:"chat_id"`
}

// New returns a session for deviceHash with fresh session and chat ids.
func New(deviceHash string) Session {
	return Session{
		DeviceHash: deviceHash,
		SessionID:  uuid.New().String(),
		ChatID:     uuid.New().String(),
	}
}

// WithChat returns a copy of s pointing at chatID.
func (s Session) WithChat(chatID string) Session {
	s.ChatID = chatID
	return s
}

// IsZero reports whether s carries no identifiers at all.
func (s Session) IsZero() bool {
	return s == Session{}
}

// Manager owns the current session for one client lifetime.
// It is safe for concurrent use.
type Manager struct {
	mu      sync.RWMutex
	current Session
}

// NewManager creates a manager with a fresh session for deviceHash.
func NewManager(deviceHash string) *Manager {
	return &Manager{current: New(deviceHash)}
}

// Current returns the current session.
func (m *Manager) Current() Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// NewChat switches to a freshly generated chat id and returns the new session.
func (m *Manager) NewChat() Session {
	return m.SetChatID(uuid.New().String())
}

// SetChatID switches the current session to an existing chat.
func (m *Manager) SetChatID(chatID string) Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = m.current.WithChat(chatID)
	return m.current
}
