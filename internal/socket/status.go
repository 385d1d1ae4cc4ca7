package socket

import "fmt"

// StatusKind enumerates the connection states.
type StatusKind int

const (
	StatusIdle StatusKind = iota
	StatusConnecting
	StatusOpen
	StatusClosed
	StatusError
)

// String returns the lowercase name of the kind.
func (k StatusKind) String() string {
	switch k {
	case StatusIdle:
		return "idle"
	case StatusConnecting:
		return "connecting"
	case StatusOpen:
		return "open"
	case StatusClosed:
		return "closed"
	case StatusError:
		return "error"
	default:
		return fmt.Sprintf("status(%d)", int(k))
	}
}

// Status is the connection state. Message is set only for StatusError.
type Status struct {
	Kind    StatusKind
	Message string
}

func (s Status) String() string {
	if s.Kind == StatusError && s.Message != "" {
		return "error: " + s.Message
	}
	return s.Kind.String()
}

// ErrorStatus returns an error status carrying msg.
func ErrorStatus(msg string) Status {
	if msg == "" {
		msg = "websocket error"
	}
	return Status{Kind: StatusError, Message: msg}
}
