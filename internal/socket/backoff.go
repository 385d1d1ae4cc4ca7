package socket

import "time"

// Default reconnect delays.
const (
	DefaultBackoffFloor   = 500 * time.Millisecond
	DefaultBackoffCeiling = 8 * time.Second
)

// Backoff yields reconnect delays that start at Floor and double up to
// Ceiling. It is not safe for concurrent use; the Manager guards it.
type Backoff struct {
	floor   time.Duration
	ceiling time.Duration
	next    time.Duration
}

// NewBackoff returns a backoff starting at floor and capped at ceiling.
func NewBackoff(floor, ceiling time.Duration) *Backoff {
	if floor <= 0 {
		floor = DefaultBackoffFloor
	}
	if ceiling < floor {
		ceiling = floor
	}
	return &Backoff{floor: floor, ceiling: ceiling, next: floor}
}

// Next returns the current delay and advances the sequence.
func (b *Backoff) Next() time.Duration {
	d := b.next
	b.next = min(b.next*2, b.ceiling)
	return d
}

// Reset restarts the sequence at the floor.
func (b *Backoff) Reset() {
	b.next = b.floor
}
