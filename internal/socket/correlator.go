package socket

import (
	"sync"
	"time"
)

// InFlightRequest is the prompt currently awaiting a streamed response.
type InFlightRequest struct {
	RequestID string
	CreatedAt time.Time
}

// Correlator tracks the single in-flight prompt request.
// It is safe for concurrent use.
type Correlator struct {
	mu      sync.Mutex
	current *InFlightRequest
	now     func() time.Time
}

// NewCorrelator returns an empty correlator.
func NewCorrelator() *Correlator {
	return &Correlator{now: time.Now}
}

// Begin records requestID as the in-flight request, replacing any previous one.
func (c *Correlator) Begin(requestID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = &InFlightRequest{RequestID: requestID, CreatedAt: c.now()}
}

// Current returns the in-flight request, if any.
func (c *Correlator) Current() (InFlightRequest, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return InFlightRequest{}, false
	}
	return *c.current, true
}

// Matches reports whether requestID is the in-flight request.
func (c *Correlator) Matches(requestID string) bool {
	if requestID == "" {
		return false
	}
	cur, ok := c.Current()
	return ok && cur.RequestID == requestID
}

// Take returns the in-flight request id and clears it.
func (c *Correlator) Take() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return "", false
	}
	id := c.current.RequestID
	c.current = nil
	return id, true
}

// Clear forgets the in-flight request.
func (c *Correlator) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = nil
}
