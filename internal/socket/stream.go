package socket

import "sync"

// Stream fans events out to any number of subscribers. Each subscriber has
// its own bounded buffer; when it is full the oldest buffered event is
// discarded so Publish never blocks the receive loop.
//
// A stream created with replay hands its most recent event to every new
// subscriber.
//
// Stream is safe for concurrent use.
type Stream[T any] struct {
	name   string
	size   int
	replay bool
	onDrop func(stream string)

	mu      sync.Mutex
	subs    map[*Subscription[T]]struct{}
	last    T
	hasLast bool
}

// Subscription receives events from a Stream on C until Close is called.
type Subscription[T any] struct {
	C <-chan T

	ch     chan T
	stream *Stream[T]
	once   sync.Once
}

// NewStream creates a stream whose subscribers buffer up to size events.
func NewStream[T any](name string, size int, replay bool) *Stream[T] {
	if size <= 0 {
		size = 1
	}
	return &Stream[T]{
		name:   name,
		size:   size,
		replay: replay,
		subs:   make(map[*Subscription[T]]struct{}),
	}
}

// Name returns the stream name used in logs and metrics.
func (s *Stream[T]) Name() string {
	return s.name
}

// Subscribe registers a new subscriber.
func (s *Stream[T]) Subscribe() *Subscription[T] {
	ch := make(chan T, s.size)
	sub := &Subscription[T]{C: ch, ch: ch, stream: s}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.replay && s.hasLast {
		ch <- s.last
	}
	s.subs[sub] = struct{}{}
	return sub
}

// Publish delivers v to every subscriber, dropping each full subscriber's
// oldest event to make room.
func (s *Stream[T]) Publish(v T) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.replay {
		s.last = v
		s.hasLast = true
	}
	for sub := range s.subs {
		s.deliver(sub.ch, v)
	}
}

// Subscribers returns the number of active subscriptions.
func (s *Stream[T]) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// Latest returns the most recent event of a replay stream.
func (s *Stream[T]) Latest() (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last, s.hasLast
}

func (s *Stream[T]) deliver(ch chan T, v T) {
	for {
		select {
		case ch <- v:
			return
		default:
		}
		select {
		case <-ch:
			if s.onDrop != nil {
				s.onDrop(s.name)
			}
		default:
		}
	}
}

// Close unsubscribes and closes C. It is safe to call more than once.
func (sub *Subscription[T]) Close() {
	sub.once.Do(func() {
		s := sub.stream
		s.mu.Lock()
		delete(s.subs, sub)
		close(sub.ch)
		s.mu.Unlock()
	})
}
