package chat

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/ktulhu-ai/ktulhu/internal/history"
	"github.com/ktulhu-ai/ktulhu/internal/socket"
)

// SummaryLoader loads the chat list. *history.Resolver satisfies it.
type SummaryLoader interface {
	LoadSummaries(ctx context.Context, deviceHash string) []history.ChatSummary
}

// SummaryList is the chat list of a device, kept current by live summary
// events. It is safe for concurrent use.
type SummaryList struct {
	loader SummaryLoader
	now    func() time.Time

	mu        sync.Mutex
	summaries []history.ChatSummary
	loaded    bool
}

// NewSummaryList creates an empty list.
func NewSummaryList(loader SummaryLoader) *SummaryList {
	return &SummaryList{loader: loader, now: time.Now}
}

// Load fetches the list once. Later calls keep the current list.
func (l *SummaryList) Load(ctx context.Context, deviceHash string) []history.ChatSummary {
	l.mu.Lock()
	if l.loaded {
		defer l.mu.Unlock()
		return slices.Clone(l.summaries)
	}
	l.mu.Unlock()

	list := l.loader.LoadSummaries(ctx, deviceHash)

	l.mu.Lock()
	defer l.mu.Unlock()
	// Live updates may have arrived while loading; they are newer.
	for _, s := range l.summaries {
		list = slices.DeleteFunc(list, func(o history.ChatSummary) bool { return o.ChatID == s.ChatID })
		list = append(list, s)
	}
	history.SortSummaries(list)
	l.summaries = list
	l.loaded = true
	return slices.Clone(l.summaries)
}

// Reload discards the current list and fetches it again.
func (l *SummaryList) Reload(ctx context.Context, deviceHash string) []history.ChatSummary {
	l.mu.Lock()
	l.loaded = false
	l.summaries = nil
	l.mu.Unlock()
	return l.Load(ctx, deviceHash)
}

// Summaries returns the current list, newest first.
func (l *SummaryList) Summaries() []history.ChatSummary {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.summaries)
}

// Apply replaces the entry for the event's chat with the event's summary.
// Events without a chat id are ignored.
func (l *SummaryList) Apply(ev socket.Event) bool {
	if ev.ChatID == "" {
		return false
	}
	text := history.CleanSummaryText(ev.String("summary", "text", "message"))
	ts := ev.Get("ts").Int()
	if ts <= 0 {
		ts = l.now().UnixMilli()
	}
	updated := history.ChatSummary{
		ChatID:    ev.ChatID,
		Summary:   text,
		Text:      text,
		Timestamp: ts,
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.summaries = slices.DeleteFunc(l.summaries, func(s history.ChatSummary) bool { return s.ChatID == ev.ChatID })
	l.summaries = append([]history.ChatSummary{updated}, l.summaries...)
	history.SortSummaries(l.summaries)
	return true
}

// Remove drops chatID from the list.
func (l *SummaryList) Remove(chatID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.summaries = slices.DeleteFunc(l.summaries, func(s history.ChatSummary) bool { return s.ChatID == chatID })
}

// Follow applies summary events from stream until ctx is done.
func (l *SummaryList) Follow(ctx context.Context, stream *socket.Stream[socket.Event]) {
	sub := stream.Subscribe()
	defer sub.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.C:
			if !ok {
				return
			}
			l.Apply(ev)
		}
	}
}
