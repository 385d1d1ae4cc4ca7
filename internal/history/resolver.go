// Package history loads chat threads and chat summaries from the REST API.
//
// Payload shapes vary between backend versions, so every load runs a chain
// of parse attempts and degrades to an empty result instead of failing.
package history

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/ktulhu-ai/ktulhu/internal/client"
	"github.com/ktulhu-ai/ktulhu/internal/metrics"
)

// Source is the subset of the REST client the resolver reads from.
type Source interface {
	GetThreadRaw(ctx context.Context, chatID string) ([]byte, error)
	GetThread(ctx context.Context, chatID string) (*client.ThreadResponse, error)
	GetChatsByDevice(ctx context.Context, deviceHash string) ([]byte, error)
}

// Defaults for LoadSummaries thread re-fetches.
const (
	DefaultRefetchRate        = rate.Limit(10)
	DefaultRefetchBurst       = 5
	DefaultRefetchConcurrency = 4
)

// Resolver turns REST payloads into chat messages and summaries.
// Its methods never return errors. It is safe for concurrent use.
type Resolver struct {
	src         Source
	metrics     *metrics.Metrics
	logger      *slog.Logger
	limiter     *rate.Limiter
	concurrency int
	now         func() time.Time
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithMetrics records which resolver stage produced each result.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Resolver) {
		r.metrics = m
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Resolver) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithRefetchLimit throttles per-chat thread re-fetches in LoadSummaries.
func WithRefetchLimit(limit rate.Limit, burst, concurrency int) Option {
	return func(r *Resolver) {
		if burst < 1 {
			burst = 1
		}
		r.limiter = rate.NewLimiter(limit, burst)
		if concurrency > 0 {
			r.concurrency = concurrency
		}
	}
}

// NewResolver creates a resolver reading from src.
func NewResolver(src Source, opts ...Option) *Resolver {
	r := &Resolver{
		src:         src,
		logger:      slog.Default(),
		limiter:     rate.NewLimiter(DefaultRefetchRate, DefaultRefetchBurst),
		concurrency: DefaultRefetchConcurrency,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// LoadThread returns the conversational turns of a chat. It tries a
// permissive parse of the raw payload first, then a typed decode, and
// returns an empty slice when neither yields messages.
func (r *Resolver) LoadThread(ctx context.Context, chatID string) []ChatMessage {
	now := r.now().UnixMilli()

	raw, err := r.src.GetThreadRaw(ctx, chatID)
	if err != nil {
		r.logger.Debug("Raw thread fetch failed", "chat_id", chatID, "error", err)
	} else if msgs := parseRawThread(raw, chatID, now); len(msgs) > 0 {
		r.metrics.ResolverStage("raw")
		return msgs
	}

	typed, err := r.src.GetThread(ctx, chatID)
	if err != nil {
		r.logger.Debug("Typed thread decode failed", "chat_id", chatID, "error", err)
	} else if msgs := fromTyped(typedMessages(typed), typedChatID(typed, chatID), now); len(msgs) > 0 {
		r.metrics.ResolverStage("typed")
		return msgs
	}

	r.metrics.ResolverStage("empty")
	return []ChatMessage{}
}

// LoadSummaries returns the chats of a device, newest first. Each chat's
// thread is re-fetched to prefer an embedded summary message and to find
// the most recent activity.
func (r *Resolver) LoadSummaries(ctx context.Context, deviceHash string) []ChatSummary {
	raw, err := r.src.GetChatsByDevice(ctx, deviceHash)
	if err != nil {
		r.logger.Warn("Chat list fetch failed", "error", err)
		return []ChatSummary{}
	}

	type entry struct {
		chatID  string
		summary string
		text    string
		ts      int64
	}
	var entries []entry
	seen := make(map[string]bool)
	for _, e := range chatEntries(raw) {
		id := str(e, "chat_id", "chatId")
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		entries = append(entries, entry{
			chatID:  id,
			summary: str(e, "summary", "text", "message"),
			text:    str(e, "text"),
			ts:      millis(e, "ts"),
		})
	}

	facts := make([]threadFacts, len(entries))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for i, e := range entries {
		i, e := i, e
		g.Go(func() error {
			if err := r.limiter.Wait(gctx); err != nil {
				return nil
			}
			body, err := r.src.GetThreadRaw(gctx, e.chatID)
			if err != nil {
				r.logger.Debug("Summary thread fetch failed", "chat_id", e.chatID, "error", err)
				return nil
			}
			facts[i] = parseThreadFacts(body)
			return nil
		})
	}
	_ = g.Wait()

	now := r.now().UnixMilli()
	out := make([]ChatSummary, 0, len(entries))
	for i, e := range entries {
		f := facts[i]
		summary := e.summary
		if f.summary != "" {
			summary = f.summary
		}
		ts := max(f.latestTs, f.summaryTs, e.ts)
		if ts <= 0 {
			ts = now
		}
		out = append(out, ChatSummary{
			ChatID:    e.chatID,
			Summary:   CleanSummaryText(summary),
			Text:      CleanSummaryText(e.text),
			Timestamp: ts,
		})
	}
	SortSummaries(out)
	return out
}

// SortSummaries orders summaries newest first.
func SortSummaries(s []ChatSummary) {
	sort.SliceStable(s, func(i, j int) bool {
		return s[i].Timestamp > s[j].Timestamp
	})
}
