package socket

import (
	"encoding/json"
	"log/slog"
	"strings"
	"unicode"

	"github.com/tidwall/gjson"

	"github.com/ktulhu-ai/ktulhu/internal/boundary"
	"github.com/ktulhu-ai/ktulhu/internal/metrics"
	"github.com/ktulhu-ai/ktulhu/internal/protocol"
)

// Event is an inbound JSON object frame.
type Event struct {
	// Type is the logical type from "type", falling back to "msg_type".
	Type string
	// ChatID is the "chat_id" field, if any.
	ChatID string
	// Raw is the frame as received.
	Raw json.RawMessage
}

// Get returns the value at path using gjson syntax.
func (e Event) Get(path string) gjson.Result {
	return gjson.GetBytes(e.Raw, path)
}

// String returns the first non-blank string among keys.
func (e Event) String(keys ...string) string {
	for _, k := range keys {
		if v := e.Get(k); v.Exists() && strings.TrimSpace(v.String()) != "" {
			return v.String()
		}
	}
	return ""
}

// Default per-subscriber buffer sizes.
const (
	DefaultTokenBuffer   = 128
	DefaultMessageBuffer = 64
	DefaultSummaryBuffer = 64
	DefaultSystemBuffer  = 16
	DefaultDoneBuffer    = 16
)

// StreamSizes configures per-subscriber buffer sizes. Zero fields use the defaults.
type StreamSizes struct {
	Tokens    int
	Messages  int
	Summaries int
	System    int
	Done      int
}

func (s StreamSizes) withDefaults() StreamSizes {
	def := func(v, d int) int {
		if v <= 0 {
			return d
		}
		return v
	}
	return StreamSizes{
		Tokens:    def(s.Tokens, DefaultTokenBuffer),
		Messages:  def(s.Messages, DefaultMessageBuffer),
		Summaries: def(s.Summaries, DefaultSummaryBuffer),
		System:    def(s.System, DefaultSystemBuffer),
		Done:      def(s.Done, DefaultDoneBuffer),
	}
}

// Streams holds the output streams inbound frames are routed to.
type Streams struct {
	Tokens    *Stream[string]
	Messages  *Stream[Event]
	Summaries *Stream[Event]
	System    *Stream[Event]
	Done      *Stream[struct{}]
}

// NewStreams creates the output streams. Dropped events are counted on m.
func NewStreams(sizes StreamSizes, m *metrics.Metrics) *Streams {
	sizes = sizes.withDefaults()
	s := &Streams{
		Tokens:    NewStream[string]("tokens", sizes.Tokens, false),
		Messages:  NewStream[Event]("messages", sizes.Messages, false),
		Summaries: NewStream[Event]("summaries", sizes.Summaries, false),
		System:    NewStream[Event]("system", sizes.System, false),
		Done:      NewStream[struct{}]("done", sizes.Done, false),
	}
	s.Tokens.onDrop = m.Dropped
	s.Messages.onDrop = m.Dropped
	s.Summaries.onDrop = m.Dropped
	s.System.onDrop = m.Dropped
	s.Done.onDrop = m.Dropped
	return s
}

// Router classifies inbound frames and publishes them to Streams.
// Route must not be called concurrently.
type Router struct {
	fixer      boundary.Fixer
	correlator *Correlator
	streams    *Streams
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// NewRouter returns a router publishing to streams and clearing correlator
// on completion.
func NewRouter(streams *Streams, correlator *Correlator, m *metrics.Metrics, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		correlator: correlator,
		streams:    streams,
		metrics:    m,
		logger:     logger,
	}
}

// Route handles one frame. The router keeps a reference to frame.
func (r *Router) Route(frame []byte) {
	if !looksLikeObject(frame) {
		r.routeRaw(string(frame))
		return
	}

	if !gjson.ValidBytes(frame) {
		r.metrics.Frame("malformed")
		r.logger.Debug("Discarding malformed frame", "size", len(frame))
		return
	}
	obj := gjson.ParseBytes(frame)
	if !obj.IsObject() {
		r.metrics.Frame("malformed")
		return
	}

	ev := Event{
		Type:   firstNonBlank(obj.Get("type"), obj.Get("msg_type")),
		ChatID: obj.Get("chat_id").String(),
		Raw:    json.RawMessage(frame),
	}
	r.metrics.Frame("json")
	r.streams.Messages.Publish(ev)

	switch ev.Type {
	case protocol.TypeSystem:
		r.streams.System.Publish(ev)
	case protocol.TypeSummary:
		if ev.ChatID != "" {
			r.streams.Summaries.Publish(ev)
		} else {
			r.logger.Debug("Discarding summary without chat_id")
		}
	}

	if chunk := firstNonBlank(obj.Get("token"), obj.Get("text"), obj.Get("message")); chunk != "" {
		if tok := stripReplacement(chunk); tok != "" {
			r.streams.Tokens.Publish(r.fixer.Apply(tok))
		}
	}

	if obj.Get("done").Bool() || ev.Type == protocol.TypeDone {
		r.complete()
	}
}

func (r *Router) routeRaw(text string) {
	if text == "" {
		return
	}
	r.metrics.Frame("raw")
	if tok := stripReplacement(text); tok != "" {
		r.streams.Tokens.Publish(r.fixer.Apply(tok))
	}
}

func (r *Router) complete() {
	r.fixer.Reset()
	r.correlator.Clear()
	r.metrics.Frame("done")
	r.streams.Done.Publish(struct{}{})
}

func looksLikeObject(frame []byte) bool {
	s := strings.TrimLeftFunc(string(frame), unicode.IsSpace)
	return strings.HasPrefix(s, "{")
}

// firstNonBlank returns the first scalar result whose text is not blank.
func firstNonBlank(results ...gjson.Result) string {
	for _, r := range results {
		if r.Type != gjson.String && r.Type != gjson.Number {
			continue
		}
		if strings.TrimSpace(r.String()) != "" {
			return r.String()
		}
	}
	return ""
}

func stripReplacement(s string) string {
	return strings.ReplaceAll(s, "\uFFFD", "")
}
