package socket

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ktulhu-ai/ktulhu/internal/metrics"
	"github.com/ktulhu-ai/ktulhu/internal/protocol"
	"github.com/ktulhu-ai/ktulhu/internal/session"
)

const writeWait = 10 * time.Second

// Dialer opens websocket connections. *websocket.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, urlStr string, requestHeader http.Header) (*websocket.Conn, *http.Response, error)
}

// Config configures a Manager.
type Config struct {
	// URL is the websocket endpoint, e.g. wss://host/ws.
	URL string
	// Header is sent with every dial.
	Header http.Header
	// Dialer defaults to websocket.DefaultDialer.
	Dialer Dialer

	BackoffFloor   time.Duration
	BackoffCeiling time.Duration
	Streams        StreamSizes

	Metrics *metrics.Metrics
	Logger  *slog.Logger

	// RouterLogger receives frame classification records. Defaults to Logger.
	RouterLogger *slog.Logger
}

// Manager owns the single websocket connection of a client. It registers
// the last known session on every open, reconnects with backoff after
// failures, and routes inbound frames to its streams.
//
// All connection state is guarded by one mutex. Transport faults are
// reported through Status and never returned to callers.
type Manager struct {
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Metrics

	streams    *Streams
	status     *Stream[Status]
	correlator *Correlator
	router     *Router
	routeMu    sync.Mutex

	mu             sync.Mutex
	conn           *websocket.Conn
	connecting     bool
	dialSeq        uint64
	dialCancel     context.CancelFunc
	sess           session.Session
	hasSession     bool
	backoff        *Backoff
	reconnectTimer *time.Timer

	wg sync.WaitGroup
}

// NewManager creates an idle manager. No connection is opened until
// EnsureConnected is called.
func NewManager(cfg Config) *Manager {
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	m := &Manager{
		cfg:        cfg,
		logger:     logger,
		metrics:    cfg.Metrics,
		streams:    NewStreams(cfg.Streams, cfg.Metrics),
		status:     NewStream[Status]("status", DefaultSystemBuffer, true),
		correlator: NewCorrelator(),
		backoff:    NewBackoff(cfg.BackoffFloor, cfg.BackoffCeiling),
	}
	routerLogger := cfg.RouterLogger
	if routerLogger == nil {
		routerLogger = logger
	}
	m.router = NewRouter(m.streams, m.correlator, cfg.Metrics, routerLogger)
	m.status.Publish(Status{Kind: StatusIdle})
	return m
}

// Streams returns the inbound event streams.
func (m *Manager) Streams() *Streams {
	return m.streams
}

// Status returns the current connection status.
func (m *Manager) Status() Status {
	st, _ := m.status.Latest()
	return st
}

// SubscribeStatus returns a subscription that first receives the current
// status and then every transition.
func (m *Manager) SubscribeStatus() *Subscription[Status] {
	return m.status.Subscribe()
}

// InFlight returns the prompt currently awaiting a response.
func (m *Manager) InFlight() (InFlightRequest, bool) {
	return m.correlator.Current()
}

// Session returns the last session passed to EnsureConnected.
func (m *Manager) Session() (session.Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sess, m.hasSession
}

// EnsureConnected records s as the last known session and opens a
// connection if none exists. When already connected and s differs from the
// previous session, s is registered on the existing connection. It never
// blocks on the network.
func (m *Manager) EnsureConnected(s session.Session) {
	m.mu.Lock()
	defer m.mu.Unlock()

	changed := !m.hasSession || m.sess != s
	m.sess = s
	m.hasSession = true

	if m.conn != nil {
		if changed {
			m.logger.Debug("Session changed, re-registering", "chat_id", s.ChatID)
			m.writeLocked(protocol.Register(s))
		}
		return
	}
	m.connectLocked()
}

// Send serializes v and writes it to the open connection. It returns false
// when there is no connection or the write fails.
func (m *Manager) Send(v any) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writeLocked(v)
}

// SendPrompt sends a prompt envelope and records its request id as in
// flight. It returns false, leaving nothing in flight, when the connection
// is not open.
func (m *Manager) SendPrompt(text string, s session.Session, attachments []protocol.PromptAttachment, language string) (string, bool) {
	m.EnsureConnected(s)

	requestID := protocol.NewRequestID()
	if !m.Send(protocol.Prompt(requestID, text, s, attachments, language)) {
		return "", false
	}
	m.correlator.Begin(requestID)
	return requestID, true
}

// Cancel asks the server to stop the in-flight response. The in-flight
// request is cleared whether or not the cancel envelope could be sent.
func (m *Manager) Cancel(s session.Session) bool {
	requestID, ok := m.correlator.Take()
	if !ok {
		requestID = protocol.NewRequestID()
	}
	return m.Send(protocol.Cancel(requestID, s))
}

// Close releases the connection and cancels any pending dial or reconnect.
// It waits for background goroutines to exit. The manager can be reused.
func (m *Manager) Close() error {
	m.mu.Lock()
	m.dialSeq++
	m.connecting = false
	if m.dialCancel != nil {
		m.dialCancel()
		m.dialCancel = nil
	}
	m.cancelReconnectLocked()

	conn := m.conn
	m.conn = nil
	if conn != nil {
		_ = conn.SetWriteDeadline(time.Now().Add(time.Second))
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	}
	m.metrics.SetOpen(false)
	m.setStatusLocked(Status{Kind: StatusClosed})
	m.mu.Unlock()

	var err error
	if conn != nil {
		err = conn.Close()
	}
	m.wg.Wait()
	return err
}

func (m *Manager) connectLocked() {
	if m.conn != nil || m.connecting {
		return
	}
	m.cancelReconnectLocked()

	m.connecting = true
	m.dialSeq++
	seq := m.dialSeq
	ctx, cancel := context.WithCancel(context.Background())
	m.dialCancel = cancel
	m.setStatusLocked(Status{Kind: StatusConnecting})

	m.wg.Add(1)
	go m.dial(ctx, seq)
}

func (m *Manager) dial(ctx context.Context, seq uint64) {
	defer m.wg.Done()

	conn, _, err := m.cfg.Dialer.DialContext(ctx, m.cfg.URL, m.cfg.Header)

	m.mu.Lock()
	defer m.mu.Unlock()

	if seq != m.dialSeq || !m.connecting {
		if conn != nil {
			conn.Close()
		}
		return
	}
	m.connecting = false
	if m.dialCancel != nil {
		m.dialCancel()
		m.dialCancel = nil
	}

	if err != nil {
		m.logger.Warn("Websocket dial failed", "url", m.cfg.URL, "error", err)
		m.setStatusLocked(ErrorStatus(err.Error()))
		m.scheduleReconnectLocked()
		return
	}

	m.conn = conn
	m.backoff.Reset()
	m.cancelReconnectLocked()
	m.metrics.SetOpen(true)
	m.setStatusLocked(Status{Kind: StatusOpen})
	m.logger.Info("Websocket connected", "url", m.cfg.URL)

	if m.hasSession {
		m.writeLocked(protocol.Register(m.sess))
	}

	m.wg.Add(1)
	go m.readLoop(conn)
}

func (m *Manager) readLoop(conn *websocket.Conn) {
	defer m.wg.Done()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			m.handleDisconnect(conn, err)
			return
		}
		m.routeMu.Lock()
		m.router.Route(data)
		m.routeMu.Unlock()
	}
}

func (m *Manager) handleDisconnect(conn *websocket.Conn, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Closed by us or already replaced.
	if m.conn != conn {
		return
	}
	m.conn = nil
	conn.Close()
	m.metrics.SetOpen(false)

	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		m.logger.Info("Websocket closed by server", "error", err)
		m.setStatusLocked(Status{Kind: StatusClosed})
	} else {
		m.logger.Warn("Websocket connection lost", "error", err)
		m.setStatusLocked(ErrorStatus(err.Error()))
	}
	m.scheduleReconnectLocked()
}

// scheduleReconnectLocked arms a single reconnect timer. Without a known
// session there is nothing to register, so no reconnect is scheduled.
func (m *Manager) scheduleReconnectLocked() {
	if !m.hasSession || m.reconnectTimer != nil {
		return
	}

	delay := m.backoff.Next()
	m.metrics.Reconnect()
	m.logger.Debug("Scheduling reconnect", "delay", delay)

	var t *time.Timer
	m.wg.Add(1)
	t = time.AfterFunc(delay, func() {
		defer m.wg.Done()
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.reconnectTimer != t {
			return
		}
		m.reconnectTimer = nil
		m.connectLocked()
	})
	m.reconnectTimer = t
}

func (m *Manager) cancelReconnectLocked() {
	if m.reconnectTimer == nil {
		return
	}
	if m.reconnectTimer.Stop() {
		m.wg.Done()
	}
	m.reconnectTimer = nil
}

func (m *Manager) writeLocked(v any) bool {
	if m.conn == nil {
		return false
	}
	data, err := json.Marshal(v)
	if err != nil {
		m.logger.Error("Failed to encode envelope", "error", err)
		return false
	}
	_ = m.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := m.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		m.logger.Warn("Websocket write failed", "error", err)
		return false
	}
	return true
}

func (m *Manager) setStatusLocked(st Status) {
	m.status.Publish(st)
}
