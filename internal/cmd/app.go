package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/ktulhu-ai/ktulhu/internal/chat"
	"github.com/ktulhu-ai/ktulhu/internal/client"
	"github.com/ktulhu-ai/ktulhu/internal/config"
	"github.com/ktulhu-ai/ktulhu/internal/history"
	"github.com/ktulhu-ai/ktulhu/internal/logging"
	"github.com/ktulhu-ai/ktulhu/internal/metrics"
	"github.com/ktulhu-ai/ktulhu/internal/session"
	"github.com/ktulhu-ai/ktulhu/internal/socket"
	"github.com/ktulhu-ai/ktulhu/internal/upload"
)

// app holds the collaborators built from the configuration.
type app struct {
	cfg      *config.Config
	metrics  *metrics.Metrics
	client   *client.Client
	resolver *history.Resolver
	uploader upload.Uploader
	sessions *session.Manager

	// socket is created on first use; history and delete never connect.
	socket *socket.Manager

	metricsSrv *http.Server
}

func newApp(c *config.Config) *app {
	m := metrics.New()
	rest := client.New(c.APIBaseURL, client.WithTimeout(c.HTTPTimeout))

	upOpts := []upload.Option{upload.WithTimeout(c.HTTPTimeout), upload.WithLogger(logging.Upload())}
	var up upload.Uploader
	if c.StorageUpload {
		up = upload.NewStorage(c.APIBaseURL, upOpts...)
	} else {
		up = upload.NewMultipart(c.UploadURL, c.UploadFileBaseURL, upOpts...)
	}

	deviceHash := c.DeviceHash
	if deviceHash == "" {
		deviceHash = session.Fingerprint()
	}

	return &app{
		cfg:     c,
		metrics: m,
		client:  rest,
		resolver: history.NewResolver(rest,
			history.WithMetrics(m),
			history.WithLogger(logging.History()),
			history.WithRefetchLimit(rate.Limit(c.Summaries.Rate), c.Summaries.Burst, c.Summaries.Concurrency),
		),
		uploader: up,
		sessions: session.NewManager(deviceHash),
	}
}

// connection returns the realtime connection manager, creating it on first
// use.
func (a *app) connection() *socket.Manager {
	if a.socket == nil {
		a.socket = socket.NewManager(socket.Config{
			URL:            a.cfg.WebSocketURL,
			BackoffFloor:   a.cfg.Reconnect.Floor,
			BackoffCeiling: a.cfg.Reconnect.Ceiling,
			Streams: socket.StreamSizes{
				Tokens:    a.cfg.Streams.Tokens,
				Messages:  a.cfg.Streams.Messages,
				Summaries: a.cfg.Streams.Summaries,
				System:    a.cfg.Streams.System,
				Done:      a.cfg.Streams.Done,
			},
			Metrics:      a.metrics,
			Logger:       logging.Socket(),
			RouterLogger: logging.Router(),
		})
	}
	return a.socket
}

// conversation builds a conversation bound to the realtime connection. Its
// records carry the identifiers of s.
func (a *app) conversation(s session.Session) *chat.Conversation {
	return chat.New(chat.Config{
		Transport: a.connection(),
		Threads:   a.resolver,
		Store:     a.client,
		Uploader:  a.uploader,
		Logger:    logging.WithSession(logging.Chat(), s),
	})
}

// serveMetrics starts the Prometheus endpoint when an address is configured.
func (a *app) serveMetrics() error {
	if a.cfg.MetricsAddr == "" {
		return nil
	}
	ln, err := net.Listen("tcp", a.cfg.MetricsAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", a.cfg.MetricsAddr, err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", a.metrics.Handler())
	a.metricsSrv = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	logger := logging.CLI()
	logger.Info("serving metrics", "addr", ln.Addr().String())
	go func() {
		if err := a.metricsSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "error", err)
		}
	}()
	return nil
}

// Close releases the connection and the metrics server.
func (a *app) Close() error {
	var errs []error
	if a.socket != nil {
		errs = append(errs, a.socket.Close())
	}
	if a.metricsSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		errs = append(errs, a.metricsSrv.Shutdown(ctx))
	}
	return errors.Join(errs...)
}
