// Package metrics provides Prometheus metrics for the Ktulhu client.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the client.
type Metrics struct {
	FramesTotal           *prometheus.CounterVec
	StreamDroppedTotal    *prometheus.CounterVec
	ReconnectsTotal       prometheus.Counter
	ConnectionOpen        prometheus.Gauge
	ResolverFallbackTotal *prometheus.CounterVec

	registry *prometheus.Registry
}

// New creates and registers all metrics on a dedicated registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		FramesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ktulhu_frames_total",
				Help: "Inbound frames by classification.",
			},
			[]string{"kind"},
		),
		StreamDroppedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ktulhu_stream_dropped_total",
				Help: "Events dropped from a full subscriber buffer, by stream.",
			},
			[]string{"stream"},
		),
		ReconnectsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "ktulhu_reconnects_total",
				Help: "Reconnect attempts scheduled after a failure or close.",
			},
		),
		ConnectionOpen: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "ktulhu_connection_open",
				Help: "1 while the persistent connection is open.",
			},
		),
		ResolverFallbackTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ktulhu_resolver_fallback_total",
				Help: "Thread resolver stages that produced the final result.",
			},
			[]string{"stage"},
		),
		registry: reg,
	}

	reg.MustRegister(
		m.FramesTotal,
		m.StreamDroppedTotal,
		m.ReconnectsTotal,
		m.ConnectionOpen,
		m.ResolverFallbackTotal,
	)
	return m
}

// Frame counts one inbound frame of the given kind.
func (m *Metrics) Frame(kind string) {
	if m == nil {
		return
	}
	m.FramesTotal.WithLabelValues(kind).Inc()
}

// Dropped counts one event dropped from stream.
func (m *Metrics) Dropped(stream string) {
	if m == nil {
		return
	}
	m.StreamDroppedTotal.WithLabelValues(stream).Inc()
}

// Reconnect counts one scheduled reconnect.
func (m *Metrics) Reconnect() {
	if m == nil {
		return
	}
	m.ReconnectsTotal.Inc()
}

// SetOpen records whether the connection is open.
func (m *Metrics) SetOpen(open bool) {
	if m == nil {
		return
	}
	if open {
		m.ConnectionOpen.Set(1)
	} else {
		m.ConnectionOpen.Set(0)
	}
}

// ResolverStage counts which resolver stage produced a result.
func (m *Metrics) ResolverStage(stage string) {
	if m == nil {
		return
	}
	m.ResolverFallbackTotal.WithLabelValues(stage).Inc()
}

// Handler returns an HTTP handler serving the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
