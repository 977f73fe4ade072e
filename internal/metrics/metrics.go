// Package metrics exposes Prometheus collectors for connections, protocol
// traffic and tracking sessions.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gazewatch/backend/internal/session"
)

// Metrics holds every collector on its own registry so that tests and
// multiple servers in one process do not collide on the default registerer.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// Connection metrics
	ActiveConnections   prometheus.Gauge
	ConnectionsTotal    prometheus.Counter
	ConnectionsRejected prometheus.Counter

	// Protocol metrics
	MessagesReceived *prometheus.CounterVec
	ProtocolErrors   *prometheus.CounterVec

	// Tracking metrics
	ActiveTrackers    prometheus.Gauge
	StateTransitions  *prometheus.CounterVec
	EventsSent        prometheus.Counter
	CaptureFailures   prometheus.Counter
	ShutdownDrainTime prometheus.Histogram
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		ActiveConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "gazewatch_connections_active",
			Help: "Current number of open WebSocket connections",
		}),
		ConnectionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "gazewatch_connections_total",
			Help: "Total number of accepted WebSocket connections",
		}),
		ConnectionsRejected: factory.NewCounter(prometheus.CounterOpts{
			Name: "gazewatch_connections_rejected_total",
			Help: "Total number of connections refused by the connection limit",
		}),

		MessagesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gazewatch_messages_received_total",
			Help: "Total number of client messages by type",
		}, []string{"type"}),
		ProtocolErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gazewatch_protocol_errors_total",
			Help: "Total number of client messages answered with an error",
		}, []string{"kind"}),

		ActiveTrackers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "gazewatch_trackers_running",
			Help: "Current number of tracking sessions in the running state",
		}),
		StateTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gazewatch_tracker_transitions_total",
			Help: "Tracking session state transitions",
		}, []string{"from", "to"}),
		EventsSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "gazewatch_events_sent_total",
			Help: "Total number of eye_data events sent",
		}),
		CaptureFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "gazewatch_capture_failures_total",
			Help: "Total number of skipped frames (read or detection failure)",
		}),
		ShutdownDrainTime: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "gazewatch_shutdown_drain_seconds",
			Help:    "Time spent waiting for connections to close during shutdown",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~20s
		}),
	}
}

// Registry returns the registry the collectors are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the Prometheus exposition format for this registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) ConnOpened() {
	if m == nil {
		return
	}
	m.ConnectionsTotal.Inc()
	m.ActiveConnections.Inc()
}

func (m *Metrics) ConnClosed() {
	if m == nil {
		return
	}
	m.ActiveConnections.Dec()
}

func (m *Metrics) ConnRejected() {
	if m == nil {
		return
	}
	m.ConnectionsRejected.Inc()
}

func (m *Metrics) MessageReceived(msgType string) {
	if m == nil {
		return
	}
	m.MessagesReceived.WithLabelValues(msgType).Inc()
}

// ProtocolError counts a message answered with an error; kind is
// "malformed" or "unknown_type".
func (m *Metrics) ProtocolError(kind string) {
	if m == nil {
		return
	}
	m.ProtocolErrors.WithLabelValues(kind).Inc()
}

func (m *Metrics) ObserveDrain(seconds float64) {
	if m == nil {
		return
	}
	m.ShutdownDrainTime.Observe(seconds)
}

// StateChanged implements session.Observer.
func (m *Metrics) StateChanged(from, to session.State) {
	if m == nil {
		return
	}
	m.StateTransitions.WithLabelValues(from.String(), to.String()).Inc()
	switch {
	case to == session.Running:
		m.ActiveTrackers.Inc()
	case from == session.Running:
		m.ActiveTrackers.Dec()
	}
}

// EventSent implements session.Observer.
func (m *Metrics) EventSent() {
	if m == nil {
		return
	}
	m.EventsSent.Inc()
}

// CaptureFailed implements session.Observer.
func (m *Metrics) CaptureFailed() {
	if m == nil {
		return
	}
	m.CaptureFailures.Inc()
}

var _ session.Observer = (*Metrics)(nil)
