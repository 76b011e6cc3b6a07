package server

import (
	"net/http"

	"github.com/aeolun/chirp/pkg/protocol"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the relay.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// Session metrics
	activeSessions       prometheus.Gauge
	sessionsCreated      prometheus.Counter
	sessionsDisconnected prometheus.Counter

	// Message type metrics
	messagesReceived *prometheus.CounterVec // by kind
	messagesSent     *prometheus.CounterVec // by kind
	malformed        prometheus.Counter
	sendFailures     prometheus.Counter

	// Delivery metrics
	broadcastFanout prometheus.Histogram
	droppedJobs     prometheus.Counter
	panickedJobs    prometheus.Counter
	statusSent      prometheus.Counter
}

// NewMetrics creates metrics registered on reg (a fresh registry if nil)
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		activeSessions: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "chirp_active_sessions",
				Help: "Current number of registered sessions",
			},
		),
		sessionsCreated: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "chirp_sessions_created_total",
				Help: "Total number of sessions registered",
			},
		),
		sessionsDisconnected: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "chirp_sessions_disconnected_total",
				Help: "Total number of sessions removed",
			},
		),
		messagesReceived: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chirp_messages_received_total",
				Help: "Total number of decoded datagrams by kind",
			},
			[]string{"kind"},
		),
		messagesSent: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chirp_messages_sent_total",
				Help: "Total number of datagrams sent by kind",
			},
			[]string{"kind"},
		),
		malformed: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "chirp_malformed_datagrams_total",
				Help: "Datagrams dropped because they could not be decoded",
			},
		),
		sendFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "chirp_send_failures_total",
				Help: "Datagrams the transport refused to send",
			},
		),
		broadcastFanout: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "chirp_broadcast_fanout",
				Help:    "Number of sessions that received each broadcast",
				Buckets: []float64{0, 1, 5, 10, 25, 50, 100, 250, 500, 1000},
			},
		),
		droppedJobs: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "chirp_delivery_jobs_dropped_total",
				Help: "Deliveries dropped because the worker queue was full",
			},
		),
		panickedJobs: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "chirp_delivery_jobs_panicked_total",
				Help: "Deliveries that panicked and were recovered",
			},
		),
		statusSent: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "chirp_status_heartbeats_total",
				Help: "Status heartbeat rounds sent",
			},
		),
	}
}

// Handler serves the metrics in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordActiveSessions updates the active session count
func (m *Metrics) RecordActiveSessions(count int) {
	if m == nil {
		return
	}
	m.activeSessions.Set(float64(count))
}

// RecordSessionCreated increments the session creation counter
func (m *Metrics) RecordSessionCreated() {
	if m == nil {
		return
	}
	m.sessionsCreated.Inc()
}

// RecordSessionDisconnected increments the session removal counter
func (m *Metrics) RecordSessionDisconnected() {
	if m == nil {
		return
	}
	m.sessionsDisconnected.Inc()
}

// RecordMessageReceived increments the received counter for a kind
func (m *Metrics) RecordMessageReceived(kind protocol.Kind) {
	if m == nil {
		return
	}
	m.messagesReceived.WithLabelValues(kind.String()).Inc()
}

// RecordMessageSent increments the sent counter for a kind
func (m *Metrics) RecordMessageSent(kind protocol.Kind) {
	if m == nil {
		return
	}
	m.messagesSent.WithLabelValues(kind.String()).Inc()
}

// RecordMalformed counts an undecodable datagram
func (m *Metrics) RecordMalformed() {
	if m == nil {
		return
	}
	m.malformed.Inc()
}

// RecordSendFailure counts a failed WriteTo
func (m *Metrics) RecordSendFailure() {
	if m == nil {
		return
	}
	m.sendFailures.Inc()
}

// RecordBroadcastFanout records how many sessions a broadcast reached
func (m *Metrics) RecordBroadcastFanout(recipients int) {
	if m == nil {
		return
	}
	m.broadcastFanout.Observe(float64(recipients))
}

// RecordDroppedJob counts a delivery rejected by a full queue
func (m *Metrics) RecordDroppedJob() {
	if m == nil {
		return
	}
	m.droppedJobs.Inc()
}

// RecordPanickedJob counts a recovered delivery panic
func (m *Metrics) RecordPanickedJob() {
	if m == nil {
		return
	}
	m.panickedJobs.Inc()
}

// RecordStatusSent counts a heartbeat round
func (m *Metrics) RecordStatusSent() {
	if m == nil {
		return
	}
	m.statusSent.Inc()
}
