package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Registry = prometheus.NewRegistry()

	EventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lamportlab",
			Name:      "events_total",
			Help:      "Logged node events by type.",
		},
		[]string{"node", "type"},
	)

	LogicalClock = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "lamportlab",
			Name:      "logical_clock",
			Help:      "Logical clock value after the most recent event.",
		},
		[]string{"node"},
	)

	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "lamportlab",
			Name:      "queue_depth",
			Help:      "Undelivered inbound messages at the most recent event.",
		},
		[]string{"node"},
	)

	PeersConnected = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "lamportlab",
			Name:      "peers_connected",
			Help:      "Outgoing peer links established by dialing.",
		},
		[]string{"node"},
	)

	DialAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lamportlab",
			Name:      "dial_attempts_total",
			Help:      "Peer dial attempts by outcome.",
		},
		[]string{"node", "outcome"},
	)

	SendFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lamportlab",
			Name:      "send_failures_total",
			Help:      "Outbound writes that failed.",
		},
		[]string{"node"},
	)

	DroppedConnsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lamportlab",
			Name:      "inbound_closed_total",
			Help:      "Inbound connections closed, by reason (eof, malformed, error).",
		},
		[]string{"node", "reason"},
	)

	startTime = time.Now()
	uptime    = prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: "lamportlab",
			Name:      "uptime_seconds",
			Help:      "Process uptime in seconds.",
		},
		func() float64 { return time.Since(startTime).Seconds() },
	)
)

func init() {
	Registry.MustRegister(EventsTotal, LogicalClock, QueueDepth, PeersConnected,
		DialAttemptsTotal, SendFailuresTotal, DroppedConnsTotal, uptime)
}

// MetricsHandler exposes /metrics. Mount it with mux.Handle("/metrics", telemetry.MetricsHandler()).
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// NodeMetrics binds the collectors to one node label.
// A nil *NodeMetrics is valid and records nothing.
type NodeMetrics struct {
	node string
}

// ForNode returns the metrics handle for a node id.
func ForNode(id int) *NodeMetrics {
	return &NodeMetrics{node: strconv.Itoa(id)}
}

// Event records an emitted log record.
func (m *NodeMetrics) Event(eventType string, clock int64, depth int) {
	if m == nil {
		return
	}
	EventsTotal.WithLabelValues(m.node, eventType).Inc()
	LogicalClock.WithLabelValues(m.node).Set(float64(clock))
	QueueDepth.WithLabelValues(m.node).Set(float64(depth))
}

// Dial records one dial attempt; outcome is "connected" or "failed".
func (m *NodeMetrics) Dial(outcome string) {
	if m == nil {
		return
	}
	DialAttemptsTotal.WithLabelValues(m.node, outcome).Inc()
}

// Peers sets the number of established outgoing links.
func (m *NodeMetrics) Peers(n int) {
	if m == nil {
		return
	}
	PeersConnected.WithLabelValues(m.node).Set(float64(n))
}

// SendFailure records a failed outbound write.
func (m *NodeMetrics) SendFailure() {
	if m == nil {
		return
	}
	SendFailuresTotal.WithLabelValues(m.node).Inc()
}

// InboundClosed records the end of an inbound connection.
func (m *NodeMetrics) InboundClosed(reason string) {
	if m == nil {
		return
	}
	DroppedConnsTotal.WithLabelValues(m.node, reason).Inc()
}
