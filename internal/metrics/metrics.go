// Package metrics exports gateway lifecycle metrics to Prometheus.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/parsascontentcorner/discordliteclient/internal/gateway"
)

var statuses = []gateway.Status{
	gateway.StatusDisconnected,
	gateway.StatusUnauthenticated,
	gateway.StatusAuthenticated,
}

// GatewayMetrics records gateway notifications. It implements
// gateway.Observer.
type GatewayMetrics struct {
	registry *prometheus.Registry

	status         *prometheus.GaugeVec
	framesReceived *prometheus.CounterVec
	heartbeatPing  prometheus.Histogram
	closes         *prometheus.CounterVec
	reconnects     prometheus.Counter
}

var _ gateway.Observer = (*GatewayMetrics)(nil)

// New registers the gateway metrics on reg. A nil reg creates a fresh
// registry.
func New(reg *prometheus.Registry) *GatewayMetrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	m := &GatewayMetrics{
		registry: reg,
		status: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gateway_status",
			Help: "1 for the current gateway session status, 0 otherwise.",
		}, []string{"status"}),
		framesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_frames_received_total",
			Help: "The total number of frames received, by opcode.",
		}, []string{"op"}),
		heartbeatPing: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "gateway_heartbeat_ping_seconds",
			Help:    "Round trip between a heartbeat and its acknowledgement.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
		closes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_closes_total",
			Help: "The total number of closed connections, by close code and resume intent.",
		}, []string{"code", "resume"}),
		reconnects: factory.NewCounter(prometheus.CounterOpts{
			Name: "gateway_reconnect_attempts_total",
			Help: "The total number of reconnect attempts made by the supervisor.",
		}),
	}
	m.StatusChanged(gateway.StatusDisconnected)
	return m
}

// StatusChanged sets the status gauge
func (m *GatewayMetrics) StatusChanged(status gateway.Status) {
	for _, s := range statuses {
		value := 0.0
		if s == status {
			value = 1
		}
		m.status.WithLabelValues(string(s)).Set(value)
	}
}

// FrameReceived counts an inbound frame
func (m *GatewayMetrics) FrameReceived(op gateway.Opcode) {
	m.framesReceived.WithLabelValues(op.String()).Inc()
}

// HeartbeatAcked observes the measured ping
func (m *GatewayMetrics) HeartbeatAcked(ping time.Duration) {
	m.heartbeatPing.Observe(ping.Seconds())
}

// Closed counts a closed connection
func (m *GatewayMetrics) Closed(code gateway.CloseCode, resume bool) {
	m.closes.WithLabelValues(strconv.Itoa(int(code)), strconv.FormatBool(resume)).Inc()
}

// ReconnectAttempted counts a supervisor reconnect
func (m *GatewayMetrics) ReconnectAttempted() {
	m.reconnects.Inc()
}

// Handler serves the registry in the Prometheus exposition format
func (m *GatewayMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the registry the metrics are registered on
func (m *GatewayMetrics) Registry() *prometheus.Registry {
	return m.registry
}
