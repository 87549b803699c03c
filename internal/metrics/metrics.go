// Package metrics exposes Prometheus collectors for the routing core.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the collectors on a private registry. A nil *Metrics is a
// valid no-op sink so components can be wired without observability.
type Metrics struct {
	registry *prometheus.Registry

	connected      prometheus.Gauge
	liveMessages   prometheus.Counter
	queuedMessages *prometheus.CounterVec
	protocolErrors prometheus.Counter
}

// New registers all collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "geochat_connected_participants",
			Help: "Number of participants currently registered in the directory.",
		}),
		liveMessages: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "geochat_messages_live_total",
			Help: "Messages forwarded over a live connection.",
		}),
		queuedMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "geochat_messages_queued_total",
			Help: "Messages published to the queued delivery path, by reason.",
		}, []string{"reason"}),
		protocolErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "geochat_protocol_errors_total",
			Help: "Malformed or out-of-state envelopes received on the socket server.",
		}),
	}

	reg.MustRegister(m.connected, m.liveMessages, m.queuedMessages, m.protocolErrors)
	return m
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// IncConnected records a participant joining the directory.
func (m *Metrics) IncConnected() {
	if m != nil {
		m.connected.Inc()
	}
}

// DecConnected records a participant leaving the directory.
func (m *Metrics) DecConnected() {
	if m != nil {
		m.connected.Dec()
	}
}

// ObserveLive counts one live delivery.
func (m *Metrics) ObserveLive() {
	if m != nil {
		m.liveMessages.Inc()
	}
}

// ObserveQueued counts one queued publish tagged with its reason code.
func (m *Metrics) ObserveQueued(reason string) {
	if m != nil {
		m.queuedMessages.WithLabelValues(reason).Inc()
	}
}

// IncProtocolError counts one protocol violation.
func (m *Metrics) IncProtocolError() {
	if m != nil {
		m.protocolErrors.Inc()
	}
}
