// Package metrics exposes honeypot counters in Prometheus format together
// with liveness and readiness probes.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the honeypot collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	registry *prometheus.Registry

	connections    *prometheus.CounterVec
	persisted      *prometheus.CounterVec
	storeErrors    prometheus.Counter
	activeSessions prometheus.Gauge
	listenerUp     *prometheus.GaugeVec
}

// New registers the honeypot collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		connections: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "honeypot_connections_total",
			Help: "Connections accepted, by listening port",
		}, []string{"port"}),
		persisted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "honeypot_attempts_persisted_total",
			Help: "Attempt rows written to the store, by listening port",
		}, []string{"port"}),
		storeErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "honeypot_store_errors_total",
			Help: "Attempt rows dropped because the store write failed",
		}),
		activeSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "honeypot_active_sessions",
			Help: "Connections currently being handled",
		}),
		listenerUp: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "honeypot_listener_up",
			Help: "1 while the port listener is accepting, 0 once it has failed",
		}, []string{"port"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.HandlerFor(prometheus.NewRegistry(), promhttp.HandlerOpts{})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ConnectionAccepted(port int) {
	if m == nil {
		return
	}
	m.connections.WithLabelValues(strconv.Itoa(port)).Inc()
}

func (m *Metrics) AttemptPersisted(port int) {
	if m == nil {
		return
	}
	m.persisted.WithLabelValues(strconv.Itoa(port)).Inc()
}

func (m *Metrics) StoreError() {
	if m == nil {
		return
	}
	m.storeErrors.Inc()
}

// SessionStarted increments the active-session gauge and returns the
// matching decrement.
func (m *Metrics) SessionStarted() (done func()) {
	if m == nil {
		return func() {}
	}
	m.activeSessions.Inc()
	return m.activeSessions.Dec
}

func (m *Metrics) SetListenerUp(port int, up bool) {
	if m == nil {
		return
	}
	v := 0.0
	if up {
		v = 1
	}
	m.listenerUp.WithLabelValues(strconv.Itoa(port)).Set(v)
}
