// Package metrics exposes Prometheus instrumentation for the trust/session
// subsystem. Collectors are registered on an explicitly constructed registry
// so tests can run isolated instances.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles all collectors. All record methods are nil-safe so callers
// can run without instrumentation (tests, tools).
type Metrics struct {
	registry *prometheus.Registry

	ticketsCreated   *prometheus.CounterVec
	ticketsConfirmed *prometheus.CounterVec
	ticketsExpired   *prometheus.CounterVec

	sessionsActive  prometheus.Gauge
	sessionsCreated prometheus.Counter
	forceLogouts    prometheus.Counter

	wsActive     prometheus.Gauge
	wsRejections *prometheus.CounterVec
}

// New constructs a Metrics instance with its own registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,

		ticketsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pairing_tickets_created_total",
			Help: "Total pairing tickets created.",
		}, []string{"kind"}),
		ticketsConfirmed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pairing_tickets_confirmed_total",
			Help: "Total pairing tickets confirmed.",
		}, []string{"kind"}),
		ticketsExpired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pairing_tickets_expired_total",
			Help: "Total pairing tickets that expired before confirmation.",
		}, []string{"kind"}),

		sessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sessions_active",
			Help: "Current number of live sessions in the registry.",
		}),
		sessionsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sessions_created_total",
			Help: "Total sessions minted.",
		}),
		forceLogouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "force_logouts_total",
			Help: "Total forced-logout commands pushed to realtime groups.",
		}),

		wsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ws_connections_active",
			Help: "Current number of admitted realtime connections.",
		}),
		wsRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ws_rejections_total",
			Help: "Total realtime connection rejections.",
		}, []string{"reason"}),
	}

	reg.MustRegister(
		m.ticketsCreated, m.ticketsConfirmed, m.ticketsExpired,
		m.sessionsActive, m.sessionsCreated, m.forceLogouts,
		m.wsActive, m.wsRejections,
	)

	return m
}

// Handler returns the /metrics HTTP handler for this registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) TicketCreated(kind string) {
	if m == nil {
		return
	}
	m.ticketsCreated.WithLabelValues(kind).Inc()
}

func (m *Metrics) TicketConfirmed(kind string) {
	if m == nil {
		return
	}
	m.ticketsConfirmed.WithLabelValues(kind).Inc()
}

func (m *Metrics) TicketExpired(kind string) {
	if m == nil {
		return
	}
	m.ticketsExpired.WithLabelValues(kind).Inc()
}

func (m *Metrics) SessionCreated() {
	if m == nil {
		return
	}
	m.sessionsCreated.Inc()
	m.sessionsActive.Inc()
}

func (m *Metrics) SessionRemoved() {
	if m == nil {
		return
	}
	m.sessionsActive.Dec()
}

func (m *Metrics) ForceLogout() {
	if m == nil {
		return
	}
	m.forceLogouts.Inc()
}

func (m *Metrics) WSConnected() {
	if m == nil {
		return
	}
	m.wsActive.Inc()
}

func (m *Metrics) WSDisconnected() {
	if m == nil {
		return
	}
	m.wsActive.Dec()
}

func (m *Metrics) WSRejected(reason string) {
	if m == nil {
		return
	}
	m.wsRejections.WithLabelValues(reason).Inc()
}
