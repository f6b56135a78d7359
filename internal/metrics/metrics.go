// Package metrics holds the Prometheus collectors for the session and relay.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome label values.
const (
	OutcomeOK       = "ok"
	OutcomeFailed   = "failed"
	OutcomeRejected = "rejected"
	OutcomeStale    = "stale"
)

// Metrics holds every collector on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	// Session metrics
	OperationsTotal   *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
	Busy              prometheus.Gauge
	Connection        prometheus.Gauge
	WalletEventsTotal *prometheus.CounterVec
	RestartsTotal     prometheus.Counter

	// Relay metrics
	RelaySockets       *prometheus.GaugeVec
	RelayRequestsTotal *prometheus.CounterVec
	RelayRateLimited   prometheus.Counter
}

// New creates and registers all collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		OperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "greeter_operations_total",
				Help: "Remote operations by kind and outcome",
			},
			[]string{"op", "outcome"},
		),
		OperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "greeter_operation_duration_seconds",
				Help:    "Duration of remote operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"op"},
		),
		Busy: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "greeter_session_busy",
				Help: "1 while a remote operation is in flight",
			},
		),
		Connection: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "greeter_session_connection",
				Help: "Connection state: 0 disconnected, 1 connecting, 2 connected",
			},
		),
		WalletEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "greeter_wallet_events_total",
				Help: "Pushed wallet events by type",
			},
			[]string{"event"},
		),
		RestartsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "greeter_restarts_total",
				Help: "Process restarts requested by network changes",
			},
		),

		RelaySockets: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "greeter_relay_sockets",
				Help: "Connected relay sockets by role",
			},
			[]string{"role"},
		),
		RelayRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "greeter_relay_requests_total",
				Help: "Forwarded wallet requests by outcome",
			},
			[]string{"outcome"},
		),
		RelayRateLimited: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "greeter_relay_rate_limited_total",
				Help: "Wallet requests rejected by the per-pairing limiter",
			},
		),
	}

	m.registry.MustRegister(
		m.OperationsTotal,
		m.OperationDuration,
		m.Busy,
		m.Connection,
		m.WalletEventsTotal,
		m.RestartsTotal,
		m.RelaySockets,
		m.RelayRequestsTotal,
		m.RelayRateLimited,
	)
	return m
}

// Handler returns the scrape endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// SetBool sets g to 1 or 0.
func SetBool(g prometheus.Gauge, v bool) {
	if v {
		g.Set(1)
		return
	}
	g.Set(0)
}
