// Package metrics holds the Prometheus instruments of the wallet daemon.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides observability for wallet, KYC and chain calls.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// Balance reads that fell back to zero, by ledger (native, governance, staked)
	BalanceDegraded *prometheus.CounterVec

	// Transfers by token and outcome (submitted, confirmed, failed, rejected)
	Transfers *prometheus.CounterVec

	// KYC transitions by target state
	KycTransitions *prometheus.CounterVec

	// Chain call latency by operation
	ChainLatency *prometheus.HistogramVec
}

// New creates a Metrics instance on its own registry so tests can build as
// many as they like.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		BalanceDegraded: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "wallet_balance_degraded_total",
			Help: "Balance queries that degraded to zero, by ledger",
		}, []string{"ledger"}),

		Transfers: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "wallet_transfers_total",
			Help: "Transfers by token and outcome",
		}, []string{"token", "outcome"}),

		KycTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "kyc_transitions_total",
			Help: "KYC state transitions by target state",
		}, []string{"state"}),

		ChainLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chain_request_duration_seconds",
			Help:    "Duration of chain node requests by operation",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"operation"}),
	}
}

// IncrementBalanceDegraded records a ledger read that fell back to zero.
func (m *Metrics) IncrementBalanceDegraded(ledger string) {
	if m != nil {
		m.BalanceDegraded.WithLabelValues(ledger).Inc()
	}
}

// IncrementTransfer records a transfer outcome.
func (m *Metrics) IncrementTransfer(token, outcome string) {
	if m != nil {
		m.Transfers.WithLabelValues(token, outcome).Inc()
	}
}

// IncrementKycTransition records a KYC state change.
func (m *Metrics) IncrementKycTransition(state string) {
	if m != nil {
		m.KycTransitions.WithLabelValues(state).Inc()
	}
}

// ObserveChainLatency records how long a chain call took.
func (m *Metrics) ObserveChainLatency(operation string, d time.Duration) {
	if m != nil {
		m.ChainLatency.WithLabelValues(operation).Observe(d.Seconds())
	}
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
