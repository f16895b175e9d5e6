package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	OutcomeCommitted  = "committed"
	OutcomeRolledBack = "rolled_back"
	OutcomeRejected   = "rejected"
)

type Metrics struct {
	registry         *prometheus.Registry
	contractsCreated prometheus.Counter
	signatures       *prometheus.CounterVec
	payouts          *prometheus.CounterVec
	payoutsInFlight  prometheus.Gauge
	transferLatency  prometheus.Histogram
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		contractsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "escrow", Name: "contracts_created_total",
			Help: "Contracts registered.",
		}),
		signatures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "escrow", Name: "signatures_total",
			Help: "Signatures recorded, by party.",
		}, []string{"party"}),
		payouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "escrow", Name: "payouts_total",
			Help: "Payout attempts, by outcome.",
		}, []string{"outcome"}),
		payoutsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "escrow", Name: "payouts_in_flight",
			Help: "Payouts holding the eager lock while the rail call is outstanding.",
		}),
		transferLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "escrow", Name: "ledger_transfer_seconds",
			Help:    "Latency of ledger transfer calls.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	m.registry.MustRegister(
		m.contractsCreated, m.signatures, m.payouts, m.payoutsInFlight, m.transferLatency,
		collectors.NewGoCollector(),
	)
	return m
}

// Methods are safe on a nil *Metrics so callers can run without metrics.

func (m *Metrics) ContractCreated() {
	if m != nil {
		m.contractsCreated.Inc()
	}
}

func (m *Metrics) Signed(party string) {
	if m != nil {
		m.signatures.WithLabelValues(party).Inc()
	}
}

func (m *Metrics) Payout(outcome string) {
	if m != nil {
		m.payouts.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) TransferStarted() {
	if m != nil {
		m.payoutsInFlight.Inc()
	}
}

func (m *Metrics) TransferFinished(seconds float64) {
	if m != nil {
		m.payoutsInFlight.Dec()
		m.transferLatency.Observe(seconds)
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }
