package executor

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the executor's prometheus instruments.
type Metrics struct {
	submissions         prometheus.Counter
	confirmations       prometheus.Counter
	reverts             prometheus.Counter
	confirmationSeconds prometheus.Histogram
}

// NewMetrics builds the executor's instruments and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		submissions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "axionarb_tx_submissions_total",
			Help: "Transactions broadcast to the network",
		}),
		confirmations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "axionarb_tx_confirmations_total",
			Help: "Transactions confirmed with success status",
		}),
		reverts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "axionarb_tx_reverts_total",
			Help: "Transactions confirmed with revert status",
		}),
		confirmationSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "axionarb_tx_confirmation_seconds",
			Help:    "Seconds from broadcast to receipt",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
	}
	if reg != nil {
		reg.MustRegister(m.submissions, m.confirmations, m.reverts, m.confirmationSeconds)
	}
	return m
}

// NopMetrics builds unregistered instruments for callers that do not scrape.
func NopMetrics() *Metrics {
	return NewMetrics(nil)
}
