package pipeline

import (
	"math/big"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// Statistics is the orchestrator's cumulative activity snapshot.
type Statistics struct {
	Seen      uint64
	Accepted  uint64
	Rejected  uint64
	Completed uint64
	Failed    uint64

	TotalProfit  *big.Int
	TotalGasUsed uint64
}

// statsTracker owns the counters behind Statistics. Prometheus counters are
// incremented beside the plain ones; Stats reads the prometheus values back
// so the snapshot and the scrape never disagree.
type statsTracker struct {
	mu           sync.Mutex
	totalProfit  *big.Int
	totalGasUsed uint64

	seen      prometheus.Counter
	accepted  prometheus.Counter
	rejected  prometheus.Counter
	completed prometheus.Counter
	failed    prometheus.Counter
}

func newStatsTracker(reg prometheus.Registerer) *statsTracker {
	t := &statsTracker{
		totalProfit: new(big.Int),
		seen: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "axionarb_opportunities_seen_total",
			Help: "Opportunities presented to the pipeline",
		}),
		accepted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "axionarb_opportunities_accepted_total",
			Help: "Opportunities admitted for execution",
		}),
		rejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "axionarb_opportunities_rejected_total",
			Help: "Opportunities rejected at admission",
		}),
		completed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "axionarb_executions_completed_total",
			Help: "Executions confirmed profitable on chain",
		}),
		failed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "axionarb_executions_failed_total",
			Help: "Executions that failed or reverted",
		}),
	}
	if reg != nil {
		reg.MustRegister(t.seen, t.accepted, t.rejected, t.completed, t.failed)
	}
	return t
}

func (t *statsTracker) recordResult(profit *big.Int, gasUsed uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if profit != nil {
		t.totalProfit.Add(t.totalProfit, profit)
	}
	t.totalGasUsed += gasUsed
}

// counterValue reads a counter back through the client-model protobuf.
func counterValue(c prometheus.Counter) uint64 {
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		return 0
	}
	return uint64(m.GetCounter().GetValue())
}

// snapshot assembles a Statistics from the counters.
func (t *statsTracker) snapshot() Statistics {
	t.mu.Lock()
	profit := new(big.Int).Set(t.totalProfit)
	gasUsed := t.totalGasUsed
	t.mu.Unlock()

	return Statistics{
		Seen:         counterValue(t.seen),
		Accepted:     counterValue(t.accepted),
		Rejected:     counterValue(t.rejected),
		Completed:    counterValue(t.completed),
		Failed:       counterValue(t.failed),
		TotalProfit:  profit,
		TotalGasUsed: gasUsed,
	}
}
