package safety

import (
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/metalxalloy/axionarb/config"
	"github.com/metalxalloy/axionarb/types"
)

func breakerConfig() config.CircuitBreakerConfig {
	return config.CircuitBreakerConfig{
		FailureThreshold:       3,
		FailureRateBps:         5000,
		ConsecutiveLossLimit:   3,
		MaxCumulativeLoss:      big.NewInt(1_000_000),
		RollingWindow:          time.Minute,
		CooldownPeriod:         20 * time.Millisecond,
		HalfOpenSuccessToClose: 2,
		MinSamples:             10,
	}
}

func win() types.TradeResult {
	return types.TradeResult{Timestamp: time.Now(), Success: true, NetProfit: big.NewInt(100)}
}

func loss() types.TradeResult {
	return types.TradeResult{Timestamp: time.Now(), Success: false, NetProfit: big.NewInt(-100)}
}

type eventRecorder struct {
	events []types.Event
}

func (r *eventRecorder) record(e types.Event) {
	r.events = append(r.events, e)
}

func (r *eventRecorder) sawType(t types.EventType) bool {
	for _, e := range r.events {
		if e.Type == t {
			return true
		}
	}
	return false
}

func TestBreakerOpensOnConsecutiveFailures(t *testing.T) {
	rec := &eventRecorder{}
	cb := NewCircuitBreaker(breakerConfig(), rec.record, zaptest.NewLogger(t))

	require.True(t, cb.Allow())
	for i := 0; i < 3; i++ {
		cb.Record(loss())
	}

	assert.Equal(t, BreakerOpen, cb.State())
	assert.False(t, cb.Allow())
	assert.True(t, rec.sawType(types.EventCircuitOpened))
	assert.NotEmpty(t, cb.LastTripReason())
}

func TestBreakerOpensOnCumulativeLoss(t *testing.T) {
	cfg := breakerConfig()
	cfg.ConsecutiveLossLimit = 100
	cfg.FailureThreshold = 100
	cb := NewCircuitBreaker(cfg, nil, zaptest.NewLogger(t))

	bigLoss := types.TradeResult{Timestamp: time.Now(), Success: true, NetProfit: big.NewInt(-600_000)}
	cb.Record(bigLoss)
	assert.Equal(t, BreakerClosed, cb.State())
	cb.Record(bigLoss)
	assert.Equal(t, BreakerOpen, cb.State())
}

func TestBreakerOpensOnFailureRate(t *testing.T) {
	cfg := breakerConfig()
	cfg.FailureThreshold = 100
	cfg.ConsecutiveLossLimit = 100
	cfg.MaxCumulativeLoss = big.NewInt(1_000_000_000)
	cb := NewCircuitBreaker(cfg, nil, zaptest.NewLogger(t))

	// Alternate wins and losses: never 100 consecutive anything, but the
	// rolling failure rate sits at 50%.
	for i := 0; i < 12; i++ {
		if i%2 == 0 {
			cb.Record(loss())
		} else {
			cb.Record(win())
		}
		if cb.State() == BreakerOpen {
			break
		}
	}
	assert.Equal(t, BreakerOpen, cb.State())
}

func TestBreakerHalfOpenCycle(t *testing.T) {
	rec := &eventRecorder{}
	cb := NewCircuitBreaker(breakerConfig(), rec.record, zaptest.NewLogger(t))

	for i := 0; i < 3; i++ {
		cb.Record(loss())
	}
	require.Equal(t, BreakerOpen, cb.State())
	require.False(t, cb.Allow())

	time.Sleep(30 * time.Millisecond)
	assert.True(t, cb.Allow())
	assert.Equal(t, BreakerHalfOpen, cb.State())
	assert.True(t, rec.sawType(types.EventHalfOpen))

	cb.Record(win())
	assert.Equal(t, BreakerHalfOpen, cb.State())
	cb.Record(win())
	assert.Equal(t, BreakerClosed, cb.State())
	assert.True(t, rec.sawType(types.EventCircuitClosed))
}

func TestBreakerReopensOnHalfOpenFailure(t *testing.T) {
	cb := NewCircuitBreaker(breakerConfig(), nil, zaptest.NewLogger(t))

	for i := 0; i < 3; i++ {
		cb.Record(loss())
	}
	time.Sleep(30 * time.Millisecond)
	require.True(t, cb.Allow())
	require.Equal(t, BreakerHalfOpen, cb.State())

	cb.Record(loss())
	assert.Equal(t, BreakerOpen, cb.State())
	assert.False(t, cb.Allow())
}

func TestBreakerReset(t *testing.T) {
	cb := NewCircuitBreaker(breakerConfig(), nil, zaptest.NewLogger(t))
	for i := 0; i < 3; i++ {
		cb.Record(loss())
	}
	require.Equal(t, BreakerOpen, cb.State())

	cb.Reset()
	assert.Equal(t, BreakerClosed, cb.State())
	assert.True(t, cb.Allow())

	// History is gone: two fresh losses stay under every threshold.
	cb.Record(loss())
	cb.Record(loss())
	assert.Equal(t, BreakerClosed, cb.State())
}

func TestBreakerWinsResetConsecutiveCounters(t *testing.T) {
	cb := NewCircuitBreaker(breakerConfig(), nil, zaptest.NewLogger(t))
	cb.Record(loss())
	cb.Record(loss())
	cb.Record(win())
	cb.Record(loss())
	cb.Record(loss())
	assert.Equal(t, BreakerClosed, cb.State())
}
