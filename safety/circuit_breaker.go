// Package safety guards live trading: a circuit breaker that halts admission
// after sustained failure, an emergency stop with prioritized shutdown
// callbacks, and position sizing that bounds capital per trade.
package safety

import (
	"math/big"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/metalxalloy/axionarb/config"
	"github.com/metalxalloy/axionarb/types"
)

// BreakerState is the circuit breaker's current mode.
type BreakerState int

const (
	// BreakerClosed admits trades normally.
	BreakerClosed BreakerState = iota
	// BreakerOpen refuses all trades until the cooldown elapses.
	BreakerOpen
	// BreakerHalfOpen admits probe trades after the cooldown. One failure
	// reopens; a run of successes closes.
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// CircuitBreaker trips on sustained execution failure or loss and blocks
// admission until it recovers.
type CircuitBreaker struct {
	cfg    config.CircuitBreakerConfig
	logger *zap.Logger
	emit   func(types.Event)

	mu    sync.Mutex
	state BreakerState

	history             []types.TradeResult
	consecutiveFailures int
	consecutiveLosses   int
	cumulativeLoss      *big.Int
	halfOpenSuccesses   int
	openedAt            time.Time
	lastReason          string
}

// NewCircuitBreaker creates a closed breaker. emit may be nil.
func NewCircuitBreaker(cfg config.CircuitBreakerConfig, emit func(types.Event), logger *zap.Logger) *CircuitBreaker {
	return &CircuitBreaker{
		cfg:            cfg,
		logger:         logger,
		emit:           emit,
		state:          BreakerClosed,
		cumulativeLoss: new(big.Int),
	}
}

// State returns the current breaker state.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Allow reports whether a new trade may be admitted. An open breaker whose
// cooldown has elapsed transitions to half-open on this call.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case BreakerClosed, BreakerHalfOpen:
		return true
	case BreakerOpen:
		if time.Since(cb.openedAt) >= cb.cfg.CooldownPeriod {
			cb.state = BreakerHalfOpen
			cb.halfOpenSuccesses = 0
			cb.logger.Info("Circuit breaker entering half-open state")
			cb.publish(types.EventHalfOpen, nil)
			return true
		}
		return false
	default:
		return false
	}
}

// Record feeds a trade result into the breaker and evaluates trip
// conditions.
func (cb *CircuitBreaker) Record(result types.TradeResult) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.history = append(cb.history, result)
	cb.trimHistory(result.Timestamp)

	if result.Success {
		cb.consecutiveFailures = 0
	} else {
		cb.consecutiveFailures++
	}
	if result.NetProfit != nil && result.NetProfit.Sign() < 0 {
		cb.consecutiveLosses++
		cb.cumulativeLoss.Sub(cb.cumulativeLoss, result.NetProfit)
	} else if result.NetProfit != nil && result.NetProfit.Sign() > 0 {
		cb.consecutiveLosses = 0
	}

	switch cb.state {
	case BreakerHalfOpen:
		if !result.Success {
			cb.open("failure during half-open probe")
			return
		}
		cb.halfOpenSuccesses++
		if cb.halfOpenSuccesses >= cb.cfg.HalfOpenSuccessToClose {
			cb.close()
		}
	case BreakerClosed:
		if reason, tripped := cb.shouldTrip(); tripped {
			cb.open(reason)
		}
	}
}

// shouldTrip evaluates the four trip conditions against current counters.
// Caller holds the lock.
func (cb *CircuitBreaker) shouldTrip() (string, bool) {
	if cb.consecutiveFailures >= cb.cfg.FailureThreshold {
		return "consecutive failure threshold reached", true
	}
	if cb.cfg.ConsecutiveLossLimit > 0 && cb.consecutiveLosses >= cb.cfg.ConsecutiveLossLimit {
		return "consecutive loss limit reached", true
	}
	if cb.cfg.MaxCumulativeLoss != nil && cb.cumulativeLoss.Cmp(cb.cfg.MaxCumulativeLoss) >= 0 {
		return "cumulative loss cap reached", true
	}
	if len(cb.history) >= cb.cfg.MinSamples {
		failures := 0
		for _, r := range cb.history {
			if !r.Success {
				failures++
			}
		}
		rateBps := int64(failures) * 10000 / int64(len(cb.history))
		if rateBps >= cb.cfg.FailureRateBps {
			return "rolling failure rate exceeded", true
		}
	}
	return "", false
}

func (cb *CircuitBreaker) trimHistory(now time.Time) {
	cutoff := now.Add(-cb.cfg.RollingWindow)
	i := 0
	for i < len(cb.history) && cb.history[i].Timestamp.Before(cutoff) {
		i++
	}
	cb.history = cb.history[i:]
}

func (cb *CircuitBreaker) open(reason string) {
	cb.state = BreakerOpen
	cb.openedAt = time.Now()
	cb.lastReason = reason
	cb.logger.Warn("Circuit breaker opened", zap.String("reason", reason))
	cb.publish(types.EventCircuitOpened, reason)
}

func (cb *CircuitBreaker) close() {
	cb.state = BreakerClosed
	cb.consecutiveFailures = 0
	cb.consecutiveLosses = 0
	cb.halfOpenSuccesses = 0
	cb.logger.Info("Circuit breaker closed")
	cb.publish(types.EventCircuitClosed, nil)
}

// Reset manually closes the breaker and clears all counters and history.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.history = nil
	cb.cumulativeLoss = new(big.Int)
	cb.close()
}

// LastTripReason returns the reason the breaker most recently opened.
func (cb *CircuitBreaker) LastTripReason() string {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.lastReason
}

func (cb *CircuitBreaker) publish(t types.EventType, payload any) {
	if cb.emit != nil {
		cb.emit(types.NewEvent(t, payload))
	}
}
