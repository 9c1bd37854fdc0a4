package safety

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/metalxalloy/axionarb/config"
	"github.com/metalxalloy/axionarb/types"
)

// StopTrigger classifies why the system was halted.
type StopTrigger string

const (
	TriggerManual            StopTrigger = "manual"
	TriggerCapitalLoss       StopTrigger = "capital-loss"
	TriggerConsecutiveErrors StopTrigger = "consecutive-errors"
	TriggerHealthFloor       StopTrigger = "health-floor"
	TriggerSecurityBreach    StopTrigger = "security-breach"
)

// ShutdownCallback is run during an emergency stop. Callbacks with higher
// priority run first.
type ShutdownCallback struct {
	Name     string
	Priority int
	Fn       func(ctx context.Context) error
}

// EmergencyStop halts all trading and drives registered shutdown callbacks.
type EmergencyStop struct {
	cfg    config.EmergencyStopConfig
	logger *zap.Logger
	emit   func(types.Event)

	mu        sync.Mutex
	stopped   bool
	trigger   StopTrigger
	stoppedAt time.Time
	callbacks []ShutdownCallback

	consecutiveErrors int
}

// NewEmergencyStop creates an armed but inactive stop. emit may be nil.
func NewEmergencyStop(cfg config.EmergencyStopConfig, emit func(types.Event), logger *zap.Logger) *EmergencyStop {
	return &EmergencyStop{cfg: cfg, logger: logger, emit: emit}
}

// RegisterCallback adds a shutdown callback. Registration order among equal
// priorities is preserved.
func (es *EmergencyStop) RegisterCallback(cb ShutdownCallback) {
	es.mu.Lock()
	defer es.mu.Unlock()
	es.callbacks = append(es.callbacks, cb)
	sort.SliceStable(es.callbacks, func(i, j int) bool {
		return es.callbacks[i].Priority > es.callbacks[j].Priority
	})
}

// NotStopped reports whether trading is still permitted.
func (es *EmergencyStop) NotStopped() bool {
	es.mu.Lock()
	defer es.mu.Unlock()
	return !es.stopped
}

// Trigger returns the most recent stop trigger.
func (es *EmergencyStop) Trigger() StopTrigger {
	es.mu.Lock()
	defer es.mu.Unlock()
	return es.trigger
}

// Stop halts trading and runs every callback in priority order, each under
// its own timeout. Callback failures are collected, never fatal; a stop must
// always complete. Stopping an already-stopped system is a no-op.
func (es *EmergencyStop) Stop(ctx context.Context, trigger StopTrigger, reason string) []error {
	es.mu.Lock()
	if es.stopped {
		es.mu.Unlock()
		return nil
	}
	es.stopped = true
	es.trigger = trigger
	es.stoppedAt = time.Now()
	callbacks := make([]ShutdownCallback, len(es.callbacks))
	copy(callbacks, es.callbacks)
	es.mu.Unlock()

	es.logger.Error("Emergency stop triggered",
		zap.String("trigger", string(trigger)),
		zap.String("reason", reason),
	)
	es.publish(types.EventStopping, map[string]string{"trigger": string(trigger), "reason": reason})

	var failures []error
	for _, cb := range callbacks {
		cbCtx, cancel := context.WithTimeout(ctx, es.cfg.CallbackTimeout)
		err := runCallback(cbCtx, cb)
		cancel()
		if err != nil {
			failures = append(failures, fmt.Errorf("shutdown callback %s: %w", cb.Name, err))
			es.logger.Error("Shutdown callback failed",
				zap.String("callback", cb.Name),
				zap.Error(err),
			)
		}
	}

	es.publish(types.EventStopped, string(trigger))
	return failures
}

// runCallback bounds a callback by its context; a callback that ignores the
// context still cannot block the stop sequence.
func runCallback(ctx context.Context, cb ShutdownCallback) error {
	done := make(chan error, 1)
	go func() { done <- cb.Fn(ctx) }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("timed out: %w", ctx.Err())
	}
}

// Recover re-arms the system after a stop. Security-breach stops are never
// recoverable through this path; approved must be set unless auto recovery
// is configured.
func (es *EmergencyStop) Recover(approved bool) error {
	es.mu.Lock()
	defer es.mu.Unlock()

	if !es.stopped {
		return fmt.Errorf("system is not stopped")
	}
	if es.trigger == TriggerSecurityBreach {
		return fmt.Errorf("recovery refused: stop was triggered by a security breach")
	}
	if !approved && !es.cfg.AutoRecovery {
		return fmt.Errorf("recovery requires approval")
	}

	es.publish(types.EventRecovering, string(es.trigger))
	es.stopped = false
	es.consecutiveErrors = 0
	es.logger.Info("Emergency stop cleared", zap.String("previous_trigger", string(es.trigger)))
	es.publish(types.EventRecovered, nil)
	return nil
}

// ObserveResult feeds trade outcomes into the automatic trigger counters.
// Returns the trigger that fired, if any; the caller is responsible for
// calling Stop.
func (es *EmergencyStop) ObserveResult(success bool) (StopTrigger, bool) {
	es.mu.Lock()
	defer es.mu.Unlock()

	if success {
		es.consecutiveErrors = 0
		return "", false
	}
	es.consecutiveErrors++
	if es.cfg.MaxConsecutiveErrors > 0 && es.consecutiveErrors >= es.cfg.MaxConsecutiveErrors {
		return TriggerConsecutiveErrors, true
	}
	return "", false
}

// CheckCapitalLoss evaluates the capital-loss trigger: lossBps is the
// drawdown from initial capital in basis points.
func (es *EmergencyStop) CheckCapitalLoss(lossBps int64) (StopTrigger, bool) {
	if es.cfg.MaxCapitalLossBps > 0 && lossBps >= es.cfg.MaxCapitalLossBps {
		return TriggerCapitalLoss, true
	}
	return "", false
}

// CheckHealth evaluates the health-floor trigger.
func (es *EmergencyStop) CheckHealth(scoreBps int64) (StopTrigger, bool) {
	if es.cfg.MinHealthScoreBps > 0 && scoreBps < es.cfg.MinHealthScoreBps {
		return TriggerHealthFloor, true
	}
	return "", false
}

func (es *EmergencyStop) publish(t types.EventType, payload any) {
	if es.emit != nil {
		es.emit(types.NewEvent(t, payload))
	}
}
