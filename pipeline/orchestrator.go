// Package pipeline orchestrates the staged execution of arbitrage
// opportunities: validation, preparation, submission and monitoring, with
// admission control in front and the safety layer consulted throughout.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/metalxalloy/axionarb/config"
	"github.com/metalxalloy/axionarb/executor"
	"github.com/metalxalloy/axionarb/gas"
	"github.com/metalxalloy/axionarb/graph"
	"github.com/metalxalloy/axionarb/pathfinder"
	"github.com/metalxalloy/axionarb/safety"
	"github.com/metalxalloy/axionarb/slippage"
	"github.com/metalxalloy/axionarb/txparams"
	"github.com/metalxalloy/axionarb/types"
)

// PoolSource supplies pool-state snapshots for each scan cycle.
type PoolSource interface {
	Pools(ctx context.Context) ([]types.PoolState, error)
}

// Deps collects the orchestrator's collaborators.
type Deps struct {
	Graph     *graph.Graph
	Finder    *pathfinder.Finder
	Slippage  *slippage.Calculator
	Estimator *gas.Estimator
	Validator *gas.Validator
	Builder   *txparams.Builder
	Executor  *executor.Executor
	Breaker   *safety.CircuitBreaker
	Stop      *safety.EmergencyStop
	Sizer     *safety.PositionSizer
}

// Orchestrator runs opportunities through the staged pipeline.
type Orchestrator struct {
	cfg    *config.Config
	deps   Deps
	logger *zap.Logger

	// sem bounds in-flight executions. Admission fails immediately when no
	// slot is free; opportunities are too short-lived to queue.
	sem chan struct{}

	stats  *statsTracker
	events *eventBus
	wg     sync.WaitGroup

	mu        sync.Mutex
	poolIndex map[common.Address]*types.PoolState
}

// NewOrchestrator wires the pipeline. reg may be nil to skip metric
// registration.
func NewOrchestrator(cfg *config.Config, deps Deps, reg prometheus.Registerer, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		cfg:       cfg,
		deps:      deps,
		logger:    logger,
		sem:       make(chan struct{}, cfg.Pipeline.MaxConcurrentExecutions),
		stats:     newStatsTracker(reg),
		events:    &eventBus{},
		poolIndex: make(map[common.Address]*types.PoolState),
	}
}

// Subscribe returns a channel of pipeline and safety events.
func (o *Orchestrator) Subscribe() <-chan types.Event {
	return o.events.Subscribe()
}

// Publish exposes the event bus to collaborators constructed before the
// orchestrator (breaker and stop callbacks).
func (o *Orchestrator) Publish(event types.Event) {
	o.events.Publish(event)
}

// Stats returns a snapshot of cumulative pipeline statistics.
func (o *Orchestrator) Stats() Statistics {
	return o.stats.snapshot()
}

// Scan rebuilds the liquidity graph from a snapshot and submits every
// discovered opportunity.
func (o *Orchestrator) Scan(ctx context.Context, pools []types.PoolState) int {
	o.deps.Graph.Rebuild(pools)

	o.mu.Lock()
	o.poolIndex = make(map[common.Address]*types.PoolState, len(pools))
	for i := range pools {
		o.poolIndex[pools[i].Address] = &pools[i]
	}
	o.mu.Unlock()

	input := o.deps.Sizer.SuggestSize(o.cfg.Position.MinPositionSize)

	var found []*types.ArbitrageOpportunity
	found = append(found, o.deps.Finder.FindSpatial(input)...)
	found = append(found, o.deps.Finder.FindAll(input)...)

	accepted := 0
	for _, opp := range found {
		if ctx.Err() != nil {
			break
		}
		if ok, _ := o.Submit(ctx, opp); ok {
			accepted++
		}
	}
	return accepted
}

// Submit runs admission control and, when accepted, launches the staged
// execution in the background. The returned reason explains rejections.
func (o *Orchestrator) Submit(ctx context.Context, opp *types.ArbitrageOpportunity) (bool, string) {
	o.stats.seen.Inc()

	if !o.deps.Stop.NotStopped() {
		o.reject(opp, "emergency stop active")
		return false, "emergency stop active"
	}
	if !o.deps.Breaker.Allow() {
		o.reject(opp, "circuit breaker open")
		return false, "circuit breaker open"
	}

	select {
	case o.sem <- struct{}{}:
	default:
		o.reject(opp, "at concurrent execution capacity")
		return false, "at concurrent execution capacity"
	}

	o.stats.accepted.Inc()
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer func() { <-o.sem }()
		o.run(ctx, opp)
	}()
	return true, ""
}

func (o *Orchestrator) reject(opp *types.ArbitrageOpportunity, reason string) {
	o.stats.rejected.Inc()
	o.logger.Debug("Rejected opportunity",
		zap.String("id", opp.ID),
		zap.String("reason", reason),
	)
	if err := opp.Fail(reason); err != nil {
		o.logger.Warn("Failed to mark opportunity rejected", zap.Error(err))
	}
}

// run drives one opportunity through the stage sequence. Stage failures are
// final for this opportunity; recoverable errors get bounded retries first.
func (o *Orchestrator) run(ctx context.Context, opp *types.ArbitrageOpportunity) {
	ec := &types.ExecutionContext{
		ID:          opp.ID,
		Opportunity: opp,
		Route:       opp.Route,
	}

	if cp := o.withRetry(ctx, ec, types.StageValidating, o.stageValidate); !cp.OK {
		o.finishFailed(opp, ec, cp)
		return
	}
	o.transition(opp, types.StatusSimulated)

	if cp := o.withRetry(ctx, ec, types.StagePreparing, o.stagePrepare); !cp.OK {
		o.finishFailed(opp, ec, cp)
		return
	}
	// The approval in the prepare stage booked the exposure; every exit from
	// here on must return it.
	defer o.deps.Sizer.Release(ec.Route.InputAmount)
	o.transition(opp, types.StatusPending)

	o.transition(opp, types.StatusExecuting)

	if cp := o.withRetry(ctx, ec, types.StageExecuting, o.stageExecute); !cp.OK {
		o.finishFailed(opp, ec, cp)
		o.recordResult(opp, false, 0)
		return
	}

	if cp := o.withRetry(ctx, ec, types.StageMonitoring, o.stageMonitor); !cp.OK {
		o.finishFailed(opp, ec, cp)
		o.recordResult(opp, false, ec.GasUsed)
		return
	}

	o.transition(opp, types.StatusExecuted)
	opp.ActualProfit = opp.NetProfit
	o.stats.completed.Inc()
	o.stats.recordResult(opp.NetProfit, ec.GasUsed)
	o.recordResult(opp, true, ec.GasUsed)

	o.logger.Info("Execution completed",
		zap.String("id", opp.ID),
		zap.String("tx_hash", ec.TxHash.Hex()),
		zap.String("net_profit", opp.NetProfit.String()),
	)
	o.events.Publish(types.NewEvent(types.EventExecution, opp))
}

// withRetry runs a stage, retrying recoverable failures with exponential
// backoff. Non-recoverable failures and profitability rejections return
// immediately.
func (o *Orchestrator) withRetry(ctx context.Context, ec *types.ExecutionContext, stage types.Stage, fn func(context.Context, *types.ExecutionContext) types.Checkpoint) types.Checkpoint {
	ec.Stage = stage
	var cp types.Checkpoint
	for attempt := 0; attempt <= o.cfg.Pipeline.MaxRetries; attempt++ {
		ec.Attempt = attempt
		cp = fn(ctx, ec)
		if cp.OK || !recoverable(cp) {
			return cp
		}
		backoff := o.cfg.Pipeline.RetryBackoff << uint(attempt)
		o.logger.Debug("Retrying stage",
			zap.String("id", ec.ID),
			zap.String("stage", stage.String()),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff),
		)
		select {
		case <-ctx.Done():
			return cp
		case <-time.After(backoff):
		}
	}
	return cp
}

func recoverable(cp types.Checkpoint) bool {
	for _, e := range cp.Errors {
		if !e.Recoverable {
			return false
		}
	}
	return len(cp.Errors) > 0
}

func failure(err *types.StageError) types.Checkpoint {
	return types.Checkpoint{Errors: []*types.StageError{err}}
}

// stageValidate re-checks route integrity and models slippage against the
// current snapshot.
func (o *Orchestrator) stageValidate(ctx context.Context, ec *types.ExecutionContext) types.Checkpoint {
	if err := ec.Route.Validate(); err != nil {
		return failure(types.NewStageError(types.StageValidating, types.ErrValidation, false,
			"route validation failed: %v", err))
	}

	o.mu.Lock()
	pools := make(map[common.Address]*types.PoolState, len(o.poolIndex))
	for k, v := range o.poolIndex {
		pools[k] = v
	}
	o.mu.Unlock()

	impact, err := o.deps.Slippage.PathImpact(ec.Route, pools)
	if err != nil {
		return failure(types.NewStageError(types.StageValidating, types.ErrValidation, false,
			"slippage modeling failed: %v", err))
	}
	if impact.Warning {
		return failure(types.NewStageError(types.StageValidating, types.ErrProfitability, false,
			"slippage over threshold: cumulative %dbps", impact.CumulativeBps))
	}

	ec.Opportunity.ScoreRisk(impact.CumulativeBps)
	return types.Checkpoint{OK: true}
}

// stagePrepare encodes calldata, prices gas and applies the profitability
// and position gates.
func (o *Orchestrator) stagePrepare(ctx context.Context, ec *types.ExecutionContext) types.Checkpoint {
	deadline := time.Now().Add(o.cfg.Pipeline.ConfirmationTimeout)
	callData, err := o.deps.Builder.Build(ec.Opportunity, deadline)
	if err != nil {
		return failure(types.NewStageError(types.StagePreparing, types.ErrValidation, false,
			"parameter encoding failed: %v", err))
	}
	ec.CallData = callData

	gasLimit, err := o.deps.Estimator.EstimateRoute(ctx, ec.Opportunity,
		o.deps.Builder.Contract(), o.deps.Executor.From(), callData)
	if err != nil {
		return failure(types.NewStageError(types.StagePreparing, types.ErrEstimation, true,
			"gas estimation failed: %v", err))
	}

	gasPrice, err := o.deps.Estimator.GasPrice(ctx)
	if err != nil {
		return failure(types.NewStageError(types.StagePreparing, types.ErrEstimation, true,
			"gas price lookup failed: %v", err))
	}

	verdict := o.deps.Validator.Validate(ec.Opportunity, gasLimit, gasPrice)
	if !verdict.Accepted {
		return failure(types.NewStageError(types.StagePreparing, types.ErrProfitability, false,
			"profitability rejection: %s", verdict.Reason))
	}

	if err := o.deps.Sizer.Approve(ec.Route.InputAmount); err != nil {
		return failure(types.NewStageError(types.StagePreparing, types.ErrSafety, false,
			"position rejected: %v", err))
	}

	ec.GasLimit = gasLimit
	ec.GasPrice = gasPrice
	ec.NetProfit = verdict.NetProfit
	return types.Checkpoint{OK: true}
}

func (o *Orchestrator) stageExecute(ctx context.Context, ec *types.ExecutionContext) types.Checkpoint {
	if _, serr := o.deps.Executor.Submit(ctx, ec); serr != nil {
		return failure(serr)
	}
	return types.Checkpoint{OK: true}
}

func (o *Orchestrator) stageMonitor(ctx context.Context, ec *types.ExecutionContext) types.Checkpoint {
	receipt, serr := o.deps.Executor.WaitReceipt(ctx, ec.TxHash)
	if receipt != nil {
		ec.GasUsed = receipt.GasUsed
	}
	if serr != nil {
		return failure(serr)
	}
	return types.Checkpoint{OK: true}
}

func (o *Orchestrator) transition(opp *types.ArbitrageOpportunity, next types.OpportunityStatus) {
	if err := opp.UpdateStatus(next); err != nil {
		o.logger.Error("Lifecycle transition rejected",
			zap.String("id", opp.ID),
			zap.Error(err),
		)
	}
}

func (o *Orchestrator) finishFailed(opp *types.ArbitrageOpportunity, ec *types.ExecutionContext, cp types.Checkpoint) {
	reason := "stage failed"
	if len(cp.Errors) > 0 {
		reason = cp.Errors[0].Error()
	}
	o.stats.failed.Inc()
	if err := opp.Fail(reason); err != nil {
		o.logger.Warn("Failed to mark opportunity failed",
			zap.String("id", opp.ID),
			zap.Error(err),
		)
	}
	o.logger.Warn("Execution failed",
		zap.String("id", opp.ID),
		zap.String("stage", ec.Stage.String()),
		zap.String("reason", reason),
	)
	o.events.Publish(types.NewEvent(types.EventExecution, opp))
}

// recordResult feeds the outcome into the safety layer and evaluates the
// automatic emergency-stop triggers.
func (o *Orchestrator) recordResult(opp *types.ArbitrageOpportunity, success bool, gasUsed uint64) {
	result := types.TradeResult{
		Timestamp: time.Now(),
		Success:   success,
		NetProfit: opp.NetProfit,
		GasUsed:   gasUsed,
	}
	if !success && result.NetProfit != nil && result.NetProfit.Sign() > 0 {
		// A failed attempt never realizes its projected profit.
		result.NetProfit = nil
	}

	o.deps.Breaker.Record(result)
	o.deps.Sizer.RecordResult(result)

	if trigger, fire := o.deps.Stop.ObserveResult(success); fire {
		o.triggerStop(trigger, "consecutive execution errors")
	}
}

func (o *Orchestrator) triggerStop(trigger safety.StopTrigger, reason string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if errs := o.deps.Stop.Stop(ctx, trigger, reason); len(errs) > 0 {
			for _, err := range errs {
				o.logger.Error("Shutdown callback error", zap.Error(err))
			}
		}
	}()
}

// Run drives scan cycles from source until the context is cancelled. A
// health-check event with a statistics snapshot is published on its own
// ticker.
func (o *Orchestrator) Run(ctx context.Context, source PoolSource, scanInterval time.Duration) error {
	scanTicker := time.NewTicker(scanInterval)
	defer scanTicker.Stop()
	healthTicker := time.NewTicker(o.cfg.Pipeline.HealthCheckInterval)
	defer healthTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			o.wg.Wait()
			o.events.Close()
			return ctx.Err()
		case <-scanTicker.C:
			pools, err := source.Pools(ctx)
			if err != nil {
				o.logger.Error("Failed to fetch pool snapshot", zap.Error(err))
				continue
			}
			accepted := o.Scan(ctx, pools)
			if accepted > 0 {
				o.logger.Info("Scan cycle complete", zap.Int("accepted", accepted))
			}
		case <-healthTicker.C:
			o.healthCheck()
		}
	}
}

// healthCheck publishes a statistics snapshot and evaluates the health-floor
// stop trigger from the recent failure share.
func (o *Orchestrator) healthCheck() {
	stats := o.Stats()
	o.events.Publish(types.NewEvent(types.EventHealthCheck, stats))

	total := stats.Completed + stats.Failed
	if total == 0 {
		return
	}
	healthBps := int64(stats.Completed * 10000 / total)
	if trigger, fire := o.deps.Stop.CheckHealth(healthBps); fire {
		o.events.Publish(types.NewEvent(types.EventCriticalHealth, healthBps))
		o.triggerStop(trigger, fmt.Sprintf("health score %dbps below floor", healthBps))
	}
}
