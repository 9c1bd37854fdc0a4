// Package gas estimates execution cost for arbitrage routes and gates
// opportunities on net profitability. Two estimation paths exist: a heuristic
// model priced per DEX and hop, and an RPC simulation against the target
// contract. Simulation failures fall back to the heuristic when configured.
package gas

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/metalxalloy/axionarb/config"
	"github.com/metalxalloy/axionarb/types"
)

// Client is the subset of the ethclient surface the estimator needs.
type Client interface {
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
}

// Limiter throttles RPC-bound calls. *rate.Limiter and utils.RPCLimiter both
// satisfy it.
type Limiter interface {
	Wait(ctx context.Context) error
}

// Per-DEX execution cost model. Base covers the swap call itself, the
// multiplier (bps) captures routing overhead for the protocol.
type dexCost struct {
	baseGas       uint64
	multiplierBps int64
}

var dexCosts = map[string]dexCost{
	"uniswap_v2": {baseGas: 120_000, multiplierBps: 10000},
	"sushiswap":  {baseGas: 125_000, multiplierBps: 10000},
	"uniswap_v3": {baseGas: 150_000, multiplierBps: 12000},
	"camelot":    {baseGas: 135_000, multiplierBps: 11000},
}

const (
	defaultBaseGas       = 160_000
	defaultMultiplierBps = 13000
	perHopGas            = 60_000
	flashLoanOverheadGas = 90_000
)

// Estimator prices route execution in gas units and wei.
type Estimator struct {
	cfg     config.GasConfig
	client  Client
	limiter Limiter
	logger  *zap.Logger
}

// NewEstimator creates an estimator. client may be nil when only the
// heuristic path is used.
func NewEstimator(cfg config.GasConfig, client Client, limiter Limiter, logger *zap.Logger) *Estimator {
	return &Estimator{
		cfg:     cfg,
		client:  client,
		limiter: limiter,
		logger:  logger,
	}
}

// EstimateRoute returns a buffered gas limit for the opportunity. When
// simulation is enabled the route's calldata is estimated against the flash
// swap contract; otherwise, or on fallback, the heuristic model prices it.
func (e *Estimator) EstimateRoute(ctx context.Context, opp *types.ArbitrageOpportunity, contract common.Address, from common.Address, callData []byte) (uint64, error) {
	if e.cfg.UseSimulation && e.client != nil && len(callData) > 0 {
		estimate, err := e.simulate(ctx, contract, from, callData)
		if err == nil {
			return e.applyBuffer(estimate), nil
		}
		if !e.cfg.FallbackOnError {
			return 0, fmt.Errorf("gas simulation failed: %w", err)
		}
		e.logger.Warn("Gas simulation failed, using heuristic estimate",
			zap.String("opportunity", opp.ID),
			zap.Error(err),
		)
	}
	return e.applyBuffer(e.Heuristic(opp)), nil
}

// Heuristic prices a route without touching the chain: per-DEX base gas for
// the first hop, flat per-hop gas after that, flash-loan overhead when the
// route borrows, and the averaged protocol multiplier for multi-hop routes.
func (e *Estimator) Heuristic(opp *types.ArbitrageOpportunity) uint64 {
	if opp.Route == nil || len(opp.Route.Steps) == 0 {
		return defaultBaseGas
	}
	steps := opp.Route.Steps

	total := costFor(steps[0].Protocol).baseGas
	total += uint64(len(steps)-1) * perHopGas
	if opp.RequiresFlashLoan {
		total += flashLoanOverheadGas
	}

	if len(steps) > 2 {
		var multSum int64
		for _, s := range steps {
			multSum += costFor(s.Protocol).multiplierBps
		}
		avg := multSum / int64(len(steps))
		total = total * uint64(avg) / 10000
	}
	return total
}

func costFor(protocol string) dexCost {
	if c, ok := dexCosts[protocol]; ok {
		return c
	}
	return dexCost{baseGas: defaultBaseGas, multiplierBps: defaultMultiplierBps}
}

func (e *Estimator) simulate(ctx context.Context, contract common.Address, from common.Address, callData []byte) (uint64, error) {
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return 0, fmt.Errorf("rate limiter: %w", err)
		}
	}
	msg := ethereum.CallMsg{
		From: from,
		To:   &contract,
		Data: callData,
	}
	return e.client.EstimateGas(ctx, msg)
}

func (e *Estimator) applyBuffer(estimate uint64) uint64 {
	buffer := e.cfg.BufferBps
	if buffer <= 0 {
		buffer = 10000
	}
	return estimate * uint64(buffer) / 10000
}

// GasPrice fetches the suggested gas price through the rate limiter.
func (e *Estimator) GasPrice(ctx context.Context) (*big.Int, error) {
	if e.client == nil {
		return nil, fmt.Errorf("no client configured for gas price lookup")
	}
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}
	}
	price, err := e.client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch gas price: %w", err)
	}
	return price, nil
}
