// Package slippage models per-swap price impact under several AMM curve
// types and aggregates cumulative impact across a route. Results are used to
// validate profitability before any capital is committed; all arithmetic is
// integer, scaled to basis points.
package slippage

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/metalxalloy/axionarb/config"
	"github.com/metalxalloy/axionarb/types"
)

// Curve tags the pricing model of a pool.
type Curve int

const (
	// CurveConstantProduct is the uniswap-v2 style x*y=k pool.
	CurveConstantProduct Curve = iota
	// CurveConcentrated approximates a concentrated-liquidity pool with the
	// constant-product formula. True tick-range math is out of scope; the
	// approximation overstates impact inside the active range.
	CurveConcentrated
	// CurveStableSwap dampens impact by sqrt(A) for pegged-asset pools.
	CurveStableSwap
)

func (c Curve) String() string {
	switch c {
	case CurveConstantProduct:
		return "constant_product"
	case CurveConcentrated:
		return "concentrated_liquidity"
	case CurveStableSwap:
		return "stable_swap"
	default:
		return "unknown"
	}
}

// CurveForProtocol maps a protocol identifier to its pricing curve.
func CurveForProtocol(protocol string) Curve {
	switch protocol {
	case "uniswap_v3":
		return CurveConcentrated
	case "curve", "stable_swap":
		return CurveStableSwap
	default:
		return CurveConstantProduct
	}
}

var (
	bpsDenom      = big.NewInt(10000)
	ratePrecision = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
)

// SwapImpact is the per-swap result.
type SwapImpact struct {
	// AmountOut is the modeled execution output.
	AmountOut *big.Int
	// SpotOut is the fee-free mid-price output for the same input.
	SpotOut *big.Int
	// ImpactBps is (SpotOut-AmountOut)*10000/SpotOut.
	ImpactBps int64
	// EffectiveRate is AmountOut*1e18/AmountIn.
	EffectiveRate *big.Int
	// SlippageCost is SpotOut-AmountOut in output-token units.
	SlippageCost *big.Int
}

// PathImpact aggregates hop impacts across a route.
type PathImpact struct {
	Hops          []SwapImpact
	CumulativeBps int64
	// Warning is set when any hop or the cumulative impact exceeds the
	// configured thresholds.
	Warning  bool
	Warnings []string
}

// Calculator computes impact figures against configured thresholds.
type Calculator struct {
	cfg    config.SlippageConfig
	logger *zap.Logger
}

// NewCalculator creates a calculator.
func NewCalculator(cfg config.SlippageConfig, logger *zap.Logger) *Calculator {
	return &Calculator{cfg: cfg, logger: logger}
}

// Impact models one swap. Zero reserves or a non-positive input are
// validation errors, never division by zero.
func (c *Calculator) Impact(amountIn, reserveIn, reserveOut *big.Int, feeBps uint32, curve Curve) (*SwapImpact, error) {
	if amountIn == nil || amountIn.Sign() <= 0 {
		return nil, fmt.Errorf("amount in must be positive")
	}
	if reserveIn == nil || reserveOut == nil || reserveIn.Sign() <= 0 || reserveOut.Sign() <= 0 {
		return nil, fmt.Errorf("pool has no liquidity")
	}

	amountOut := amountOutConstantProduct(amountIn, reserveIn, reserveOut, feeBps)

	spotOut := new(big.Int).Mul(amountIn, reserveOut)
	spotOut.Div(spotOut, reserveIn)

	var impactBps int64
	if spotOut.Sign() > 0 {
		diff := new(big.Int).Sub(spotOut, amountOut)
		diff.Mul(diff, bpsDenom)
		diff.Div(diff, spotOut)
		impactBps = diff.Int64()
	}

	if curve == CurveStableSwap {
		impactBps = c.dampenStable(impactBps)
	}

	rate := new(big.Int).Mul(amountOut, ratePrecision)
	rate.Div(rate, amountIn)

	return &SwapImpact{
		AmountOut:     amountOut,
		SpotOut:       spotOut,
		ImpactBps:     impactBps,
		EffectiveRate: rate,
		SlippageCost:  new(big.Int).Sub(spotOut, amountOut),
	}, nil
}

// dampenStable divides the constant-product impact by the integer square
// root of the amplification factor, approximating the flatter stable-swap
// curve around the peg.
func (c *Calculator) dampenStable(impactBps int64) int64 {
	amp := c.cfg.StableAmplification
	if amp <= 1 {
		return impactBps
	}
	root := new(big.Int).Sqrt(big.NewInt(amp)).Int64()
	if root <= 1 {
		return impactBps
	}
	return impactBps / root
}

// PathImpact compounds per-hop impact across a route:
//
//	cumulative += impact + cumulative*impact/10000
//
// pools supplies the reserve snapshot for each hop's pool.
func (c *Calculator) PathImpact(route *types.TradeRoute, pools map[common.Address]*types.PoolState) (*PathImpact, error) {
	result := &PathImpact{}

	for i, step := range route.Steps {
		pool, ok := pools[step.Pool]
		if !ok {
			return nil, fmt.Errorf("missing pool state for %s", step.Pool.Hex())
		}
		reserveIn, reserveOut, _, ok := pool.ReservesFor(step.TokenIn)
		if !ok {
			return nil, fmt.Errorf("step %d token %s not in pool %s", i, step.TokenIn.Hex(), step.Pool.Hex())
		}

		hop, err := c.Impact(step.AmountIn, reserveIn, reserveOut, step.FeeBps, CurveForProtocol(step.Protocol))
		if err != nil {
			return nil, fmt.Errorf("hop %d: %w", i, err)
		}
		result.Hops = append(result.Hops, *hop)

		result.CumulativeBps += hop.ImpactBps + result.CumulativeBps*hop.ImpactBps/10000

		if c.cfg.MaxHopImpactBps > 0 && hop.ImpactBps > c.cfg.MaxHopImpactBps {
			result.Warning = true
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("hop %d impact %dbps exceeds %dbps", i, hop.ImpactBps, c.cfg.MaxHopImpactBps))
		}
	}

	if c.cfg.MaxCumulativeImpactBps > 0 && result.CumulativeBps > c.cfg.MaxCumulativeImpactBps {
		result.Warning = true
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("cumulative impact %dbps exceeds %dbps", result.CumulativeBps, c.cfg.MaxCumulativeImpactBps))
	}

	if result.Warning {
		c.logger.Warn("Route exceeds slippage thresholds",
			zap.Int64("cumulative_bps", result.CumulativeBps),
			zap.Strings("warnings", result.Warnings),
		)
	}
	return result, nil
}

// OptimalTradeSize returns the input amount that keeps price impact at or
// under targetBps of the input-side reserve. Advisory sizing only; nothing
// enforces it.
func OptimalTradeSize(reserveIn *big.Int, targetBps int64) *big.Int {
	if reserveIn == nil || reserveIn.Sign() <= 0 || targetBps <= 0 {
		return new(big.Int)
	}
	size := new(big.Int).Mul(reserveIn, big.NewInt(targetBps))
	return size.Div(size, bpsDenom)
}

// amountOutConstantProduct mirrors the pathfinder's propagation formula.
func amountOutConstantProduct(amountIn, reserveIn, reserveOut *big.Int, feeBps uint32) *big.Int {
	feeFactor := big.NewInt(int64(10000 - feeBps))
	amountInWithFee := new(big.Int).Mul(amountIn, feeFactor)

	numerator := new(big.Int).Mul(amountInWithFee, reserveOut)
	denominator := new(big.Int).Mul(reserveIn, bpsDenom)
	denominator.Add(denominator, amountInWithFee)

	return numerator.Div(numerator, denominator)
}
