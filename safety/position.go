package safety

import (
	"fmt"
	"math/big"
	"sync"

	"go.uber.org/zap"

	"github.com/metalxalloy/axionarb/config"
	"github.com/metalxalloy/axionarb/types"
)

// Performance multiplier clamp, in bps of the base size.
const (
	multiplierFloorBps = 5000
	multiplierCeilBps  = 15000
	multiplierBaseBps  = 10000
)

// PositionSizer bounds how much capital a single trade may commit and tracks
// total outstanding exposure.
type PositionSizer struct {
	cfg    config.PositionConfig
	logger *zap.Logger

	mu       sync.Mutex
	capital  *big.Int
	exposure *big.Int
	window   []types.TradeResult
}

// NewPositionSizer creates a sizer over the given working capital.
func NewPositionSizer(cfg config.PositionConfig, capital *big.Int, logger *zap.Logger) *PositionSizer {
	return &PositionSizer{
		cfg:      cfg,
		logger:   logger,
		capital:  new(big.Int).Set(capital),
		exposure: new(big.Int),
	}
}

// Approve validates a requested position size against the absolute bounds,
// the per-trade percentage of capital and the remaining exposure headroom,
// and books the exposure in the same critical section. Checking and booking
// are atomic so concurrent approvals cannot jointly exceed the exposure
// limit; an approved position must be returned with Release once it settles.
func (ps *PositionSizer) Approve(size *big.Int) error {
	if size == nil || size.Sign() <= 0 {
		return fmt.Errorf("position size must be positive")
	}

	ps.mu.Lock()
	defer ps.mu.Unlock()

	if ps.cfg.MinPositionSize != nil && size.Cmp(ps.cfg.MinPositionSize) < 0 {
		return fmt.Errorf("position %s below minimum %s", size, ps.cfg.MinPositionSize)
	}
	if ps.cfg.MaxPositionSize != nil && size.Cmp(ps.cfg.MaxPositionSize) > 0 {
		return fmt.Errorf("position %s above maximum %s", size, ps.cfg.MaxPositionSize)
	}

	perTrade := ps.pctOfCapital(ps.cfg.MaxTradePctBps)
	if size.Cmp(perTrade) > 0 {
		return fmt.Errorf("position %s exceeds per-trade limit %s", size, perTrade)
	}

	limit := ps.pctOfCapital(ps.cfg.MaxExposurePctBps)
	next := new(big.Int).Add(ps.exposure, size)
	if next.Cmp(limit) > 0 {
		return fmt.Errorf("position %s would push exposure %s over limit %s", size, next, limit)
	}

	ps.exposure.Set(next)
	return nil
}

// Release returns exposure after an execution settles, clamping at zero.
func (ps *PositionSizer) Release(size *big.Int) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.exposure.Sub(ps.exposure, size)
	if ps.exposure.Sign() < 0 {
		ps.exposure.SetInt64(0)
	}
}

// Exposure returns current outstanding exposure.
func (ps *PositionSizer) Exposure() *big.Int {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return new(big.Int).Set(ps.exposure)
}

// RecordResult feeds a settled trade into the rolling performance window.
func (ps *PositionSizer) RecordResult(result types.TradeResult) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.window = append(ps.window, result)
	if ps.cfg.PerformanceWindow > 0 && len(ps.window) > ps.cfg.PerformanceWindow {
		ps.window = ps.window[len(ps.window)-ps.cfg.PerformanceWindow:]
	}
	if result.NetProfit != nil {
		ps.capital.Add(ps.capital, result.NetProfit)
	}
}

// SuggestSize scales a base size by recent performance. The multiplier moves
// linearly with the window's win rate around 50% and is clamped to
// [0.5, 1.5]x.
func (ps *PositionSizer) SuggestSize(base *big.Int) *big.Int {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	mult := int64(multiplierBaseBps)
	if len(ps.window) > 0 {
		wins := 0
		for _, r := range ps.window {
			if r.Success && r.NetProfit != nil && r.NetProfit.Sign() > 0 {
				wins++
			}
		}
		winRateBps := int64(wins) * 10000 / int64(len(ps.window))
		mult = multiplierBaseBps + (winRateBps - 5000)
		if mult < multiplierFloorBps {
			mult = multiplierFloorBps
		}
		if mult > multiplierCeilBps {
			mult = multiplierCeilBps
		}
	}

	size := new(big.Int).Mul(base, big.NewInt(mult))
	size.Div(size, big.NewInt(10000))

	if ps.cfg.MinPositionSize != nil && size.Cmp(ps.cfg.MinPositionSize) < 0 {
		size.Set(ps.cfg.MinPositionSize)
	}
	if ps.cfg.MaxPositionSize != nil && size.Cmp(ps.cfg.MaxPositionSize) > 0 {
		size.Set(ps.cfg.MaxPositionSize)
	}
	return size
}

// Capital returns the current working capital.
func (ps *PositionSizer) Capital() *big.Int {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return new(big.Int).Set(ps.capital)
}

func (ps *PositionSizer) pctOfCapital(bps int64) *big.Int {
	pct := new(big.Int).Mul(ps.capital, big.NewInt(bps))
	return pct.Div(pct, big.NewInt(10000))
}
