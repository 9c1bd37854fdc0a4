package pathfinder

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/metalxalloy/axionarb/graph"
	"github.com/metalxalloy/axionarb/types"
)

// FindSpatial looks for 2-pool cross-venue cycles: buy on one pool of a
// pair, sell back on another. Every ordered pool pair is tried in both
// trade directions.
func (f *Finder) FindSpatial(inputAmount *big.Int) []*types.ArbitrageOpportunity {
	if inputAmount == nil || inputAmount.Sign() <= 0 {
		return nil
	}

	var opportunities []*types.ArbitrageOpportunity
	tokens := f.graph.Tokens()

	for _, tokenA := range tokens {
		for _, tokenB := range f.graph.ConnectedTokens(tokenA) {
			// Visit each unordered pair once.
			if tokenB.Cmp(tokenA) <= 0 {
				continue
			}
			pools := f.graph.PoolsForPair(tokenA, tokenB)
			if len(pools) < 2 {
				continue
			}

			f.mu.Lock()
			f.stats.PoolsAnalyzed += uint64(len(pools))
			f.mu.Unlock()

			for i, buyID := range pools {
				for j, sellID := range pools {
					if i == j {
						continue
					}
					for _, startToken := range [2]common.Address{tokenA, tokenB} {
						opp := f.evaluateSpatial(buyID, sellID, startToken, inputAmount)
						if opp != nil {
							opportunities = append(opportunities, opp)
						}
					}
				}
			}
		}
	}

	return opportunities
}

func (f *Finder) evaluateSpatial(buyID, sellID graph.PoolID, startToken common.Address, inputAmount *big.Int) *types.ArbitrageOpportunity {
	buyPool := f.graph.Pool(buyID)
	_, _, midToken, ok := buyPool.ReservesFor(startToken)
	if !ok {
		return nil
	}

	cycle := []pathStep{
		{poolID: buyID, tokenIn: startToken, tokenOut: midToken},
		{poolID: sellID, tokenIn: midToken, tokenOut: startToken},
	}

	route := f.buildRoute(cycle, inputAmount)
	if route == nil {
		return nil
	}
	if route.ExpectedOutput.Cmp(inputAmount) <= 0 {
		return nil
	}
	if route.ProfitBps < f.cfg.MinProfitBps {
		return nil
	}
	if f.markSeen(f.routeSignature(route)) {
		return nil
	}

	opp := types.NewOpportunity(types.KindSpatial, route)
	// Same-pair round trips are small enough to run on own capital.
	opp.RequiresFlashLoan = false
	opp.ScoreRisk(0)

	f.mu.Lock()
	f.stats.OpportunitiesFound++
	f.mu.Unlock()

	f.logger.Debug("Found spatial opportunity",
		zap.String("id", opp.ID),
		zap.String("buy_pool", buyPool.Address.Hex()),
		zap.String("sell_pool", f.graph.Pool(sellID).Address.Hex()),
		zap.Int64("profit_bps", route.ProfitBps),
	)
	return opp
}
