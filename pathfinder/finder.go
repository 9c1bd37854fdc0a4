// Package pathfinder searches the liquidity graph for cyclic routes whose
// simulated output exceeds their input. Three search variants share one
// engine: spatial (2-pool same-pair), triangular (depth-3 cycles) and
// bounded-depth multi-hop.
package pathfinder

import (
	"fmt"
	"math/big"
	"sort"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	lru "github.com/hashicorp/golang-lru"
	"go.uber.org/zap"

	"github.com/metalxalloy/axionarb/config"
	"github.com/metalxalloy/axionarb/graph"
	"github.com/metalxalloy/axionarb/types"
)

// Stats counts search activity since the finder was created.
type Stats struct {
	PoolsAnalyzed      uint64
	CyclesAnalyzed     uint64
	OpportunitiesFound uint64
	DuplicatesSkipped  uint64
}

// Finder runs cycle searches over a liquidity graph.
type Finder struct {
	cfg    config.PathfinderConfig
	graph  *graph.Graph
	logger *zap.Logger

	// seen caches canonical route signatures already reported, so the same
	// cycle discovered from a different start token within one graph
	// snapshot is not emitted twice. Signatures carry the graph generation:
	// a rebuild re-opens every cycle, since changed reserves make it a new
	// opportunity.
	seen *lru.Cache

	mu    sync.Mutex
	stats Stats
}

// NewFinder creates a finder over g.
func NewFinder(cfg config.PathfinderConfig, g *graph.Graph, logger *zap.Logger) (*Finder, error) {
	size := cfg.DedupCacheSize
	if size <= 0 {
		size = 4096
	}
	seen, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("failed to create dedup cache: %w", err)
	}
	return &Finder{
		cfg:    cfg,
		graph:  g,
		logger: logger,
		seen:   seen,
	}, nil
}

// Stats returns a copy of the search counters.
func (f *Finder) Stats() Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stats
}

// routeSignature canonicalizes a route by the graph generation and its sorted
// pool-address set, making rotations of the same cycle identical while
// letting a rebuilt snapshot report the cycle again.
func (f *Finder) routeSignature(route *types.TradeRoute) string {
	pools := make([]string, len(route.Steps))
	for i, s := range route.Steps {
		pools[i] = strings.ToLower(s.Pool.Hex())
	}
	sort.Strings(pools)
	return fmt.Sprintf("g%d|%s", f.graph.Generation(), strings.Join(pools, "|"))
}

// markSeen records a signature, reporting whether it was already present.
func (f *Finder) markSeen(sig string) bool {
	if _, ok := f.seen.Get(sig); ok {
		f.mu.Lock()
		f.stats.DuplicatesSkipped++
		f.mu.Unlock()
		return true
	}
	f.seen.Add(sig, struct{}{})
	return false
}

// pathStep is a hop candidate during DFS, before amounts are propagated.
type pathStep struct {
	poolID   graph.PoolID
	tokenIn  common.Address
	tokenOut common.Address
}

// FindMultiHop searches for profitable cycles from startToken up to the
// configured hop bound. A zero input amount yields no opportunities.
func (f *Finder) FindMultiHop(startToken common.Address, inputAmount *big.Int) []*types.ArbitrageOpportunity {
	return f.findCycles(startToken, inputAmount, f.cfg.MaxHops)
}

// FindTriangular is the depth-3 restriction of the general cycle search.
func (f *Finder) FindTriangular(startToken common.Address, inputAmount *big.Int) []*types.ArbitrageOpportunity {
	return f.findCycles(startToken, inputAmount, 3)
}

// FindAll runs the bounded-depth cycle search from every token in the graph,
// deduplicating cycles discovered under different rotations.
func (f *Finder) FindAll(inputAmount *big.Int) []*types.ArbitrageOpportunity {
	var all []*types.ArbitrageOpportunity
	for _, token := range f.graph.Tokens() {
		all = append(all, f.FindMultiHop(token, inputAmount)...)
	}
	return all
}

func (f *Finder) findCycles(startToken common.Address, inputAmount *big.Int, maxDepth int) []*types.ArbitrageOpportunity {
	if inputAmount == nil || inputAmount.Sign() <= 0 {
		return nil
	}
	if maxDepth < 2 {
		return nil
	}

	var opportunities []*types.ArbitrageOpportunity
	visited := map[common.Address]bool{}

	var dfs func(current common.Address, path []pathStep)
	dfs = func(current common.Address, path []pathStep) {
		if len(path) >= 2 && current == startToken {
			if opp := f.evaluateCycle(path, inputAmount); opp != nil {
				opportunities = append(opportunities, opp)
			}
			f.mu.Lock()
			f.stats.CyclesAnalyzed++
			f.mu.Unlock()
			return
		}
		if len(path) >= maxDepth {
			return
		}

		for _, next := range f.graph.ConnectedTokens(current) {
			if next == startToken && len(path) < 1 {
				// Need at least two hops before closing the cycle.
				continue
			}
			if next != startToken && visited[next] {
				continue
			}
			for _, id := range f.graph.PoolsForPair(current, next) {
				if pathContainsPool(path, id) {
					continue
				}
				path = append(path, pathStep{poolID: id, tokenIn: current, tokenOut: next})
				visited[current] = true
				dfs(next, path)
				visited[current] = false
				path = path[:len(path)-1]
			}
		}
	}

	dfs(startToken, nil)
	return opportunities
}

func pathContainsPool(path []pathStep, id graph.PoolID) bool {
	for _, s := range path {
		if s.poolID == id {
			return true
		}
	}
	return false
}

// evaluateCycle propagates the input amount through the cycle and emits an
// opportunity only when the final amount exceeds the input and the profit
// clears the configured bps floor. The kind follows the cycle length:
// three hops is triangular, anything longer is multi-hop.
func (f *Finder) evaluateCycle(cycle []pathStep, inputAmount *big.Int) *types.ArbitrageOpportunity {
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

	kind := types.KindMultiHop
	if len(route.Steps) == 3 {
		kind = types.KindTriangular
	}
	opp := types.NewOpportunity(kind, route)
	// Cycles longer than a single pair need borrowed capital to run
	// atomically.
	opp.RequiresFlashLoan = true
	opp.FlashLoanAmount = new(big.Int).Set(inputAmount)
	opp.FlashLoanToken = route.StartToken
	opp.FlashLoanPool = route.Steps[0].Pool
	opp.ScoreRisk(0)

	f.mu.Lock()
	f.stats.OpportunitiesFound++
	f.mu.Unlock()

	f.logger.Debug("Found cyclic opportunity",
		zap.String("id", opp.ID),
		zap.String("kind", kind.String()),
		zap.Int("hops", len(route.Steps)),
		zap.Int64("profit_bps", route.ProfitBps),
	)
	return opp
}

// buildRoute propagates amounts hop by hop, returning nil when any pool
// produces no output (zero reserves truncate the route).
func (f *Finder) buildRoute(cycle []pathStep, inputAmount *big.Int) *types.TradeRoute {
	steps := make([]types.PathStep, 0, len(cycle))
	current := new(big.Int).Set(inputAmount)

	for _, hop := range cycle {
		pool := f.graph.Pool(hop.poolID)
		reserveIn, reserveOut, _, ok := pool.ReservesFor(hop.tokenIn)
		if !ok {
			return nil
		}
		out := GetAmountOut(current, reserveIn, reserveOut, pool.FeeBps)
		if out.Sign() <= 0 {
			return nil
		}
		steps = append(steps, types.PathStep{
			Pool:      pool.Address,
			Protocol:  pool.Protocol,
			TokenIn:   hop.tokenIn,
			TokenOut:  hop.tokenOut,
			AmountIn:  current,
			AmountOut: out,
			FeeBps:    pool.FeeBps,
		})
		current = out
	}

	route := &types.TradeRoute{
		Steps:          steps,
		StartToken:     cycle[0].tokenIn,
		EndToken:       cycle[len(cycle)-1].tokenOut,
		InputAmount:    new(big.Int).Set(inputAmount),
		ExpectedOutput: current,
		GrossProfit:    new(big.Int).Sub(current, inputAmount),
		ProfitBps:      profitBps(current, inputAmount),
	}
	return route
}
