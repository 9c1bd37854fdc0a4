package pathfinder

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/metalxalloy/axionarb/config"
	"github.com/metalxalloy/axionarb/graph"
	"github.com/metalxalloy/axionarb/types"
)

var (
	weth = common.HexToAddress("0x82aF49447D8a07e3bd95BD0d56f35241523fBab1")
	usdc = common.HexToAddress("0xFF970A61A04b1cA14834A43f5dE4533eBDDB5CC8")
	dai  = common.HexToAddress("0xDA10009cBd5D07dd0CeCc66161FC93D7c9000da1")
)

func pool(addr string, t0, t1 common.Address, r0, r1 int64) types.PoolState {
	return types.PoolState{
		Address:  common.HexToAddress(addr),
		Token0:   t0,
		Token1:   t1,
		Reserve0: wei(r0),
		Reserve1: wei(r1),
		Protocol: "uniswap_v2",
		FeeBps:   30,
	}
}

func newTestFinder(t *testing.T, pools []types.PoolState, minProfitBps int64, maxHops int) *Finder {
	t.Helper()
	g := graph.New(nil, zaptest.NewLogger(t))
	g.Rebuild(pools)
	f, err := NewFinder(config.PathfinderConfig{
		MinProfitBps:   minProfitBps,
		MaxHops:        maxHops,
		DedupCacheSize: 128,
	}, g, zaptest.NewLogger(t))
	require.NoError(t, err)
	return f
}

func TestFindSpatialCrossVenue(t *testing.T) {
	// Same pair priced at 2000 on one venue and 2100 on the other.
	f := newTestFinder(t, []types.PoolState{
		pool("0xA1", weth, usdc, 100, 200000),
		pool("0xA2", weth, usdc, 100, 210000),
	}, 50, 4)

	opps := f.FindSpatial(wei(1))
	require.Len(t, opps, 1)

	opp := opps[0]
	assert.Equal(t, types.KindSpatial, opp.Kind)
	assert.Equal(t, types.StatusIdentified, opp.Status)
	assert.False(t, opp.RequiresFlashLoan)
	require.Len(t, opp.Route.Steps, 2)
	assert.NoError(t, opp.Route.Validate())
	assert.True(t, opp.Route.Cyclic())
	assert.Equal(t, int64(436), opp.Route.ProfitBps)
	assert.Positive(t, opp.RiskScoreBps)
}

func TestFindSpatialBalancedPools(t *testing.T) {
	f := newTestFinder(t, []types.PoolState{
		pool("0xB1", weth, usdc, 100, 200000),
		pool("0xB2", weth, usdc, 100, 200000),
	}, 50, 4)

	// Identical prices: both directions lose the fee.
	assert.Empty(t, f.FindSpatial(wei(1)))
}

func TestFindSpatialProfitFloor(t *testing.T) {
	f := newTestFinder(t, []types.PoolState{
		pool("0xC1", weth, usdc, 100, 200000),
		pool("0xC2", weth, usdc, 100, 210000),
	}, 500, 4)

	// 436bps gross is below the 500bps floor.
	assert.Empty(t, f.FindSpatial(wei(1)))
}

func TestFindSpatialDeduplicatesAcrossScans(t *testing.T) {
	f := newTestFinder(t, []types.PoolState{
		pool("0xD1", weth, usdc, 100, 200000),
		pool("0xD2", weth, usdc, 100, 210000),
	}, 50, 4)

	require.Len(t, f.FindSpatial(wei(1)), 1)
	// Within the same graph snapshot the signature is unchanged; the cycle
	// is not re-reported.
	assert.Empty(t, f.FindSpatial(wei(1)))
	assert.Positive(t, f.Stats().DuplicatesSkipped)
}

func TestFindSpatialReemitsAfterRebuild(t *testing.T) {
	g := graph.New(nil, zaptest.NewLogger(t))
	g.Rebuild([]types.PoolState{
		pool("0x81", weth, usdc, 100, 200000),
		pool("0x82", weth, usdc, 100, 210000),
	})
	f, err := NewFinder(config.PathfinderConfig{
		MinProfitBps:   50,
		MaxHops:        4,
		DedupCacheSize: 128,
	}, g, zaptest.NewLogger(t))
	require.NoError(t, err)

	require.Len(t, f.FindSpatial(wei(1)), 1)
	assert.Empty(t, f.FindSpatial(wei(1)))

	// A rebuilt snapshot means fresh reserves; the same pool set is a new
	// opportunity, not a duplicate.
	g.Rebuild([]types.PoolState{
		pool("0x81", weth, usdc, 100, 200000),
		pool("0x82", weth, usdc, 100, 220000),
	})
	assert.Len(t, f.FindSpatial(wei(1)), 1)
}

func triangularPools() []types.PoolState {
	return []types.PoolState{
		pool("0xE1", weth, usdc, 100, 200000),
		pool("0xE2", usdc, dai, 200000, 200000),
		pool("0xE3", dai, weth, 190000, 100),
	}
}

func TestFindTriangular(t *testing.T) {
	f := newTestFinder(t, triangularPools(), 50, 4)

	opps := f.FindTriangular(weth, wei(1))
	require.Len(t, opps, 1)

	opp := opps[0]
	assert.Equal(t, types.KindTriangular, opp.Kind)
	require.Len(t, opp.Route.Steps, 3)
	assert.NoError(t, opp.Route.Validate())
	assert.Equal(t, int64(124), opp.Route.ProfitBps)

	// Cycles need borrowed capital, sourced from the first hop's pool.
	assert.True(t, opp.RequiresFlashLoan)
	assert.Equal(t, weth, opp.FlashLoanToken)
	assert.Equal(t, wei(1), opp.FlashLoanAmount)
	assert.Equal(t, opp.Route.Steps[0].Pool, opp.FlashLoanPool)
}

func TestFindAllDeduplicatesRotations(t *testing.T) {
	f := newTestFinder(t, triangularPools(), 50, 4)

	// The same cycle is reachable from all three start tokens; the sorted
	// pool-set signature collapses the rotations.
	opps := f.FindAll(wei(1))
	assert.Len(t, opps, 1)
}

func fourHopPools() []types.PoolState {
	wbtc := common.HexToAddress("0x2f2a2543B76A4166549F7aaB2e75Bef0aefC5B0f")
	return []types.PoolState{
		pool("0x71", weth, usdc, 1000, 2000),
		pool("0x72", usdc, dai, 2000, 2000),
		pool("0x73", dai, wbtc, 2000, 2000),
		pool("0x74", wbtc, weth, 2000, 1060),
	}
}

func TestFindMultiHopFourHopCycle(t *testing.T) {
	f := newTestFinder(t, fourHopPools(), 50, 4)

	opps := f.FindMultiHop(weth, wei(1))
	require.Len(t, opps, 1)

	opp := opps[0]
	assert.Equal(t, types.KindMultiHop, opp.Kind)
	require.Len(t, opp.Route.Steps, 4)
	assert.Equal(t, int64(431), opp.Route.ProfitBps)
	assert.True(t, opp.RequiresFlashLoan)
}

func TestFindAllSearchesToConfiguredHopBound(t *testing.T) {
	// FindAll must reach cycles longer than a triangle when the hop bound
	// allows them.
	f := newTestFinder(t, fourHopPools(), 50, 4)
	opps := f.FindAll(wei(1))
	require.Len(t, opps, 1)
	assert.Len(t, opps[0].Route.Steps, 4)

	// A 3-hop bound cannot close the 4-pool cycle.
	bounded := newTestFinder(t, fourHopPools(), 50, 3)
	assert.Empty(t, bounded.FindAll(wei(1)))
}

func TestFindMultiHopRespectsHopBound(t *testing.T) {
	pools := []types.PoolState{
		pool("0xF1", weth, usdc, 100, 200000),
		pool("0xF2", usdc, dai, 200000, 200000),
		pool("0xF3", dai, weth, 190000, 100),
	}

	bounded := newTestFinder(t, pools, 50, 2)
	assert.Empty(t, bounded.FindMultiHop(weth, wei(1)))

	wide := newTestFinder(t, pools, 50, 4)
	assert.Len(t, wide.FindMultiHop(weth, wei(1)), 1)
}

func TestFindMultiHopNeverReusesAPool(t *testing.T) {
	// A single pool cannot form a cycle: swapping out and back through the
	// same reserves always loses.
	f := newTestFinder(t, []types.PoolState{
		pool("0x91", weth, usdc, 100, 200000),
	}, 0, 4)
	assert.Empty(t, f.FindMultiHop(weth, wei(1)))
}

func TestFindCyclesRejectsBadInput(t *testing.T) {
	f := newTestFinder(t, triangularPools(), 50, 4)
	assert.Empty(t, f.FindTriangular(weth, nil))
	assert.Empty(t, f.FindTriangular(weth, big.NewInt(0)))
	assert.Empty(t, f.FindTriangular(weth, big.NewInt(-1)))
}

func TestStatsCounting(t *testing.T) {
	f := newTestFinder(t, triangularPools(), 50, 4)
	f.FindTriangular(weth, wei(1))

	stats := f.Stats()
	assert.Positive(t, stats.CyclesAnalyzed)
	assert.Equal(t, uint64(1), stats.OpportunitiesFound)
}
