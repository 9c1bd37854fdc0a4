package txparams

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/metalxalloy/axionarb/types"
)

var (
	weth     = common.HexToAddress("0x82aF49447D8a07e3bd95BD0d56f35241523fBab1")
	usdc     = common.HexToAddress("0xFF970A61A04b1cA14834A43f5dE4533eBDDB5CC8")
	dai      = common.HexToAddress("0xDA10009cBd5D07dd0CeCc66161FC93D7c9000da1")
	contract = common.HexToAddress("0x00000000000000000000000000000000000000C0")
)

func TestDexCodeFor(t *testing.T) {
	for protocol, want := range map[string]DexCode{
		"uniswap_v2": DexUniswapV2,
		"sushiswap":  DexSushiswap,
		"uniswap_v3": DexUniswapV3,
		"camelot":    DexCamelot,
	} {
		code, err := DexCodeFor(protocol)
		require.NoError(t, err)
		assert.Equal(t, want, code)
	}
}

func TestDexCodeForUnknownProtocol(t *testing.T) {
	code, err := DexCodeFor("balancer")
	assert.Error(t, err)
	assert.Equal(t, DexUnknown, code)
}

func step(pool string, protocol string, in, out common.Address, amountIn, amountOut int64) types.PathStep {
	return types.PathStep{
		Pool:      common.HexToAddress(pool),
		Protocol:  protocol,
		TokenIn:   in,
		TokenOut:  out,
		AmountIn:  big.NewInt(amountIn),
		AmountOut: big.NewInt(amountOut),
		FeeBps:    30,
	}
}

func twoHopOpportunity() *types.ArbitrageOpportunity {
	route := &types.TradeRoute{
		Steps: []types.PathStep{
			step("0xA1", "uniswap_v2", weth, usdc, 1000, 2000),
			step("0xA2", "uniswap_v2", usdc, weth, 2000, 1100),
		},
		StartToken:     weth,
		EndToken:       weth,
		InputAmount:    big.NewInt(1000),
		ExpectedOutput: big.NewInt(1100),
		GrossProfit:    big.NewInt(100),
	}
	return types.NewOpportunity(types.KindSpatial, route)
}

func triangularOpportunity() *types.ArbitrageOpportunity {
	route := &types.TradeRoute{
		Steps: []types.PathStep{
			step("0xB1", "uniswap_v2", weth, usdc, 1000, 2000),
			step("0xB2", "sushiswap", usdc, dai, 2000, 1990),
			step("0xB3", "camelot", dai, weth, 1990, 1050),
		},
		StartToken:     weth,
		EndToken:       weth,
		InputAmount:    big.NewInt(1000),
		ExpectedOutput: big.NewInt(1050),
		GrossProfit:    big.NewInt(50),
	}
	opp := types.NewOpportunity(types.KindTriangular, route)
	opp.RequiresFlashLoan = true
	opp.FlashLoanAmount = big.NewInt(1000)
	opp.FlashLoanToken = weth
	opp.FlashLoanPool = route.Steps[0].Pool
	return opp
}

func deadline() time.Time {
	return time.Now().Add(time.Minute)
}

func TestBuildTwoHopShape(t *testing.T) {
	b := NewBuilder(contract, 100, zaptest.NewLogger(t))

	data, err := b.Build(twoHopOpportunity(), deadline())
	require.NoError(t, err)

	assert.Equal(t, flashSwapSelector, data[:4])
	// 7 static words after the selector.
	assert.Len(t, data, 4+7*32)
}

func TestBuildTriangularShape(t *testing.T) {
	b := NewBuilder(contract, 100, zaptest.NewLogger(t))

	data, err := b.Build(triangularOpportunity(), deadline())
	require.NoError(t, err)

	assert.Equal(t, triangularSelector, data[:4])
	// Three fixed arrays of 3 plus amountIn: 13 static words.
	assert.Len(t, data, 4+13*32)
}

func TestBuildGenericPathShape(t *testing.T) {
	b := NewBuilder(contract, 100, zaptest.NewLogger(t))

	opp := triangularOpportunity()
	opp.Route.Steps = append(opp.Route.Steps[:3:3],
		step("0xB4", "uniswap_v3", weth, usdc, 1050, 2100),
		step("0xB5", "uniswap_v2", usdc, weth, 2100, 1101),
	)
	opp.Kind = types.KindMultiHop
	opp.Route.ExpectedOutput = big.NewInt(1101)

	data, err := b.Build(opp, deadline())
	require.NoError(t, err)
	assert.Equal(t, pathSelector, data[:4])
	// Head (4 static + 1 offset) + array length word + 5 tuples of 6 words.
	assert.Len(t, data, 4+5*32+32+5*6*32)
}

func TestBuildDifferentProtocolTwoHopUsesPath(t *testing.T) {
	b := NewBuilder(contract, 100, zaptest.NewLogger(t))

	opp := twoHopOpportunity()
	opp.Route.Steps[1].Protocol = "sushiswap"

	data, err := b.Build(opp, deadline())
	require.NoError(t, err)
	assert.Equal(t, pathSelector, data[:4])
}

func TestBuildRejectsUnknownProtocol(t *testing.T) {
	b := NewBuilder(contract, 100, zaptest.NewLogger(t))

	opp := twoHopOpportunity()
	opp.Route.Steps[0].Protocol = "balancer"

	_, err := b.Build(opp, deadline())
	assert.Error(t, err)
}

func TestBuildRejectsExpiredDeadline(t *testing.T) {
	b := NewBuilder(contract, 100, zaptest.NewLogger(t))
	_, err := b.Build(twoHopOpportunity(), time.Now().Add(-time.Second))
	assert.Error(t, err)
}

func TestBuildRejectsBrokenRoute(t *testing.T) {
	b := NewBuilder(contract, 100, zaptest.NewLogger(t))

	discontinuous := twoHopOpportunity()
	discontinuous.Route.Steps[1].TokenIn = dai
	_, err := b.Build(discontinuous, deadline())
	assert.Error(t, err)

	unprofitable := twoHopOpportunity()
	unprofitable.Route.GrossProfit = big.NewInt(0)
	_, err = b.Build(unprofitable, deadline())
	assert.Error(t, err)

	zeroAddr := twoHopOpportunity()
	zeroAddr.Route.Steps[0].Pool = common.Address{}
	_, err = b.Build(zeroAddr, deadline())
	assert.Error(t, err)
}

func TestMinOutAppliesTolerance(t *testing.T) {
	b := NewBuilder(contract, 250, zaptest.NewLogger(t))
	// 2.5% under the expected 10000.
	assert.Equal(t, big.NewInt(9750), b.minOut(big.NewInt(10000)))

	strict := NewBuilder(contract, 0, zaptest.NewLogger(t))
	assert.Equal(t, big.NewInt(10000), strict.minOut(big.NewInt(10000)))
}

func TestSelectorsAreDistinct(t *testing.T) {
	assert.NotEqual(t, flashSwapSelector, triangularSelector)
	assert.NotEqual(t, flashSwapSelector, pathSelector)
	assert.NotEqual(t, triangularSelector, pathSelector)
	assert.Len(t, flashSwapSelector, 4)
}
