package gas

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/metalxalloy/axionarb/config"
	"github.com/metalxalloy/axionarb/types"
)

func validatorConfig() config.GasConfig {
	return config.GasConfig{
		MaxGasPrice:      big.NewInt(100_000_000_000),
		MinNetProfit:     big.NewInt(1_000_000),
		MaxGasPercentBps: 5000,
		FlashLoanFeeBps:  9,
		MEVLeakBps:       0,
	}
}

func profitableOpportunity(gross int64) *types.ArbitrageOpportunity {
	route := &types.TradeRoute{
		Steps: []types.PathStep{
			{Protocol: "uniswap_v2", AmountIn: big.NewInt(1), AmountOut: big.NewInt(2)},
			{Protocol: "uniswap_v2", AmountIn: big.NewInt(2), AmountOut: big.NewInt(3)},
		},
		InputAmount:    big.NewInt(1_000_000_000),
		ExpectedOutput: big.NewInt(1_000_000_000 + gross),
		GrossProfit:    big.NewInt(gross),
	}
	return types.NewOpportunity(types.KindSpatial, route)
}

func TestValidateAccepts(t *testing.T) {
	v := NewValidator(validatorConfig(), zaptest.NewLogger(t))
	opp := profitableOpportunity(100_000_000)

	// Gas cost 100k * 100 = 10M, well under gross and under the 50% share.
	verdict := v.Validate(opp, 100_000, big.NewInt(100))
	require.True(t, verdict.Accepted)
	assert.Equal(t, RejectNone, verdict.Reason)
	assert.Equal(t, big.NewInt(10_000_000), verdict.GasCost)
	assert.Equal(t, big.NewInt(90_000_000), verdict.NetProfit)

	// Accepted opportunities are annotated in place.
	assert.Equal(t, uint64(100_000), opp.EstimatedGas)
	assert.Equal(t, big.NewInt(90_000_000), opp.NetProfit)
}

func TestValidateGateOrder(t *testing.T) {
	v := NewValidator(validatorConfig(), zaptest.NewLogger(t))

	// Gate 1: estimation failure.
	verdict := v.Validate(profitableOpportunity(100_000_000), 0, big.NewInt(100))
	assert.Equal(t, RejectEstimation, verdict.Reason)

	// Gate 2: gas swallows the profit entirely.
	verdict = v.Validate(profitableOpportunity(1_000), 100_000, big.NewInt(100))
	assert.Equal(t, RejectUnprofitable, verdict.Reason)

	// Gate 3: gas price over the ceiling, even though net stays positive.
	verdict = v.Validate(profitableOpportunity(30_000_000_000_000_000), 100_000, big.NewInt(200_000_000_000))
	assert.Equal(t, RejectGasPriceCeil, verdict.Reason)

	// Gate 4: positive net but under the absolute floor.
	verdict = v.Validate(profitableOpportunity(10_500_000), 100_000, big.NewInt(100))
	assert.Equal(t, RejectBelowFloor, verdict.Reason)

	// Gate 5: net clears the floor but gas eats too large a share of gross.
	cfg := validatorConfig()
	cfg.MaxGasPercentBps = 1000
	tight := NewValidator(cfg, zaptest.NewLogger(t))
	verdict = tight.Validate(profitableOpportunity(50_000_000), 100_000, big.NewInt(100))
	assert.Equal(t, RejectGasShare, verdict.Reason)
}

func TestValidateMissingInputs(t *testing.T) {
	v := NewValidator(validatorConfig(), zaptest.NewLogger(t))
	opp := profitableOpportunity(100_000_000)

	verdict := v.Validate(opp, 100_000, nil)
	assert.Equal(t, RejectMissingInputs, verdict.Reason)

	opp.Route.GrossProfit = nil
	verdict = v.Validate(opp, 100_000, big.NewInt(100))
	assert.Equal(t, RejectMissingInputs, verdict.Reason)
}

func TestFlashLoanFee(t *testing.T) {
	v := NewValidator(validatorConfig(), zaptest.NewLogger(t))

	opp := profitableOpportunity(100_000_000)
	assert.Zero(t, v.FlashLoanFee(opp).Sign())

	opp.RequiresFlashLoan = true
	opp.FlashLoanAmount = big.NewInt(1_000_000_000)
	// 9bps of 1e9.
	assert.Equal(t, big.NewInt(900_000), v.FlashLoanFee(opp))
}

func TestMEVLeakReducesNet(t *testing.T) {
	cfg := validatorConfig()
	cfg.MEVLeakBps = 1000
	v := NewValidator(cfg, zaptest.NewLogger(t))

	verdict := v.Validate(profitableOpportunity(100_000_000), 100_000, big.NewInt(100))
	require.True(t, verdict.Accepted)
	// 10% of gross leaks: net = 100M - 10M gas - 10M leak.
	assert.Equal(t, big.NewInt(10_000_000), verdict.MEVLeak)
	assert.Equal(t, big.NewInt(80_000_000), verdict.NetProfit)
}

func TestRepayable(t *testing.T) {
	v := NewValidator(validatorConfig(), zaptest.NewLogger(t))

	opp := profitableOpportunity(100_000_000)
	opp.RequiresFlashLoan = true
	opp.FlashLoanAmount = big.NewInt(1_000_000_000)

	// Revenue 1.1e9 covers principal 1e9 + fee 0.9M + gas 10M.
	assert.True(t, v.Repayable(opp, big.NewInt(10_000_000)))

	// Gas large enough that revenue no longer covers the loan.
	assert.False(t, v.Repayable(opp, big.NewInt(100_000_000)))
}

func TestValidateRejectsUnrepayableLoan(t *testing.T) {
	cfg := validatorConfig()
	cfg.MinNetProfit = big.NewInt(0)
	v := NewValidator(cfg, zaptest.NewLogger(t))

	opp := profitableOpportunity(100_000_000)
	opp.RequiresFlashLoan = true
	// Principal far above route revenue.
	opp.FlashLoanAmount = big.NewInt(2_000_000_000)

	verdict := v.Validate(opp, 100_000, big.NewInt(100))
	assert.Equal(t, RejectNotRepayable, verdict.Reason)
}
