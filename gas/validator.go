package gas

import (
	"math/big"

	"go.uber.org/zap"

	"github.com/metalxalloy/axionarb/config"
	"github.com/metalxalloy/axionarb/types"
)

// RejectReason is a machine-readable profitability rejection.
type RejectReason string

const (
	RejectNone           RejectReason = ""
	RejectEstimation     RejectReason = "estimation-failed"
	RejectUnprofitable   RejectReason = "net-profit-non-positive"
	RejectGasPriceCeil   RejectReason = "gas-price-over-ceiling"
	RejectBelowFloor     RejectReason = "net-profit-below-floor"
	RejectGasShare       RejectReason = "gas-share-over-limit"
	RejectNotRepayable   RejectReason = "flash-loan-not-repayable"
	RejectMissingInputs  RejectReason = "missing-inputs"
)

// Verdict is the outcome of profitability validation. A rejected verdict is a
// decision, not a fault: callers drop the opportunity without retrying.
type Verdict struct {
	Accepted bool
	Reason   RejectReason

	GasCost      *big.Int
	FlashLoanFee *big.Int
	MEVLeak      *big.Int
	NetProfit    *big.Int
}

// Validator applies the profitability gates in a fixed order.
type Validator struct {
	cfg    config.GasConfig
	logger *zap.Logger
}

// NewValidator creates a validator.
func NewValidator(cfg config.GasConfig, logger *zap.Logger) *Validator {
	return &Validator{cfg: cfg, logger: logger}
}

// Validate gates an opportunity on net profitability. Gate order is fixed:
// estimation failure, non-positive net, gas price ceiling, absolute net
// floor, gas share of gross profit. gasLimit zero means estimation failed
// upstream.
func (v *Validator) Validate(opp *types.ArbitrageOpportunity, gasLimit uint64, gasPrice *big.Int) Verdict {
	if opp.Route == nil || opp.Route.GrossProfit == nil || gasPrice == nil {
		return Verdict{Reason: RejectMissingInputs}
	}
	if gasLimit == 0 {
		return Verdict{Reason: RejectEstimation}
	}

	gross := opp.Route.GrossProfit
	gasCost := new(big.Int).Mul(new(big.Int).SetUint64(gasLimit), gasPrice)

	fee := v.FlashLoanFee(opp)
	leak := v.mevLeak(gross)

	net := new(big.Int).Sub(gross, gasCost)
	net.Sub(net, fee)
	net.Sub(net, leak)

	verdict := Verdict{
		GasCost:      gasCost,
		FlashLoanFee: fee,
		MEVLeak:      leak,
		NetProfit:    net,
	}

	if net.Sign() <= 0 {
		verdict.Reason = RejectUnprofitable
		return verdict
	}
	if v.cfg.MaxGasPrice != nil && gasPrice.Cmp(v.cfg.MaxGasPrice) > 0 {
		verdict.Reason = RejectGasPriceCeil
		return verdict
	}
	if v.cfg.MinNetProfit != nil && net.Cmp(v.cfg.MinNetProfit) < 0 {
		verdict.Reason = RejectBelowFloor
		return verdict
	}
	if v.cfg.MaxGasPercentBps > 0 && gross.Sign() > 0 {
		share := new(big.Int).Mul(gasCost, big.NewInt(10000))
		share.Div(share, gross)
		if share.Int64() > v.cfg.MaxGasPercentBps {
			verdict.Reason = RejectGasShare
			return verdict
		}
	}
	if opp.RequiresFlashLoan && !v.Repayable(opp, gasCost) {
		verdict.Reason = RejectNotRepayable
		return verdict
	}

	verdict.Accepted = true

	opp.EstimatedGas = gasLimit
	opp.GasPrice = new(big.Int).Set(gasPrice)
	opp.NetProfit = net

	v.logger.Debug("Opportunity passed profitability gates",
		zap.String("id", opp.ID),
		zap.String("net_profit", net.String()),
		zap.Uint64("gas_limit", gasLimit),
	)
	return verdict
}

// FlashLoanFee is the provider fee in bps of the borrowed principal. Zero
// when the route runs on own capital.
func (v *Validator) FlashLoanFee(opp *types.ArbitrageOpportunity) *big.Int {
	if !opp.RequiresFlashLoan || opp.FlashLoanAmount == nil {
		return new(big.Int)
	}
	fee := new(big.Int).Mul(opp.FlashLoanAmount, big.NewInt(v.cfg.FlashLoanFeeBps))
	return fee.Div(fee, big.NewInt(10000))
}

// mevLeak models expected value captured by competing searchers as a bps
// haircut on gross profit.
func (v *Validator) mevLeak(gross *big.Int) *big.Int {
	if v.cfg.MEVLeakBps <= 0 || gross.Sign() <= 0 {
		return new(big.Int)
	}
	leak := new(big.Int).Mul(gross, big.NewInt(v.cfg.MEVLeakBps))
	return leak.Div(leak, big.NewInt(10000))
}

// Repayable checks that route revenue covers principal, provider fee and gas:
// the loan must settle inside the same transaction or the whole bundle
// reverts.
func (v *Validator) Repayable(opp *types.ArbitrageOpportunity, gasCost *big.Int) bool {
	if opp.Route == nil || opp.Route.ExpectedOutput == nil || opp.FlashLoanAmount == nil {
		return false
	}
	owed := new(big.Int).Add(opp.FlashLoanAmount, v.FlashLoanFee(opp))
	owed.Add(owed, gasCost)
	return opp.Route.ExpectedOutput.Cmp(owed) >= 0
}
