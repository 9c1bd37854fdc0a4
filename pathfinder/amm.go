package pathfinder

import "math/big"

var bpsDenom = big.NewInt(10000)

// GetAmountOut applies the constant-product formula with the pool fee taken
// from the input side:
//
//	out = (in*(10000-fee) * reserveOut) / (reserveIn*10000 + in*(10000-fee))
//
// The fee is kept in the numerator/denominator so small inputs are not
// truncated to zero before the division. Empty reserves or a non-positive
// input yield zero rather than dividing by zero.
func GetAmountOut(amountIn, reserveIn, reserveOut *big.Int, feeBps uint32) *big.Int {
	if amountIn == nil || amountIn.Sign() <= 0 {
		return new(big.Int)
	}
	if reserveIn == nil || reserveOut == nil || reserveIn.Sign() <= 0 || reserveOut.Sign() <= 0 {
		return new(big.Int)
	}

	feeFactor := big.NewInt(int64(10000 - feeBps))
	amountInWithFee := new(big.Int).Mul(amountIn, feeFactor)

	numerator := new(big.Int).Mul(amountInWithFee, reserveOut)
	denominator := new(big.Int).Mul(reserveIn, bpsDenom)
	denominator.Add(denominator, amountInWithFee)

	return numerator.Div(numerator, denominator)
}

// profitBps computes floor((final-input)*10000/input). Negative for losing
// routes.
func profitBps(finalAmount, inputAmount *big.Int) int64 {
	if inputAmount == nil || inputAmount.Sign() <= 0 {
		return 0
	}
	diff := new(big.Int).Sub(finalAmount, inputAmount)
	diff.Mul(diff, bpsDenom)
	diff.Div(diff, inputAmount)
	return diff.Int64()
}
