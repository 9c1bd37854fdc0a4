package txparams

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"github.com/metalxalloy/axionarb/types"
)

// ABI argument types used by the three contract entry points. Constructed
// once; NewType only fails on malformed type strings.
var (
	addressType, _  = abi.NewType("address", "", nil)
	uint256Type, _  = abi.NewType("uint256", "", nil)
	uint8Type, _    = abi.NewType("uint8", "", nil)
	address3Type, _ = abi.NewType("address[3]", "", nil)
	uint24x3Type, _ = abi.NewType("uint24[3]", "", nil)
	uint256x3Type, _ = abi.NewType("uint256[3]", "", nil)
	stepsType, _    = abi.NewType("tuple[]", "", []abi.ArgumentMarshaling{
		{Name: "pool", Type: "address"},
		{Name: "tokenIn", Type: "address"},
		{Name: "tokenOut", Type: "address"},
		{Name: "amountIn", Type: "uint256"},
		{Name: "minAmountOut", Type: "uint256"},
		{Name: "dexType", Type: "uint8"},
	})

	flashSwapArgs = abi.Arguments{
		{Type: addressType}, {Type: addressType},
		{Type: addressType}, {Type: addressType},
		{Type: uint256Type}, {Type: uint256Type}, {Type: uint8Type},
	}
	triangularArgs = abi.Arguments{
		{Type: address3Type}, {Type: address3Type}, {Type: uint24x3Type},
		{Type: uint256Type}, {Type: uint256x3Type},
	}
	pathArgs = abi.Arguments{
		{Type: addressType}, {Type: addressType}, {Type: uint256Type},
		{Type: stepsType}, {Type: uint256Type},
	}

	flashSwapSelector  = selector("executeFlashSwap(address,address,address,address,uint256,uint256,uint8)")
	triangularSelector = selector("executeTriangularSwap(address[3],address[3],uint24[3],uint256,uint256[3])")
	pathSelector       = selector("executeArbitragePath(address,address,uint256,(address,address,address,uint256,uint256,uint8)[],uint256)")
)

func selector(signature string) []byte {
	return crypto.Keccak256([]byte(signature))[:4]
}

// SwapStep is the Go image of the contract's path-step tuple. Field order
// must match the ABI component order.
type SwapStep struct {
	Pool         common.Address
	TokenIn      common.Address
	TokenOut     common.Address
	AmountIn     *big.Int
	MinAmountOut *big.Int
	DexType      uint8
}

// Builder encodes validated opportunities into contract calldata.
type Builder struct {
	contract     common.Address
	toleranceBps int64
	logger       *zap.Logger
}

// NewBuilder creates a builder targeting the flash swap contract.
// toleranceBps is the per-leg slippage tolerance applied to min-out amounts.
func NewBuilder(contract common.Address, toleranceBps int64, logger *zap.Logger) *Builder {
	return &Builder{contract: contract, toleranceBps: toleranceBps, logger: logger}
}

// Contract returns the target contract address.
func (b *Builder) Contract() common.Address {
	return b.contract
}

// Build validates the opportunity and encodes the matching calldata shape:
// two-hop same-protocol routes use the flash swap entry point, three-hop
// routes the triangular one, everything else the generic path executor.
func (b *Builder) Build(opp *types.ArbitrageOpportunity, deadline time.Time) ([]byte, error) {
	if err := b.validate(opp, deadline); err != nil {
		return nil, err
	}
	steps := opp.Route.Steps

	switch {
	case len(steps) == 2 && steps[0].Protocol == steps[1].Protocol:
		return b.encodeFlashSwap(opp)
	case len(steps) == 3:
		return b.encodeTriangular(opp)
	default:
		return b.encodePath(opp, deadline)
	}
}

func (b *Builder) validate(opp *types.ArbitrageOpportunity, deadline time.Time) error {
	if opp.Route == nil {
		return fmt.Errorf("opportunity has no route")
	}
	if err := opp.Route.Validate(); err != nil {
		return fmt.Errorf("invalid route: %w", err)
	}
	if opp.Route.GrossProfit == nil || opp.Route.GrossProfit.Sign() <= 0 {
		return fmt.Errorf("route has no expected profit")
	}
	if !deadline.After(time.Now()) {
		return fmt.Errorf("deadline %s already passed", deadline.Format(time.RFC3339))
	}
	zero := common.Address{}
	for i, step := range opp.Route.Steps {
		if step.Pool == zero || step.TokenIn == zero || step.TokenOut == zero {
			return fmt.Errorf("step %d has a zero address", i)
		}
		if step.AmountIn == nil || step.AmountIn.Sign() <= 0 {
			return fmt.Errorf("step %d amount must be positive", i)
		}
		if _, err := DexCodeFor(step.Protocol); err != nil {
			return fmt.Errorf("step %d: %w", i, err)
		}
	}
	if opp.RequiresFlashLoan {
		if opp.FlashLoanAmount == nil || opp.FlashLoanAmount.Sign() <= 0 {
			return fmt.Errorf("flash loan amount must be positive")
		}
		if opp.FlashLoanPool == zero {
			return fmt.Errorf("flash loan pool not set")
		}
	}
	return nil
}

// minOut applies the configured tolerance: expected*(10000-tolerance)/10000.
func (b *Builder) minOut(expected *big.Int) *big.Int {
	out := new(big.Int).Mul(expected, big.NewInt(10000-b.toleranceBps))
	return out.Div(out, big.NewInt(10000))
}

func (b *Builder) encodeFlashSwap(opp *types.ArbitrageOpportunity) ([]byte, error) {
	steps := opp.Route.Steps
	code, err := DexCodeFor(steps[0].Protocol)
	if err != nil {
		return nil, err
	}

	packed, err := flashSwapArgs.Pack(
		steps[0].Pool,
		steps[1].Pool,
		steps[0].TokenIn,
		steps[0].TokenOut,
		steps[0].AmountIn,
		b.minOut(steps[1].AmountOut),
		uint8(code),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to encode flash swap params: %w", err)
	}
	return append(append([]byte{}, flashSwapSelector...), packed...), nil
}

func (b *Builder) encodeTriangular(opp *types.ArbitrageOpportunity) ([]byte, error) {
	steps := opp.Route.Steps

	var pools, tokens [3]common.Address
	var fees [3]*big.Int
	var minOuts [3]*big.Int
	for i, step := range steps {
		pools[i] = step.Pool
		tokens[i] = step.TokenIn
		fees[i] = big.NewInt(int64(step.FeeBps))
		minOuts[i] = b.minOut(step.AmountOut)
	}

	packed, err := triangularArgs.Pack(pools, tokens, fees, steps[0].AmountIn, minOuts)
	if err != nil {
		return nil, fmt.Errorf("failed to encode triangular params: %w", err)
	}
	return append(append([]byte{}, triangularSelector...), packed...), nil
}

func (b *Builder) encodePath(opp *types.ArbitrageOpportunity, deadline time.Time) ([]byte, error) {
	route := opp.Route
	steps := make([]SwapStep, len(route.Steps))
	for i, step := range route.Steps {
		code, err := DexCodeFor(step.Protocol)
		if err != nil {
			return nil, err
		}
		steps[i] = SwapStep{
			Pool:         step.Pool,
			TokenIn:      step.TokenIn,
			TokenOut:     step.TokenOut,
			AmountIn:     step.AmountIn,
			MinAmountOut: b.minOut(step.AmountOut),
			DexType:      uint8(code),
		}
	}

	loanPool := opp.FlashLoanPool
	loanToken := opp.FlashLoanToken
	loanAmount := opp.FlashLoanAmount
	if !opp.RequiresFlashLoan {
		// Own-capital routes still flow through the path executor; the
		// contract treats a zero loan pool as no borrow.
		loanPool = common.Address{}
		loanToken = route.StartToken
		loanAmount = route.InputAmount
	}

	packed, err := pathArgs.Pack(
		loanPool,
		loanToken,
		loanAmount,
		steps,
		big.NewInt(deadline.Unix()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to encode path params: %w", err)
	}
	return append(append([]byte{}, pathSelector...), packed...), nil
}
