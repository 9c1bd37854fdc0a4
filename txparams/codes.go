// Package txparams validates routes and encodes them into the calldata
// shapes the flash swap contract accepts.
package txparams

import "fmt"

// DexCode is the on-chain router discriminator passed to the contract.
type DexCode uint8

const (
	DexUniswapV2 DexCode = 0
	DexSushiswap DexCode = 1
	DexUniswapV3 DexCode = 2
	DexCamelot   DexCode = 3

	// DexUnknown is never encoded. It exists so an unmatched protocol is an
	// explicit error instead of silently routing through code 0.
	DexUnknown DexCode = 255
)

var dexCodes = map[string]DexCode{
	"uniswap_v2": DexUniswapV2,
	"sushiswap":  DexSushiswap,
	"uniswap_v3": DexUniswapV3,
	"camelot":    DexCamelot,
}

// DexCodeFor maps a protocol identifier to its contract code. Unknown
// protocols are rejected.
func DexCodeFor(protocol string) (DexCode, error) {
	code, ok := dexCodes[protocol]
	if !ok {
		return DexUnknown, fmt.Errorf("no dex code for protocol %q", protocol)
	}
	return code, nil
}
