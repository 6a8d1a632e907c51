package basepay

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// Reserved amounts are fixed-point with 6 fractional digits, matching the
// token's on-chain precision (USDC). The random suffix occupies the four
// digits below the currency's usual 2-decimal granularity, so it is
// distinguishable from normal rounding.
const (
	AmountDecimals = 6

	// SuffixSpan is the size of the random suffix space: suffixes are
	// drawn from [1, SuffixSpan].
	SuffixSpan = 9999
)

// ReservedAmount returns reference plus the given micro-unit suffix.
// suffix must be in [1, SuffixSpan].
func ReservedAmount(reference decimal.Decimal, suffix int64) decimal.Decimal {
	return reference.Add(decimal.New(suffix, -AmountDecimals))
}

// AmountKey is the canonical 6-decimal string form of an amount. The
// ledger's exclusivity constraint is keyed on this exact formatting.
func AmountKey(d decimal.Decimal) string {
	return d.StringFixed(AmountDecimals)
}

// ToSmallestUnit scales a decimal amount into the token's smallest-unit
// integer representation, truncating anything below the token's precision.
func ToSmallestUnit(d decimal.Decimal, decimals int32) *big.Int {
	return d.Shift(decimals).BigInt()
}

// FromSmallestUnit converts a raw smallest-unit value back into a decimal
// amount using the token's declared precision.
func FromSmallestUnit(v *big.Int, decimals int32) decimal.Decimal {
	return decimal.NewFromBigInt(v, -decimals)
}
