// Package money centralizes the decimal-safe arithmetic rules for the
// portfolio ledger: presentation scales and the epsilon tolerance used to
// absorb rounding across long transaction chains. Internally every
// computation stays in shopspring/decimal at full precision; rounding to
// these scales happens only at the presentation boundary (API responses,
// persisted NUMERIC columns), never mid-computation.
package money

import "github.com/shopspring/decimal"

// Presentation scales from spec: units carry 3 fractional digits, NAV
// carries 4, amounts (units*nav) carry 2.
const (
	UnitsScale  = 3
	NavScale    = 4
	AmountScale = 2
)

// Epsilon is the tolerance on the last unit digit used to absorb rounding
// error in comparisons such as "totalUnits < unitsToSell" and the
// replay-equivalence check between cached Position and ledger replay.
var Epsilon = decimal.New(1, -6) // 10^-6

// RoundUnits rounds a unit quantity to its presentation scale.
func RoundUnits(d decimal.Decimal) decimal.Decimal { return d.Round(UnitsScale) }

// RoundNav rounds a NAV value to its presentation scale.
func RoundNav(d decimal.Decimal) decimal.Decimal { return d.Round(NavScale) }

// RoundAmount rounds a money amount to its presentation scale.
func RoundAmount(d decimal.Decimal) decimal.Decimal { return d.Round(AmountScale) }

// WithinEpsilon reports whether a and b differ by no more than Epsilon.
func WithinEpsilon(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(Epsilon)
}

// LessWithEpsilon reports whether a is less than b beyond the epsilon
// tolerance — i.e. a is genuinely, not just numerically-noisily, smaller.
func LessWithEpsilon(a, b decimal.Decimal) bool {
	return b.Sub(a).GreaterThan(Epsilon)
}

// IsZeroWithEpsilon reports whether d is within Epsilon of zero.
func IsZeroWithEpsilon(d decimal.Decimal) bool {
	return d.Abs().LessThanOrEqual(Epsilon)
}
