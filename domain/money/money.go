// Package money holds the decimal arithmetic shared by the ledger, the book and
// the matcher. Prices, quantities and amounts are shopspring decimals and are
// never converted to floating point on the matching path.
package money

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Scale is the number of fractional digits kept for ledger amounts.
const Scale int32 = 8

// divScale is the precision of intermediate quotients before quantization.
const divScale int32 = 18

var (
	Zero = decimal.Zero

	hundred = decimal.NewFromInt(100)

	// MinFee is the floor applied to a non-zero fee.
	MinFee = decimal.New(1, -Scale)
)

// Parse reads a decimal from its string form. The empty string is zero.
func Parse(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("money: parse %q: %w", s, err)
	}
	return d, nil
}

// MustParse is Parse for constants and tests.
func MustParse(s string) decimal.Decimal {
	d, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return d
}

// Truncate drops digits past the ledger scale.
func Truncate(d decimal.Decimal) decimal.Decimal {
	return d.Truncate(Scale)
}

// Div divides with enough precision to quantize the result afterwards.
func Div(a, b decimal.Decimal) decimal.Decimal {
	return a.DivRound(b, divScale)
}

// FloorTo rounds d down to a multiple of step. A zero step returns d unchanged.
func FloorTo(d, step decimal.Decimal) decimal.Decimal {
	if step.Sign() <= 0 {
		return d
	}
	return d.DivRound(step, divScale).Floor().Mul(step)
}

// CeilTo rounds d up to a multiple of step.
func CeilTo(d, step decimal.Decimal) decimal.Decimal {
	if step.Sign() <= 0 {
		return d
	}
	return d.DivRound(step, divScale).Ceil().Mul(step)
}

// IsMultiple reports whether d is an exact multiple of step.
func IsMultiple(d, step decimal.Decimal) bool {
	if step.Sign() <= 0 {
		return true
	}
	return d.Mod(step).IsZero()
}

// Percent returns d percent of base.
func Percent(base, d decimal.Decimal) decimal.Decimal {
	return base.Mul(d).Div(hundred)
}

// DeviationPercent is |price-ref| / ref * 100. A non-positive reference yields zero.
func DeviationPercent(price, ref decimal.Decimal) decimal.Decimal {
	if ref.Sign() <= 0 {
		return decimal.Zero
	}
	return price.Sub(ref).Abs().Mul(hundred).DivRound(ref, divScale)
}

// Fee returns max(gross*rate, MinFee) truncated to the ledger scale, or zero
// when the rate is not positive. The fee never exceeds gross.
func Fee(gross, rate decimal.Decimal) decimal.Decimal {
	return FeeWithFloor(gross, rate, MinFee)
}

// FeeWithFloor is Fee with a caller-chosen minimum.
func FeeWithFloor(gross, rate, floor decimal.Decimal) decimal.Decimal {
	if rate.Sign() <= 0 || gross.Sign() <= 0 {
		return decimal.Zero
	}
	f := Truncate(gross.Mul(rate))
	if f.LessThan(floor) {
		f = floor
	}
	if f.GreaterThan(gross) {
		f = gross
	}
	return f
}

// Min returns the smaller of a and b.
func Min(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}

// Max returns the larger of a and b.
func Max(a, b decimal.Decimal) decimal.Decimal {
	if a.GreaterThan(b) {
		return a
	}
	return b
}
