package internal

import "github.com/cockroachdb/apd/v3"

// ratioExponent fixes ratios to four decimal places.
const ratioExponent = -4

type Decimal struct {
	value apd.Decimal
}

func NewDecimalFromInt64(i int64) Decimal {
	var d apd.Decimal
	d.SetInt64(i)
	return Decimal{value: d}
}

// Ratio returns numerator/denominator rounded to four decimal places.
// A zero denominator yields zero.
func Ratio(numerator int, denominator int) Decimal {
	if denominator == 0 {
		return NewDecimalFromInt64(0).Quantize(ratioExponent)
	}
	return NewDecimalFromInt64(int64(numerator)).
		Div(NewDecimalFromInt64(int64(denominator))).
		Quantize(ratioExponent)
}

func (d Decimal) String() string {
	return d.value.String()
}

// Div returns the quotient of d divided by other.
func (d Decimal) Div(other Decimal) Decimal {
	var result apd.Decimal
	ctx := apd.BaseContext.WithPrecision(34)
	ctx.Quo(&result, &d.value, &other.value)
	return Decimal{value: result}
}

// Quantize rounds d half-up to the given exponent (-4 keeps four places).
func (d Decimal) Quantize(exponent int32) Decimal {
	var result apd.Decimal
	ctx := apd.BaseContext.WithPrecision(34)
	ctx.Rounding = apd.RoundHalfUp
	ctx.Quantize(&result, &d.value, exponent)
	return Decimal{value: result}
}
