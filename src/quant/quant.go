// Package quant implements round-half-up fixed-point quantization
// for sentiment values: every finite value
// is scaled by 10^6, rounded half-up to the nearest integer, and
// carried downstream as a signed-64 mantissa with a fixed exponent of
// -6.
package quant

import (
	"math"

	"github.com/shopspring/decimal"
)

// Exponent is the fixed exponent every quantized value is published
// with.
const Exponent = -6

// Mantissa is the result of quantizing one value: an integer mantissa
// to be interpreted as mantissa * 10^Exponent, plus whether the input
// was representable at all (NaN is not — callers bind a blank value
// instead).
type Mantissa struct {
	Value int64
	Valid bool
}

// -----------------------------------------------------------------------------

var half = decimal.NewFromFloat(0.5)

// Quantize rounds x half-up to six decimal places and returns the
// resulting mantissa. NaN returns Valid=false; +/-Inf is rejected the
// same way since it has no finite mantissa representation.
//
// decimal.Decimal's own Round rounds half away from zero, which would
// send a negative exact-.5 tie the wrong direction (-2.5 -> -3); true
// round-half-up always ties toward positive infinity (-2.5 -> -2), so
// it's computed directly as floor(x + 0.5).
func Quantize(x float64) Mantissa {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return Mantissa{Valid: false}
	}

	d := decimal.NewFromFloat(x).Shift(6).Add(half).Floor()
	return Mantissa{Value: d.IntPart(), Valid: true}
}

// -----------------------------------------------------------------------------

// Decode is the inverse of Quantize, used by tests to check the
// round-trip quantization property: decode(encode(x)) ==
// round(x*10^6)/10^6.
func Decode(m Mantissa) float64 {
	if !m.Valid {
		return math.NaN()
	}
	d := decimal.New(m.Value, Exponent)
	f, _ := d.Float64()
	return f
}
