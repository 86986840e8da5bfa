package quant

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQuantizeRoundTrip(t *testing.T) {
	cases := []float64{0.123456, -0.123456, 0, 1.9999995, 100.0000005, -0.0000004}
	for _, x := range cases {
		m := Quantize(x)
		assert.True(t, m.Valid)
		got := Decode(m)
		want := math.Round(x*1e6) / 1e6
		assert.InDelta(t, want, got, 1e-9)
	}
}

func TestQuantizeRoundHalfUp(t *testing.T) {
	m := Quantize(0.1234565)
	assert.Equal(t, int64(123457), m.Value)
}

func TestQuantizeRoundHalfUpNegativeTieRoundsTowardPositiveInfinity(t *testing.T) {
	m := Quantize(-0.0000025)
	assert.Equal(t, int64(-2), m.Value)
}

func TestQuantizeNaNInvalid(t *testing.T) {
	m := Quantize(math.NaN())
	assert.False(t, m.Valid)
	assert.True(t, math.IsNaN(Decode(m)))
}

func TestQuantizeInfInvalid(t *testing.T) {
	m := Quantize(math.Inf(1))
	assert.False(t, m.Valid)
}
