package onnx

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFP16RoundTrip(t *testing.T) {
	values := []float32{0, 1, -1, 0.5, -0.5, 7.5, 0.18215, 65504, -65504, 1e-5}
	for _, v := range values {
		got := FP16ToFloat32(Float32ToFP16(v))
		// Half precision has ~3 decimal digits; allow relative slack.
		tol := math.Abs(float64(v)) * 1e-3
		if tol < 1e-7 {
			tol = 1e-7
		}
		assert.InDelta(t, v, got, tol, "value %g", v)
	}
}

func TestFP16Specials(t *testing.T) {
	assert.True(t, math.IsInf(float64(FP16ToFloat32(Float32ToFP16(float32(math.Inf(1))))), 1))
	assert.True(t, math.IsInf(float64(FP16ToFloat32(Float32ToFP16(float32(math.Inf(-1))))), -1))
	assert.True(t, math.IsNaN(float64(FP16ToFloat32(Float32ToFP16(float32(math.NaN()))))))

	// Overflow saturates to Inf, underflow flushes to zero.
	assert.True(t, math.IsInf(float64(FP16ToFloat32(Float32ToFP16(1e9))), 1))
	assert.Equal(t, float32(0), FP16ToFloat32(Float32ToFP16(1e-20)))
}

func TestFloat32ToFP16Bytes(t *testing.T) {
	b := Float32ToFP16Bytes([]float32{1.0})
	assert.Equal(t, []byte{0x00, 0x3C}, b) // 1.0 in fp16 is 0x3C00
}
