package onnx

import (
	"encoding/binary"
	"math"
)

// Float32ToFP16Bytes converts []float32 to raw fp16 bytes (little-endian).
func Float32ToFP16Bytes(data []float32) []byte {
	result := make([]byte, len(data)*2)
	for i, v := range data {
		binary.LittleEndian.PutUint16(result[i*2:], Float32ToFP16(v))
	}
	return result
}

// Float32ToFP16 converts a single float32 to IEEE 754 half precision.
func Float32ToFP16(f float32) uint16 {
	bits := math.Float32bits(f)
	sign := (bits >> 31) & 1
	exp := int((bits>>23)&0xFF) - 127
	frac := bits & 0x7FFFFF

	if exp == 128 {
		// Inf/NaN
		if frac != 0 {
			return uint16(sign<<15 | 0x7C00 | 1)
		}
		return uint16(sign<<15 | 0x7C00)
	}
	if exp > 15 {
		return uint16(sign<<15 | 0x7C00) // overflow → Inf
	}
	if exp < -24 {
		return uint16(sign << 15) // underflow → zero
	}
	if exp < -14 {
		// Denormalized
		frac |= 0x800000
		shift := uint(-14 - exp)
		frac >>= (shift + 13)
		return uint16(sign<<15) | uint16(frac)
	}

	e16 := uint16(exp + 15)
	f16 := uint16(frac >> 13)
	return uint16(sign)<<15 | e16<<10 | f16
}

// FP16ToFloat32 converts IEEE 754 half-precision bits to float32.
func FP16ToFloat32(bits uint16) float32 {
	sign := uint32(bits>>15) & 1
	exp := uint32(bits>>10) & 0x1F
	frac := uint32(bits) & 0x3FF

	if exp == 31 {
		if frac != 0 {
			return float32(math.NaN())
		}
		if sign == 1 {
			return float32(math.Inf(-1))
		}
		return float32(math.Inf(1))
	}
	if exp == 0 {
		if frac == 0 {
			if sign == 1 {
				return math.Float32frombits(1 << 31) // -0
			}
			return 0
		}
		// Denormalized
		f := float32(frac) / 1024.0 * float32(math.Pow(2, -14))
		if sign == 1 {
			return -f
		}
		return f
	}

	e32 := exp - 15 + 127
	f32 := frac << 13
	return math.Float32frombits(sign<<31 | e32<<23 | f32)
}
