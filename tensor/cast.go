package tensor

import (
	"math"
)

// CastTo rounds the tensor's values through the precision of the target
// dtype and records it. Casting to the current dtype is a no-op.
func (t *Tensor) CastTo(dtype DType) {
	if t.DType == dtype {
		return
	}
	switch dtype {
	case Float16:
		for i, v := range t.Data {
			t.Data[i] = Float16ToFloat32(Float32ToFloat16(v))
		}
	case BFloat16:
		for i, v := range t.Data {
			t.Data[i] = BFloat16ToFloat32(Float32ToBFloat16(v))
		}
	}
	t.DType = dtype
}

// Float32ToFloat16 converts a float32 to IEEE 754 half-precision bits.
// Values beyond the half range saturate to infinity.
func Float32ToFloat16(f float32) uint16 {
	bits := math.Float32bits(f)
	sign := uint16(bits>>16) & 0x8000
	exp := int32((bits >> 23) & 0xFF)
	mant := bits & 0x7FFFFF

	if exp == 0xFF {
		if mant != 0 {
			return sign | 0x7E00
		}
		return sign | 0x7C00
	}

	e := exp - 127 + 15
	if e >= 0x1F {
		return sign | 0x7C00
	}
	if e <= 0 {
		if e < -10 {
			return sign
		}
		mant |= 0x800000
		shift := uint32(14 - e)
		h := uint16(mant >> shift)
		if mant>>(shift-1)&1 != 0 {
			h++
		}
		return sign | h
	}

	h := uint16(e)<<10 | uint16(mant>>13)
	if mant&0x1000 != 0 {
		h++
	}
	return sign | h
}

// Float16ToFloat32 converts IEEE 754 half-precision bits to a float32.
func Float16ToFloat32(h uint16) float32 {
	sign := uint32(h>>15) & 0x1
	exp := uint32(h>>10) & 0x1F
	mant := uint32(h & 0x3FF)

	var bits uint32
	switch {
	case exp == 0 && mant == 0:
		bits = sign << 31
	case exp == 0:
		// subnormal: renormalize
		exp = 1
		for mant&0x400 == 0 {
			mant <<= 1
			exp--
		}
		mant &= 0x3FF
		bits = sign<<31 | (exp+127-15)<<23 | mant<<13
	case exp == 0x1F:
		bits = sign<<31 | 0xFF<<23 | mant<<13
	default:
		bits = sign<<31 | (exp+127-15)<<23 | mant<<13
	}
	return math.Float32frombits(bits)
}

// Float32ToBFloat16 converts a float32 to bfloat16 bits with
// round-to-nearest-even.
func Float32ToBFloat16(f float32) uint16 {
	bits := math.Float32bits(f)
	if bits&0x7FFFFFFF > 0x7F800000 {
		// NaN: keep the payload's top bits, force the quiet bit
		return uint16(bits>>16) | 0x0040
	}
	round := bits>>16&1 + 0x7FFF
	return uint16((bits + round) >> 16)
}

// BFloat16ToFloat32 converts bfloat16 bits to a float32.
func BFloat16ToFloat32(b uint16) float32 {
	return math.Float32frombits(uint32(b) << 16)
}
