package tensor

import (
	"math"
	"testing"
)

func TestFloat16RoundTrip(t *testing.T) {
	// Values exactly representable in half precision must survive unchanged.
	exact := []float32{0, 1, -1, 0.5, 1.5, -2.25, 2048, 65504, -65504}
	for _, v := range exact {
		got := Float16ToFloat32(Float32ToFloat16(v))
		if got != v {
			t.Errorf("Float16 round trip of %f = %f", v, got)
		}
	}
}

func TestFloat16Rounding(t *testing.T) {
	tests := []struct {
		name string
		in   float32
		tol  float64
	}{
		{"one tenth", 0.1, 1e-4},
		{"pi", 3.14159265, 2e-3},
		{"small", 6.1e-5, 1e-7},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Float16ToFloat32(Float32ToFloat16(tt.in))
			if diff := math.Abs(float64(got - tt.in)); diff > tt.tol {
				t.Errorf("round trip of %f = %f (error %g, tolerance %g)", tt.in, got, diff, tt.tol)
			}
		})
	}
}

func TestFloat16Overflow(t *testing.T) {
	bits := Float32ToFloat16(1e20)
	if bits != 0x7C00 {
		t.Errorf("overflow bits = %#x, want positive infinity 0x7c00", bits)
	}
	if !math.IsInf(float64(Float16ToFloat32(bits)), 1) {
		t.Errorf("decoded overflow is not +Inf")
	}

	bits = Float32ToFloat16(-1e20)
	if bits != 0xFC00 {
		t.Errorf("negative overflow bits = %#x, want 0xfc00", bits)
	}
}

func TestFloat16NaN(t *testing.T) {
	bits := Float32ToFloat16(float32(math.NaN()))
	got := Float16ToFloat32(bits)
	if !math.IsNaN(float64(got)) {
		t.Errorf("NaN did not survive half conversion: %f", got)
	}
}

func TestBFloat16RoundTrip(t *testing.T) {
	exact := []float32{0, 1, -1, 0.5, 256, -3.5, float32(math.Ldexp(1, 127))}
	for _, v := range exact {
		got := BFloat16ToFloat32(Float32ToBFloat16(v))
		if got != v {
			t.Errorf("BFloat16 round trip of %g = %g", v, got)
		}
	}

	// bfloat16 keeps float32 range but only 8 mantissa bits.
	in := float32(1.00390625) // 1 + 2^-8, exactly one ulp above 1
	got := BFloat16ToFloat32(Float32ToBFloat16(in))
	if got != in {
		t.Errorf("one-ulp value %g became %g", in, got)
	}
}

func TestCastTo(t *testing.T) {
	tensor, _ := New([]int{3}, Float32, CPU, []float32{0.1, 1.5, 65504})
	tensor.CastTo(Float16)

	if tensor.DType != Float16 {
		t.Errorf("DType = %s after cast, want Float16", tensor.DType)
	}
	if tensor.Data[1] != 1.5 {
		t.Errorf("exact half value changed: %f", tensor.Data[1])
	}
	if tensor.Data[0] == 0.1 {
		t.Errorf("0.1 survived half cast exactly, expected precision loss")
	}
	if math.Abs(float64(tensor.Data[0]-0.1)) > 1e-4 {
		t.Errorf("half cast of 0.1 too far off: %f", tensor.Data[0])
	}

	// Casting again with the same dtype must not touch the data.
	before := tensor.Data[0]
	tensor.CastTo(Float16)
	if tensor.Data[0] != before {
		t.Errorf("repeated cast changed data")
	}
}
