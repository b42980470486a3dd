package tensor

import (
	"fmt"
	"math/rand"
)

var globalRng = rand.New(rand.NewSource(1))

// SetRandomSeed sets the global random seed for deterministic weight initialization
func SetRandomSeed(seed int64) {
	globalRng = rand.New(rand.NewSource(seed))
}

// New creates a tensor over the given data. A nil data slice allocates
// a zero-filled one.
func New(shape []int, dtype DType, device Device, data []float32) (*Tensor, error) {
	if err := validateShape(shape); err != nil {
		return nil, err
	}

	numElems := calculateNumElements(shape)
	if data == nil {
		data = make([]float32, numElems)
	} else if len(data) != numElems {
		return nil, fmt.Errorf("data length %d does not match tensor size %d", len(data), numElems)
	}

	return &Tensor{
		Shape:    shape,
		Strides:  calculateStrides(shape),
		DType:    dtype,
		Device:   device,
		Data:     data,
		NumElems: numElems,
	}, nil
}

func Zeros(shape []int, dtype DType, device Device) (*Tensor, error) {
	return New(shape, dtype, device, nil)
}

func Full(shape []int, value float32, dtype DType, device Device) (*Tensor, error) {
	t, err := New(shape, dtype, device, nil)
	if err != nil {
		return nil, err
	}
	for i := range t.Data {
		t.Data[i] = value
	}
	return t, nil
}

// RandomNormal creates a tensor with values drawn from N(mean, std).
func RandomNormal(shape []int, mean, std float32, dtype DType, device Device) (*Tensor, error) {
	t, err := New(shape, dtype, device, nil)
	if err != nil {
		return nil, err
	}
	for i := range t.Data {
		t.Data[i] = float32(globalRng.NormFloat64())*std + mean
	}
	return t, nil
}
