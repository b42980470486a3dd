package tensor

import (
	"fmt"
)

type DType int

const (
	Float32 DType = iota
	Float16
	BFloat16
)

func (d DType) String() string {
	switch d {
	case Float32:
		return "Float32"
	case Float16:
		return "Float16"
	case BFloat16:
		return "BFloat16"
	default:
		return "Unknown"
	}
}

// Size returns the serialized width of one element in bytes.
func (d DType) Size() int {
	switch d {
	case Float32:
		return 4
	case Float16, BFloat16:
		return 2
	default:
		return 4
	}
}

type Device int

const (
	CPU Device = iota
	GPU
)

func (d Device) String() string {
	switch d {
	case CPU:
		return "CPU"
	case GPU:
		return "GPU"
	default:
		return "Unknown"
	}
}

// Tensor is a named parameter container. Values are held as float32;
// DType records the logical precision, which Cast applies by rounding
// the stored values through that precision.
type Tensor struct {
	Shape        []int
	Strides      []int
	DType        DType
	Device       Device
	Data         []float32
	NumElems     int
	requiresGrad bool
	grad         *Tensor
}

func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor(shape=%v, dtype=%s, device=%s, elements=%d)",
		t.Shape, t.DType, t.Device, t.NumElems)
}

func (t *Tensor) RequiresGrad() bool {
	return t.requiresGrad
}

func (t *Tensor) SetRequiresGrad(requires bool) {
	t.requiresGrad = requires
}

func (t *Tensor) Grad() *Tensor {
	return t.grad
}

// SetGrad attaches an externally computed gradient. The gradient's shape
// must match the tensor's shape.
func (t *Tensor) SetGrad(g *Tensor) error {
	if g != nil && g.NumElems != t.NumElems {
		return fmt.Errorf("gradient has %d elements, tensor has %d", g.NumElems, t.NumElems)
	}
	t.grad = g
	return nil
}

func (t *Tensor) ZeroGrad() {
	if t.grad == nil {
		return
	}
	for i := range t.grad.Data {
		t.grad.Data[i] = 0
	}
}

// To records the tensor's placement. Transfer of the backing storage is
// owned by the execution backend, not by this package.
func (t *Tensor) To(device Device) {
	t.Device = device
}

// Clone returns a deep copy of the tensor. Gradients do not carry over.
func (t *Tensor) Clone() *Tensor {
	c := &Tensor{
		Shape:        append([]int(nil), t.Shape...),
		Strides:      append([]int(nil), t.Strides...),
		DType:        t.DType,
		Device:       t.Device,
		Data:         append([]float32(nil), t.Data...),
		NumElems:     t.NumElems,
		requiresGrad: t.requiresGrad,
	}
	return c
}

func calculateStrides(shape []int) []int {
	strides := make([]int, len(shape))
	stride := 1
	for i := len(shape) - 1; i >= 0; i-- {
		strides[i] = stride
		stride *= shape[i]
	}
	return strides
}

func calculateNumElements(shape []int) int {
	if len(shape) == 0 {
		return 0
	}
	elements := 1
	for _, dim := range shape {
		elements *= dim
	}
	return elements
}

func validateShape(shape []int) error {
	if len(shape) == 0 {
		return fmt.Errorf("invalid shape: must have at least one dimension")
	}
	for i, dim := range shape {
		if dim <= 0 {
			return fmt.Errorf("invalid shape: dimension %d has size %d, must be positive", i, dim)
		}
	}
	return nil
}
