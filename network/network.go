package network

import (
	"fmt"

	"github.com/tsawler/go-lora/tensor"
)

// ModuleKind represents the type of a named sub-module inside a network
type ModuleKind int

const (
	Dense ModuleKind = iota
	Conv2D
	Attention
	LayerNorm
	GroupNorm
	Embedding
	Dropout
)

func (mk ModuleKind) String() string {
	switch mk {
	case Dense:
		return "Dense"
	case Conv2D:
		return "Conv2D"
	case Attention:
		return "Attention"
	case LayerNorm:
		return "LayerNorm"
	case GroupNorm:
		return "GroupNorm"
	case Embedding:
		return "Embedding"
	case Dropout:
		return "Dropout"
	default:
		return "Unknown"
	}
}

// Module is one named sub-module of a network: a kind plus its parameter
// tensors. Execution of the module is owned by the training backend; this
// package only carries configuration and parameters.
type Module struct {
	Name   string
	Kind   ModuleKind
	Weight *tensor.Tensor
	Bias   *tensor.Tensor
}

// Parameters returns the module's parameter tensors in weight, bias order.
// Modules without parameters (e.g. Dropout) return an empty slice.
func (m *Module) Parameters() []*tensor.Tensor {
	params := make([]*tensor.Tensor, 0, 2)
	if m.Weight != nil {
		params = append(params, m.Weight)
	}
	if m.Bias != nil {
		params = append(params, m.Bias)
	}
	return params
}

// FanIn returns the number of inputs feeding one output unit. For Conv2D
// this folds the kernel spatial dimensions into the channel count.
func (m *Module) FanIn() int {
	if m.Weight == nil || len(m.Weight.Shape) < 2 {
		return 0
	}
	fanIn := 1
	for _, dim := range m.Weight.Shape[1:] {
		fanIn *= dim
	}
	return fanIn
}

// FanOut returns the number of output units.
func (m *Module) FanOut() int {
	if m.Weight == nil || len(m.Weight.Shape) == 0 {
		return 0
	}
	return m.Weight.Shape[0]
}

// Network is an ordered collection of named modules forming one sub-network
// of the model (text encoder, denoising network, VAE, ...).
type Network struct {
	name     string
	modules  []*Module
	byName   map[string]*Module
	training bool
	device   tensor.Device
}

// Name returns the network's name.
func (n *Network) Name() string {
	return n.name
}

// Modules returns the network's modules in insertion order.
func (n *Network) Modules() []*Module {
	return n.modules
}

// Module looks up a module by name. Returns nil when absent.
func (n *Network) Module(name string) *Module {
	return n.byName[name]
}

// Parameters returns all parameter tensors in module order.
func (n *Network) Parameters() []*tensor.Tensor {
	var params []*tensor.Tensor
	for _, m := range n.modules {
		params = append(params, m.Parameters()...)
	}
	return params
}

// NumParameters returns the total element count across all parameters.
func (n *Network) NumParameters() int64 {
	var total int64
	for _, p := range n.Parameters() {
		total += int64(p.NumElems)
	}
	return total
}

// SetRequiresGrad sets the gradient flag on every parameter. Freezing a
// base network before adapter training is SetRequiresGrad(false).
func (n *Network) SetRequiresGrad(requires bool) {
	for _, p := range n.Parameters() {
		p.SetRequiresGrad(requires)
	}
}

// Train puts the network in training mode (dropout active, normalization
// statistics updating).
func (n *Network) Train() {
	n.training = true
}

// Eval puts the network in evaluation mode.
func (n *Network) Eval() {
	n.training = false
}

// IsTraining returns whether the network is in training mode.
func (n *Network) IsTraining() bool {
	return n.training
}

// To records the device placement for the network and its parameters.
func (n *Network) To(device tensor.Device) {
	n.device = device
	for _, p := range n.Parameters() {
		p.To(device)
	}
}

// Device returns the network's current placement.
func (n *Network) Device() tensor.Device {
	return n.device
}

// CastTo casts every parameter to the given dtype.
func (n *Network) CastTo(dtype tensor.DType) {
	for _, p := range n.Parameters() {
		p.CastTo(dtype)
	}
}

func (n *Network) String() string {
	return fmt.Sprintf("Network(%s, modules=%d, parameters=%d)", n.name, len(n.modules), n.NumParameters())
}
