package opt

import (
	"github.com/tsawler/go-lora/tensor"
)

// ParameterGroup is a named bundle of parameters sharing one learning rate.
// Optimizers consume an ordered slice of groups; the order is significant
// because schedulers report learning rates positionally.
type ParameterGroup struct {
	Name         string
	Parameters   []*tensor.Tensor
	LearningRate float64
}

// NumParameters returns the element count across the group's parameters.
func (g ParameterGroup) NumParameters() int64 {
	var total int64
	for _, p := range g.Parameters {
		total += int64(p.NumElems)
	}
	return total
}

// trainable returns the parameters currently receiving gradients.
func (g ParameterGroup) trainable() []*tensor.Tensor {
	var params []*tensor.Tensor
	for _, p := range g.Parameters {
		if p.RequiresGrad() {
			params = append(params, p)
		}
	}
	return params
}
