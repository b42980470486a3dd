package opt

import (
	"fmt"

	"github.com/tsawler/go-lora/tensor"
)

// EMA tracks an exponential moving average of trained parameters. The
// shadow copy is updated after each optimizer step and can be copied back
// over the live parameters for evaluation or export.
type EMA struct {
	decay  float64
	params []*tensor.Tensor
	shadow []*tensor.Tensor
	step   uint64
}

// NewEMA creates an EMA tracker over the given parameters. The shadow
// starts as a copy of the current parameter values.
func NewEMA(params []*tensor.Tensor, decay float64) (*EMA, error) {
	if decay <= 0 || decay >= 1 {
		return nil, fmt.Errorf("invalid EMA config: decay must be in (0, 1), got %f", decay)
	}
	shadow := make([]*tensor.Tensor, len(params))
	for i, p := range params {
		shadow[i] = p.Clone()
	}
	return &EMA{
		decay:  decay,
		params: params,
		shadow: shadow,
	}, nil
}

// Decay returns the configured decay factor.
func (e *EMA) Decay() float64 {
	return e.decay
}

// Update folds the current parameter values into the shadow:
// shadow = decay*shadow + (1-decay)*param.
func (e *EMA) Update() {
	e.step++
	decay := float32(e.decay)
	for i, p := range e.params {
		s := e.shadow[i]
		for j := range s.Data {
			s.Data[j] = decay*s.Data[j] + (1-decay)*p.Data[j]
		}
	}
}

// CopyTo writes the shadow values over the live parameters.
func (e *EMA) CopyTo() {
	for i, p := range e.params {
		copy(p.Data, e.shadow[i].Data)
	}
}

// Shadow returns the shadow tensors in parameter order.
func (e *EMA) Shadow() []*tensor.Tensor {
	return e.shadow
}

// GetState extracts EMA state for checkpointing
func (e *EMA) GetState() (*StateDict, error) {
	state := &StateDict{
		Type: "EMA",
		Step: e.step,
		Parameters: map[string]float64{
			"decay": e.decay,
		},
	}
	for i, s := range e.shadow {
		state.StateData = append(state.StateData, StateTensor{
			Name:      fmt.Sprintf("shadow_%d", i),
			Shape:     append([]int(nil), s.Shape...),
			Data:      append([]float32(nil), s.Data...),
			StateType: "shadow",
		})
	}
	return state, nil
}

// LoadState restores EMA state from a checkpoint
func (e *EMA) LoadState(state *StateDict) error {
	if err := validateStateType("EMA", state); err != nil {
		return err
	}
	if len(state.StateData) != len(e.shadow) {
		return fmt.Errorf("state has %d shadow tensors, EMA tracks %d parameters", len(state.StateData), len(e.shadow))
	}
	for i, st := range state.StateData {
		if len(st.Data) != e.shadow[i].NumElems {
			return fmt.Errorf("shadow tensor %d has %d elements, parameter has %d", i, len(st.Data), e.shadow[i].NumElems)
		}
		copy(e.shadow[i].Data, st.Data)
	}
	e.step = state.Step
	return nil
}
