package opt

import (
	"fmt"
	"math"

	"github.com/tsawler/go-lora/tensor"
)

// AdamWConfig holds AdamW hyperparameters
type AdamWConfig struct {
	Beta1       float64
	Beta2       float64
	Epsilon     float64
	WeightDecay float64
}

// DefaultAdamWConfig returns the standard AdamW hyperparameters
func DefaultAdamWConfig() AdamWConfig {
	return AdamWConfig{
		Beta1:       0.9,
		Beta2:       0.999,
		Epsilon:     1e-8,
		WeightDecay: 0.01,
	}
}

// AdamW implements Adam with decoupled weight decay over parameter groups.
// State buffers live on the CPU alongside the parameter data.
type AdamW struct {
	config AdamWConfig
	groups []ParameterGroup

	expAvg   map[*tensor.Tensor][]float32
	expAvgSq map[*tensor.Tensor][]float32
	step     uint64
}

// NewAdamW creates an AdamW optimizer over the given parameter groups
func NewAdamW(groups []ParameterGroup, config AdamWConfig) (*AdamW, error) {
	if err := validateAdamWConfig(config); err != nil {
		return nil, err
	}
	return &AdamW{
		config:   config,
		groups:   groups,
		expAvg:   make(map[*tensor.Tensor][]float32),
		expAvgSq: make(map[*tensor.Tensor][]float32),
	}, nil
}

func validateAdamWConfig(config AdamWConfig) error {
	if config.Beta1 < 0 || config.Beta1 >= 1 {
		return fmt.Errorf("invalid AdamW config: beta1 must be in [0, 1), got %f", config.Beta1)
	}
	if config.Beta2 < 0 || config.Beta2 >= 1 {
		return fmt.Errorf("invalid AdamW config: beta2 must be in [0, 1), got %f", config.Beta2)
	}
	if config.Epsilon <= 0 {
		return fmt.Errorf("invalid AdamW config: epsilon must be positive, got %g", config.Epsilon)
	}
	if config.WeightDecay < 0 {
		return fmt.Errorf("invalid AdamW config: weight decay must be non-negative, got %f", config.WeightDecay)
	}
	return nil
}

func (o *AdamW) Step() error {
	o.step++
	bc1 := 1 - math.Pow(o.config.Beta1, float64(o.step))
	bc2 := 1 - math.Pow(o.config.Beta2, float64(o.step))

	for _, group := range o.groups {
		lr := group.LearningRate
		for _, p := range group.trainable() {
			grad := p.Grad()
			if grad == nil {
				continue
			}

			m, ok := o.expAvg[p]
			if !ok {
				m = make([]float32, p.NumElems)
				o.expAvg[p] = m
			}
			v, ok := o.expAvgSq[p]
			if !ok {
				v = make([]float32, p.NumElems)
				o.expAvgSq[p] = v
			}

			for i := range p.Data {
				g := float64(grad.Data[i])
				m[i] = float32(o.config.Beta1*float64(m[i]) + (1-o.config.Beta1)*g)
				v[i] = float32(o.config.Beta2*float64(v[i]) + (1-o.config.Beta2)*g*g)

				mHat := float64(m[i]) / bc1
				vHat := float64(v[i]) / bc2

				update := lr * mHat / (math.Sqrt(vHat) + o.config.Epsilon)
				// Decoupled weight decay: applied to the weight directly,
				// not through the gradient moments.
				decay := lr * o.config.WeightDecay * float64(p.Data[i])
				p.Data[i] -= float32(update + decay)
			}
		}
	}
	return nil
}

func (o *AdamW) ZeroGrad() {
	for _, group := range o.groups {
		for _, p := range group.Parameters {
			p.ZeroGrad()
		}
	}
}

func (o *AdamW) Groups() []ParameterGroup {
	return o.groups
}

func (o *AdamW) SetLearningRate(group int, lr float64) error {
	if group < 0 || group >= len(o.groups) {
		return fmt.Errorf("group index %d out of range [0, %d)", group, len(o.groups))
	}
	o.groups[group].LearningRate = lr
	return nil
}

func (o *AdamW) GetStepCount() uint64 {
	return o.step
}

func (o *AdamW) GetState() (*StateDict, error) {
	state := &StateDict{
		Type: "AdamW",
		Step: o.step,
		Parameters: map[string]float64{
			"beta1":        o.config.Beta1,
			"beta2":        o.config.Beta2,
			"epsilon":      o.config.Epsilon,
			"weight_decay": o.config.WeightDecay,
		},
	}
	for _, group := range o.groups {
		for i, p := range group.Parameters {
			if m, ok := o.expAvg[p]; ok {
				state.StateData = append(state.StateData, StateTensor{
					Name:      stateKey("exp_avg", group.Name, i),
					Shape:     append([]int(nil), p.Shape...),
					Data:      append([]float32(nil), m...),
					StateType: "exp_avg",
				})
			}
			if v, ok := o.expAvgSq[p]; ok {
				state.StateData = append(state.StateData, StateTensor{
					Name:      stateKey("exp_avg_sq", group.Name, i),
					Shape:     append([]int(nil), p.Shape...),
					Data:      append([]float32(nil), v...),
					StateType: "exp_avg_sq",
				})
			}
		}
	}
	return state, nil
}

func (o *AdamW) LoadState(state *StateDict) error {
	if err := validateStateType("AdamW", state); err != nil {
		return err
	}

	buffers := make(map[string]StateTensor, len(state.StateData))
	for _, st := range state.StateData {
		buffers[st.Name] = st
	}

	for _, group := range o.groups {
		for i, p := range group.Parameters {
			if st, ok := buffers[stateKey("exp_avg", group.Name, i)]; ok {
				if len(st.Data) != p.NumElems {
					return fmt.Errorf("state buffer %s has %d elements, parameter has %d", st.Name, len(st.Data), p.NumElems)
				}
				o.expAvg[p] = append([]float32(nil), st.Data...)
			}
			if st, ok := buffers[stateKey("exp_avg_sq", group.Name, i)]; ok {
				if len(st.Data) != p.NumElems {
					return fmt.Errorf("state buffer %s has %d elements, parameter has %d", st.Name, len(st.Data), p.NumElems)
				}
				o.expAvgSq[p] = append([]float32(nil), st.Data...)
			}
		}
	}
	o.step = state.Step
	return nil
}

func (o *AdamW) Name() string {
	return "AdamW"
}
