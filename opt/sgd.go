package opt

import (
	"fmt"

	"github.com/tsawler/go-lora/tensor"
)

// SGDConfig holds SGD hyperparameters
type SGDConfig struct {
	Momentum  float64
	Dampening float64
	Nesterov  bool
}

// DefaultSGDConfig returns plain SGD without momentum
func DefaultSGDConfig() SGDConfig {
	return SGDConfig{}
}

// SGD implements stochastic gradient descent with optional momentum
// over parameter groups.
type SGD struct {
	config SGDConfig
	groups []ParameterGroup

	velocity map[*tensor.Tensor][]float32
	step     uint64
}

// NewSGD creates an SGD optimizer over the given parameter groups
func NewSGD(groups []ParameterGroup, config SGDConfig) (*SGD, error) {
	if config.Momentum < 0 || config.Momentum >= 1 {
		return nil, fmt.Errorf("invalid SGD config: momentum must be in [0, 1), got %f", config.Momentum)
	}
	if config.Nesterov && config.Momentum == 0 {
		return nil, fmt.Errorf("invalid SGD config: nesterov requires momentum")
	}
	return &SGD{
		config:   config,
		groups:   groups,
		velocity: make(map[*tensor.Tensor][]float32),
	}, nil
}

func (o *SGD) Step() error {
	o.step++
	for _, group := range o.groups {
		lr := float32(group.LearningRate)
		for _, p := range group.trainable() {
			grad := p.Grad()
			if grad == nil {
				continue
			}

			if o.config.Momentum == 0 {
				for i := range p.Data {
					p.Data[i] -= lr * grad.Data[i]
				}
				continue
			}

			v, ok := o.velocity[p]
			if !ok {
				v = make([]float32, p.NumElems)
				o.velocity[p] = v
			}
			momentum := float32(o.config.Momentum)
			dampening := float32(o.config.Dampening)
			for i := range p.Data {
				g := grad.Data[i]
				v[i] = momentum*v[i] + (1-dampening)*g
				if o.config.Nesterov {
					p.Data[i] -= lr * (g + momentum*v[i])
				} else {
					p.Data[i] -= lr * v[i]
				}
			}
		}
	}
	return nil
}

func (o *SGD) ZeroGrad() {
	for _, group := range o.groups {
		for _, p := range group.Parameters {
			p.ZeroGrad()
		}
	}
}

func (o *SGD) Groups() []ParameterGroup {
	return o.groups
}

func (o *SGD) SetLearningRate(group int, lr float64) error {
	if group < 0 || group >= len(o.groups) {
		return fmt.Errorf("group index %d out of range [0, %d)", group, len(o.groups))
	}
	o.groups[group].LearningRate = lr
	return nil
}

func (o *SGD) GetStepCount() uint64 {
	return o.step
}

func (o *SGD) GetState() (*StateDict, error) {
	state := &StateDict{
		Type: "SGD",
		Step: o.step,
		Parameters: map[string]float64{
			"momentum":  o.config.Momentum,
			"dampening": o.config.Dampening,
		},
	}
	for _, group := range o.groups {
		for i, p := range group.Parameters {
			if v, ok := o.velocity[p]; ok {
				state.StateData = append(state.StateData, StateTensor{
					Name:      stateKey("momentum", group.Name, i),
					Shape:     append([]int(nil), p.Shape...),
					Data:      append([]float32(nil), v...),
					StateType: "momentum",
				})
			}
		}
	}
	return state, nil
}

func (o *SGD) LoadState(state *StateDict) error {
	if err := validateStateType("SGD", state); err != nil {
		return err
	}

	buffers := make(map[string]StateTensor, len(state.StateData))
	for _, st := range state.StateData {
		buffers[st.Name] = st
	}

	for _, group := range o.groups {
		for i, p := range group.Parameters {
			if st, ok := buffers[stateKey("momentum", group.Name, i)]; ok {
				if len(st.Data) != p.NumElems {
					return fmt.Errorf("state buffer %s has %d elements, parameter has %d", st.Name, len(st.Data), p.NumElems)
				}
				o.velocity[p] = append([]float32(nil), st.Data...)
			}
		}
	}
	o.step = state.Step
	return nil
}

func (o *SGD) Name() string {
	return "SGD"
}
