package adapter

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/tsawler/go-lora/network"
	"github.com/tsawler/go-lora/tensor"
)

// Config holds the low-rank adapter hyperparameters
type Config struct {
	// Rank is the rank of the low-rank factorization (r << min(fanIn, fanOut))
	Rank int `json:"rank"`

	// Alpha is the scaling numerator; the effective scaling is alpha/rank
	Alpha float64 `json:"alpha"`

	// Dropout is the dropout probability applied to the adapter path
	Dropout float64 `json:"dropout"`

	// TargetModules names the base modules to adapt. Empty means every
	// eligible module (Dense or Conv2D) in the base network.
	TargetModules []string `json:"target_modules,omitempty"`
}

// ScalingFactor returns the effective scaling factor (alpha/rank)
func (c Config) ScalingFactor() float64 {
	if c.Rank <= 0 {
		return 0
	}
	return c.Alpha / float64(c.Rank)
}

func validateConfig(c Config) error {
	if c.Rank <= 0 {
		return fmt.Errorf("invalid adapter config: rank must be positive, got %d", c.Rank)
	}
	if c.Alpha <= 0 {
		return fmt.Errorf("invalid adapter config: alpha must be positive, got %f", c.Alpha)
	}
	if c.Dropout < 0 || c.Dropout >= 1 {
		return fmt.Errorf("invalid adapter config: dropout must be in [0, 1), got %f", c.Dropout)
	}
	return nil
}

// TargetModules scans the base network's modules in order and returns the
// names of those eligible for low-rank adaptation: dense and 2D
// convolutional modules.
func TargetModules(base *network.Network) []string {
	var names []string
	for _, m := range base.Modules() {
		if m.Kind == network.Dense || m.Kind == network.Conv2D {
			names = append(names, m.Name)
		}
	}
	return names
}

// Pair is one low-rank factor pair attached to a base module. The adapted
// weight delta is B @ A scaled by alpha/rank; A is random-initialized and B
// starts at zero so the adapter is an identity at step zero.
type Pair struct {
	ModuleName string
	A          *tensor.Tensor
	B          *tensor.Tensor
}

// Adapter is an adapter view over a base network: it shares the base's
// weights and owns one trainable low-rank pair per target module.
type Adapter struct {
	Name   string
	ID     string
	Config Config

	base  *network.Network
	pairs []*Pair
}

// Wrap builds an adapter view over the base network. The base network's own
// weights are shared, never copied; only the low-rank pairs are new tensors,
// and they are created with the gradient flag set.
func Wrap(base *network.Network, cfg Config, name string) (*Adapter, error) {
	if base == nil {
		return nil, fmt.Errorf("failed to wrap adapter %q: base network is nil", name)
	}
	if err := validateConfig(cfg); err != nil {
		return nil, fmt.Errorf("failed to wrap adapter %q: %v", name, err)
	}

	targets := cfg.TargetModules
	if len(targets) == 0 {
		targets = TargetModules(base)
	}
	if len(targets) == 0 {
		return nil, fmt.Errorf("failed to wrap adapter %q: network %q has no adaptable modules", name, base.Name())
	}

	pairs := make([]*Pair, 0, len(targets))
	for _, target := range targets {
		m := base.Module(target)
		if m == nil {
			return nil, fmt.Errorf("failed to wrap adapter %q: target module %q not found in network %q", name, target, base.Name())
		}
		if m.Kind != network.Dense && m.Kind != network.Conv2D {
			return nil, fmt.Errorf("failed to wrap adapter %q: target module %q has kind %s, want Dense or Conv2D", name, target, m.Kind)
		}

		fanIn, fanOut := m.FanIn(), m.FanOut()
		a, err := tensor.RandomNormal([]int{cfg.Rank, fanIn}, 0, 1/float32(cfg.Rank), tensor.Float32, tensor.CPU)
		if err != nil {
			return nil, fmt.Errorf("failed to create adapter matrix A for %q: %v", target, err)
		}
		b, err := tensor.Zeros([]int{fanOut, cfg.Rank}, tensor.Float32, tensor.CPU)
		if err != nil {
			return nil, fmt.Errorf("failed to create adapter matrix B for %q: %v", target, err)
		}
		a.SetRequiresGrad(true)
		b.SetRequiresGrad(true)
		pairs = append(pairs, &Pair{ModuleName: target, A: a, B: b})
	}

	return &Adapter{
		Name:   name,
		ID:     uuid.New().String(),
		Config: cfg,
		base:   base,
		pairs:  pairs,
	}, nil
}

// Base returns the shared base network.
func (a *Adapter) Base() *network.Network {
	return a.base
}

// Pairs returns the low-rank pairs in target order.
func (a *Adapter) Pairs() []*Pair {
	return a.pairs
}

// Parameters returns the adapter's own trainable tensors (A then B per
// target, in target order). Base network weights are not included.
func (a *Adapter) Parameters() []*tensor.Tensor {
	params := make([]*tensor.Tensor, 0, 2*len(a.pairs))
	for _, p := range a.pairs {
		params = append(params, p.A, p.B)
	}
	return params
}

// SetRequiresGrad toggles the gradient flag on every adapter parameter.
// The base network's flags are untouched.
func (a *Adapter) SetRequiresGrad(requires bool) {
	for _, p := range a.Parameters() {
		p.SetRequiresGrad(requires)
	}
}

// RequiresGrad reports whether the adapter's parameters currently receive
// gradients.
func (a *Adapter) RequiresGrad() bool {
	for _, p := range a.Parameters() {
		if !p.RequiresGrad() {
			return false
		}
	}
	return len(a.pairs) > 0
}

// CastTo casts the adapter's own parameters to the given dtype.
func (a *Adapter) CastTo(dtype tensor.DType) {
	for _, p := range a.Parameters() {
		p.CastTo(dtype)
	}
}

// To records device placement for the adapter's own parameters.
func (a *Adapter) To(device tensor.Device) {
	for _, p := range a.Parameters() {
		p.To(device)
	}
}

func (a *Adapter) String() string {
	return fmt.Sprintf("Adapter(%s, rank=%d, targets=%d)", a.Name, a.Config.Rank, len(a.pairs))
}
