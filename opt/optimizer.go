package opt

import (
	"fmt"
)

// Optimizer defines the common interface for all optimizers.
// This interface enables state save/restore for checkpoint functionality.
type Optimizer interface {
	// Step performs a single optimization step over all parameter groups.
	// Parameters with the gradient flag cleared or without an attached
	// gradient are skipped.
	Step() error

	// ZeroGrad clears the gradients of all parameters
	ZeroGrad()

	// Groups returns the optimizer's parameter groups in construction order
	Groups() []ParameterGroup

	// SetLearningRate updates the learning rate of one group
	SetLearningRate(group int, lr float64) error

	// GetStepCount returns the current optimization step number
	GetStepCount() uint64

	// GetState extracts optimizer state for checkpointing
	GetState() (*StateDict, error)

	// LoadState restores optimizer state from a checkpoint
	LoadState(state *StateDict) error

	// Name returns the optimizer name for logging
	Name() string
}

// LRAdjuster is implemented by optimizers whose effective learning rates
// differ from the scheduler's output (adaptive-LR methods). Callers that
// report learning rates pass the scheduler values through this hook when
// the optimizer provides it.
type LRAdjuster interface {
	MaybeAdjustLRs(lrs []float64) []float64
}

// StateDict represents the complete serializable state of an optimizer
type StateDict struct {
	Type       string             `json:"type"` // "AdamW", "SGD", etc.
	Step       uint64             `json:"step"`
	Parameters map[string]float64 `json:"parameters"` // Hyperparameters
	StateData  []StateTensor      `json:"state_data"`
}

// StateTensor represents one optimizer state buffer (momentum, variance, etc.)
type StateTensor struct {
	Name      string    `json:"name"`
	Shape     []int     `json:"shape"`
	Data      []float32 `json:"data"`
	StateType string    `json:"state_type"` // "momentum", "exp_avg", "exp_avg_sq", etc.
}

// validateStateType ensures the state type matches the optimizer
func validateStateType(optimizerType string, state *StateDict) error {
	if state.Type != optimizerType {
		return fmt.Errorf("state type mismatch: expected %s, got %s", optimizerType, state.Type)
	}
	return nil
}

// stateKey builds the buffer name for a parameter's state tensor, e.g.
// "exp_avg_te_3" for the fourth parameter of the "te" group.
func stateKey(stateType, groupName string, paramIndex int) string {
	return fmt.Sprintf("%s_%s_%d", stateType, groupName, paramIndex)
}
