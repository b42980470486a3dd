package opt

import (
	"fmt"
	"math"
)

// LRScheduler defines the interface for learning rate scheduling strategies.
// Schedulers are pure functions of training progress; per-group application
// is handled by GroupScheduler.
type LRScheduler interface {
	// GetLR returns the learning rate for the current epoch/step
	GetLR(epoch int, step int, baseLR float64) float64

	// GetName returns the scheduler name for logging
	GetName() string
}

// ConstantLRScheduler maintains a constant learning rate (default behavior)
type ConstantLRScheduler struct{}

func (s *ConstantLRScheduler) GetLR(epoch int, step int, baseLR float64) float64 {
	return baseLR
}

func (s *ConstantLRScheduler) GetName() string {
	return "ConstantLR"
}

// StepLRScheduler reduces learning rate by a factor every stepSize epochs
type StepLRScheduler struct {
	StepSize int     // Epochs between LR reductions
	Gamma    float64 // Multiplicative factor of LR decay
}

// NewStepLRScheduler creates a step learning rate scheduler
func NewStepLRScheduler(stepSize int, gamma float64) *StepLRScheduler {
	if stepSize <= 0 {
		stepSize = 30 // Default: reduce every 30 epochs
	}
	if gamma <= 0 || gamma >= 1 {
		gamma = 0.1 // Default: reduce by 10x
	}
	return &StepLRScheduler{
		StepSize: stepSize,
		Gamma:    gamma,
	}
}

func (s *StepLRScheduler) GetLR(epoch int, step int, baseLR float64) float64 {
	times := epoch / s.StepSize
	return baseLR * math.Pow(s.Gamma, float64(times))
}

func (s *StepLRScheduler) GetName() string {
	return "StepLR"
}

// CosineAnnealingLRScheduler implements cosine annealing over steps
type CosineAnnealingLRScheduler struct {
	TMax   int     // Total number of steps in the annealing cycle
	EtaMin float64 // Minimum learning rate
}

// NewCosineAnnealingLRScheduler creates a cosine annealing scheduler
func NewCosineAnnealingLRScheduler(tMax int, etaMin float64) *CosineAnnealingLRScheduler {
	if tMax <= 0 {
		tMax = 10000 // Default: 10k steps
	}
	if etaMin < 0 {
		etaMin = 0 // Default: anneal to 0
	}
	return &CosineAnnealingLRScheduler{
		TMax:   tMax,
		EtaMin: etaMin,
	}
}

func (s *CosineAnnealingLRScheduler) GetLR(epoch int, step int, baseLR float64) float64 {
	if step >= s.TMax {
		return s.EtaMin
	}
	return s.EtaMin + (baseLR-s.EtaMin)*(1+math.Cos(math.Pi*float64(step)/float64(s.TMax)))/2
}

func (s *CosineAnnealingLRScheduler) GetName() string {
	return "CosineAnnealingLR"
}

// LinearWarmupLRScheduler ramps the learning rate linearly from zero over
// the warmup window, then hands off to an inner scheduler.
type LinearWarmupLRScheduler struct {
	WarmupSteps int
	After       LRScheduler
}

// NewLinearWarmupLRScheduler creates a warmup wrapper around an inner
// scheduler. A nil inner scheduler means constant LR after warmup.
func NewLinearWarmupLRScheduler(warmupSteps int, after LRScheduler) *LinearWarmupLRScheduler {
	if warmupSteps < 0 {
		warmupSteps = 0
	}
	if after == nil {
		after = &ConstantLRScheduler{}
	}
	return &LinearWarmupLRScheduler{
		WarmupSteps: warmupSteps,
		After:       after,
	}
}

func (s *LinearWarmupLRScheduler) GetLR(epoch int, step int, baseLR float64) float64 {
	if step < s.WarmupSteps {
		return baseLR * float64(step+1) / float64(s.WarmupSteps)
	}
	return s.After.GetLR(epoch, step-s.WarmupSteps, baseLR)
}

func (s *LinearWarmupLRScheduler) GetName() string {
	return "LinearWarmup" + s.After.GetName()
}

// GroupScheduler applies an LRScheduler to every parameter group of an
// optimizer, remembering the base LR each group was constructed with and
// the values last applied.
type GroupScheduler struct {
	inner     LRScheduler
	optimizer Optimizer
	baseLRs   []float64
	lastLRs   []float64
}

// NewGroupScheduler wraps an optimizer's groups with the given scheduler.
// The groups' construction-time learning rates become the base LRs.
func NewGroupScheduler(inner LRScheduler, optimizer Optimizer) (*GroupScheduler, error) {
	if inner == nil {
		return nil, fmt.Errorf("scheduler is nil")
	}
	if optimizer == nil {
		return nil, fmt.Errorf("optimizer is nil")
	}

	groups := optimizer.Groups()
	baseLRs := make([]float64, len(groups))
	for i, g := range groups {
		baseLRs[i] = g.LearningRate
	}
	return &GroupScheduler{
		inner:     inner,
		optimizer: optimizer,
		baseLRs:   baseLRs,
		lastLRs:   append([]float64(nil), baseLRs...),
	}, nil
}

// Step computes the learning rate for every group at the given progress
// and applies it to the optimizer.
func (s *GroupScheduler) Step(epoch int, step int) error {
	for i, base := range s.baseLRs {
		lr := s.inner.GetLR(epoch, step, base)
		if err := s.optimizer.SetLearningRate(i, lr); err != nil {
			return fmt.Errorf("failed to apply learning rate to group %d: %v", i, err)
		}
		s.lastLRs[i] = lr
	}
	return nil
}

// LastLRs returns the per-group learning rates most recently applied,
// in group order. Before the first Step call these are the base LRs.
func (s *GroupScheduler) LastLRs() []float64 {
	return append([]float64(nil), s.lastLRs...)
}

// GetName returns the wrapped scheduler's name.
func (s *GroupScheduler) GetName() string {
	return s.inner.GetName()
}
