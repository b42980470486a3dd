package training

import (
	"fmt"

	"github.com/tsawler/go-lora/opt"
	"github.com/tsawler/go-lora/tensor"
)

// CreateOptimizer constructs the optimizer named by the config over the
// given parameter groups, restoring pending state when a checkpoint
// provided one.
func CreateOptimizer(groups []opt.ParameterGroup, state *opt.StateDict, config *TrainConfig) (opt.Optimizer, error) {
	var optimizer opt.Optimizer
	var err error

	switch config.Optimizer.Kind {
	case OptimizerAdamW:
		optimizer, err = opt.NewAdamW(groups, opt.AdamWConfig{
			Beta1:       config.Optimizer.Beta1,
			Beta2:       config.Optimizer.Beta2,
			Epsilon:     config.Optimizer.Epsilon,
			WeightDecay: config.Optimizer.WeightDecay,
		})
	case OptimizerSGD:
		optimizer, err = opt.NewSGD(groups, opt.SGDConfig{
			Momentum: config.Optimizer.Momentum,
		})
	default:
		return nil, fmt.Errorf("unknown optimizer kind %q", config.Optimizer.Kind)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create optimizer: %v", err)
	}

	if state != nil {
		if err := optimizer.LoadState(state); err != nil {
			return nil, fmt.Errorf("failed to restore optimizer state: %v", err)
		}
	}
	return optimizer, nil
}

// CreateEMA constructs the EMA tracker over the given parameters when the
// config enables it, restoring pending state when a checkpoint provided
// one. Returns nil when EMA is disabled.
func CreateEMA(params []*tensor.Tensor, state *opt.StateDict, config *TrainConfig) (*opt.EMA, error) {
	if !config.EMA.Enabled {
		return nil, nil
	}

	ema, err := opt.NewEMA(params, config.EMA.Decay)
	if err != nil {
		return nil, fmt.Errorf("failed to create ema: %v", err)
	}
	if state != nil {
		if err := ema.LoadState(state); err != nil {
			return nil, fmt.Errorf("failed to restore ema state: %v", err)
		}
	}
	return ema, nil
}

// CreateLRScheduler constructs the configured learning rate schedule over
// the optimizer's parameter groups.
func CreateLRScheduler(optimizer opt.Optimizer, config *TrainConfig) (*opt.GroupScheduler, error) {
	var inner opt.LRScheduler

	switch config.Scheduler.Kind {
	case SchedulerConstant, "":
		inner = &opt.ConstantLRScheduler{}
	case SchedulerCosine:
		inner = opt.NewCosineAnnealingLRScheduler(config.Scheduler.TMax, config.Scheduler.EtaMin)
	case SchedulerStep:
		inner = opt.NewStepLRScheduler(config.Scheduler.StepSize, config.Scheduler.Gamma)
	default:
		return nil, fmt.Errorf("unknown scheduler kind %q", config.Scheduler.Kind)
	}

	if config.Scheduler.WarmupSteps > 0 {
		inner = opt.NewLinearWarmupLRScheduler(config.Scheduler.WarmupSteps, inner)
	}

	scheduler, err := opt.NewGroupScheduler(inner, optimizer)
	if err != nil {
		return nil, fmt.Errorf("failed to create lr scheduler: %v", err)
	}
	return scheduler, nil
}
