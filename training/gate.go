package training

import (
	"github.com/tsawler/go-lora/model"
)

// StopTrainingElapsed reports whether a sub-network's configured stop
// threshold has passed. With the unit unset (Never) it never elapses.
// Progress counters only grow, so once this returns true it stays true.
func StopTrainingElapsed(sub SubnetConfig, progress model.TrainProgress) bool {
	switch sub.StopTrainingAfterUnit {
	case Step:
		return progress.GlobalStep >= sub.StopTrainingAfter
	case Epoch:
		return progress.Epoch >= sub.StopTrainingAfter
	default:
		return false
	}
}

// ShouldTrain is the phase gate: a sub-network receives gradients while
// its train flag is set and its stop threshold has not elapsed. The gate
// can flip from true to false exactly once per run, never back.
func ShouldTrain(sub SubnetConfig, progress model.TrainProgress) bool {
	return sub.Train && !StopTrainingElapsed(sub, progress)
}

// StopTextEncoderTrainingElapsed reports whether the text encoder's stop
// threshold has passed.
func StopTextEncoderTrainingElapsed(config *TrainConfig, progress model.TrainProgress) bool {
	return StopTrainingElapsed(config.TextEncoder, progress)
}

// StopUNetTrainingElapsed reports whether the unet's stop threshold has
// passed.
func StopUNetTrainingElapsed(config *TrainConfig, progress model.TrainProgress) bool {
	return StopTrainingElapsed(config.UNet, progress)
}
