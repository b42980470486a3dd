package training

import (
	"fmt"

	"github.com/tsawler/go-lora/model"
	"github.com/tsawler/go-lora/opt"
	"github.com/tsawler/go-lora/tensor"
)

// CreateParameters returns all trainable adapter parameters in group
// order: text encoder first, then unet. The EMA tracker consumes this
// flat view.
func CreateParameters(m *model.Model, config *TrainConfig) ([]*tensor.Tensor, error) {
	var params []*tensor.Tensor

	if config.TextEncoder.Train {
		if m.TextEncoderLoRA == nil {
			return nil, fmt.Errorf("text encoder training is enabled but its adapter is not installed")
		}
		params = append(params, m.TextEncoderLoRA.Parameters()...)
	}

	if config.UNet.Train {
		if m.UNetLoRA == nil {
			return nil, fmt.Errorf("unet training is enabled but its adapter is not installed")
		}
		params = append(params, m.UNetLoRA.Parameters()...)
	}

	return params, nil
}

// CreateParametersForOptimizer returns the optimizer's parameter groups
// in a fixed order: "te" first, then "unet", each carrying its configured
// learning rate. The order must match GroupNames so reported learning
// rates line up positionally.
func CreateParametersForOptimizer(m *model.Model, config *TrainConfig) ([]opt.ParameterGroup, error) {
	var groups []opt.ParameterGroup

	if config.TextEncoder.Train {
		if m.TextEncoderLoRA == nil {
			return nil, fmt.Errorf("text encoder training is enabled but its adapter is not installed")
		}
		groups = append(groups, opt.ParameterGroup{
			Name:         "te",
			Parameters:   m.TextEncoderLoRA.Parameters(),
			LearningRate: config.TextEncoder.LearningRate,
		})
	}

	if config.UNet.Train {
		if m.UNetLoRA == nil {
			return nil, fmt.Errorf("unet training is enabled but its adapter is not installed")
		}
		groups = append(groups, opt.ParameterGroup{
			Name:         "unet",
			Parameters:   m.UNetLoRA.Parameters(),
			LearningRate: config.UNet.LearningRate,
		})
	}

	return groups, nil
}

// GroupNames returns the human-readable parameter group names in the same
// order CreateParametersForOptimizer builds them.
func GroupNames(config *TrainConfig) []string {
	var names []string
	if config.TextEncoder.Train {
		names = append(names, "te")
	}
	if config.UNet.Train {
		names = append(names, "unet")
	}
	return names
}
