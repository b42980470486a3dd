package training

import (
	"github.com/tsawler/go-lora/tensor"
)

// Placement maps each sub-network to the device it should occupy during
// training.
type Placement struct {
	TextEncoder    tensor.Device
	UNet           tensor.Device
	VAE            tensor.Device
	DepthEstimator tensor.Device
}

// PlanDevicePlacement decides device placement for every sub-network:
//   - the unet always trains, so it always takes the train device;
//   - the VAE is only needed on the train device when debugging or when
//     align-prop needs decoded images in the loss;
//   - the text encoder stays on the train device when it trains, when
//     align-prop is on, or when latents are computed on the fly;
//   - a depth estimator only runs during data preparation and is always
//     offloaded.
func PlanDevicePlacement(config *TrainConfig, debugMode bool, trainDevice, tempDevice tensor.Device) Placement {
	vaeOnTrainDevice := debugMode || config.AlignProp
	textEncoderOnTrainDevice := config.TextEncoder.Train || config.AlignProp || !config.LatentCaching

	placement := Placement{
		UNet:           trainDevice,
		VAE:            tempDevice,
		TextEncoder:    tempDevice,
		DepthEstimator: tempDevice,
	}
	if vaeOnTrainDevice {
		placement.VAE = trainDevice
	}
	if textEncoderOnTrainDevice {
		placement.TextEncoder = trainDevice
	}
	return placement
}
