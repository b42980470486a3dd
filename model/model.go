package model

import (
	"fmt"

	"github.com/tsawler/go-lora/adapter"
	"github.com/tsawler/go-lora/network"
	"github.com/tsawler/go-lora/opt"
	"github.com/tsawler/go-lora/schedule"
	"github.com/tsawler/go-lora/tensor"
)

// Model is the mutable training aggregate: the base sub-networks, the
// adapter views once installed, the noise schedule, and the optimizer and
// EMA handles the setup phase constructs. It has a single writer, the
// training loop; no locking happens here.
type Model struct {
	TextEncoder    *network.Network
	UNet           *network.Network
	VAE            *network.Network
	DepthEstimator *network.Network // optional

	// Adapter views; nil until installed by setup.
	TextEncoderLoRA *adapter.Adapter
	UNetLoRA        *adapter.Adapter

	NoiseScheduler *schedule.NoiseScheduler

	Optimizer opt.Optimizer
	EMA       *opt.EMA

	// Pending state restored from a checkpoint; consumed and cleared when
	// setup constructs the optimizer and EMA.
	OptimizerStateDict *opt.StateDict
	EMAStateDict       *opt.StateDict

	TrainProgress TrainProgress
}

// Validate checks the aggregate has the sub-networks setup requires.
func (m *Model) Validate() error {
	if m.TextEncoder == nil {
		return fmt.Errorf("model is missing a text encoder")
	}
	if m.UNet == nil {
		return fmt.Errorf("model is missing a unet")
	}
	if m.VAE == nil {
		return fmt.Errorf("model is missing a vae")
	}
	return nil
}

// TextEncoderTo moves the text encoder and its adapter view, if present.
func (m *Model) TextEncoderTo(device tensor.Device) {
	m.TextEncoder.To(device)
	if m.TextEncoderLoRA != nil {
		m.TextEncoderLoRA.To(device)
	}
}

// UNetTo moves the unet and its adapter view, if present.
func (m *Model) UNetTo(device tensor.Device) {
	m.UNet.To(device)
	if m.UNetLoRA != nil {
		m.UNetLoRA.To(device)
	}
}

// VAETo moves the VAE.
func (m *Model) VAETo(device tensor.Device) {
	m.VAE.To(device)
}

// DepthEstimatorTo moves the depth estimator when the model has one.
func (m *Model) DepthEstimatorTo(device tensor.Device) {
	if m.DepthEstimator != nil {
		m.DepthEstimator.To(device)
	}
}

// RescaleNoiseSchedulerToZeroTerminalSNR rescales the noise schedule.
// The rescale itself is idempotent, so calling this on a resumed run is
// safe.
func (m *Model) RescaleNoiseSchedulerToZeroTerminalSNR() error {
	if m.NoiseScheduler == nil {
		return fmt.Errorf("model has no noise scheduler to rescale")
	}
	m.NoiseScheduler.RescaleZeroTerminalSNR()
	return nil
}

// ForceVPrediction switches the noise schedule to v-prediction targets.
func (m *Model) ForceVPrediction() error {
	if m.NoiseScheduler == nil {
		return fmt.Errorf("model has no noise scheduler")
	}
	m.NoiseScheduler.ForceVPrediction()
	return nil
}
