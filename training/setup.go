package training

import (
	"fmt"
	"log/slog"

	"github.com/tsawler/go-lora/adapter"
	"github.com/tsawler/go-lora/model"
	"github.com/tsawler/go-lora/opt"
	"github.com/tsawler/go-lora/tensor"
)

// LearningRateScheduler is the scheduler view ReportLearningRates needs:
// the per-group learning rates last applied, in group order.
type LearningRateScheduler interface {
	LastLRs() []float64
}

// LoRASetup orchestrates LoRA fine-tuning over a model aggregate: it
// installs adapters, freezes the base networks, gates gradients by
// training phase, places sub-networks on devices, and builds the
// optimizer, EMA, and parameter groups.
type LoRASetup struct {
	trainDevice tensor.Device
	tempDevice  tensor.Device
	debugMode   bool
	logger      *slog.Logger
}

// SetupOption is a functional option for configuring a LoRASetup.
type SetupOption func(*LoRASetup)

// WithLogger sets a custom logger for the setup.
func WithLogger(logger *slog.Logger) SetupOption {
	return func(s *LoRASetup) {
		s.logger = logger
	}
}

// NewLoRASetup creates a setup bound to a train device and an offload
// device. Debug mode keeps the VAE on the train device for inspection.
func NewLoRASetup(trainDevice, tempDevice tensor.Device, debugMode bool, opts ...SetupOption) *LoRASetup {
	s := &LoRASetup{
		trainDevice: trainDevice,
		tempDevice:  tempDevice,
		debugMode:   debugMode,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetupModel prepares the model for LoRA training. Called once at
// training start; safe to call again on a resumed run because adapter
// installation and the noise rescale are both idempotent.
func (s *LoRASetup) SetupModel(m *model.Model, config *TrainConfig) error {
	if err := m.Validate(); err != nil {
		return err
	}
	if err := validateTrainConfig(config); err != nil {
		return err
	}

	// Install adapters where absent. Re-entry finds them installed and
	// leaves them alone.
	if m.TextEncoderLoRA == nil {
		lora, err := adapter.Wrap(m.TextEncoder, adapter.Config{
			Rank:          config.LoRARank,
			Alpha:         config.LoRAAlpha,
			Dropout:       config.LoRADropout,
			TargetModules: adapter.TargetModules(m.TextEncoder),
		}, "lora_te")
		if err != nil {
			return fmt.Errorf("failed to install text encoder adapter: %v", err)
		}
		m.TextEncoderLoRA = lora
		s.logger.Info("installed adapter",
			slog.String("adapter", lora.Name),
			slog.Int("targets", len(lora.Pairs())),
			slog.Int("rank", config.LoRARank),
		)
	}

	if m.UNetLoRA == nil {
		lora, err := adapter.Wrap(m.UNet, adapter.Config{
			Rank:          config.LoRARank,
			Alpha:         config.LoRAAlpha,
			Dropout:       config.LoRADropout,
			TargetModules: adapter.TargetModules(m.UNet),
		}, "lora_unet")
		if err != nil {
			return fmt.Errorf("failed to install unet adapter: %v", err)
		}
		m.UNetLoRA = lora
		s.logger.Info("installed adapter",
			slog.String("adapter", lora.Name),
			slog.Int("targets", len(lora.Pairs())),
			slog.Int("rank", config.LoRARank),
		)
	}

	// Base networks never receive gradients once adapters exist.
	m.TextEncoder.SetRequiresGrad(false)
	m.UNet.SetRequiresGrad(false)
	m.VAE.SetRequiresGrad(false)

	s.applyPhaseGates(m, config, m.TrainProgress)

	m.TextEncoderLoRA.CastTo(config.LoRAWeightDType)
	m.UNetLoRA.CastTo(config.LoRAWeightDType)

	if config.RescaleNoiseSchedulerToZeroTerminalSNR {
		if err := m.RescaleNoiseSchedulerToZeroTerminalSNR(); err != nil {
			return fmt.Errorf("failed to rescale noise scheduler: %v", err)
		}
		if err := m.ForceVPrediction(); err != nil {
			return fmt.Errorf("failed to force v-prediction: %v", err)
		}
	}

	groups, err := CreateParametersForOptimizer(m, config)
	if err != nil {
		return err
	}
	m.Optimizer, err = CreateOptimizer(groups, m.OptimizerStateDict, config)
	if err != nil {
		return err
	}
	m.OptimizerStateDict = nil

	params, err := CreateParameters(m, config)
	if err != nil {
		return err
	}
	m.EMA, err = CreateEMA(params, m.EMAStateDict, config)
	if err != nil {
		return err
	}
	m.EMAStateDict = nil

	s.logger.Info("model setup complete",
		slog.Int("parameter_groups", len(groups)),
		slog.Bool("ema", m.EMA != nil),
	)
	return nil
}

// applyPhaseGates re-evaluates the phase gate for both adapter views and
// applies it as the gradient flag. Views that are not installed are
// skipped.
func (s *LoRASetup) applyPhaseGates(m *model.Model, config *TrainConfig, progress model.TrainProgress) {
	if m.TextEncoderLoRA != nil {
		trainTextEncoder := config.TextEncoder.Train && !StopTextEncoderTrainingElapsed(config, progress)
		m.TextEncoderLoRA.SetRequiresGrad(trainTextEncoder)
	}
	if m.UNetLoRA != nil {
		trainUNet := config.UNet.Train && !StopUNetTrainingElapsed(config, progress)
		m.UNetLoRA.SetRequiresGrad(trainUNet)
	}
}

// SetupTrainDevice places every sub-network on its device and sets its
// train/eval mode. Called once before the training loop starts.
func (s *LoRASetup) SetupTrainDevice(m *model.Model, config *TrainConfig) {
	placement := PlanDevicePlacement(config, s.debugMode, s.trainDevice, s.tempDevice)

	m.TextEncoderTo(placement.TextEncoder)
	m.VAETo(placement.VAE)
	m.UNetTo(placement.UNet)
	m.DepthEstimatorTo(placement.DepthEstimator)

	if config.TextEncoder.Train {
		m.TextEncoder.Train()
	} else {
		m.TextEncoder.Eval()
	}

	// The VAE only encodes and decodes; it never trains.
	m.VAE.Eval()

	if config.UNet.Train {
		m.UNet.Train()
	} else {
		m.UNet.Eval()
	}

	if m.DepthEstimator != nil {
		m.DepthEstimator.Eval()
	}

	s.logger.Debug("train devices assigned",
		slog.String("text_encoder", placement.TextEncoder.String()),
		slog.String("vae", placement.VAE.String()),
		slog.String("unet", placement.UNet.String()),
	)
}

// AfterOptimizerStep re-applies the phase gates. Called after every
// optimizer step so a stop threshold passing mid-run freezes its
// sub-network on the next step.
func (s *LoRASetup) AfterOptimizerStep(m *model.Model, config *TrainConfig, progress model.TrainProgress) {
	s.applyPhaseGates(m, config, progress)
}

// ReportLearningRates writes one scalar per parameter group to the
// metrics sink, naming groups the way CreateParametersForOptimizer
// ordered them. A count mismatch between group names and scheduler
// learning rates is a configuration error and fails loudly.
func (s *LoRASetup) ReportLearningRates(m *model.Model, config *TrainConfig, scheduler LearningRateScheduler, sink ScalarSink) error {
	lrs := scheduler.LastLRs()
	names := GroupNames(config)
	if len(lrs) != len(names) {
		return fmt.Errorf("parameter group count mismatch: %d named groups but scheduler reports %d learning rates", len(names), len(lrs))
	}

	if adjuster, ok := m.Optimizer.(opt.LRAdjuster); ok {
		lrs = adjuster.MaybeAdjustLRs(lrs)
	}

	for i, name := range names {
		if err := sink.AddScalar("lr/"+name, lrs[i], m.TrainProgress.GlobalStep); err != nil {
			return fmt.Errorf("failed to report learning rate for %q: %v", name, err)
		}
	}
	return nil
}

// ScalarSink is the metrics surface ReportLearningRates writes to.
type ScalarSink interface {
	AddScalar(tag string, value float64, step int64) error
}
