package training

import (
	"fmt"
	"os"

	"github.com/go-json-experiment/json"
	"github.com/tiendc/go-deepcopy"

	"github.com/tsawler/go-lora/tensor"
)

// TimeUnit expresses a stop-training threshold. The zero value Never means
// the threshold is unset and the sub-network trains for the whole run.
type TimeUnit int

const (
	Never TimeUnit = iota
	Step
	Epoch
)

func (tu TimeUnit) String() string {
	switch tu {
	case Never:
		return "never"
	case Step:
		return "step"
	case Epoch:
		return "epoch"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler so configs serialize the
// unit as a readable string.
func (tu TimeUnit) MarshalText() ([]byte, error) {
	return []byte(tu.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (tu *TimeUnit) UnmarshalText(text []byte) error {
	switch string(text) {
	case "never", "":
		*tu = Never
	case "step":
		*tu = Step
	case "epoch":
		*tu = Epoch
	default:
		return fmt.Errorf("unknown time unit %q", text)
	}
	return nil
}

// SubnetConfig holds the per-sub-network training toggles
type SubnetConfig struct {
	// Train enables adapter training for this sub-network
	Train bool `json:"train"`

	// LearningRate is the sub-network's parameter group learning rate
	LearningRate float64 `json:"learning_rate"`

	// StopTrainingAfter stops gradient flow once the configured unit of
	// progress passes this value. Ignored when the unit is Never.
	StopTrainingAfter     int64    `json:"stop_training_after"`
	StopTrainingAfterUnit TimeUnit `json:"stop_training_after_unit"`
}

// OptimizerKind selects the optimizer implementation
type OptimizerKind string

const (
	OptimizerAdamW OptimizerKind = "adamw"
	OptimizerSGD   OptimizerKind = "sgd"
)

// OptimizerConfig holds the optimizer hyperparameters
type OptimizerConfig struct {
	Kind        OptimizerKind `json:"kind"`
	Beta1       float64       `json:"beta1"`
	Beta2       float64       `json:"beta2"`
	Epsilon     float64       `json:"epsilon"`
	WeightDecay float64       `json:"weight_decay"`
	Momentum    float64       `json:"momentum"`
}

// EMAConfig holds the EMA tracker settings
type EMAConfig struct {
	Enabled bool    `json:"enabled"`
	Decay   float64 `json:"decay"`
}

// SchedulerKind selects the learning rate schedule
type SchedulerKind string

const (
	SchedulerConstant SchedulerKind = "constant"
	SchedulerCosine   SchedulerKind = "cosine"
	SchedulerStep     SchedulerKind = "step"
)

// SchedulerConfig holds the learning rate schedule settings
type SchedulerConfig struct {
	Kind        SchedulerKind `json:"kind"`
	WarmupSteps int           `json:"warmup_steps"`
	TMax        int           `json:"t_max"`
	EtaMin      float64       `json:"eta_min"`
	StepSize    int           `json:"step_size"`
	Gamma       float64       `json:"gamma"`
}

// TrainConfig is the run configuration. It is immutable during a run;
// callers needing a variant should Clone first.
type TrainConfig struct {
	// Per-sub-network toggles
	TextEncoder SubnetConfig `json:"text_encoder"`
	UNet        SubnetConfig `json:"unet"`

	// Adapter hyperparameters
	LoRARank        int          `json:"lora_rank"`
	LoRAAlpha       float64      `json:"lora_alpha"`
	LoRADropout     float64      `json:"lora_dropout"`
	LoRAWeightDType tensor.DType `json:"lora_weight_dtype"`

	// Global flags
	RescaleNoiseSchedulerToZeroTerminalSNR bool `json:"rescale_noise_scheduler_to_zero_terminal_snr"`
	AlignProp                              bool `json:"align_prop"`
	LatentCaching                          bool `json:"latent_caching"`

	Optimizer OptimizerConfig `json:"optimizer"`
	EMA       EMAConfig       `json:"ema"`
	Scheduler SchedulerConfig `json:"scheduler"`
}

// DefaultTrainConfig returns a config that trains both adapters with
// standard LoRA hyperparameters
func DefaultTrainConfig() *TrainConfig {
	return &TrainConfig{
		TextEncoder: SubnetConfig{
			Train:        true,
			LearningRate: 1e-4,
		},
		UNet: SubnetConfig{
			Train:        true,
			LearningRate: 1e-4,
		},
		LoRARank:        8,
		LoRAAlpha:       16,
		LoRADropout:     0.05,
		LoRAWeightDType: tensor.Float32,
		LatentCaching:   true,
		Optimizer: OptimizerConfig{
			Kind:        OptimizerAdamW,
			Beta1:       0.9,
			Beta2:       0.999,
			Epsilon:     1e-8,
			WeightDecay: 0.01,
		},
		EMA: EMAConfig{
			Decay: 0.999,
		},
		Scheduler: SchedulerConfig{
			Kind: SchedulerConstant,
		},
	}
}

// Clone returns a deep copy of the config.
func (c *TrainConfig) Clone() (*TrainConfig, error) {
	var out TrainConfig
	if err := deepcopy.Copy(&out, c); err != nil {
		return nil, fmt.Errorf("failed to clone train config: %v", err)
	}
	return &out, nil
}

func validateTrainConfig(c *TrainConfig) error {
	if c == nil {
		return fmt.Errorf("train config is nil")
	}
	if c.LoRARank <= 0 {
		return fmt.Errorf("invalid train config: lora rank must be positive, got %d", c.LoRARank)
	}
	if c.LoRAAlpha <= 0 {
		return fmt.Errorf("invalid train config: lora alpha must be positive, got %f", c.LoRAAlpha)
	}
	if c.LoRADropout < 0 || c.LoRADropout >= 1 {
		return fmt.Errorf("invalid train config: lora dropout must be in [0, 1), got %f", c.LoRADropout)
	}
	if c.TextEncoder.Train && c.TextEncoder.LearningRate <= 0 {
		return fmt.Errorf("invalid train config: text encoder learning rate must be positive when training")
	}
	if c.UNet.Train && c.UNet.LearningRate <= 0 {
		return fmt.Errorf("invalid train config: unet learning rate must be positive when training")
	}
	switch c.Optimizer.Kind {
	case OptimizerAdamW, OptimizerSGD:
	default:
		return fmt.Errorf("invalid train config: unknown optimizer kind %q", c.Optimizer.Kind)
	}
	if c.EMA.Enabled && (c.EMA.Decay <= 0 || c.EMA.Decay >= 1) {
		return fmt.Errorf("invalid train config: ema decay must be in (0, 1), got %f", c.EMA.Decay)
	}
	return nil
}

// LoadTrainConfig reads a config from a JSON file. Unknown fields are
// rejected so a typo in a run config fails up front instead of silently
// training with defaults.
func LoadTrainConfig(path string) (*TrainConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read train config: %v", err)
	}
	config := DefaultTrainConfig()
	if err := json.Unmarshal(data, config, json.RejectUnknownMembers(true)); err != nil {
		return nil, fmt.Errorf("failed to parse train config: %v", err)
	}
	if err := validateTrainConfig(config); err != nil {
		return nil, err
	}
	return config, nil
}

// SaveTrainConfig writes a config to a JSON file.
func SaveTrainConfig(config *TrainConfig, path string) error {
	if err := validateTrainConfig(config); err != nil {
		return err
	}
	data, err := json.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to encode train config: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write train config: %v", err)
	}
	return nil
}
