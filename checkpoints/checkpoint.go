package checkpoints

import (
	"fmt"
	"os"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"

	"github.com/tsawler/go-lora/adapter"
	"github.com/tsawler/go-lora/opt"
)

// CheckpointFormat defines the serialization format
type CheckpointFormat int

const (
	FormatJSON CheckpointFormat = iota
	FormatSafetensors
)

func (cf CheckpointFormat) String() string {
	switch cf {
	case FormatJSON:
		return "JSON"
	case FormatSafetensors:
		return "Safetensors"
	default:
		return "Unknown"
	}
}

// AdapterCheckpoint captures one adapter's trainable state plus the
// training progress needed to resume: the low-rank weights, the adapter
// hyperparameters, and optionally the optimizer and EMA state.
type AdapterCheckpoint struct {
	// Adapter identity and hyperparameters
	AdapterName string  `json:"adapter_name"`
	AdapterID   string  `json:"adapter_id"`
	Rank        int     `json:"rank"`
	Alpha       float64 `json:"alpha"`
	Dropout     float64 `json:"dropout"`

	// Low-rank weights
	Weights []WeightTensor `json:"weights"`

	// Training state
	TrainingState TrainingState `json:"training_state"`

	// Optimizer and EMA state (if available)
	OptimizerState *opt.StateDict `json:"optimizer_state,omitempty"`
	EMAState       *opt.StateDict `json:"ema_state,omitempty"`

	// Metadata
	Metadata CheckpointMetadata `json:"metadata"`
}

// WeightTensor represents one low-rank matrix with its data
type WeightTensor struct {
	Name  string    `json:"name"`
	Shape []int     `json:"shape"`
	Data  []float32 `json:"data"`
	DType string    `json:"dtype"`
}

// TrainingState captures the training progress at save time
type TrainingState struct {
	Epoch      int64 `json:"epoch"`
	EpochStep  int64 `json:"epoch_step"`
	GlobalStep int64 `json:"global_step"`
}

// CheckpointMetadata contains checkpoint metadata
type CheckpointMetadata struct {
	Version     string    `json:"version"`
	Framework   string    `json:"framework"`
	RunID       string    `json:"run_id"`
	CreatedAt   time.Time `json:"created_at"`
	Description string    `json:"description,omitempty"`
	Tags        []string  `json:"tags,omitempty"`
}

// FromAdapter builds a checkpoint from an adapter's current weights.
// Weight names follow the "<adapter>.<module>.lora_A" convention so a
// safetensors export stays self-describing.
func FromAdapter(a *adapter.Adapter, state TrainingState) *AdapterCheckpoint {
	ckpt := &AdapterCheckpoint{
		AdapterName:   a.Name,
		AdapterID:     a.ID,
		Rank:          a.Config.Rank,
		Alpha:         a.Config.Alpha,
		Dropout:       a.Config.Dropout,
		TrainingState: state,
	}
	for _, pair := range a.Pairs() {
		ckpt.Weights = append(ckpt.Weights,
			WeightTensor{
				Name:  fmt.Sprintf("%s.%s.lora_A", a.Name, pair.ModuleName),
				Shape: append([]int(nil), pair.A.Shape...),
				Data:  append([]float32(nil), pair.A.Data...),
				DType: dtypeName(pair.A.DType),
			},
			WeightTensor{
				Name:  fmt.Sprintf("%s.%s.lora_B", a.Name, pair.ModuleName),
				Shape: append([]int(nil), pair.B.Shape...),
				Data:  append([]float32(nil), pair.B.Data...),
				DType: dtypeName(pair.B.DType),
			},
		)
	}
	return ckpt
}

// ApplyTo writes the checkpoint's weights back into an adapter. The
// adapter must have been built over the same targets with the same rank.
func (c *AdapterCheckpoint) ApplyTo(a *adapter.Adapter) error {
	if c.Rank != a.Config.Rank {
		return fmt.Errorf("checkpoint rank %d does not match adapter rank %d", c.Rank, a.Config.Rank)
	}

	byName := make(map[string]WeightTensor, len(c.Weights))
	for _, w := range c.Weights {
		byName[w.Name] = w
	}

	for _, pair := range a.Pairs() {
		for _, side := range []struct {
			suffix string
			data   []float32
			elems  int
		}{
			{"lora_A", pair.A.Data, pair.A.NumElems},
			{"lora_B", pair.B.Data, pair.B.NumElems},
		} {
			name := fmt.Sprintf("%s.%s.%s", a.Name, pair.ModuleName, side.suffix)
			w, ok := byName[name]
			if !ok {
				return fmt.Errorf("checkpoint is missing weight %q", name)
			}
			if len(w.Data) != side.elems {
				return fmt.Errorf("weight %q has %d elements, adapter expects %d", name, len(w.Data), side.elems)
			}
			copy(side.data, w.Data)
		}
	}
	return nil
}

// CheckpointSaver handles saving adapter checkpoints in various formats
type CheckpointSaver struct {
	format CheckpointFormat
}

// NewCheckpointSaver creates a new checkpoint saver for the specified format
func NewCheckpointSaver(format CheckpointFormat) *CheckpointSaver {
	return &CheckpointSaver{
		format: format,
	}
}

// SaveCheckpoint saves an adapter checkpoint
func (cs *CheckpointSaver) SaveCheckpoint(checkpoint *AdapterCheckpoint, path string) error {
	if checkpoint.Metadata.Framework == "" {
		checkpoint.Metadata.Framework = "go-lora"
		checkpoint.Metadata.Version = "1.0.0"
		checkpoint.Metadata.CreatedAt = time.Now()
	}
	if checkpoint.Metadata.RunID == "" {
		checkpoint.Metadata.RunID = uuid.New().String()
	}

	switch cs.format {
	case FormatJSON:
		return cs.saveJSON(checkpoint, path)
	case FormatSafetensors:
		return cs.saveSafetensors(checkpoint, path)
	default:
		return fmt.Errorf("unsupported checkpoint format: %s", cs.format.String())
	}
}

// LoadCheckpoint loads an adapter checkpoint
func (cs *CheckpointSaver) LoadCheckpoint(path string) (*AdapterCheckpoint, error) {
	switch cs.format {
	case FormatJSON:
		return cs.loadJSON(path)
	case FormatSafetensors:
		return cs.loadSafetensors(path)
	default:
		return nil, fmt.Errorf("unsupported checkpoint format: %s", cs.format.String())
	}
}

// saveJSON saves checkpoint in JSON format
func (cs *CheckpointSaver) saveJSON(checkpoint *AdapterCheckpoint, path string) error {
	data, err := sonic.ConfigFastest.Marshal(checkpoint)
	if err != nil {
		return fmt.Errorf("failed to encode checkpoint: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write checkpoint file: %v", err)
	}
	return nil
}

// loadJSON loads checkpoint from JSON format
func (cs *CheckpointSaver) loadJSON(path string) (*AdapterCheckpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint file: %v", err)
	}
	checkpoint := &AdapterCheckpoint{}
	if err := sonic.ConfigFastest.Unmarshal(data, checkpoint); err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint: %v", err)
	}
	return checkpoint, nil
}
