package checkpoints

import (
	"math"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/tsawler/go-lora/adapter"
	"github.com/tsawler/go-lora/network"
	"github.com/tsawler/go-lora/tensor"
)

func buildAdapter(t *testing.T) *adapter.Adapter {
	t.Helper()
	base, err := network.NewBuilder("unet").
		AddDense("attn_q", 8, 8, false).
		AddConv2D("conv_in", 2, 4, 3, false).
		Build()
	if err != nil {
		t.Fatalf("failed to build base network: %v", err)
	}
	a, err := adapter.Wrap(base, adapter.Config{Rank: 4, Alpha: 8, Dropout: 0.1}, "lora_unet")
	if err != nil {
		t.Fatalf("failed to wrap adapter: %v", err)
	}
	return a
}

func TestFromAdapter(t *testing.T) {
	a := buildAdapter(t)

	ckpt := FromAdapter(a, TrainingState{Epoch: 2, EpochStep: 10, GlobalStep: 110})

	if ckpt.AdapterName != "lora_unet" || ckpt.Rank != 4 || ckpt.Alpha != 8 {
		t.Errorf("checkpoint lost adapter identity: %+v", ckpt)
	}
	// Two matrices per target pair.
	if got := len(ckpt.Weights); got != 2*len(a.Pairs()) {
		t.Errorf("expected %d weights, got %d", 2*len(a.Pairs()), got)
	}
	if ckpt.TrainingState.GlobalStep != 110 {
		t.Errorf("expected global step 110, got %d", ckpt.TrainingState.GlobalStep)
	}
}

func TestJSONRoundTrip(t *testing.T) {
	a := buildAdapter(t)
	path := filepath.Join(t.TempDir(), "adapter.json")

	saver := NewCheckpointSaver(FormatJSON)
	ckpt := FromAdapter(a, TrainingState{GlobalStep: 42})
	if err := saver.SaveCheckpoint(ckpt, path); err != nil {
		t.Fatalf("SaveCheckpoint failed: %v", err)
	}

	loaded, err := saver.LoadCheckpoint(path)
	if err != nil {
		t.Fatalf("LoadCheckpoint failed: %v", err)
	}

	if loaded.Metadata.Framework != "go-lora" {
		t.Errorf("expected framework metadata go-lora, got %q", loaded.Metadata.Framework)
	}
	if loaded.Metadata.RunID == "" {
		t.Error("expected a generated run ID")
	}
	if diff := cmp.Diff(ckpt.Weights, loaded.Weights); diff != "" {
		t.Errorf("weights mismatch after JSON round trip (-want +got):\n%s", diff)
	}
}

func TestSafetensorsRoundTrip(t *testing.T) {
	a := buildAdapter(t)
	path := filepath.Join(t.TempDir(), "adapter.safetensors")

	saver := NewCheckpointSaver(FormatSafetensors)
	ckpt := FromAdapter(a, TrainingState{Epoch: 1, EpochStep: 5, GlobalStep: 25})
	if err := saver.SaveCheckpoint(ckpt, path); err != nil {
		t.Fatalf("SaveCheckpoint failed: %v", err)
	}

	loaded, err := saver.LoadCheckpoint(path)
	if err != nil {
		t.Fatalf("LoadCheckpoint failed: %v", err)
	}

	if loaded.AdapterName != "lora_unet" || loaded.Rank != 4 {
		t.Errorf("metadata lost in safetensors round trip: %+v", loaded)
	}
	if loaded.TrainingState != ckpt.TrainingState {
		t.Errorf("training state mismatch: expected %+v, got %+v", ckpt.TrainingState, loaded.TrainingState)
	}
	if len(loaded.Weights) != len(ckpt.Weights) {
		t.Fatalf("expected %d weights, got %d", len(ckpt.Weights), len(loaded.Weights))
	}

	byName := make(map[string]WeightTensor)
	for _, w := range loaded.Weights {
		byName[w.Name] = w
	}
	for _, want := range ckpt.Weights {
		got, ok := byName[want.Name]
		if !ok {
			t.Fatalf("weight %q missing after round trip", want.Name)
		}
		if diff := cmp.Diff(want.Shape, got.Shape); diff != "" {
			t.Errorf("weight %q shape mismatch (-want +got):\n%s", want.Name, diff)
		}
		for i := range want.Data {
			if want.Data[i] != got.Data[i] {
				t.Fatalf("weight %q element %d: expected %g, got %g", want.Name, i, want.Data[i], got.Data[i])
			}
		}
	}
}

func TestSafetensorsHalfPrecision(t *testing.T) {
	a := buildAdapter(t)
	a.CastTo(tensor.Float16)
	path := filepath.Join(t.TempDir(), "adapter_fp16.safetensors")

	saver := NewCheckpointSaver(FormatSafetensors)
	ckpt := FromAdapter(a, TrainingState{})
	if err := saver.SaveCheckpoint(ckpt, path); err != nil {
		t.Fatalf("SaveCheckpoint failed: %v", err)
	}

	loaded, err := saver.LoadCheckpoint(path)
	if err != nil {
		t.Fatalf("LoadCheckpoint failed: %v", err)
	}

	for _, w := range loaded.Weights {
		if w.DType != "F16" {
			t.Errorf("weight %q: expected dtype F16, got %s", w.Name, w.DType)
		}
	}

	// Values were already rounded through half precision by CastTo, so the
	// round trip is exact.
	byName := make(map[string]WeightTensor)
	for _, w := range loaded.Weights {
		byName[w.Name] = w
	}
	for _, want := range ckpt.Weights {
		got := byName[want.Name]
		for i := range want.Data {
			if math.Abs(float64(want.Data[i]-got.Data[i])) > 1e-7 {
				t.Fatalf("weight %q element %d: expected %g, got %g", want.Name, i, want.Data[i], got.Data[i])
			}
		}
	}
}

func TestApplyTo(t *testing.T) {
	tensor.SetRandomSeed(7)
	src := buildAdapter(t)
	ckpt := FromAdapter(src, TrainingState{})

	tensor.SetRandomSeed(8)
	dst := buildAdapter(t)
	if err := ckpt.ApplyTo(dst); err != nil {
		t.Fatalf("ApplyTo failed: %v", err)
	}

	for i, pair := range dst.Pairs() {
		srcPair := src.Pairs()[i]
		for j := range pair.A.Data {
			if pair.A.Data[j] != srcPair.A.Data[j] {
				t.Fatalf("pair %q A element %d not restored", pair.ModuleName, j)
			}
		}
	}
}

func TestApplyToRejectsRankMismatch(t *testing.T) {
	src := buildAdapter(t)
	ckpt := FromAdapter(src, TrainingState{})
	ckpt.Rank = 8

	if err := ckpt.ApplyTo(src); err == nil {
		t.Fatal("expected error for rank mismatch")
	}
}
