package training

import (
	"testing"

	"github.com/tsawler/go-lora/model"
)

func TestShouldTrainBasic(t *testing.T) {
	tests := []struct {
		name     string
		sub      SubnetConfig
		progress model.TrainProgress
		want     bool
	}{
		{
			"disabled",
			SubnetConfig{Train: false},
			model.TrainProgress{},
			false,
		},
		{
			"enabled without threshold",
			SubnetConfig{Train: true},
			model.TrainProgress{GlobalStep: 1 << 40},
			true,
		},
		{
			"before step threshold",
			SubnetConfig{Train: true, StopTrainingAfter: 100, StopTrainingAfterUnit: Step},
			model.TrainProgress{GlobalStep: 99},
			true,
		},
		{
			"at step threshold",
			SubnetConfig{Train: true, StopTrainingAfter: 100, StopTrainingAfterUnit: Step},
			model.TrainProgress{GlobalStep: 100},
			false,
		},
		{
			"past step threshold",
			SubnetConfig{Train: true, StopTrainingAfter: 100, StopTrainingAfterUnit: Step},
			model.TrainProgress{GlobalStep: 5000},
			false,
		},
		{
			"before epoch threshold",
			SubnetConfig{Train: true, StopTrainingAfter: 3, StopTrainingAfterUnit: Epoch},
			model.TrainProgress{Epoch: 2, GlobalStep: 100000},
			true,
		},
		{
			"at epoch threshold",
			SubnetConfig{Train: true, StopTrainingAfter: 3, StopTrainingAfterUnit: Epoch},
			model.TrainProgress{Epoch: 3},
			false,
		},
		{
			"zero threshold with never unit",
			SubnetConfig{Train: true, StopTrainingAfter: 0, StopTrainingAfterUnit: Never},
			model.TrainProgress{GlobalStep: 123},
			true,
		},
	}
	for _, tt := range tests {
		if got := ShouldTrain(tt.sub, tt.progress); got != tt.want {
			t.Errorf("%s: ShouldTrain = %t, want %t", tt.name, got, tt.want)
		}
	}
}

func TestShouldTrainIsMonotonicOneWay(t *testing.T) {
	sub := SubnetConfig{Train: true, StopTrainingAfter: 50, StopTrainingAfterUnit: Step}

	flipped := false
	var progress model.TrainProgress
	for step := int64(0); step < 200; step++ {
		progress.GlobalStep = step
		got := ShouldTrain(sub, progress)
		if !got {
			flipped = true
		}
		if flipped && got {
			t.Fatalf("gate reopened at step %d after closing", step)
		}
	}
	if !flipped {
		t.Fatal("gate never closed despite the threshold passing")
	}
}

func TestConfigLevelGateHelpers(t *testing.T) {
	config := DefaultTrainConfig()
	config.TextEncoder.StopTrainingAfter = 10
	config.TextEncoder.StopTrainingAfterUnit = Step

	progress := model.TrainProgress{GlobalStep: 10}
	if !StopTextEncoderTrainingElapsed(config, progress) {
		t.Error("text encoder threshold should have elapsed at step 10")
	}
	if StopUNetTrainingElapsed(config, progress) {
		t.Error("unet has no threshold and should never elapse")
	}
}
