package training

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestDefaultTrainConfigValidates(t *testing.T) {
	if err := validateTrainConfig(DefaultTrainConfig()); err != nil {
		t.Errorf("default config failed validation: %v", err)
	}
}

func TestValidateTrainConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*TrainConfig)
	}{
		{"zero rank", func(c *TrainConfig) { c.LoRARank = 0 }},
		{"negative alpha", func(c *TrainConfig) { c.LoRAAlpha = -1 }},
		{"dropout out of range", func(c *TrainConfig) { c.LoRADropout = 1 }},
		{"training te without lr", func(c *TrainConfig) { c.TextEncoder.LearningRate = 0 }},
		{"training unet without lr", func(c *TrainConfig) { c.UNet.LearningRate = 0 }},
		{"unknown optimizer", func(c *TrainConfig) { c.Optimizer.Kind = "prodigy" }},
		{"ema decay out of range", func(c *TrainConfig) { c.EMA.Enabled = true; c.EMA.Decay = 1 }},
	}
	for _, tt := range tests {
		config := DefaultTrainConfig()
		tt.mutate(config)
		if err := validateTrainConfig(config); err == nil {
			t.Errorf("%s: expected error, got nil", tt.name)
		}
	}
}

func TestConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")

	config := DefaultTrainConfig()
	config.TextEncoder.StopTrainingAfter = 500
	config.TextEncoder.StopTrainingAfterUnit = Step
	config.LoRARank = 4
	config.RescaleNoiseSchedulerToZeroTerminalSNR = true

	if err := SaveTrainConfig(config, path); err != nil {
		t.Fatalf("SaveTrainConfig failed: %v", err)
	}
	loaded, err := LoadTrainConfig(path)
	if err != nil {
		t.Fatalf("LoadTrainConfig failed: %v", err)
	}

	if diff := cmp.Diff(config, loaded); diff != "" {
		t.Errorf("config mismatch after round trip (-want +got):\n%s", diff)
	}
}

func TestLoadTrainConfigRejectsUnknownFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"lora_rnak": 4}`), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	if _, err := LoadTrainConfig(path); err == nil {
		t.Fatal("expected error for misspelled config field")
	}
}

func TestTimeUnitText(t *testing.T) {
	tests := []struct {
		unit TimeUnit
		text string
	}{
		{Never, "never"},
		{Step, "step"},
		{Epoch, "epoch"},
	}
	for _, tt := range tests {
		got, err := tt.unit.MarshalText()
		if err != nil {
			t.Fatalf("MarshalText failed: %v", err)
		}
		if string(got) != tt.text {
			t.Errorf("expected %q, got %q", tt.text, got)
		}

		var parsed TimeUnit
		if err := parsed.UnmarshalText(got); err != nil {
			t.Fatalf("UnmarshalText failed: %v", err)
		}
		if parsed != tt.unit {
			t.Errorf("round trip of %s produced %s", tt.unit, parsed)
		}
	}

	var bad TimeUnit
	if err := bad.UnmarshalText([]byte("fortnight")); err == nil {
		t.Error("expected error for unknown time unit")
	}
}

func TestClone(t *testing.T) {
	config := DefaultTrainConfig()
	clone, err := config.Clone()
	if err != nil {
		t.Fatalf("Clone failed: %v", err)
	}

	clone.UNet.LearningRate = 0.5
	if config.UNet.LearningRate == 0.5 {
		t.Error("mutating the clone changed the original")
	}
}
