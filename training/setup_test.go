package training

import (
	"strings"
	"testing"

	"github.com/tsawler/go-lora/metrics"
	"github.com/tsawler/go-lora/model"
	"github.com/tsawler/go-lora/schedule"
	"github.com/tsawler/go-lora/tensor"
)

func newBareModel(t *testing.T) *model.Model {
	t.Helper()
	m := &model.Model{
		TextEncoder: newSubNetwork(t, "te"),
		UNet:        newSubNetwork(t, "unet"),
		VAE:         newSubNetwork(t, "vae"),
	}
	scheduler, err := schedule.NewScaledLinearScheduler(1000, 0.00085, 0.012)
	if err != nil {
		t.Fatalf("failed to create noise scheduler: %v", err)
	}
	m.NoiseScheduler = scheduler
	return m
}

func newSetup() *LoRASetup {
	return NewLoRASetup(tensor.GPU, tensor.CPU, false)
}

func TestSetupModelEndToEnd(t *testing.T) {
	m := newBareModel(t)
	config := DefaultTrainConfig()
	config.LoRARank = 4

	if err := newSetup().SetupModel(m, config); err != nil {
		t.Fatalf("SetupModel failed: %v", err)
	}

	if m.TextEncoderLoRA == nil || m.UNetLoRA == nil {
		t.Fatal("both adapter views must exist after setup")
	}
	if !m.TextEncoderLoRA.RequiresGrad() || !m.UNetLoRA.RequiresGrad() {
		t.Error("both adapters must require gradients with no stop thresholds set")
	}
	if m.TextEncoderLoRA.Config.Rank != 4 {
		t.Errorf("expected adapter rank 4, got %d", m.TextEncoderLoRA.Config.Rank)
	}

	for _, p := range m.TextEncoder.Parameters() {
		if p.RequiresGrad() {
			t.Fatal("base text encoder must be frozen after setup")
		}
	}
	for _, p := range m.VAE.Parameters() {
		if p.RequiresGrad() {
			t.Fatal("vae must be frozen after setup")
		}
	}

	if m.Optimizer == nil {
		t.Fatal("optimizer must be constructed during setup")
	}
	groups := m.Optimizer.Groups()
	if len(groups) != 2 {
		t.Fatalf("expected 2 parameter groups, got %d", len(groups))
	}
	if groups[0].Name != "te" || groups[1].Name != "unet" {
		t.Errorf("group order must be te then unet, got [%s %s]", groups[0].Name, groups[1].Name)
	}

	// EMA is disabled by default.
	if m.EMA != nil {
		t.Error("ema must stay nil when disabled")
	}
}

func TestSetupModelIsIdempotent(t *testing.T) {
	m := newBareModel(t)
	config := DefaultTrainConfig()

	setup := newSetup()
	if err := setup.SetupModel(m, config); err != nil {
		t.Fatalf("first SetupModel failed: %v", err)
	}
	teLoRA, unetLoRA := m.TextEncoderLoRA, m.UNetLoRA

	// A resumed run calls setup again; installed adapters stay in place.
	if err := setup.SetupModel(m, config); err != nil {
		t.Fatalf("second SetupModel failed: %v", err)
	}
	if m.TextEncoderLoRA != teLoRA || m.UNetLoRA != unetLoRA {
		t.Fatal("re-entrant setup must not re-wrap adapters")
	}
}

func TestSetupModelAppliesWeightDType(t *testing.T) {
	m := newBareModel(t)
	config := DefaultTrainConfig()
	config.LoRAWeightDType = tensor.BFloat16

	if err := newSetup().SetupModel(m, config); err != nil {
		t.Fatalf("SetupModel failed: %v", err)
	}

	for _, p := range m.UNetLoRA.Parameters() {
		if p.DType != tensor.BFloat16 {
			t.Errorf("adapter parameter left as %s, want BFloat16", p.DType)
		}
	}
	for _, p := range m.UNet.Parameters() {
		if p.DType != tensor.Float32 {
			t.Fatal("base parameters must keep their dtype")
		}
	}
}

func TestSetupModelRescalesNoiseSchedule(t *testing.T) {
	m := newBareModel(t)
	config := DefaultTrainConfig()
	config.RescaleNoiseSchedulerToZeroTerminalSNR = true

	setup := newSetup()
	if err := setup.SetupModel(m, config); err != nil {
		t.Fatalf("SetupModel failed: %v", err)
	}

	if !m.NoiseScheduler.Rescaled() {
		t.Error("noise schedule must be rescaled")
	}
	if m.NoiseScheduler.PredictionType != schedule.VPrediction {
		t.Error("rescale must force v-prediction")
	}

	terminal := m.NoiseScheduler.AlphasCumprod[len(m.NoiseScheduler.AlphasCumprod)-1]

	// Resume path: a second setup must not shift the schedule again.
	if err := setup.SetupModel(m, config); err != nil {
		t.Fatalf("second SetupModel failed: %v", err)
	}
	if got := m.NoiseScheduler.AlphasCumprod[len(m.NoiseScheduler.AlphasCumprod)-1]; got != terminal {
		t.Error("repeated setup must not rescale the noise schedule twice")
	}
}

func TestSetupModelConsumesPendingState(t *testing.T) {
	m := newBareModel(t)
	config := DefaultTrainConfig()
	config.EMA.Enabled = true

	// Build once to produce valid state dicts, then restore into a fresh
	// model the way a resumed run would.
	if err := newSetup().SetupModel(m, config); err != nil {
		t.Fatalf("SetupModel failed: %v", err)
	}
	optState, err := m.Optimizer.GetState()
	if err != nil {
		t.Fatalf("GetState failed: %v", err)
	}
	emaState, err := m.EMA.GetState()
	if err != nil {
		t.Fatalf("GetState failed: %v", err)
	}

	resumed := newBareModel(t)
	resumed.OptimizerStateDict = optState
	resumed.EMAStateDict = emaState
	if err := newSetup().SetupModel(resumed, config); err != nil {
		t.Fatalf("resumed SetupModel failed: %v", err)
	}

	if resumed.OptimizerStateDict != nil || resumed.EMAStateDict != nil {
		t.Error("pending state dicts must be cleared after construction")
	}
	if resumed.EMA == nil {
		t.Fatal("ema must be constructed when enabled")
	}
}

func TestAfterOptimizerStepClosesGate(t *testing.T) {
	m := newBareModel(t)
	config := DefaultTrainConfig()
	config.TextEncoder.StopTrainingAfter = 10
	config.TextEncoder.StopTrainingAfterUnit = Step

	setup := newSetup()
	if err := setup.SetupModel(m, config); err != nil {
		t.Fatalf("SetupModel failed: %v", err)
	}
	if !m.TextEncoderLoRA.RequiresGrad() {
		t.Fatal("text encoder adapter must train before the threshold")
	}

	for step := int64(1); step <= 20; step++ {
		m.TrainProgress.NextStep()
		setup.AfterOptimizerStep(m, config, m.TrainProgress)

		wantTrain := step < 10
		if got := m.TextEncoderLoRA.RequiresGrad(); got != wantTrain {
			t.Fatalf("step %d: text encoder gate = %t, want %t", step, got, wantTrain)
		}
		if !m.UNetLoRA.RequiresGrad() {
			t.Fatalf("step %d: unet has no threshold and must keep training", step)
		}
	}
}

func TestAfterOptimizerStepSkipsMissingAdapters(t *testing.T) {
	m := newBareModel(t)
	config := DefaultTrainConfig()

	// No adapters installed; the per-step callback must not panic.
	newSetup().AfterOptimizerStep(m, config, m.TrainProgress)
}

func TestSetupTrainDeviceModes(t *testing.T) {
	m := newBareModel(t)
	config := DefaultTrainConfig()
	config.TextEncoder.Train = false

	setup := newSetup()
	if err := setup.SetupModel(m, config); err != nil {
		t.Fatalf("SetupModel failed: %v", err)
	}
	setup.SetupTrainDevice(m, config)

	if m.TextEncoder.IsTraining() {
		t.Error("frozen text encoder must be in eval mode")
	}
	if !m.UNet.IsTraining() {
		t.Error("training unet must be in train mode")
	}
	if m.VAE.IsTraining() {
		t.Error("vae must always be in eval mode")
	}
	if m.UNet.Device() != tensor.GPU {
		t.Errorf("unet on %s, want GPU", m.UNet.Device())
	}
	if m.VAE.Device() != tensor.CPU {
		t.Errorf("vae on %s, want CPU", m.VAE.Device())
	}
}

type fixedScheduler struct {
	lrs []float64
}

func (s fixedScheduler) LastLRs() []float64 {
	return s.lrs
}

func TestReportLearningRates(t *testing.T) {
	m := newBareModel(t)
	config := DefaultTrainConfig()

	setup := newSetup()
	if err := setup.SetupModel(m, config); err != nil {
		t.Fatalf("SetupModel failed: %v", err)
	}
	m.TrainProgress.GlobalStep = 77

	sink := metrics.NewMemorySink()
	if err := setup.ReportLearningRates(m, config, fixedScheduler{[]float64{1e-4, 2e-4}}, sink); err != nil {
		t.Fatalf("ReportLearningRates failed: %v", err)
	}

	scalars := sink.Scalars()
	if len(scalars) != 2 {
		t.Fatalf("expected exactly 2 scalars, got %d", len(scalars))
	}
	if scalars[0].Tag != "lr/te" || scalars[1].Tag != "lr/unet" {
		t.Errorf("expected tags [lr/te lr/unet], got [%s %s]", scalars[0].Tag, scalars[1].Tag)
	}
	for _, sc := range scalars {
		if sc.Step != 77 {
			t.Errorf("scalar %s at step %d, want 77", sc.Tag, sc.Step)
		}
	}
}

func TestReportLearningRatesCountMismatchIsFatal(t *testing.T) {
	m := newBareModel(t)
	config := DefaultTrainConfig()

	setup := newSetup()
	if err := setup.SetupModel(m, config); err != nil {
		t.Fatalf("SetupModel failed: %v", err)
	}

	sink := metrics.NewMemorySink()
	err := setup.ReportLearningRates(m, config, fixedScheduler{[]float64{1e-4}}, sink)
	if err == nil {
		t.Fatal("expected error for group/lr count mismatch")
	}
	if !strings.Contains(err.Error(), "mismatch") {
		t.Errorf("error should name the mismatch, got: %v", err)
	}
	if len(sink.Scalars()) != 0 {
		t.Error("no scalars may be emitted on a count mismatch")
	}
}

func TestReportLearningRatesWithGroupScheduler(t *testing.T) {
	m := newBareModel(t)
	config := DefaultTrainConfig()
	config.TextEncoder.LearningRate = 1e-5
	config.UNet.LearningRate = 1e-4

	setup := newSetup()
	if err := setup.SetupModel(m, config); err != nil {
		t.Fatalf("SetupModel failed: %v", err)
	}

	scheduler, err := CreateLRScheduler(m.Optimizer, config)
	if err != nil {
		t.Fatalf("CreateLRScheduler failed: %v", err)
	}

	sink := metrics.NewMemorySink()
	if err := setup.ReportLearningRates(m, config, scheduler, sink); err != nil {
		t.Fatalf("ReportLearningRates failed: %v", err)
	}

	te := sink.ScalarsFor("lr/te")
	if len(te) != 1 || te[0].Value != 1e-5 {
		t.Errorf("expected lr/te = 1e-5, got %+v", te)
	}
	unet := sink.ScalarsFor("lr/unet")
	if len(unet) != 1 || unet[0].Value != 1e-4 {
		t.Errorf("expected lr/unet = 1e-4, got %+v", unet)
	}
}

func TestSetupModelValidatesInputs(t *testing.T) {
	config := DefaultTrainConfig()

	m := newBareModel(t)
	m.VAE = nil
	if err := newSetup().SetupModel(m, config); err == nil {
		t.Error("expected error for incomplete model")
	}

	m = newBareModel(t)
	bad := DefaultTrainConfig()
	bad.LoRARank = 0
	if err := newSetup().SetupModel(m, bad); err == nil {
		t.Error("expected error for invalid config")
	}
}

func TestSetupModelRequiresSchedulerForRescale(t *testing.T) {
	m := newBareModel(t)
	m.NoiseScheduler = nil
	config := DefaultTrainConfig()
	config.RescaleNoiseSchedulerToZeroTerminalSNR = true

	if err := newSetup().SetupModel(m, config); err == nil {
		t.Fatal("expected error when rescale is requested without a scheduler")
	}
}
