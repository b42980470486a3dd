package schedule

import (
	"fmt"
	"math"
)

// PredictionType selects what the denoising network is trained to predict
type PredictionType int

const (
	Epsilon PredictionType = iota
	VPrediction
)

func (pt PredictionType) String() string {
	switch pt {
	case Epsilon:
		return "epsilon"
	case VPrediction:
		return "v_prediction"
	default:
		return "unknown"
	}
}

// NoiseScheduler holds the diffusion noise schedule. The forward and
// reverse diffusion passes that consume it are owned by the training
// backend; this package owns the schedule itself and its rescaling.
type NoiseScheduler struct {
	NumTrainTimesteps int
	Betas             []float64
	AlphasCumprod     []float64
	PredictionType    PredictionType

	rescaled bool
}

// NewScaledLinearScheduler creates a DDPM schedule with betas linear in
// sqrt-space between betaStart and betaEnd, the schedule used by latent
// diffusion models.
func NewScaledLinearScheduler(numTrainTimesteps int, betaStart, betaEnd float64) (*NoiseScheduler, error) {
	if numTrainTimesteps <= 0 {
		return nil, fmt.Errorf("invalid noise schedule: timesteps must be positive, got %d", numTrainTimesteps)
	}
	if betaStart <= 0 || betaEnd <= betaStart || betaEnd >= 1 {
		return nil, fmt.Errorf("invalid noise schedule: need 0 < betaStart < betaEnd < 1, got [%f, %f]", betaStart, betaEnd)
	}

	betas := make([]float64, numTrainTimesteps)
	sqrtStart := math.Sqrt(betaStart)
	sqrtEnd := math.Sqrt(betaEnd)
	for i := range betas {
		frac := float64(i) / float64(numTrainTimesteps-1)
		sqrtBeta := sqrtStart + frac*(sqrtEnd-sqrtStart)
		betas[i] = sqrtBeta * sqrtBeta
	}

	s := &NoiseScheduler{
		NumTrainTimesteps: numTrainTimesteps,
		Betas:             betas,
		PredictionType:    Epsilon,
	}
	s.recomputeAlphasCumprod()
	return s, nil
}

func (s *NoiseScheduler) recomputeAlphasCumprod() {
	s.AlphasCumprod = make([]float64, len(s.Betas))
	cumprod := 1.0
	for i, beta := range s.Betas {
		cumprod *= 1 - beta
		s.AlphasCumprod[i] = cumprod
	}
}

// RescaleZeroTerminalSNR shifts and scales the schedule so the terminal
// timestep carries zero signal (SNR = 0), removing the brightness leak of
// schedules that never reach pure noise. Repeated calls are no-ops so a
// resumed run cannot double-rescale.
func (s *NoiseScheduler) RescaleZeroTerminalSNR() {
	if s.rescaled {
		return
	}

	n := len(s.AlphasCumprod)
	sqrtCumprod := make([]float64, n)
	for i, a := range s.AlphasCumprod {
		sqrtCumprod[i] = math.Sqrt(a)
	}

	first := sqrtCumprod[0]
	last := sqrtCumprod[n-1]

	// Shift so the last timestep hits zero, then scale so the first keeps
	// its original value.
	for i := range sqrtCumprod {
		sqrtCumprod[i] -= last
		sqrtCumprod[i] *= first / (first - last)
	}

	prev := 1.0
	for i := range sqrtCumprod {
		cumprod := sqrtCumprod[i] * sqrtCumprod[i]
		s.AlphasCumprod[i] = cumprod
		alpha := cumprod / prev
		s.Betas[i] = 1 - alpha
		prev = cumprod
	}
	s.rescaled = true
}

// Rescaled reports whether the zero-terminal-SNR rescale has been applied.
func (s *NoiseScheduler) Rescaled() bool {
	return s.rescaled
}

// ForceVPrediction switches the schedule to v-prediction targets. A
// zero-terminal-SNR schedule cannot train epsilon targets at the terminal
// step, so the rescale is always paired with this call.
func (s *NoiseScheduler) ForceVPrediction() {
	s.PredictionType = VPrediction
}

// SNR returns the signal-to-noise ratio at the given timestep.
func (s *NoiseScheduler) SNR(timestep int) (float64, error) {
	if timestep < 0 || timestep >= len(s.AlphasCumprod) {
		return 0, fmt.Errorf("timestep %d out of range [0, %d)", timestep, len(s.AlphasCumprod))
	}
	a := s.AlphasCumprod[timestep]
	if a >= 1 {
		return math.Inf(1), nil
	}
	return a / (1 - a), nil
}

func (s *NoiseScheduler) String() string {
	return fmt.Sprintf("NoiseScheduler(timesteps=%d, prediction=%s, rescaled=%t)",
		s.NumTrainTimesteps, s.PredictionType, s.rescaled)
}
