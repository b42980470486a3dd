package model

import (
	"fmt"
)

// TrainProgress tracks elapsed training progress. All counters advance
// monotonically; the phase gates compare them against configured stop
// thresholds.
type TrainProgress struct {
	Epoch      int64 `json:"epoch"`
	EpochStep  int64 `json:"epoch_step"`
	GlobalStep int64 `json:"global_step"`
}

// NextStep advances the step counters after one optimizer step.
func (p *TrainProgress) NextStep() {
	p.EpochStep++
	p.GlobalStep++
}

// NextEpoch advances the epoch counter and resets the in-epoch step.
func (p *TrainProgress) NextEpoch() {
	p.Epoch++
	p.EpochStep = 0
}

func (p TrainProgress) String() string {
	return fmt.Sprintf("epoch %d, step %d (global %d)", p.Epoch, p.EpochStep, p.GlobalStep)
}
