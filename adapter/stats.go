package adapter

// Stats summarizes an adapter's parameter footprint relative to its base
// network.
type Stats struct {
	AdapterID           string  `json:"adapter_id"`
	AdapterName         string  `json:"adapter_name"`
	ParameterCount      int64   `json:"parameter_count"`
	TrainableParameters int64   `json:"trainable_parameters"`
	BaseParameters      int64   `json:"base_parameters"`
	CompressionRatio    float64 `json:"compression_ratio"`
}

// Stats computes the adapter's parameter statistics. CompressionRatio is
// base parameters per adapter parameter, the savings over full fine-tuning.
func (a *Adapter) Stats() Stats {
	s := Stats{
		AdapterID:      a.ID,
		AdapterName:    a.Name,
		BaseParameters: a.base.NumParameters(),
	}
	for _, p := range a.Parameters() {
		s.ParameterCount += int64(p.NumElems)
		if p.RequiresGrad() {
			s.TrainableParameters += int64(p.NumElems)
		}
	}
	if s.ParameterCount > 0 {
		s.CompressionRatio = float64(s.BaseParameters) / float64(s.ParameterCount)
	}
	return s
}
