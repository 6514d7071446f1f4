package variety

import "musterd/internal/api"

// Latest implements api.VarietyHandler.
func (e *Engine) Latest() api.VarietySnapshot {
	sample, ok := e.LatestSample()
	if !ok {
		return api.VarietySnapshot{}
	}
	return api.VarietySnapshot{
		OperationalVariety:  sample.Operational,
		EnvironmentalVariety: sample.Environmental,
		Ratio:               sample.Ratio,
		SampledAt:           sample.Timestamp,
	}
}
