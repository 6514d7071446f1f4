package registry

import "musterd/internal/api"

// ServerStatuses implements api.RegistryHandler, projecting every
// registered server's cached summary into the admin surface's
// package-independent view type.
func (r *Registry) ServerStatuses() []api.ServerStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]api.ServerStatus, 0, len(r.summaries))
	for serverID, summary := range r.summaries {
		var caps []string
		for cap, set := range r.capabilities {
			if _, ok := set[serverID]; ok {
				caps = append(caps, cap)
			}
		}
		out = append(out, api.ServerStatus{
			ServerID:     serverID,
			State:        summary.State,
			RestartCount: summary.RestartCount,
			BreakerState: summary.BreakerState,
			Capabilities: caps,
		})
	}
	return out
}
