package supervisor

import (
	"context"
	"fmt"

	"musterd/internal/api"
	"musterd/internal/mcpclient"
)

// ServerStatus implements api.SupervisorHandler, translating the internal
// Status snapshot into the package-independent view type the admin surface
// consumes (spec §9's read methods for "server details").
func (s *Supervisor) ServerStatus(serverID string) (api.ServerStatus, bool) {
	st, ok := s.Status(serverID)
	if !ok {
		return api.ServerStatus{}, false
	}

	lastErr := ""
	if st.LastError != nil {
		lastErr = st.LastError.Error()
	}
	var caps []string
	if s.cfg.CapabilitiesLookup != nil {
		caps = s.cfg.CapabilitiesLookup(serverID)
	}

	return api.ServerStatus{
		ServerID:     st.ServerID,
		State:        string(st.State),
		Health:       healthLabel(st.State),
		RestartCount: st.RestartCount,
		LastError:    lastErr,
		BreakerState: st.BreakerState,
		Capabilities: caps,
	}, true
}

func healthLabel(state State) string {
	switch state {
	case StateReady:
		return "healthy"
	case StateDegraded:
		return "degraded"
	case StateStarting:
		return "starting"
	default:
		return "unhealthy"
	}
}

// RestartServer implements api.SupervisorHandler.
func (s *Supervisor) RestartServer(ctx context.Context, serverID string) error {
	return s.Restart(ctx, serverID)
}

// StopServer implements api.SupervisorHandler.
func (s *Supervisor) StopServer(ctx context.Context, serverID string, grace bool) error {
	return s.Stop(ctx, serverID, grace, orDefault(s.cfg.HealthTimeout, defaultMaxBackoff))
}

// Acquire implements router.PoolProvider by delegating to the named
// server's pool.
func (s *Supervisor) Acquire(ctx context.Context, serverID string) (*mcpclient.Client, error) {
	ms, ok := s.lookup(serverID)
	if !ok {
		return nil, fmt.Errorf("supervisor: server %s is not supervised", serverID)
	}
	return ms.pool.Acquire(ctx)
}

// Release implements router.PoolProvider.
func (s *Supervisor) Release(serverID string, client *mcpclient.Client) {
	ms, ok := s.lookup(serverID)
	if !ok {
		return
	}
	ms.pool.Release(client)
}
