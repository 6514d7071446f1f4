package api

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeRegistry struct{}

func (fakeRegistry) ServerStatuses() []ServerStatus              { return []ServerStatus{{ServerID: "srv-1"}} }
func (fakeRegistry) CapabilityServers(capability string) []string { return []string{"srv-1"} }

type fakeOrchestrator struct{}

func (fakeOrchestrator) Acquire(ctx context.Context, capability string) (string, error) {
	return "job-1", nil
}
func (fakeOrchestrator) JobStatus(jobID string) (JobStatus, bool) { return JobStatus{JobID: jobID}, true }
func (fakeOrchestrator) ListJobs() []JobStatus                    { return nil }

func TestRegistryHandlerRoundTrips(t *testing.T) {
	RegisterRegistry(fakeRegistry{})
	defer RegisterRegistry(nil)

	h := GetRegistry()
	require.NotNil(t, h)
	require.Equal(t, []string{"srv-1"}, h.CapabilityServers("fetch"))
}

func TestOrchestratorHandlerRoundTrips(t *testing.T) {
	RegisterOrchestrator(fakeOrchestrator{})
	defer RegisterOrchestrator(nil)

	h := GetOrchestrator()
	require.NotNil(t, h)
	jobID, err := h.Acquire(context.Background(), "fetch")
	require.NoError(t, err)
	require.Equal(t, "job-1", jobID)
}

func TestUnregisteredHandlerIsNil(t *testing.T) {
	RegisterDLQ(nil)
	require.Nil(t, GetDLQ())
}
