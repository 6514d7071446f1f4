package orchestrator

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"musterd/internal/discovery"
	"musterd/internal/events"
	"musterd/internal/installer"
	"musterd/internal/jsonrpc"
	"musterd/internal/mcpclient"
	"musterd/internal/registry"
	"musterd/internal/sandbox"
	"musterd/internal/supervisor"
)

// TestHelperProcess is re-exec'd as the fake candidate server (the classic
// os/exec self-test trick): both the Sandbox's own probe process and the
// Supervisor's post-install launch spawn this same test binary with
// -test.run=TestHelperProcess, distinguished from a normal test run by the
// helper env var.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("MUSTERD_ORCH_HELPER") != "1" {
		return
	}
	runFakeServer()
}

func runFakeServer() {
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		resp := handleFakeLine(scanner.Bytes())
		if resp == nil {
			continue
		}
		encoded, err := jsonrpc.Encode(resp)
		if err != nil {
			continue
		}
		os.Stdout.Write(append(encoded, '\n'))
	}
	os.Exit(0)
}

func handleFakeLine(line []byte) *jsonrpc.Response {
	result, err := jsonrpc.Parse(line)
	if err != nil {
		return jsonrpc.ErrorResponse(jsonrpc.ID{}, jsonrpc.CodeParseError, "parse error")
	}
	req, ok := result.Single.(*jsonrpc.Request)
	if !ok {
		return nil
	}
	switch req.Method {
	case mcpclient.MethodInitialize:
		return &jsonrpc.Response{JSONRPC: jsonrpc.Version, ID: req.ID, Result: json.RawMessage(`{"serverName":"fake","serverVersion":"1.0"}`)}
	case mcpclient.MethodToolsList:
		return &jsonrpc.Response{JSONRPC: jsonrpc.Version, ID: req.ID, Result: json.RawMessage(`{"tools":[{"name":"read_file"}]}`)}
	case mcpclient.MethodToolsCall:
		return &jsonrpc.Response{JSONRPC: jsonrpc.Version, ID: req.ID, Result: json.RawMessage(`{"content":"ok"}`)}
	default:
		return jsonrpc.ErrorResponse(req.ID, jsonrpc.CodeMethodNotFound, "unknown method")
	}
}

// fakeAdapter is a single-source discovery.CatalogAdapter returning one
// candidate that always maps onto the re-exec'd helper process.
type fakeAdapter struct {
	empty bool
}

func (fakeAdapter) Name() string { return "fake-catalog" }

func (a fakeAdapter) Query(_ context.Context, req discovery.Requirement) ([]discovery.ServerCandidate, error) {
	if a.empty {
		return nil, nil
	}
	return []discovery.ServerCandidate{{
		Source:      "fake-catalog",
		Name:        req.Capability + "-server",
		Version:     "1.0.0",
		Description: req.Capability,
		Signals:     discovery.Signals{QualityScore: 1, SourceTrust: 1, KeywordMatches: 1},
	}}, nil
}

// fakeStrategy satisfies installer.Strategy by pointing the LaunchSpec at
// this same test binary, re-exec'd as the fake server.
type fakeStrategy struct{}

func (fakeStrategy) Install(_ context.Context, _ installer.Request, installDir string) (installer.LaunchSpec, error) {
	return installer.LaunchSpec{
		Command:    os.Args[0],
		Args:       []string{"-test.run=TestHelperProcess"},
		WorkingDir: installDir,
		Env:        map[string]string{"MUSTERD_ORCH_HELPER": "1"},
	}, nil
}

func testWeights() discovery.WeightTable {
	return discovery.WeightTable{"": {CapabilityMatch: 1, Quality: 1, Recency: 1, Trust: 1}}
}

func testSupervisorConfig() supervisor.Config {
	return supervisor.Config{
		MaxChildren:     8,
		HealthInterval:  time.Hour, // no health loop interference in these tests
		PoolAcquireWait: 2 * time.Second,
		PoolInitTimeout: 3 * time.Second,
		MethodTimeouts:  mcpclient.MethodTimeouts{Default: 3 * time.Second},
	}
}

type testHarness struct {
	orch     *Orchestrator
	registry *registry.Registry
	super    *supervisor.Supervisor
}

func newHarness(t *testing.T, adapter discovery.CatalogAdapter) *testHarness {
	t.Helper()
	installRoot := t.TempDir()

	engine := discovery.NewEngine([]discovery.CatalogAdapter{adapter}, testWeights(), 5, 3*time.Second)
	inst := installer.New(installRoot, map[installer.Method]installer.Strategy{installer.MethodPackageManager: fakeStrategy{}})
	sup := supervisor.New(testSupervisorConfig(), nil, nil)
	reg := registry.New()
	bus := events.NewBus()

	cfg := Config{
		DiscoverDeadline: 3 * time.Second,
		InstallDeadline:  5 * time.Second,
		VerifyDeadline:   5 * time.Second,
		RegisterDeadline: 5 * time.Second,
	}

	requestBuilder := func(c discovery.RankedCandidate) installer.Request {
		return installer.Request{Name: c.Name, Version: c.Version, Method: installer.MethodPackageManager}
	}
	specBuilder := func(serverID string, installation installer.Installation, c discovery.RankedCandidate) supervisor.Spec {
		return supervisor.Spec{
			RestartPolicy: supervisor.RestartTemporary,
			HealthCheck:   supervisor.HealthProtocol,
			PoolBaseSize:  1,
		}
	}
	checksFor := func(capability string) []sandbox.CapabilityCheck {
		return []sandbox.CapabilityCheck{{
			Capability:    capability,
			ToolName:      "read_file",
			Arguments:     map[string]interface{}{"path": "/tmp/x"},
			RequiredField: "content",
		}}
	}

	orch := New(cfg, engine, inst, sup, reg, bus, requestBuilder, specBuilder, checksFor, nil, nil)
	return &testHarness{orch: orch, registry: reg, super: sup}
}

func waitForTerminal(t *testing.T, h *testHarness, jobID string, timeout time.Duration) string {
	t.Helper()
	var phase string
	require.Eventually(t, func() bool {
		st, ok := h.orch.JobStatus(jobID)
		if !ok {
			return false
		}
		phase = st.Phase
		return phase == string(PhaseDone) || phase == string(PhaseFailed)
	}, timeout, 20*time.Millisecond)
	return phase
}

func TestAcquireColdStartRegistersCapability(t *testing.T) {
	h := newHarness(t, fakeAdapter{})

	jobID, err := h.orch.Acquire(context.Background(), "filesystem")
	require.NoError(t, err)

	phase := waitForTerminal(t, h, jobID, 10*time.Second)
	require.Equal(t, string(PhaseDone), phase)

	status, ok := h.orch.JobStatus(jobID)
	require.True(t, ok)
	require.Empty(t, status.Error)

	servers := h.registry.CapabilityServers("filesystem")
	require.Len(t, servers, 1)

	t.Cleanup(func() {
		_ = h.super.Stop(context.Background(), servers[0], true, time.Second)
	})
}

func TestAcquireCoalescesDuplicateCapabilityJobs(t *testing.T) {
	h := newHarness(t, fakeAdapter{})

	jobID1, err := h.orch.Acquire(context.Background(), "database")
	require.NoError(t, err)
	jobID2, err := h.orch.Acquire(context.Background(), "database")
	require.NoError(t, err)

	require.Equal(t, jobID1, jobID2, "a second trigger for the same capability should coalesce onto the first job")

	phase := waitForTerminal(t, h, jobID1, 10*time.Second)
	require.Equal(t, string(PhaseDone), phase)

	servers := h.registry.CapabilityServers("database")
	require.Len(t, servers, 1, "the capability must be registered exactly once")

	t.Cleanup(func() {
		_ = h.super.Stop(context.Background(), servers[0], true, time.Second)
	})
}

func TestAcquireFailsWhenDiscoveryReturnsNoCandidates(t *testing.T) {
	h := newHarness(t, fakeAdapter{empty: true})

	jobID, err := h.orch.Acquire(context.Background(), "nothing-available")
	require.NoError(t, err)

	phase := waitForTerminal(t, h, jobID, 5*time.Second)
	require.Equal(t, string(PhaseFailed), phase)

	status, ok := h.orch.JobStatus(jobID)
	require.True(t, ok)
	require.NotEmpty(t, status.Error)

	require.Empty(t, h.registry.CapabilityServers("nothing-available"))
}

func TestAcquireFailsVerificationWhenCapabilityProbeFieldMissing(t *testing.T) {
	h := newHarness(t, fakeAdapter{})
	// Require a field the fake server's tools/call response never sets.
	h.orch.checksFor = func(capability string) []sandbox.CapabilityCheck {
		return []sandbox.CapabilityCheck{{
			Capability:    capability,
			ToolName:      "read_file",
			Arguments:     map[string]interface{}{"path": "/tmp/x"},
			RequiredField: "definitely_absent",
		}}
	}

	jobID, err := h.orch.Acquire(context.Background(), "broken")
	require.NoError(t, err)

	phase := waitForTerminal(t, h, jobID, 10*time.Second)
	require.Equal(t, string(PhaseFailed), phase)

	status, ok := h.orch.JobStatus(jobID)
	require.True(t, ok)
	require.NotEmpty(t, status.Error)
	require.Empty(t, h.registry.CapabilityServers("broken"), "a failed verification must never become routable")
}

func TestAcquireFailsWhenAllCandidatesRejectedByPolicy(t *testing.T) {
	h := newHarness(t, fakeAdapter{})
	h.orch.candidateAllowed = func(discovery.RankedCandidate) bool { return false }

	jobID, err := h.orch.Acquire(context.Background(), "denied")
	require.NoError(t, err)

	phase := waitForTerminal(t, h, jobID, 10*time.Second)
	require.Equal(t, string(PhaseFailed), phase)

	status, ok := h.orch.JobStatus(jobID)
	require.True(t, ok)
	require.Contains(t, status.Error, "policy")
	require.Empty(t, h.registry.CapabilityServers("denied"))
}
