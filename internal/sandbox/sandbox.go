package sandbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"musterd/internal/errkind"
	"musterd/internal/jsonrpc"
	"musterd/internal/mcpclient"
	"musterd/internal/resourcemon"
	"musterd/internal/transport"
	"musterd/pkg/logging"
)

// Launch starts the candidate server and returns its Transport, pid, and a
// teardown func; the Sandbox only needs the resulting carrier and pid to
// verify and sample. The implementation the daemon uses is the
// Orchestrator's newSandboxLaunch, an unsupervised spawn in the launch
// spec's working directory and its own process group. That implementation
// applies no filesystem restriction, and when network access is disallowed
// it only sets MUSTERD_NO_NETWORK=1 in the child's environment; nothing
// blocks the network.
type Launch func(ctx context.Context, installDir string, allowNetwork bool) (tr transport.Transport, pid int, teardown func(), err error)

// Verifier runs the four-stage pipeline of spec §4.12 against one freshly
// installed server.
type Verifier struct {
	launch Launch
	limits Limits
}

// New builds a Verifier. launch is how the sandbox starts the candidate
// process; limits.WallClock bounds the whole run and limits.SampleEvery
// sets the resource sampling period. limits.MemoryMB and limits.CPUPercent
// are not enforced.
func New(launch Launch, limits Limits) *Verifier {
	if limits.SampleEvery <= 0 {
		limits.SampleEvery = 200 * time.Millisecond
	}
	return &Verifier{launch: launch, limits: limits}
}

// Verify runs the pipeline. Any stage failure aborts subsequent stages and
// is reported in the returned Verdict (never as an error — a failed
// verification is an expected outcome, not a bug).
func (v *Verifier) Verify(ctx context.Context, installDir string, checks []CapabilityCheck, allowNetwork bool) (Verdict, error) {
	ctx, cancel := context.WithTimeout(ctx, v.limits.WallClock)
	defer cancel()

	tr, pid, teardown, err := v.launch(ctx, installDir, allowNetwork)
	if err != nil {
		return Verdict{}, errkind.New(errkind.VerifyFailed, "sandbox", fmt.Errorf("launching candidate: %w", err))
	}
	defer teardown()

	client := mcpclient.New("sandbox-candidate", tr, mcpclient.MethodTimeouts{Default: 5 * time.Second})
	defer client.Close(context.Background())

	var monitor *resourcemon.Monitor
	if pid > 0 {
		monitor = resourcemon.NewMonitor(pid, v.limits.SampleEvery, 64)
		monitor.Start(nil)
		defer monitor.Stop()
	}
	// samples snapshots the monitor's own ring after Stop() joins its
	// sampling goroutine, rather than accumulating into a slice the
	// goroutine's onSample callback would otherwise write concurrently
	// with this goroutine's reads.
	samples := func() []resourcemon.Sample {
		if monitor == nil {
			return nil
		}
		monitor.Stop()
		return monitor.Recent()
	}

	if verdict, ok := v.stageProtocolCompliance(ctx, client); !ok {
		verdict.Samples = samples()
		return verdict, nil
	}

	capMap, verdict, ok := v.stageCapabilityProbe(ctx, client, checks)
	if !ok {
		verdict.Samples = samples()
		return verdict, nil
	}

	if verdict, ok := v.stageNegativeTests(ctx, tr); !ok {
		verdict.Samples = samples()
		verdict.CapabilityMap = capMap
		return verdict, nil
	}

	finalSamples := samples()
	v.stageBehaviouralScan(finalSamples)

	return Verdict{
		Pass:          true,
		CapabilityMap: capMap,
		Samples:       finalSamples,
	}, nil
}

func (v *Verifier) stageProtocolCompliance(ctx context.Context, client *mcpclient.Client) (Verdict, bool) {
	err := client.Initialize(ctx, mcpclient.ClientCapabilities{Name: "musterd-sandbox", Version: "1"}, 5*time.Second)
	if err != nil {
		return Verdict{Pass: false, FailedStage: StageProtocolCompliance, Reason: err.Error()}, false
	}
	return Verdict{}, true
}

func (v *Verifier) stageCapabilityProbe(ctx context.Context, client *mcpclient.Client, checks []CapabilityCheck) (map[string][]mcpclient.ToolDescriptor, Verdict, bool) {
	capMap := map[string][]mcpclient.ToolDescriptor{}
	for _, t := range client.Tools() {
		capMap[t.ToolName] = append(capMap[t.ToolName], t)
	}

	for _, check := range checks {
		result, err := client.CallTool(ctx, check.ToolName, check.Arguments)
		if err != nil {
			return capMap, Verdict{
				Pass:        false,
				FailedStage: StageCapabilityProbe,
				Reason:      fmt.Sprintf("capability %q: tool %q failed: %v", check.Capability, check.ToolName, err),
			}, false
		}
		if check.RequiredField != "" && !containsField(result, check.RequiredField) {
			return capMap, Verdict{
				Pass:        false,
				FailedStage: StageCapabilityProbe,
				Reason:      fmt.Sprintf("capability %q: response missing expected field %q", check.Capability, check.RequiredField),
			}, false
		}
	}
	return capMap, Verdict{}, true
}

func (v *Verifier) stageNegativeTests(ctx context.Context, tr transport.Transport) (Verdict, bool) {
	malformed := []byte(`{"jsonrpc":"2.0","id":1,"method":}`)
	if err := tr.Send(ctx, malformed); err != nil {
		return Verdict{Pass: false, FailedStage: StageNegativeTests, Reason: fmt.Sprintf("sending malformed request: %v", err)}, false
	}
	resp, err := tr.Receive(ctx)
	if err != nil {
		return Verdict{Pass: false, FailedStage: StageNegativeTests, Reason: fmt.Sprintf("no response to malformed request: %v", err)}, false
	}
	if !hasErrorCode(resp, jsonrpc.CodeParseError) && !hasErrorCode(resp, jsonrpc.CodeInvalidRequest) {
		return Verdict{Pass: false, FailedStage: StageNegativeTests, Reason: "malformed request did not yield a parse/invalid-request error"}, false
	}

	unknown := []byte(`{"jsonrpc":"2.0","id":2,"method":"definitely/not/a/real/method"}`)
	if err := tr.Send(ctx, unknown); err != nil {
		return Verdict{Pass: false, FailedStage: StageNegativeTests, Reason: fmt.Sprintf("sending unknown-method request: %v", err)}, false
	}
	resp2, err := tr.Receive(ctx)
	if err != nil {
		return Verdict{Pass: false, FailedStage: StageNegativeTests, Reason: fmt.Sprintf("no response to unknown method: %v", err)}, false
	}
	if !hasErrorCode(resp2, jsonrpc.CodeMethodNotFound) {
		return Verdict{Pass: false, FailedStage: StageNegativeTests, Reason: "unknown method did not yield method_not_found"}, false
	}

	return Verdict{}, true
}

func (v *Verifier) stageBehaviouralScan(samples []resourcemon.Sample) {
	if len(samples) < 3 {
		return
	}
	last := samples[len(samples)-1]
	if resourcemon.Outlier(samples[:len(samples)-1], last, 3.0) {
		logging.Warn("sandbox", "resource outlier detected in final sample: rss=%d cpu=%.1f", last.RSSBytes, last.CPUPercent)
	}
}

func containsField(raw []byte, field string) bool {
	if len(raw) == 0 {
		return false
	}
	var decoded map[string]json.RawMessage
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return false
	}
	_, ok := decoded[field]
	return ok
}

func hasErrorCode(raw []byte, code int) bool {
	res, err := jsonrpc.Parse(raw)
	if err != nil || res.Single == nil {
		return false
	}
	resp, ok := res.Single.(*jsonrpc.Response)
	if !ok || resp.Error == nil {
		return false
	}
	return resp.Error.Code == code
}
