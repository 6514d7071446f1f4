package sandbox

import (
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"musterd/internal/jsonrpc"
	"musterd/internal/mcpclient"
	"musterd/internal/transport"

	"github.com/stretchr/testify/require"
)

// candidateServer plays the role of a freshly installed MCP server: it
// answers the protocol handshake and capability probes honestly, and
// classifies malformed/unknown-method frames the way a compliant server
// must for the negative-tests stage.
type candidateServer struct {
	tr          transport.Transport
	toolsResult string
	callResult  string
	failCallTool bool
}

func newCandidateServer(t *testing.T, tr transport.Transport) *candidateServer {
	require.NoError(t, tr.Open(context.Background()))
	cs := &candidateServer{
		tr:          tr,
		toolsResult: `{"tools":[{"name":"fetch"}]}`,
		callResult:  `{"status":"ok"}`,
	}
	go cs.run()
	return cs
}

func (cs *candidateServer) run() {
	ctx := context.Background()
	for {
		msg, err := cs.tr.Receive(ctx)
		if err != nil {
			return
		}
		res, perr := jsonrpc.Parse(msg)
		if perr != nil {
			resp := jsonrpc.ErrorResponse(jsonrpc.ID{}, jsonrpc.CodeParseError, "parse error")
			encoded, _ := jsonrpc.Encode(resp)
			_ = cs.tr.Send(ctx, encoded)
			continue
		}
		req, ok := res.Single.(*jsonrpc.Request)
		if !ok {
			continue
		}

		switch req.Method {
		case mcpclient.MethodInitialize:
			cs.reply(ctx, req.ID, `{"serverName":"candidate","serverVersion":"1.0"}`, 0)
		case mcpclient.MethodToolsList:
			cs.reply(ctx, req.ID, cs.toolsResult, 0)
		case mcpclient.MethodToolsCall:
			if cs.failCallTool {
				cs.reply(ctx, req.ID, "", jsonrpc.CodeInvalidParams)
			} else {
				cs.reply(ctx, req.ID, cs.callResult, 0)
			}
		default:
			cs.reply(ctx, req.ID, "", jsonrpc.CodeMethodNotFound)
		}
	}
}

func (cs *candidateServer) reply(ctx context.Context, id jsonrpc.ID, result string, errCode int) {
	var resp *jsonrpc.Response
	if errCode != 0 {
		resp = jsonrpc.ErrorResponse(id, errCode, "error")
	} else {
		resp = &jsonrpc.Response{JSONRPC: jsonrpc.Version, ID: id, Result: json.RawMessage(result)}
	}
	encoded, _ := jsonrpc.Encode(resp)
	_ = cs.tr.Send(ctx, encoded)
}

func pipedPair() (client *transport.Stdio, server *transport.Stdio) {
	serverReader, clientWriter := io.Pipe()
	clientReader, serverWriter := io.Pipe()
	client = transport.NewStdio(clientWriter, clientReader)
	server = transport.NewStdio(serverWriter, serverReader)
	return
}

func testLimits() Limits {
	return Limits{MemoryMB: 256, CPUPercent: 50, WallClock: 2 * time.Second, SampleEvery: 0}
}

func launchOver(clientTr transport.Transport) Launch {
	return func(ctx context.Context, installDir string, allowNetwork bool) (transport.Transport, int, func(), error) {
		return clientTr, 0, func() {}, nil
	}
}

func TestVerifyPassesAllStagesForCompliantCandidate(t *testing.T) {
	clientTr, serverTr := pipedPair()
	newCandidateServer(t, serverTr)

	v := New(launchOver(clientTr), testLimits())
	checks := []CapabilityCheck{
		{Capability: "fetch", ToolName: "fetch", Arguments: map[string]interface{}{"url": "https://example.test"}, RequiredField: "status"},
	}
	verdict, err := v.Verify(context.Background(), "/tmp/candidate", checks, false)
	require.NoError(t, err)
	require.True(t, verdict.Pass)
	require.Empty(t, verdict.FailedStage)
	require.Contains(t, verdict.CapabilityMap, "fetch")
}

func TestVerifyFailsCapabilityProbeWhenToolErrors(t *testing.T) {
	clientTr, serverTr := pipedPair()
	cs := newCandidateServer(t, serverTr)
	cs.failCallTool = true

	v := New(launchOver(clientTr), testLimits())
	checks := []CapabilityCheck{
		{Capability: "fetch", ToolName: "fetch", Arguments: nil},
	}
	verdict, err := v.Verify(context.Background(), "/tmp/candidate", checks, false)
	require.NoError(t, err)
	require.False(t, verdict.Pass)
	require.Equal(t, StageCapabilityProbe, verdict.FailedStage)
}

func TestVerifyFailsCapabilityProbeOnMissingRequiredField(t *testing.T) {
	clientTr, serverTr := pipedPair()
	cs := newCandidateServer(t, serverTr)
	cs.callResult = `{"unrelated":true}`

	v := New(launchOver(clientTr), testLimits())
	checks := []CapabilityCheck{
		{Capability: "fetch", ToolName: "fetch", RequiredField: "status"},
	}
	verdict, err := v.Verify(context.Background(), "/tmp/candidate", checks, false)
	require.NoError(t, err)
	require.False(t, verdict.Pass)
	require.Equal(t, StageCapabilityProbe, verdict.FailedStage)
}

func TestVerifyRunsNegativeTestsAfterCapabilityProbe(t *testing.T) {
	clientTr, serverTr := pipedPair()
	newCandidateServer(t, serverTr)

	v := New(launchOver(clientTr), testLimits())
	verdict, err := v.Verify(context.Background(), "/tmp/candidate", nil, false)
	require.NoError(t, err)
	require.True(t, verdict.Pass)
}

func TestVerifyFailsProtocolComplianceWhenHandshakeNeverReplies(t *testing.T) {
	clientTr, serverTr := pipedPair()
	require.NoError(t, serverTr.Open(context.Background())) // never replies

	v := New(launchOver(clientTr), Limits{WallClock: 100 * time.Millisecond})
	verdict, err := v.Verify(context.Background(), "/tmp/candidate", nil, false)
	require.NoError(t, err)
	require.False(t, verdict.Pass)
	require.Equal(t, StageProtocolCompliance, verdict.FailedStage)
}

func TestVerifyPropagatesLaunchFailure(t *testing.T) {
	boom := func(ctx context.Context, installDir string, allowNetwork bool) (transport.Transport, int, func(), error) {
		return nil, 0, nil, context.DeadlineExceeded
	}
	v := New(boom, testLimits())
	_, err := v.Verify(context.Background(), "/tmp/candidate", nil, false)
	require.Error(t, err)
}
