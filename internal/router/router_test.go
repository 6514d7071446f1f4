package router

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"musterd/internal/errkind"
	"musterd/internal/jsonrpc"
	"musterd/internal/mcpclient"
	"musterd/internal/resilience"
	"musterd/internal/transport"

	"github.com/stretchr/testify/require"
)

// toolServer answers initialize/tools/list/tools/call; tools/call fails
// the first failCount times then succeeds, for breaker/retry exercises.
type toolServer struct {
	tr        transport.Transport
	failCount int32
	calls     int32
}

func newToolServer(t *testing.T, tr transport.Transport, failCount int32) *toolServer {
	require.NoError(t, tr.Open(context.Background()))
	ts := &toolServer{tr: tr, failCount: failCount}
	go ts.run()
	return ts
}

func (ts *toolServer) run() {
	ctx := context.Background()
	for {
		msg, err := ts.tr.Receive(ctx)
		if err != nil {
			return
		}
		res, perr := jsonrpc.Parse(msg)
		if perr != nil {
			continue
		}
		req, ok := res.Single.(*jsonrpc.Request)
		if !ok {
			continue
		}
		var resp *jsonrpc.Response
		switch req.Method {
		case mcpclient.MethodInitialize:
			resp = &jsonrpc.Response{JSONRPC: jsonrpc.Version, ID: req.ID, Result: json.RawMessage(`{"serverName":"t","serverVersion":"1"}`)}
		case mcpclient.MethodToolsList:
			resp = &jsonrpc.Response{JSONRPC: jsonrpc.Version, ID: req.ID, Result: json.RawMessage(`{"tools":[{"name":"echo"}]}`)}
		case mcpclient.MethodToolsCall:
			n := atomic.AddInt32(&ts.calls, 1)
			if n <= ts.failCount {
				resp = jsonrpc.ErrorResponse(req.ID, jsonrpc.CodeTransportError, "boom")
			} else {
				resp = &jsonrpc.Response{JSONRPC: jsonrpc.Version, ID: req.ID, Result: json.RawMessage(`{"ok":true}`)}
			}
		default:
			resp = jsonrpc.ErrorResponse(req.ID, jsonrpc.CodeMethodNotFound, "unknown")
		}
		encoded, _ := jsonrpc.Encode(resp)
		_ = ts.tr.Send(ctx, encoded)
	}
}

func pipedPair() (client *transport.Stdio, server *transport.Stdio) {
	sr, cw := io.Pipe()
	cr, sw := io.Pipe()
	return transport.NewStdio(cw, cr), transport.NewStdio(sw, sr)
}

func newConnectedClient(t *testing.T, serverID string, failCount int32) *mcpclient.Client {
	clientTr, serverTr := pipedPair()
	newToolServer(t, serverTr, failCount)
	c := mcpclient.New(serverID, clientTr, mcpclient.MethodTimeouts{Default: 2 * time.Second})
	require.NoError(t, c.Initialize(context.Background(), mcpclient.ClientCapabilities{Name: "test"}, time.Second))
	return c
}

type fakeRegistry struct {
	mu       sync.Mutex
	bindings map[string][]string
}

func (f *fakeRegistry) CapabilityServers(capability string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.bindings[capability]...)
}

type fakePoolProvider struct {
	mu      sync.Mutex
	clients map[string]*mcpclient.Client
}

func (f *fakePoolProvider) Acquire(ctx context.Context, serverID string) (*mcpclient.Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.clients[serverID]
	if !ok {
		return nil, context.DeadlineExceeded
	}
	return c, nil
}

func (f *fakePoolProvider) Release(serverID string, client *mcpclient.Client) {}

func newTestRouter(t *testing.T, bindings map[string][]string, clients map[string]*mcpclient.Client, maxAttempts int, failureThreshold int) *Router {
	reg := &fakeRegistry{bindings: bindings}
	pool := &fakePoolProvider{clients: clients}
	breakers := resilience.NewBreakerManager(resilience.BreakerSettings{FailureThreshold: failureThreshold, SuccessThreshold: 1, OpenTimeout: time.Minute}, nil)
	limiter := resilience.NewRateLimiter(resilience.RateLimitSettings{})
	retry := resilience.NewRetryPolicy(maxAttempts, time.Millisecond, 10*time.Millisecond, 2.0, 0)
	return New(reg, pool, breakers, limiter, retry, nil)
}

func TestRouteReturnsCapabilityUnavailableWhenUnbound(t *testing.T) {
	r := newTestRouter(t, map[string][]string{}, map[string]*mcpclient.Client{}, 1, 3)
	_, err := r.Route(context.Background(), Task{Capability: "fetch", ToolName: "echo"})
	require.Error(t, err)
	kind, ok := errkind.KindOf(err)
	require.True(t, ok)
	require.Equal(t, errkind.CapabilityUnavailable, kind)
}

func TestRouteSucceedsAgainstBoundServer(t *testing.T) {
	c := newConnectedClient(t, "srv-1", 0)
	r := newTestRouter(t, map[string][]string{"fetch": {"srv-1"}}, map[string]*mcpclient.Client{"srv-1": c}, 1, 3)

	result, err := r.Route(context.Background(), Task{Capability: "fetch", ToolName: "echo"})
	require.NoError(t, err)
	require.Contains(t, string(result), "ok")
}

func TestRouteRetriesTransientFailureThenSucceeds(t *testing.T) {
	c := newConnectedClient(t, "srv-1", 1) // fails once, succeeds after
	r := newTestRouter(t, map[string][]string{"fetch": {"srv-1"}}, map[string]*mcpclient.Client{"srv-1": c}, 3, 5)

	result, err := r.Route(context.Background(), Task{Capability: "fetch", ToolName: "echo"})
	require.NoError(t, err)
	require.Contains(t, string(result), "ok")
}

func TestRouteExcludesServerWithOpenBreaker(t *testing.T) {
	c := newConnectedClient(t, "srv-1", 10) // always fails
	r := newTestRouter(t, map[string][]string{"fetch": {"srv-1"}}, map[string]*mcpclient.Client{"srv-1": c}, 1, 1)

	_, err := r.Route(context.Background(), Task{Capability: "fetch", ToolName: "echo"})
	require.Error(t, err) // trips the breaker

	_, err = r.Route(context.Background(), Task{Capability: "fetch", ToolName: "echo"})
	require.Error(t, err)
	kind, ok := errkind.KindOf(err)
	require.True(t, ok)
	require.Equal(t, errkind.CapabilityUnavailable, kind)
}

func TestRouteTracksSuccessRate(t *testing.T) {
	c := newConnectedClient(t, "srv-1", 0)
	r := newTestRouter(t, map[string][]string{"fetch": {"srv-1"}}, map[string]*mcpclient.Client{"srv-1": c}, 1, 5)
	require.Equal(t, 1.0, r.SuccessRate(), "no history yet defaults to 1.0")

	_, err := r.Route(context.Background(), Task{Capability: "fetch", ToolName: "echo"})
	require.NoError(t, err)
	require.Equal(t, 1.0, r.SuccessRate())

	failing := newConnectedClient(t, "srv-2", 10)
	r2 := newTestRouter(t, map[string][]string{"slow": {"srv-2"}}, map[string]*mcpclient.Client{"srv-2": failing}, 1, 10)
	_, err = r2.Route(context.Background(), Task{Capability: "slow", ToolName: "echo"})
	require.Error(t, err)
	require.Equal(t, 0.0, r2.SuccessRate())
}
