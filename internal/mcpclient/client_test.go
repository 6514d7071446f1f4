package mcpclient

import (
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"musterd/internal/errkind"
	"musterd/internal/jsonrpc"
	"musterd/internal/transport"

	"github.com/stretchr/testify/require"
)

// fakeServer drives the other end of a Stdio pipe pair, replying to
// initialize and tools/list with a canned result and echoing tools/call.
type fakeServer struct {
	tr   transport.Transport
	stop chan struct{}
}

func newFakeServer(t *testing.T, tr transport.Transport) *fakeServer {
	require.NoError(t, tr.Open(context.Background()))
	fs := &fakeServer{tr: tr, stop: make(chan struct{})}
	go fs.run()
	return fs
}

func (fs *fakeServer) run() {
	ctx := context.Background()
	for {
		msg, err := fs.tr.Receive(ctx)
		if err != nil {
			return
		}
		res, err := jsonrpc.Parse(msg)
		if err != nil || res.Single == nil {
			continue
		}
		req, ok := res.Single.(*jsonrpc.Request)
		if !ok {
			continue
		}
		var result json.RawMessage
		switch req.Method {
		case MethodInitialize:
			result = json.RawMessage(`{"serverName":"fake","serverVersion":"1.0"}`)
		case MethodToolsList:
			result = json.RawMessage(`{"tools":[{"name":"echo"}]}`)
		case MethodToolsCall:
			result = json.RawMessage(`{"content":"ok"}`)
		default:
			result = json.RawMessage(`{}`)
		}
		resp := &jsonrpc.Response{JSONRPC: jsonrpc.Version, ID: req.ID, Result: result}
		encoded, _ := jsonrpc.Encode(resp)
		_ = fs.tr.Send(ctx, encoded)
	}
}

func pipedStdioPair() (client *transport.Stdio, server *transport.Stdio) {
	serverReader, clientWriter := io.Pipe()
	clientReader, serverWriter := io.Pipe()
	client = transport.NewStdio(clientWriter, clientReader)
	server = transport.NewStdio(serverWriter, serverReader)
	return
}

func defaultTimeouts() MethodTimeouts {
	return MethodTimeouts{Default: 2 * time.Second}
}

func TestClientInitializeReachesReadyAndPopulatesTools(t *testing.T) {
	clientTr, serverTr := pipedStdioPair()
	newFakeServer(t, serverTr)

	c := New("srv-1", clientTr, defaultTimeouts())
	err := c.Initialize(context.Background(), ClientCapabilities{Name: "musterd", Version: "test"}, time.Second)
	require.NoError(t, err)
	require.Equal(t, StateReady, c.State())
	require.Len(t, c.Tools(), 1)
	require.Equal(t, "echo", c.Tools()[0].ToolName)

	require.NoError(t, c.Close(context.Background()))
}

func TestClientCallToolRoundTrips(t *testing.T) {
	clientTr, serverTr := pipedStdioPair()
	newFakeServer(t, serverTr)

	c := New("srv-1", clientTr, defaultTimeouts())
	require.NoError(t, c.Initialize(context.Background(), ClientCapabilities{Name: "musterd"}, time.Second))

	result, err := c.CallTool(context.Background(), "echo", map[string]interface{}{"x": 1})
	require.NoError(t, err)
	require.Contains(t, string(result), `"content":"ok"`)

	require.NoError(t, c.Close(context.Background()))
}

func TestClientCallTimesOutWhenServerNeverReplies(t *testing.T) {
	clientTr, serverTr := pipedStdioPair()
	require.NoError(t, serverTr.Open(context.Background())) // never replies

	c := New("srv-1", clientTr, MethodTimeouts{Default: 30 * time.Millisecond})
	err := c.Initialize(context.Background(), ClientCapabilities{Name: "musterd"}, time.Second)
	require.Error(t, err)
	kind, ok := errkind.KindOf(err)
	require.True(t, ok)
	require.Equal(t, errkind.Timeout, kind)
	require.Equal(t, StateClosed, c.State())
}

func TestClientPendingTableEmptyAfterClose(t *testing.T) {
	clientTr, serverTr := pipedStdioPair()
	newFakeServer(t, serverTr)

	c := New("srv-1", clientTr, defaultTimeouts())
	require.NoError(t, c.Initialize(context.Background(), ClientCapabilities{Name: "musterd"}, time.Second))
	require.Equal(t, 0, c.PendingCount())

	require.NoError(t, c.Close(context.Background()))
	require.Equal(t, 0, c.PendingCount())
	require.Equal(t, StateClosed, c.State())
}

func TestClientDisconnectHandlerFiresOnServerClose(t *testing.T) {
	clientTr, serverTr := pipedStdioPair()
	fs := newFakeServer(t, serverTr)

	c := New("srv-1", clientTr, defaultTimeouts())
	require.NoError(t, c.Initialize(context.Background(), ClientCapabilities{Name: "musterd"}, time.Second))

	fired := make(chan error, 1)
	c.OnDisconnect(func(cause error) { fired <- cause })

	require.NoError(t, fs.tr.Close())

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("disconnect handler never fired")
	}
	require.Equal(t, StateClosed, c.State())
}

func TestClientCallBeforeReadyFails(t *testing.T) {
	clientTr, _ := pipedStdioPair()
	c := New("srv-1", clientTr, defaultTimeouts())

	_, err := c.Call(context.Background(), MethodToolsCall, nil)
	require.Error(t, err)
}

func TestClientCloseIsIdempotent(t *testing.T) {
	clientTr, serverTr := pipedStdioPair()
	newFakeServer(t, serverTr)

	c := New("srv-1", clientTr, defaultTimeouts())
	require.NoError(t, c.Initialize(context.Background(), ClientCapabilities{Name: "musterd"}, time.Second))
	require.NoError(t, c.Close(context.Background()))
	require.NoError(t, c.Close(context.Background()))
}
