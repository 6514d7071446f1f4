package mcpclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"musterd/internal/errkind"
	"musterd/internal/jsonrpc"
	"musterd/internal/transport"
	"musterd/pkg/logging"
)

var errCancelled = errors.New("mcpclient: request cancelled by caller")

// DisconnectHandler is invoked when a ready session drops, so the
// Supervisor can apply its restart policy (spec §4.4).
type DisconnectHandler func(cause error)

// Client owns one Transport and one PendingRequest table for a single
// external server (spec §4.4). The dispatch loop is single-threaded:
// requests are sent in allocation order, responses are demultiplexed by id.
type Client struct {
	serverID string
	tr       transport.Transport
	ids      *jsonrpc.IDGenerator
	pending  *pendingTable
	timeouts MethodTimeouts

	mu    sync.RWMutex
	state SessionState

	onDisconnect DisconnectHandler

	tools []ToolDescriptor

	stopDispatch chan struct{}
	dispatchDone chan struct{}
}

// New creates a Client bound to tr. Call Initialize before issuing any
// other request.
func New(serverID string, tr transport.Transport, timeouts MethodTimeouts) *Client {
	return &Client{
		serverID:     serverID,
		tr:           tr,
		ids:          jsonrpc.NewIDGenerator(),
		pending:      newPendingTable(),
		timeouts:     timeouts,
		state:        StateDisconnected,
		stopDispatch: make(chan struct{}),
		dispatchDone: make(chan struct{}),
	}
}

// OnDisconnect registers the callback fired when a ready session drops.
func (c *Client) OnDisconnect(h DisconnectHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onDisconnect = h
}

// State returns the current session state.
func (c *Client) State() SessionState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Client) setState(s SessionState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Tools returns the tool descriptors learned at the last tools/list.
func (c *Client) Tools() []ToolDescriptor {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]ToolDescriptor(nil), c.tools...)
}

// Initialize opens the transport, performs the initialize handshake, and
// fetches tools/list, transitioning disconnected -> connecting ->
// initializing -> ready. On any failure it aborts to closed (spec §4.4).
func (c *Client) Initialize(ctx context.Context, caps ClientCapabilities, initTimeout time.Duration) error {
	c.setState(StateConnecting)

	if err := c.tr.Open(ctx); err != nil {
		c.setState(StateClosed)
		return errkind.New(errkind.TransportError, "mcpclient", err)
	}

	go c.dispatchLoop()

	c.setState(StateInitializing)

	initCtx, cancel := context.WithTimeout(ctx, initTimeout)
	defer cancel()

	params, _ := json.Marshal(caps)
	if _, err := c.call(initCtx, MethodInitialize, params); err != nil {
		c.abortToClosed(err)
		return err
	}

	listResult, err := c.call(initCtx, MethodToolsList, nil)
	if err != nil {
		c.abortToClosed(err)
		return err
	}
	var tl ToolsListResult
	if err := json.Unmarshal(listResult, &tl); err == nil {
		tools := make([]ToolDescriptor, 0, len(tl.Tools))
		for _, t := range tl.Tools {
			tools = append(tools, ToolDescriptor{ServerID: c.serverID, ToolName: t.Name, InputSchema: t.InputSchema})
		}
		c.mu.Lock()
		c.tools = tools
		c.mu.Unlock()
	}

	c.setState(StateReady)
	return nil
}

func (c *Client) abortToClosed(cause error) {
	c.setState(StateClosed)
	_ = c.tr.Close()
}

// Call issues a request and blocks for its terminal outcome (spec §4.4:
// "allocate id; insert PendingRequest ...; deliver to waiter").
func (c *Client) Call(ctx context.Context, method string, params json.RawMessage) (json.RawMessage, error) {
	if c.State() != StateReady && method != MethodInitialize && method != MethodToolsList {
		return nil, errkind.New(errkind.InternalError, "mcpclient", fmt.Errorf("session not ready (state=%s)", c.State()))
	}
	return c.call(ctx, method, params)
}

func (c *Client) call(ctx context.Context, method string, params json.RawMessage) (json.RawMessage, error) {
	id := c.ids.Next()
	deadline := time.Now().Add(c.timeouts.For(method))
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}

	entry, ok := c.pending.insert(id, method, deadline, 1)
	if !ok {
		return nil, errkind.New(errkind.InternalError, "mcpclient", fmt.Errorf("duplicate request id %s", id.String()))
	}

	req := &jsonrpc.Request{JSONRPC: jsonrpc.Version, ID: id, Method: method, Params: params}
	encoded, err := jsonrpc.Encode(req)
	if err != nil {
		c.pending.cancel(id)
		return nil, errkind.New(errkind.InternalError, "mcpclient", err)
	}

	if err := c.tr.Send(ctx, encoded); err != nil {
		c.pending.cancel(id)
		return nil, errkind.New(errkind.TransportError, "mcpclient", err)
	}

	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()

	select {
	case res := <-entry.waiter:
		return res.result, res.err
	case <-timer.C:
		c.pending.expire(id)
		return nil, errkind.New(errkind.Timeout, "mcpclient", fmt.Errorf("method %s exceeded its deadline", method))
	case <-ctx.Done():
		c.pending.cancel(id)
		return nil, ctx.Err()
	}
}

// Cancel cancels a pending request by id, best-effort notifying the server.
func (c *Client) Cancel(ctx context.Context, id jsonrpc.ID) {
	if c.pending.cancel(id) {
		params, _ := json.Marshal(map[string]interface{}{"id": id.String()})
		_ = c.Notify(ctx, NotificationCancel, params)
	}
}

// Notify sends a fire-and-forget notification.
func (c *Client) Notify(ctx context.Context, method string, params json.RawMessage) error {
	notif := &jsonrpc.Notification{JSONRPC: jsonrpc.Version, Method: method, Params: params}
	encoded, err := jsonrpc.Encode(notif)
	if err != nil {
		return errkind.New(errkind.InternalError, "mcpclient", err)
	}
	if err := c.tr.Send(ctx, encoded); err != nil {
		return errkind.New(errkind.TransportError, "mcpclient", err)
	}
	return nil
}

// CallTool is a convenience wrapper around tools/call.
func (c *Client) CallTool(ctx context.Context, name string, arguments map[string]interface{}) (json.RawMessage, error) {
	params, err := json.Marshal(map[string]interface{}{"name": name, "arguments": arguments})
	if err != nil {
		return nil, errkind.New(errkind.InternalError, "mcpclient", err)
	}
	return c.Call(ctx, MethodToolsCall, params)
}

func (c *Client) dispatchLoop() {
	defer close(c.dispatchDone)
	ctx := context.Background()
	for {
		select {
		case <-c.stopDispatch:
			return
		default:
		}

		msg, err := c.tr.Receive(ctx)
		if err != nil {
			c.handleDisconnect(err)
			return
		}

		res, parseErr := jsonrpc.Parse(msg)
		if parseErr != nil {
			logging.Warn("mcpclient", "server %s sent an unparsable message: %v", c.serverID, parseErr)
			continue
		}
		c.dispatchOne(res)
	}
}

func (c *Client) dispatchOne(res jsonrpc.ParseResult) {
	if res.Single != nil {
		c.handleEnvelope(res.Single)
		return
	}
	for _, env := range res.Batch {
		c.handleEnvelope(env)
	}
}

func (c *Client) handleEnvelope(env jsonrpc.Envelope) {
	switch msg := env.(type) {
	case *jsonrpc.Response:
		c.pending.resolve(msg.ID, msg.Result, msg.Error)
	case *jsonrpc.Notification:
		logging.Debug("mcpclient", "server %s notification: %s", c.serverID, msg.Method)
	case *jsonrpc.Request:
		logging.Debug("mcpclient", "server %s sent a server-initiated request %s; unsupported, ignoring", c.serverID, msg.Method)
	}
}

func (c *Client) handleDisconnect(cause error) {
	wasReady := c.State() == StateReady
	c.setState(StateClosed)
	c.pending.failAll(cause)

	if wasReady {
		c.mu.RLock()
		handler := c.onDisconnect
		c.mu.RUnlock()
		if handler != nil {
			handler(cause)
		}
	}
}

// Close gracefully tears the session down (spec §4.4: ready -> closing ->
// closed). Idempotent.
func (c *Client) Close(ctx context.Context) error {
	if c.State() == StateClosed {
		return nil
	}
	c.setState(StateClosing)
	select {
	case <-c.stopDispatch:
	default:
		close(c.stopDispatch)
	}
	err := c.tr.Close()
	c.pending.failAll(fmt.Errorf("session closed"))
	c.setState(StateClosed)
	return err
}

// PendingCount exposes the size of the correlation table, used to verify
// spec §8 property 1 ("the PendingRequest table is empty in the terminal
// state").
func (c *Client) PendingCount() int {
	return c.pending.len()
}
