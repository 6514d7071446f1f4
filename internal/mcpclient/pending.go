package mcpclient

import (
	"sync"
	"time"

	"musterd/internal/errkind"
	"musterd/internal/jsonrpc"
)

// outcome is the single terminal result delivered to a waiter.
type outcome struct {
	result []byte
	err    error
}

// pendingEntry is one in-flight request (spec §3 PendingRequest).
type pendingEntry struct {
	id       jsonrpc.ID
	method   string
	deadline time.Time
	attempt  int
	waiter   chan outcome
	done     bool // guards against double-delivery
}

// pendingTable owns request correlation for one session. Invariants
// enforced here (spec §8 property 1): request_id unique while pending;
// exactly one terminal delivery per request; removal is idempotent.
type pendingTable struct {
	mu      sync.Mutex
	entries map[string]*pendingEntry
}

func newPendingTable() *pendingTable {
	return &pendingTable{entries: make(map[string]*pendingEntry)}
}

// insert adds a new pending entry. Returns false if the id is already
// outstanding (should never happen with a correct IDGenerator).
func (t *pendingTable) insert(id jsonrpc.ID, method string, deadline time.Time, attempt int) (*pendingEntry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := id.String()
	if _, exists := t.entries[key]; exists {
		return nil, false
	}
	entry := &pendingEntry{id: id, method: method, deadline: deadline, attempt: attempt, waiter: make(chan outcome, 1)}
	t.entries[key] = entry
	return entry, true
}

// resolve delivers a response to the waiter for id, removing the entry.
// Idempotent: resolving an unknown or already-resolved id is a silent no-op
// (the request may have already timed out or been cancelled).
func (t *pendingTable) resolve(id jsonrpc.ID, result []byte, rpcErr *jsonrpc.Error) {
	t.mu.Lock()
	entry, ok := t.entries[id.String()]
	if ok {
		delete(t.entries, id.String())
	}
	t.mu.Unlock()
	if !ok || entry.done {
		return
	}
	entry.done = true

	var err error
	if rpcErr != nil {
		err = errkind.New(classifyRPCCode(rpcErr.Code), "mcpclient", rpcErr)
	}
	entry.waiter <- outcome{result: result, err: err}
}

// expire delivers a timeout outcome and removes the entry, if still
// pending. Idempotent.
func (t *pendingTable) expire(id jsonrpc.ID) {
	t.mu.Lock()
	entry, ok := t.entries[id.String()]
	if ok {
		delete(t.entries, id.String())
	}
	t.mu.Unlock()
	if !ok || entry.done {
		return
	}
	entry.done = true
	entry.waiter <- outcome{err: errkind.New(errkind.Timeout, "mcpclient", nil)}
}

// cancel removes a pending entry on explicit caller cancellation.
// Idempotent.
func (t *pendingTable) cancel(id jsonrpc.ID) bool {
	t.mu.Lock()
	entry, ok := t.entries[id.String()]
	if ok {
		delete(t.entries, id.String())
	}
	t.mu.Unlock()
	if !ok || entry.done {
		return false
	}
	entry.done = true
	entry.waiter <- outcome{err: errkind.New(errkind.InternalError, "mcpclient", errCancelled)}
	return true
}

// failAll delivers a transport_error outcome to every pending entry and
// empties the table, used on disconnect (spec §4.4 reconnect behaviour and
// §8 property 7 graceful shutdown).
func (t *pendingTable) failAll(cause error) {
	t.mu.Lock()
	entries := t.entries
	t.entries = make(map[string]*pendingEntry)
	t.mu.Unlock()

	for _, entry := range entries {
		if entry.done {
			continue
		}
		entry.done = true
		entry.waiter <- outcome{err: errkind.New(errkind.TransportError, "mcpclient", cause)}
	}
}

// len reports the number of pending entries; used in tests asserting the
// table is empty at terminal state (spec §8 property 1).
func (t *pendingTable) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

func classifyRPCCode(code int) errkind.Kind {
	switch code {
	case jsonrpc.CodeParseError:
		return errkind.ParseError
	case jsonrpc.CodeInvalidRequest:
		return errkind.InvalidRequest
	case jsonrpc.CodeMethodNotFound:
		return errkind.MethodNotFound
	case jsonrpc.CodeInvalidParams:
		return errkind.InvalidParams
	case jsonrpc.CodeTransportError:
		return errkind.TransportError
	case jsonrpc.CodeTimeout:
		return errkind.Timeout
	case jsonrpc.CodeResourceNotFound:
		return errkind.InternalError
	case jsonrpc.CodeToolNotFound:
		return errkind.ToolNotFound
	case jsonrpc.CodeInvalidCapabilities:
		return errkind.InvalidParams
	default:
		return errkind.InternalError
	}
}
