package mcpclient

import (
	"testing"
	"time"

	"musterd/internal/errkind"
	"musterd/internal/jsonrpc"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPendingTableResolveDeliversResult(t *testing.T) {
	pt := newPendingTable()
	id := jsonrpc.NewIntID(1)
	entry, ok := pt.insert(id, "tools/call", time.Now().Add(time.Second), 1)
	require.True(t, ok)

	pt.resolve(id, []byte(`{"ok":true}`), nil)

	out := <-entry.waiter
	require.NoError(t, out.err)
	assert.JSONEq(t, `{"ok":true}`, string(out.result))
	assert.Equal(t, 0, pt.len())
}

func TestPendingTableResolveWithRPCError(t *testing.T) {
	pt := newPendingTable()
	id := jsonrpc.NewIntID(2)
	entry, _ := pt.insert(id, "tools/call", time.Now().Add(time.Second), 1)

	pt.resolve(id, nil, &jsonrpc.Error{Code: jsonrpc.CodeToolNotFound, Message: "no such tool"})

	out := <-entry.waiter
	require.Error(t, out.err)
	kind, ok := errkind.KindOf(out.err)
	require.True(t, ok)
	assert.Equal(t, errkind.ToolNotFound, kind)
}

func TestPendingTableInsertRejectsDuplicateID(t *testing.T) {
	pt := newPendingTable()
	id := jsonrpc.NewIntID(3)
	_, ok := pt.insert(id, "m", time.Now().Add(time.Second), 1)
	require.True(t, ok)

	_, ok = pt.insert(id, "m", time.Now().Add(time.Second), 1)
	assert.False(t, ok)
}

func TestPendingTableExpireDeliversTimeout(t *testing.T) {
	pt := newPendingTable()
	id := jsonrpc.NewIntID(4)
	entry, _ := pt.insert(id, "m", time.Now(), 1)

	pt.expire(id)
	out := <-entry.waiter
	kind, ok := errkind.KindOf(out.err)
	require.True(t, ok)
	assert.Equal(t, errkind.Timeout, kind)
	assert.Equal(t, 0, pt.len())
}

func TestPendingTableExpireIsIdempotent(t *testing.T) {
	pt := newPendingTable()
	id := jsonrpc.NewIntID(5)
	pt.insert(id, "m", time.Now(), 1)

	pt.expire(id)
	assert.NotPanics(t, func() { pt.expire(id) })
}

func TestPendingTableCancelDeliversError(t *testing.T) {
	pt := newPendingTable()
	id := jsonrpc.NewIntID(6)
	entry, _ := pt.insert(id, "m", time.Now().Add(time.Second), 1)

	ok := pt.cancel(id)
	require.True(t, ok)
	out := <-entry.waiter
	assert.ErrorIs(t, out.err, errCancelled)
}

func TestPendingTableCancelOfUnknownIDReturnsFalse(t *testing.T) {
	pt := newPendingTable()
	assert.False(t, pt.cancel(jsonrpc.NewIntID(99)))
}

func TestPendingTableFailAllEmptiesTableAndDeliversToEveryWaiter(t *testing.T) {
	pt := newPendingTable()
	e1, _ := pt.insert(jsonrpc.NewIntID(1), "m", time.Now().Add(time.Second), 1)
	e2, _ := pt.insert(jsonrpc.NewIntID(2), "m", time.Now().Add(time.Second), 1)

	pt.failAll(assert.AnError)

	for _, e := range []*pendingEntry{e1, e2} {
		out := <-e.waiter
		kind, ok := errkind.KindOf(out.err)
		require.True(t, ok)
		assert.Equal(t, errkind.TransportError, kind)
	}
	assert.Equal(t, 0, pt.len())
}

func TestPendingTableResolveOfUnknownIDIsNoop(t *testing.T) {
	pt := newPendingTable()
	assert.NotPanics(t, func() {
		pt.resolve(jsonrpc.NewIntID(42), []byte(`{}`), nil)
	})
}
