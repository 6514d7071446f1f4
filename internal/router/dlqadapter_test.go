package router

import (
	"context"
	"testing"
	"time"

	"musterd/internal/mcpclient"
	"musterd/internal/resilience"

	"github.com/stretchr/testify/require"
)

func TestDLQAdapterRetryEntryReplaysThroughRouterAndPurges(t *testing.T) {
	// Fails once through the DLQ-opted-in call (exhausting the single
	// retry attempt), then succeeds on the adapter's manual retry.
	c := newConnectedClient(t, "srv-1", 1)
	dlq := resilience.NewDLQ(10, "")
	t.Cleanup(dlq.Close)

	r := newTestRouterWithDLQ(t, map[string][]string{"fetch": {"srv-1"}}, map[string]*mcpclient.Client{"srv-1": c}, 1, 3, dlq)
	adapter := NewDLQAdapter(dlq, r)

	_, err := r.Route(context.Background(), Task{Capability: "fetch", ToolName: "echo", DLQOptIn: true})
	require.Error(t, err)
	require.Len(t, adapter.ListEntries(""), 1)

	entryID := adapter.ListEntries("")[0].EntryID
	require.NoError(t, adapter.RetryEntry(context.Background(), entryID))
	require.Empty(t, adapter.ListEntries(""), "a successful retry must remove the entry")
}

func TestDLQAdapterPurgeEntryRemovesWithoutRetry(t *testing.T) {
	dlq := resilience.NewDLQ(10, "")
	t.Cleanup(dlq.Close)
	r := newTestRouterWithDLQ(t, map[string][]string{}, map[string]*mcpclient.Client{}, 1, 3, dlq)
	adapter := NewDLQAdapter(dlq, r)

	entry := dlq.Add(resilience.DLQEntry{ServerID: "srv-1", Capability: "fetch", Method: "echo"})
	require.NoError(t, adapter.PurgeEntry(entry.EntryID))
	require.Empty(t, adapter.ListEntries(""))

	require.Error(t, adapter.PurgeEntry("no-such-entry"))
}

func newTestRouterWithDLQ(t *testing.T, bindings map[string][]string, clients map[string]*mcpclient.Client, maxAttempts int, failureThreshold int, dlq *resilience.DLQ) *Router {
	reg := &fakeRegistry{bindings: bindings}
	pool := &fakePoolProvider{clients: clients}
	breakers := resilience.NewBreakerManager(resilience.BreakerSettings{FailureThreshold: failureThreshold, SuccessThreshold: 1, OpenTimeout: time.Minute}, nil)
	limiter := resilience.NewRateLimiter(resilience.RateLimitSettings{})
	retry := resilience.NewRetryPolicy(maxAttempts, time.Millisecond, 10*time.Millisecond, 2.0, 0)
	return New(reg, pool, breakers, limiter, retry, dlq)
}
