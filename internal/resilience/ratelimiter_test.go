package resilience

import (
	"testing"
	"time"

	"musterd/internal/errkind"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiterAllowsWithinBudget(t *testing.T) {
	rl := NewRateLimiter(RateLimitSettings{PerInterval: 3, Interval: time.Second})
	for i := 0; i < 3; i++ {
		require.NoError(t, rl.Allow("srv-1", "tools/call"))
	}
}

func TestRateLimiterRejectsOverBudgetWithoutBlocking(t *testing.T) {
	rl := NewRateLimiter(RateLimitSettings{PerInterval: 2, Interval: time.Minute})
	require.NoError(t, rl.Allow("srv-1", "tools/call"))
	require.NoError(t, rl.Allow("srv-1", "tools/call"))

	start := time.Now()
	err := rl.Allow("srv-1", "tools/call")
	elapsed := time.Since(start)

	require.Error(t, err)
	kind, ok := errkind.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, errkind.RateLimited, kind)
	assert.Less(t, elapsed, 50*time.Millisecond)
}

func TestRateLimiterIsolatedPerServerAndMethod(t *testing.T) {
	rl := NewRateLimiter(RateLimitSettings{PerInterval: 1, Interval: time.Minute})
	require.NoError(t, rl.Allow("srv-1", "tools/call"))
	require.Error(t, rl.Allow("srv-1", "tools/call"))

	require.NoError(t, rl.Allow("srv-1", "resources/read"))
	require.NoError(t, rl.Allow("srv-2", "tools/call"))
}

func TestRateLimiterDisabledWhenUnconfigured(t *testing.T) {
	rl := NewRateLimiter(RateLimitSettings{})
	for i := 0; i < 100; i++ {
		require.NoError(t, rl.Allow("srv-1", "tools/call"))
	}
}

func TestRateLimiterHonorsRetryAfterHint(t *testing.T) {
	rl := NewRateLimiter(RateLimitSettings{PerInterval: 100, Interval: time.Minute})
	rl.NoteRetryAfter("srv-1", "tools/call", 50*time.Millisecond)

	err := rl.Allow("srv-1", "tools/call")
	require.Error(t, err)

	time.Sleep(60 * time.Millisecond)
	require.NoError(t, rl.Allow("srv-1", "tools/call"))
}
