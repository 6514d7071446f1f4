package clock

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSchedulerFiresRegisteredTick(t *testing.T) {
	s := New()
	var count atomic.Int32
	require.NoError(t, s.Register("variety", 10*time.Millisecond, func(ctx context.Context) error {
		count.Add(1)
		return nil
	}))

	s.Start(context.Background())
	defer s.Stop()

	require.Eventually(t, func() bool { return count.Load() >= 3 }, time.Second, time.Millisecond)
}

func TestSchedulerSkipsOverlappingTick(t *testing.T) {
	s := New()
	var running atomic.Int32
	var overlapped atomic.Bool
	release := make(chan struct{})

	require.NoError(t, s.Register("health", 5*time.Millisecond, func(ctx context.Context) error {
		if !running.CompareAndSwap(0, 1) {
			overlapped.Store(true)
			return nil
		}
		defer running.Store(0)
		select {
		case <-release:
		case <-time.After(100 * time.Millisecond):
		}
		return nil
	}))

	s.Start(context.Background())
	time.Sleep(50 * time.Millisecond)
	close(release)
	s.Stop()

	require.False(t, overlapped.Load(), "overlapping tick invocation should never happen")
}

func TestSchedulerPauseResume(t *testing.T) {
	s := New()
	var count atomic.Int32
	require.NoError(t, s.Register("cleanup", 5*time.Millisecond, func(ctx context.Context) error {
		count.Add(1)
		return nil
	}))
	s.Start(context.Background())
	defer s.Stop()

	require.NoError(t, s.Pause("cleanup"))
	time.Sleep(20 * time.Millisecond)
	paused := count.Load()
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, paused, count.Load(), "no ticks should fire while paused")

	require.NoError(t, s.Resume("cleanup"))
	require.Eventually(t, func() bool { return count.Load() > paused }, time.Second, time.Millisecond)
}

func TestSchedulerFireNow(t *testing.T) {
	s := New()
	fired := make(chan struct{}, 1)
	require.NoError(t, s.Register("variety", time.Hour, func(ctx context.Context) error {
		select {
		case fired <- struct{}{}:
		default:
		}
		return nil
	}))
	s.Start(context.Background())
	defer s.Stop()

	require.NoError(t, s.FireNow("variety"))
	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("expected FireNow to trigger the handler immediately")
	}
}

func TestSchedulerUnknownTick(t *testing.T) {
	s := New()
	require.Error(t, s.Pause("nope"))
	require.Error(t, s.Resume("nope"))
	require.Error(t, s.FireNow("nope"))
}

func TestRegisterAfterStartFails(t *testing.T) {
	s := New()
	s.Start(context.Background())
	defer s.Stop()
	require.Error(t, s.Register("late", time.Second, func(ctx context.Context) error { return nil }))
}
