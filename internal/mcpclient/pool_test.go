package mcpclient

import (
	"context"
	"testing"
	"time"

	"musterd/internal/errkind"
	"musterd/internal/transport"

	"github.com/stretchr/testify/require"
)

func poolFactory(t *testing.T) (Factory, func()) {
	var servers []*fakeServer
	factory := func() (transport.Transport, error) {
		clientTr, serverTr := pipedStdioPair()
		servers = append(servers, newFakeServer(t, serverTr))
		return clientTr, nil
	}
	cleanup := func() {
		for _, s := range servers {
			_ = s.tr.Close()
		}
	}
	return factory, cleanup
}

func testPoolConfig() PoolConfig {
	return PoolConfig{
		BaseSize:    2,
		MaxOverflow: 1,
		AcquireWait: 100 * time.Millisecond,
		InitTimeout: time.Second,
		Capabilities: ClientCapabilities{Name: "musterd"},
		Timeouts:     defaultTimeouts(),
	}
}

func TestPoolAcquireWithinBaseSize(t *testing.T) {
	factory, cleanup := poolFactory(t)
	defer cleanup()

	p := NewPool("srv-1", factory, testPoolConfig())
	defer p.Close()

	c1, err := p.Acquire(context.Background())
	require.NoError(t, err)
	c2, err := p.Acquire(context.Background())
	require.NoError(t, err)
	require.NotSame(t, c1, c2)

	idle, out, overflow := p.Size()
	require.Equal(t, 0, idle)
	require.Equal(t, 2, out)
	require.Equal(t, 0, overflow)
}

func TestPoolAcquireUsesOverflowThenExhausts(t *testing.T) {
	factory, cleanup := poolFactory(t)
	defer cleanup()

	cfg := testPoolConfig()
	p := NewPool("srv-1", factory, cfg)
	defer p.Close()

	clients := make([]*Client, 0, 3)
	for i := 0; i < cfg.BaseSize+cfg.MaxOverflow; i++ {
		c, err := p.Acquire(context.Background())
		require.NoError(t, err)
		clients = append(clients, c)
	}

	_, err := p.Acquire(context.Background())
	require.Error(t, err)
	kind, ok := errkind.KindOf(err)
	require.True(t, ok)
	require.Equal(t, errkind.CapacityExhausted, kind)
}

func TestPoolReleaseReturnsToIdleAndIsReused(t *testing.T) {
	factory, cleanup := poolFactory(t)
	defer cleanup()

	p := NewPool("srv-1", factory, testPoolConfig())
	defer p.Close()

	c1, err := p.Acquire(context.Background())
	require.NoError(t, err)
	p.Release(c1)

	idle, out, _ := p.Size()
	require.Equal(t, 1, idle)
	require.Equal(t, 0, out)

	c2, err := p.Acquire(context.Background())
	require.NoError(t, err)
	require.Same(t, c1, c2)
}

func TestPoolReleaseOfUnhealthyClientIsDiscarded(t *testing.T) {
	factory, cleanup := poolFactory(t)
	defer cleanup()

	p := NewPool("srv-1", factory, testPoolConfig())
	defer p.Close()

	c1, err := p.Acquire(context.Background())
	require.NoError(t, err)
	require.NoError(t, c1.Close(context.Background()))

	p.Release(c1)

	idle, _, _ := p.Size()
	require.Equal(t, 0, idle)
}

func TestPoolCloseClosesIdleClients(t *testing.T) {
	factory, cleanup := poolFactory(t)
	defer cleanup()

	p := NewPool("srv-1", factory, testPoolConfig())
	c1, err := p.Acquire(context.Background())
	require.NoError(t, err)
	p.Release(c1)

	p.Close()
	require.Equal(t, StateClosed, c1.State())

	_, err = p.Acquire(context.Background())
	require.Error(t, err)
}
