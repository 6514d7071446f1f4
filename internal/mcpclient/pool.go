package mcpclient

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"

	"musterd/internal/errkind"
	"musterd/internal/transport"
	"musterd/pkg/logging"
)

// Factory builds a fresh, unopened Transport for one server_id. The Pool
// calls Initialize on every Client it creates.
type Factory func() (transport.Transport, error)

// PoolConfig mirrors spec §4.5's per-server pool sizing knobs.
type PoolConfig struct {
	BaseSize     int
	MaxOverflow  int
	AcquireWait  time.Duration
	InitTimeout  time.Duration
	Capabilities ClientCapabilities
	Timeouts     MethodTimeouts
}

// leased wraps a Client with its pool bookkeeping.
type leased struct {
	client    *Client
	overflow  bool
	createdAt time.Time
}

// Pool holds base_size persistent sessions plus up to max_overflow burst
// sessions for one server_id (spec §4.5). Health-checked clients are
// returned to the idle list; unhealthy ones are discarded and, for the base
// allotment, replaced.
type Pool struct {
	serverID string
	factory  Factory
	cfg      PoolConfig

	mu       sync.Mutex
	idle     *list.List // of *leased
	numOut   int
	overflow int
	closed   bool

	// outOverflow tracks, per leased-out client, whether it was issued from
	// the overflow allotment — so Release can account for it correctly
	// without requiring the caller to remember (a caller simply can't know
	// for a client that came from the idle list, since that history lives
	// only here).
	outOverflow map[*Client]bool
}

// NewPool constructs a Pool for one server_id. It does not pre-warm
// connections; the first Acquire calls populate the base allotment lazily.
func NewPool(serverID string, factory Factory, cfg PoolConfig) *Pool {
	return &Pool{
		serverID:    serverID,
		factory:     factory,
		cfg:         cfg,
		idle:        list.New(),
		outOverflow: make(map[*Client]bool),
	}
}

// Acquire returns a ready Client, creating one within the base allotment or
// overflow ceiling if none is idle. If the pool is saturated it waits up to
// AcquireWait before returning a capacity_exhausted error (spec §4.5:
// "pool_exhausted").
func (p *Pool) Acquire(ctx context.Context) (*Client, error) {
	deadline := time.Now().Add(p.cfg.AcquireWait)
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, errkind.New(errkind.InternalError, "mcpclient", fmt.Errorf("pool for %s is closed", p.serverID))
		}

		if elem := p.idle.Front(); elem != nil {
			p.idle.Remove(elem)
			ld := elem.Value.(*leased)
			if ld.client.State() == StateReady {
				p.numOut++
				p.outOverflow[ld.client] = ld.overflow
				p.mu.Unlock()
				return ld.client, nil
			}
			// Unhealthy idle client: drop it and fall through to create a
			// replacement within the same acquire attempt.
			if ld.overflow {
				p.overflow--
			}
			p.mu.Unlock()
			continue
		}

		totalOut := p.numOut
		if totalOut < p.cfg.BaseSize || p.overflow < p.cfg.MaxOverflow {
			isOverflow := totalOut >= p.cfg.BaseSize
			if isOverflow {
				p.overflow++
			}
			p.numOut++
			p.mu.Unlock()

			client, err := p.create(ctx)
			if err != nil {
				p.mu.Lock()
				p.numOut--
				if isOverflow {
					p.overflow--
				}
				p.mu.Unlock()
				return nil, err
			}
			p.mu.Lock()
			p.outOverflow[client] = isOverflow
			p.mu.Unlock()
			return client, nil
		}
		p.mu.Unlock()

		if time.Now().After(deadline) {
			return nil, errkind.New(errkind.CapacityExhausted, "mcpclient", fmt.Errorf("pool for %s exhausted (base=%d overflow=%d)", p.serverID, p.cfg.BaseSize, p.cfg.MaxOverflow))
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func (p *Pool) create(ctx context.Context) (*Client, error) {
	tr, err := p.factory()
	if err != nil {
		return nil, errkind.New(errkind.TransportError, "mcpclient", err)
	}
	client := New(p.serverID, tr, p.cfg.Timeouts)
	if err := client.Initialize(ctx, p.cfg.Capabilities, p.cfg.InitTimeout); err != nil {
		return nil, err
	}
	return client, nil
}

// Release returns a Client to the idle list if it is still ready, or
// discards it (and its overflow slot, if any) otherwise. The base
// allotment is not proactively replenished here; the next Acquire creates a
// fresh client on demand, matching the teacher's lazy-respawn behaviour.
//
// This checks the client's cached State() rather than issuing an active
// ping before re-pooling; a session whose transport has gone bad since its
// last call is discarded on next use by the same State() check in Acquire,
// not at Release time.
func (p *Pool) Release(client *Client) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.numOut--
	wasOverflow := p.outOverflow[client]
	delete(p.outOverflow, client)

	if p.closed || client.State() != StateReady {
		if wasOverflow {
			p.overflow--
		}
		go func() {
			_ = client.Close(context.Background())
		}()
		return
	}
	p.idle.PushBack(&leased{client: client, overflow: wasOverflow, createdAt: time.Now()})
}

// Close closes every idle and accounted-for client. In-flight leased
// clients are closed as they are released back.
func (p *Pool) Close() {
	p.mu.Lock()
	p.closed = true
	idle := p.idle
	p.idle = list.New()
	p.mu.Unlock()

	for elem := idle.Front(); elem != nil; elem = elem.Next() {
		ld := elem.Value.(*leased)
		if err := ld.client.Close(context.Background()); err != nil {
			logging.Warn("mcpclient", "error closing pooled client for %s: %v", p.serverID, err)
		}
	}
}

// Size reports (idle, leased, overflow) for diagnostics.
func (p *Pool) Size() (idle, out, overflow int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.idle.Len(), p.numOut, p.overflow
}
