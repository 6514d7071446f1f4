package app

import (
	"context"
	"sync"

	"musterd/internal/events"
	"musterd/internal/registry"
	"musterd/internal/supervisor"
	"musterd/pkg/logging"
)

// StateChangeBridge keeps the Registry's capability bindings in lockstep
// with server lifecycle state, without the Supervisor or Orchestrator
// needing a direct reference to the Registry for anything but the initial
// registration (spec §4.14: "registration occurs when the Supervisor
// reports ready ...; unregistration occurs on state leaving ready").
//
// It subscribes to the event Bus rather than being called directly, the
// same "external event source" shape the daemon uses elsewhere to decouple
// producers (Supervisor, Orchestrator) from consumers (Registry, Variety
// Engine) that must react to state they don't own.
type StateChangeBridge struct {
	mu sync.RWMutex

	bus        *events.Bus
	registry   *registry.Registry
	supervisor *supervisor.Supervisor

	// capabilities caches each server's last known capability set, looked
	// up when re-registering on ServerReady since Unregister forgets it.
	capabilities map[string][]string

	ctx        context.Context
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	running    bool
}

// NewStateChangeBridge builds a bridge wired to bus, reg, and sup. Call
// Start to begin processing events.
func NewStateChangeBridge(bus *events.Bus, reg *registry.Registry, sup *supervisor.Supervisor) *StateChangeBridge {
	return &StateChangeBridge{
		bus:          bus,
		registry:     reg,
		supervisor:   sup,
		capabilities: make(map[string][]string),
	}
}

// Start subscribes to the bus and begins processing events in the
// background. Idempotent: calling it again while already running is a
// no-op.
func (b *StateChangeBridge) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.running {
		return nil
	}

	b.ctx, b.cancelFunc = context.WithCancel(ctx)
	b.running = true

	eventChan, unsubscribe := b.bus.Subscribe()

	b.wg.Add(1)
	go b.processEvents(eventChan, unsubscribe)

	logging.Info("bridge", "started registry state-change bridge")
	return nil
}

// Stop cancels event processing and waits for it to finish. Idempotent.
func (b *StateChangeBridge) Stop() error {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return nil
	}
	b.running = false
	cancel := b.cancelFunc
	b.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	b.wg.Wait()

	logging.Info("bridge", "stopped registry state-change bridge")
	return nil
}

func (b *StateChangeBridge) processEvents(eventChan <-chan events.Event, unsubscribe func()) {
	defer b.wg.Done()
	defer unsubscribe()

	for {
		select {
		case <-b.ctx.Done():
			return
		case evt, ok := <-eventChan:
			if !ok {
				return
			}
			b.handleEvent(evt)
		}
	}
}

// leavesReady lists every Supervisor reason that means a server is no
// longer eligible for routing (spec §4.13's restart/escalation ladder).
var leavesReady = map[events.Reason]bool{
	events.ReasonServerStopped:      true,
	events.ReasonServerFailed:       true,
	events.ReasonServerEscalated:    true,
	events.ReasonServerRestarting:   true,
	events.ReasonServerReinstalling: true,
}

func (b *StateChangeBridge) handleEvent(evt events.Event) {
	switch {
	case evt.Reason == events.ReasonJobDone:
		b.cacheCapability(evt)
	case evt.Reason == events.ReasonServerReady:
		b.reregister(evt.ServerID)
	case leavesReady[evt.Reason]:
		b.registry.Unregister(evt.ServerID)
		logging.Debug("bridge", "unregistered %s (%s)", evt.ServerID, evt.Reason)
	}
}

// cacheCapability remembers which capability a just-acquired server
// provides, keyed by the server_id the Orchestrator assigned it. The
// Registry itself only remembers this while the binding is live, so a
// later restart needs it recovered from the acquisition event that first
// registered it.
func (b *StateChangeBridge) cacheCapability(evt events.Event) {
	if evt.ServerID == "" {
		return
	}
	capability, _ := evt.Data["capability"].(string)
	if capability == "" {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, existing := range b.capabilities[evt.ServerID] {
		if existing == capability {
			return
		}
	}
	b.capabilities[evt.ServerID] = append(b.capabilities[evt.ServerID], capability)
}

// reregister restores a restarted server's capability bindings once the
// Supervisor reports it ready again. A server the bridge has never seen a
// completion event for (cold start still in progress) is left alone — the
// Orchestrator's own registerPhase performs that first registration.
func (b *StateChangeBridge) reregister(serverID string) {
	b.mu.RLock()
	caps := append([]string(nil), b.capabilities[serverID]...)
	b.mu.RUnlock()
	if len(caps) == 0 {
		return
	}

	status, ok := b.supervisor.ServerStatus(serverID)
	if !ok {
		return
	}
	tools := b.registry.ServerTools(serverID)
	b.registry.Register(serverID, caps, tools, registry.ServerSummary{
		ServerID:     serverID,
		State:        status.State,
		RestartCount: status.RestartCount,
	})
	logging.Debug("bridge", "re-registered %s for %v after restart", serverID, caps)
}
