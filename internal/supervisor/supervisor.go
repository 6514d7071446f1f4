package supervisor

import (
	"context"
	"fmt"
	"os/exec"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"musterd/internal/errkind"
	"musterd/internal/events"
	"musterd/internal/mcpclient"
	"musterd/internal/resilience"
	"musterd/internal/resourcemon"
	"musterd/internal/transport"
	"musterd/pkg/logging"
)

const (
	initialBackoff    = time.Second
	defaultMaxBackoff = 60 * time.Second
	backoffMultiplier = 2.0
	// sustainedHealthy is how many consecutive successful health checks
	// are required before backoff resets and an open breaker is allowed to
	// recover (spec §8 scenario C: "after two successful health checks").
	sustainedHealthy = 2
)

// escalation rungs (spec §4.13).
const (
	rungReconnect = iota + 1
	rungGracefulRestart
	rungForcedRestart
	rungReinstall
	rungMarkFailed
)

// Config holds daemon-wide defaults applied to any Spec that doesn't
// override them.
type Config struct {
	MaxChildren        int
	HealthInterval     time.Duration
	HealthTimeout      time.Duration
	PoolAcquireWait    time.Duration
	PoolInitTimeout    time.Duration
	ClientCapabilities mcpclient.ClientCapabilities
	MethodTimeouts     mcpclient.MethodTimeouts
	MonitorInterval    time.Duration
	MonitorRingCap     int
	MaxBackoff         time.Duration

	// CapabilitiesLookup lets the admin-facing ServerStatus adapter report
	// a server's bound capabilities without the Supervisor depending on
	// the Registry package directly. Optional.
	CapabilitiesLookup func(serverID string) []string
}

// managedServer is everything the Supervisor tracks for one ServerProcess.
type managedServer struct {
	spec      Spec
	lifecycle *lifecycle
	pool      *mcpclient.Pool

	mu      sync.Mutex
	cmds    []*exec.Cmd
	monitor *resourcemon.Monitor

	rung            int
	consecutiveOK   int
	backoff         time.Duration
	stopHealthCh    chan struct{}
	healthDoneCh    chan struct{}
}

// Supervisor owns every ServerProcess (spec §4.13).
type Supervisor struct {
	cfg      Config
	bus      *events.Bus
	breakers *resilience.BreakerManager // optional, used only to surface BreakerState in Status

	sem *semaphore.Weighted

	mu      sync.RWMutex
	servers map[string]*managedServer
}

// New builds a Supervisor. bus and breakers may be nil.
func New(cfg Config, bus *events.Bus, breakers *resilience.BreakerManager) *Supervisor {
	if cfg.MaxChildren <= 0 {
		cfg.MaxChildren = 32
	}
	if cfg.HealthInterval <= 0 {
		cfg.HealthInterval = 10 * time.Second
	}
	if cfg.HealthTimeout <= 0 {
		cfg.HealthTimeout = 5 * time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = defaultMaxBackoff
	}
	if cfg.MonitorInterval <= 0 {
		cfg.MonitorInterval = 2 * time.Second
	}
	if cfg.MonitorRingCap <= 0 {
		cfg.MonitorRingCap = 32
	}
	return &Supervisor{
		cfg:     cfg,
		bus:     bus,
		breakers: breakers,
		sem:     semaphore.NewWeighted(int64(cfg.MaxChildren)),
		servers: make(map[string]*managedServer),
	}
}

// Start launches a newly-promoted server under supervision (spec §4.13
// "start"). It enforces the concurrency cap before spawning anything.
func (s *Supervisor) Start(ctx context.Context, spec Spec) (Status, error) {
	s.mu.Lock()
	if _, exists := s.servers[spec.ServerID]; exists {
		s.mu.Unlock()
		return Status{}, errkind.New(errkind.InternalError, "supervisor", fmt.Errorf("server %s already supervised", spec.ServerID))
	}
	s.mu.Unlock()

	if !s.sem.TryAcquire(1) {
		return Status{}, errkind.New(errkind.CapacityExhausted, "supervisor", fmt.Errorf("max_children reached, rejecting start of %s", spec.ServerID))
	}

	ms := &managedServer{
		spec:         spec,
		backoff:      initialBackoff,
		stopHealthCh: make(chan struct{}),
		healthDoneCh: make(chan struct{}),
	}
	ms.lifecycle = newLifecycle(spec.ServerID, s.onTransition)

	s.mu.Lock()
	s.servers[spec.ServerID] = ms
	s.mu.Unlock()

	if err := s.launch(ctx, ms); err != nil {
		s.teardown(ms, false, 0)
		s.sem.Release(1)
		s.mu.Lock()
		delete(s.servers, spec.ServerID)
		s.mu.Unlock()
		return Status{}, err
	}

	go s.healthLoop(ms)

	return s.statusOf(ms), nil
}

// launch spawns the pool's first worker and waits for it to answer a
// protocol probe before declaring the server ready.
func (s *Supervisor) launch(ctx context.Context, ms *managedServer) error {
	ms.lifecycle.setState(StateStarting, nil)
	s.publish(ms.spec.ServerID, events.ReasonServerStarting, "starting server")

	poolCfg := mcpclient.PoolConfig{
		BaseSize:     maxInt(ms.spec.PoolBaseSize, 1),
		MaxOverflow:  maxInt(ms.spec.PoolMaxOverflow, 0),
		AcquireWait:  orDefault(s.cfg.PoolAcquireWait, 2*time.Second),
		InitTimeout:  orDefault(s.cfg.PoolInitTimeout, 5*time.Second),
		Capabilities: s.cfg.ClientCapabilities,
		Timeouts:     s.cfg.MethodTimeouts,
	}
	ms.pool = mcpclient.NewPool(ms.spec.ServerID, s.factoryFor(ms), poolCfg)

	client, err := ms.pool.Acquire(ctx)
	if err != nil {
		ms.lifecycle.setState(StateFailed, err)
		return err
	}
	ms.pool.Release(client)

	ms.mu.Lock()
	if len(ms.cmds) > 0 && ms.cmds[0] != nil && ms.cmds[0].Process != nil {
		pid := ms.cmds[0].Process.Pid
		ms.lifecycle.setPID(pid)
		ms.monitor = resourcemon.NewMonitor(pid, s.cfg.MonitorInterval, s.cfg.MonitorRingCap)
		ms.monitor.Start(func(sample resourcemon.Sample) { s.checkResourceLimits(ms, sample) })
	}
	ms.mu.Unlock()

	ms.lifecycle.setState(StateReady, nil)
	s.publish(ms.spec.ServerID, events.ReasonServerReady, "server ready")
	return nil
}

// factoryFor builds the Pool Factory that spawns one more worker process
// per call. Most installs clamp PoolBaseSize/PoolMaxOverflow to 1/0 so this
// fires exactly once; installs that explicitly request more overflow get a
// homogeneous pool of sibling worker processes.
func (s *Supervisor) factoryFor(ms *managedServer) mcpclient.Factory {
	return func() (transport.Transport, error) {
		tr, cmd, err := processSpawn(context.Background(), ms.spec)
		if err != nil {
			return nil, err
		}
		ms.mu.Lock()
		ms.cmds = append(ms.cmds, cmd)
		ms.mu.Unlock()
		return tr, nil
	}
}

// Stop stops a supervised server (spec §4.13 "stop(graceful, timeout)").
func (s *Supervisor) Stop(ctx context.Context, serverID string, graceful bool, timeout time.Duration) error {
	ms, ok := s.lookup(serverID)
	if !ok {
		return errkind.New(errkind.InternalError, "supervisor", fmt.Errorf("server %s is not supervised", serverID))
	}

	ms.lifecycle.setState(StateStopping, nil)
	close(ms.stopHealthCh)
	<-ms.healthDoneCh

	s.teardown(ms, graceful, timeout)

	ms.lifecycle.setState(StateStopped, nil)
	s.publish(serverID, events.ReasonServerStopped, "server stopped")

	s.mu.Lock()
	delete(s.servers, serverID)
	s.mu.Unlock()
	s.sem.Release(1)
	return nil
}

func (s *Supervisor) teardown(ms *managedServer, graceful bool, timeout time.Duration) {
	if ms.monitor != nil {
		ms.monitor.Stop()
	}
	if ms.pool != nil {
		ms.pool.Close()
	}
	ms.mu.Lock()
	cmds := ms.cmds
	ms.cmds = nil
	ms.mu.Unlock()
	for _, cmd := range cmds {
		if err := stopProcess(cmd, graceful, timeout); err != nil {
			logging.Warn("supervisor", "stopping %s: %v", ms.spec.ServerID, err)
		}
	}
}

// Restart forces a restart regardless of restart policy (spec §4.13
// "restart" is an explicit operator action, distinct from the automatic
// failure-escalation restarts).
func (s *Supervisor) Restart(ctx context.Context, serverID string) error {
	ms, ok := s.lookup(serverID)
	if !ok {
		return errkind.New(errkind.InternalError, "supervisor", fmt.Errorf("server %s is not supervised", serverID))
	}
	return s.restart(ctx, ms, true)
}

func (s *Supervisor) restart(ctx context.Context, ms *managedServer, graceful bool) error {
	ms.lifecycle.setState(StateStopping, nil)
	s.publish(ms.spec.ServerID, events.ReasonServerRestarting, "restarting server")
	s.teardown(ms, graceful, orDefault(s.cfg.HealthTimeout, 5*time.Second))

	n := ms.lifecycle.incRestart()
	logging.Info("supervisor", "restarting %s (attempt %d)", ms.spec.ServerID, n)

	if err := s.launch(ctx, ms); err != nil {
		ms.lifecycle.setState(StateFailed, err)
		return err
	}
	ms.rung = 0
	ms.consecutiveOK = 0
	return nil
}

// Status reports a point-in-time snapshot (spec §4.13 "status").
func (s *Supervisor) Status(serverID string) (Status, bool) {
	ms, ok := s.lookup(serverID)
	if !ok {
		return Status{}, false
	}
	return s.statusOf(ms), true
}

func (s *Supervisor) statusOf(ms *managedServer) Status {
	state, pid, restarts, lastErr := ms.lifecycle.snapshot()
	st := Status{
		ServerID:     ms.spec.ServerID,
		State:        state,
		PID:          pid,
		RestartCount: restarts,
		LastError:    lastErr,
	}
	if s.breakers != nil {
		st.BreakerState = string(s.breakers.State(ms.spec.ServerID))
	}
	return st
}

// primaryAlive reports whether ms's first-spawned process is still running,
// used by onUnhealthy to tell an abnormal exit from a merely unresponsive
// server (spec §4.13 restart_policy=transient: "restart on abnormal exit").
func (ms *managedServer) primaryAlive() bool {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if len(ms.cmds) == 0 {
		return false
	}
	return processAlive(ms.cmds[0])
}

func (s *Supervisor) lookup(serverID string) (*managedServer, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ms, ok := s.servers[serverID]
	return ms, ok
}

// ListServerIDs reports every currently supervised server_id.
func (s *Supervisor) ListServerIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.servers))
	for id := range s.servers {
		ids = append(ids, id)
	}
	return ids
}

func (s *Supervisor) publish(serverID string, reason events.Reason, msg string) {
	if s.bus == nil {
		return
	}
	s.bus.Publish("supervisor", serverID, reason, msg, nil)
}

func (s *Supervisor) onTransition(serverID string, old, new State, err error) {
	logging.Info("supervisor", "%s: %s -> %s", serverID, old, new)
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func orDefault(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}
