package supervisor

import (
	"context"
	"time"

	"musterd/internal/installer"
)

// State is a ServerProcess's lifecycle stage (spec §3).
type State string

const (
	StateStarting State = "starting"
	StateReady    State = "ready"
	StateDegraded State = "degraded"
	StateStopping State = "stopping"
	StateStopped  State = "stopped"
	StateFailed   State = "failed"
)

// RestartPolicy controls whether a server is restarted after it exits
// (spec §4.13).
type RestartPolicy string

const (
	// RestartPermanent always restarts, regardless of exit reason.
	RestartPermanent RestartPolicy = "permanent"
	// RestartTransient restarts only after an abnormal exit.
	RestartTransient RestartPolicy = "transient"
	// RestartTemporary never restarts.
	RestartTemporary RestartPolicy = "temporary"
)

// HealthCheckKind selects how a server's liveness is probed (spec §4.13).
type HealthCheckKind string

const (
	HealthLiveness HealthCheckKind = "liveness" // transport-level ping
	HealthProtocol HealthCheckKind = "protocol" // tools/list round-trip
	HealthCustom    HealthCheckKind = "custom"   // caller-supplied callback
)

// ResourceLimits are the soft/hard ceilings enforced per child (spec §4.13).
type ResourceLimits struct {
	SoftRSSBytes  uint64
	HardRSSBytes  uint64
	SoftCPUPercent float64
	HardCPUPercent float64
}

// Spec describes one server to be supervised: how to launch it, how to
// restart it, and how to watch it.
type Spec struct {
	ServerID       string
	Installation   installer.Installation
	RestartPolicy  RestartPolicy
	HealthCheck    HealthCheckKind
	HealthInterval time.Duration
	HealthTimeout  time.Duration
	CustomHealth   func() error
	Limits         ResourceLimits
	AllowNetwork   bool
	PoolBaseSize   int
	PoolMaxOverflow int

	// Reinstaller backs escalation rung 4 ("full reinstall-and-restart",
	// spec §4.13). Nil skips straight to marking the server failed.
	Reinstaller func(ctx context.Context) (installer.Installation, error)
}

// Status is a point-in-time snapshot of a ServerProcess, safe to hand to
// callers outside the Supervisor (spec §3: "referenced weakly elsewhere via
// server_id").
type Status struct {
	ServerID     string
	State        State
	PID          int
	RestartCount int
	LastHealthAt time.Time
	LastError    error
	BreakerState string
}

// StateChangeFunc is invoked once per actual state or health transition,
// outside any lock (mirrors the teacher's BaseService callback contract).
type StateChangeFunc func(serverID string, old, new State, err error)
