// Package supervisor owns every live ServerProcess: it spawns the child,
// drives its start/stop/restart lifecycle, runs health checks, enforces
// resource limits, and applies the failure escalation ladder (spec §4.13).
//
// A ServerProcess's state (starting, ready, degraded, stopping, stopped,
// failed) is tracked the same way the teacher tracks a managed service's
// state: one mutex-guarded struct that fires a callback only when state or
// health actually changes, so the Registry is told exactly once per
// transition rather than polled.
package supervisor
