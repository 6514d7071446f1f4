// Package registry holds the daemon's live view of capability → server
// bindings (spec §4.14 part 1): capability to server_id set, server_id to
// process summary, and server_id to tool descriptors. It is the single
// source of truth the Router consults for eligibility. It is written by
// the Orchestrator's register phase (first registration after an
// acquisition), by internal/app's StateChangeBridge (unregistration when a
// server leaves the ready state, re-registration when it is ready again),
// and by the breaker transition callback wired in internal/app.
package registry
