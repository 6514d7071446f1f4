// Package api is the daemon's service locator: the small set of
// cross-package interfaces and status types that cmd/musterd needs to
// query a running daemon, decoupled from the concrete orchestrator,
// registry, supervisor, and resilience packages that implement them. Each
// subsystem registers its handler here at startup, and the Get* functions
// look handlers up by role. No code in this module calls the Get*
// functions; the cmd/musterd commands do not go through this package.
package api
