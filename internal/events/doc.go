// Package events is the daemon's ambient observability bus: every
// subsystem (variety engine, orchestrator, supervisor, circuit breakers)
// publishes typed, reasoned events here instead of reaching for a logger
// directly, so any number of sinks — structured logging, a future status
// API, a test assertion — can subscribe independently.
package events
