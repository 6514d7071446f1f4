// Package router resolves a task {capability, arguments} to a concrete
// server/tool pair and invokes it through the full resilience stack — pool,
// circuit breaker, retry, rate limiter, optional dead-letter queue — per
// spec §4.14 part 2.
package router
