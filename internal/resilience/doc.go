// Package resilience provides the four fault-tolerance primitives the
// Router composes around every call: CircuitBreaker, Retry, a Dead-Letter
// Queue, and a RateLimiter (spec §4.6-§4.9).
package resilience
