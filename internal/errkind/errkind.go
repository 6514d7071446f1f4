// Package errkind names the canonical error taxonomy shared across every
// subsystem (spec §7). Every supervision boundary in the daemon converts
// whatever went wrong — a JSON-RPC error, a transport failure, a breaker
// trip, a panic — into a *Classified carrying one of these Kinds, so the
// daemon itself never dies from an external-server fault.
package errkind

import "fmt"

// Kind is one of the canonical error categories from spec §7.
type Kind string

const (
	ParseError          Kind = "parse_error"
	InvalidRequest       Kind = "invalid_request"
	MethodNotFound       Kind = "method_not_found"
	ToolNotFound         Kind = "tool_not_found"
	InvalidParams        Kind = "invalid_params"
	TransportError       Kind = "transport_error"
	Timeout              Kind = "timeout"
	RateLimited          Kind = "rate_limited"
	CircuitOpen          Kind = "circuit_open"
	CapacityExhausted    Kind = "capacity_exhausted"
	CapabilityUnavailable Kind = "capability_unavailable"
	InstallFailed        Kind = "install_failed"
	VerifyFailed         Kind = "verify_failed"
	InternalError        Kind = "internal_error"
)

// Retryable reports whether the Retry policy should ever attempt this kind
// again (spec §7's propagation column).
func (k Kind) Retryable() bool {
	switch k {
	case TransportError, Timeout:
		return true
	default:
		return false
	}
}

// CountsTowardBreaker reports whether a failure of this kind should count
// against a circuit breaker's consecutive-failure counter.
func (k Kind) CountsTowardBreaker() bool {
	switch k {
	case TransportError, Timeout, InternalError:
		return true
	default:
		return false
	}
}

// Classified is a user-visible failure: it always names the kind, the last
// underlying cause, and the component that surfaced it (spec §7).
type Classified struct {
	Kind      Kind
	Component string
	Cause     error
}

// New builds a Classified error.
func New(kind Kind, component string, cause error) *Classified {
	return &Classified{Kind: kind, Component: component, Cause: cause}
}

func (c *Classified) Error() string {
	if c.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", c.Component, c.Kind, c.Cause)
	}
	return fmt.Sprintf("%s: %s", c.Component, c.Kind)
}

func (c *Classified) Unwrap() error { return c.Cause }

// KindOf reports the Kind of err when err is itself a *Classified. It uses a
// direct type assertion, so a *Classified wrapped inside another error is
// not found and KindOf returns ("", false).
func KindOf(err error) (Kind, bool) {
	var c *Classified
	if err == nil {
		return "", false
	}
	if ce, ok := err.(*Classified); ok {
		return ce.Kind, true
	}
	_ = c
	return "", false
}
