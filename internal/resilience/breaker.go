package resilience

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"musterd/internal/errkind"
	"musterd/pkg/logging"
)

// BreakerState mirrors the closed/open/half_open vocabulary of spec §4.6,
// independent of gobreaker's own State type.
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)

func fromGobreakerState(s gobreaker.State) BreakerState {
	switch s {
	case gobreaker.StateOpen:
		return BreakerOpen
	case gobreaker.StateHalfOpen:
		return BreakerHalfOpen
	default:
		return BreakerClosed
	}
}

// BreakerSettings configures one target's breaker (spec §4.6 thresholds).
type BreakerSettings struct {
	FailureThreshold int
	SuccessThreshold int
	OpenTimeout      time.Duration
}

// StateChangeFunc is notified whenever a breaker transitions, so the event
// bus can publish it (spec §4.6: "state transitions observable via events").
type StateChangeFunc func(target string, from, to BreakerState)

// BreakerManager owns one gobreaker.CircuitBreaker per target (typically a
// server_id), created lazily on first use.
type BreakerManager struct {
	settings BreakerSettings
	onChange StateChangeFunc

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// NewBreakerManager builds a manager applying settings to every breaker it
// creates. onChange may be nil.
func NewBreakerManager(settings BreakerSettings, onChange StateChangeFunc) *BreakerManager {
	return &BreakerManager{
		settings: settings,
		onChange: onChange,
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

func (m *BreakerManager) breakerFor(target string) *gobreaker.CircuitBreaker {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.breakers[target]; ok {
		return b
	}

	settings := gobreaker.Settings{
		Name:        target,
		MaxRequests: uint32(maxInt(m.settings.SuccessThreshold, 1)),
		Interval:    0, // never reset closed-state counts on a timer; only consecutive failures matter
		Timeout:     m.settings.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(m.settings.FailureThreshold)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			fromState, toState := fromGobreakerState(from), fromGobreakerState(to)
			logging.Info("resilience", "breaker %s: %s -> %s", name, fromState, toState)
			if m.onChange != nil {
				m.onChange(name, fromState, toState)
			}
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			kind, ok := errkind.KindOf(err)
			if !ok {
				return false
			}
			return !kind.CountsTowardBreaker()
		},
	}
	b := gobreaker.NewCircuitBreaker(settings)
	m.breakers[target] = b
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// State reports a target's current breaker state without creating one if
// absent (an absent breaker behaves as closed).
func (m *BreakerManager) State(target string) BreakerState {
	m.mu.Lock()
	b, ok := m.breakers[target]
	m.mu.Unlock()
	if !ok {
		return BreakerClosed
	}
	return fromGobreakerState(b.State())
}

// Execute runs op through target's breaker. A circuit_open refusal never
// calls op at all (spec: "calls fail fast with circuit_open").
func (m *BreakerManager) Execute(ctx context.Context, target string, op func(ctx context.Context) ([]byte, error)) ([]byte, error) {
	b := m.breakerFor(target)

	result, err := b.Execute(func() (interface{}, error) {
		return op(ctx)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return nil, errkind.New(errkind.CircuitOpen, "resilience", fmt.Errorf("breaker for %s is open", target))
		}
		return nil, err
	}
	if result == nil {
		return nil, nil
	}
	return result.([]byte), nil
}
