package resilience

import (
	"context"
	"math"
	"math/rand"
	"time"

	"musterd/internal/errkind"
)

// RetryPolicy implements spec §4.7's full-jitter exponential backoff over a
// caller-supplied operation.
type RetryPolicy struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	Jitter        float64

	// randFloat is overridable in tests for deterministic delay assertions.
	randFloat func() float64
}

// NewRetryPolicy builds a policy from config thresholds.
func NewRetryPolicy(maxAttempts int, initialDelay, maxDelay time.Duration, backoffFactor, jitter float64) *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts:   maxAttempts,
		InitialDelay:  initialDelay,
		MaxDelay:      maxDelay,
		BackoffFactor: backoffFactor,
		Jitter:        jitter,
		randFloat:     rand.Float64,
	}
}

// Delay computes the backoff for attempt n (1-indexed), per spec §4.7:
// min(initial_delay * backoff_factor^(n-1), max_delay) * (1 - jitter*rand()).
func (p *RetryPolicy) Delay(n int) time.Duration {
	base := float64(p.InitialDelay) * math.Pow(p.BackoffFactor, float64(n-1))
	if max := float64(p.MaxDelay); max > 0 && base > max {
		base = max
	}
	r := 0.0
	if p.randFloat != nil {
		r = p.randFloat()
	}
	scaled := base * (1 - p.Jitter*r)
	if scaled < 0 {
		scaled = 0
	}
	return time.Duration(scaled)
}

// Op is a unit of work the Retry policy executes and potentially re-executes.
type Op func(ctx context.Context, attempt int) ([]byte, error)

// Outcome is returned by Run: the last result/error, whether it was
// exhausted after MaxAttempts, and the attempt count actually used.
type Outcome struct {
	Result   []byte
	Err      error
	Attempts int
	Exhausted bool
}

// Run executes op, retrying on errkind.Kind.Retryable() errors up to
// MaxAttempts, sleeping Delay(n) between attempts (or returning early if ctx
// is cancelled during the sleep).
func (p *RetryPolicy) Run(ctx context.Context, op Op) Outcome {
	var lastResult []byte
	var lastErr error

	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	attemptsMade := 0
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		attemptsMade = attempt
		result, err := op(ctx, attempt)
		if err == nil {
			return Outcome{Result: result, Attempts: attempt}
		}
		lastResult, lastErr = result, err

		if !isRetryable(err) {
			return Outcome{Result: result, Err: err, Attempts: attempt}
		}
		if attempt == maxAttempts {
			break
		}

		timer := time.NewTimer(p.Delay(attempt))
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return Outcome{Result: lastResult, Err: ctx.Err(), Attempts: attempt, Exhausted: false}
		}
	}

	return Outcome{Result: lastResult, Err: lastErr, Attempts: attemptsMade, Exhausted: true}
}

func isRetryable(err error) bool {
	kind, ok := errkind.KindOf(err)
	if !ok {
		return false
	}
	return kind.Retryable()
}
