package resilience

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"musterd/internal/errkind"
)

// RateLimitSettings configures the per-(server_id, method) token bucket
// (spec §4.9): PerInterval is the bucket size and the number of tokens
// refilled, evenly, over each Interval.
type RateLimitSettings struct {
	PerInterval int
	Interval    time.Duration
}

// RateLimiter enforces a token-bucket call budget (golang.org/x/time/rate)
// keyed by "server_id\x00method", never blocking the caller (spec: "return
// rate_limited immediately"). It is not a sliding window: a full bucket
// admits PerInterval calls at once, and after that calls are admitted again
// as tokens refill, before a whole Interval has passed.
type RateLimiter struct {
	settings RateLimitSettings

	mu       sync.Mutex
	limiters map[string]*rate.Limiter

	// retryAfter optionally records a target-supplied retry_after hint
	// (spec: "honors a retry_after hint from the target when present").
	retryAfter map[string]time.Time
}

// NewRateLimiter builds a limiter from config thresholds. If PerInterval or
// Interval is zero, rate limiting is disabled (every call is allowed).
func NewRateLimiter(settings RateLimitSettings) *RateLimiter {
	return &RateLimiter{
		settings:   settings,
		limiters:   make(map[string]*rate.Limiter),
		retryAfter: make(map[string]time.Time),
	}
}

func key(serverID, method string) string {
	return serverID + "\x00" + method
}

func (r *RateLimiter) limiterFor(k string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	if l, ok := r.limiters[k]; ok {
		return l
	}
	ratePerSec := rate.Limit(float64(r.settings.PerInterval) / r.settings.Interval.Seconds())
	l := rate.NewLimiter(ratePerSec, r.settings.PerInterval)
	r.limiters[k] = l
	return l
}

// Allow reports whether a call to (serverID, method) may proceed now. It
// never blocks.
func (r *RateLimiter) Allow(serverID, method string) error {
	if r.settings.PerInterval <= 0 || r.settings.Interval <= 0 {
		return nil
	}

	k := key(serverID, method)

	r.mu.Lock()
	until, hinted := r.retryAfter[k]
	r.mu.Unlock()
	if hinted && time.Now().Before(until) {
		return errkind.New(errkind.RateLimited, "resilience", fmt.Errorf("rate limited until %s", until.Format(time.RFC3339)))
	}

	if !r.limiterFor(k).Allow() {
		return errkind.New(errkind.RateLimited, "resilience", fmt.Errorf("rate limit exceeded for %s/%s", serverID, method))
	}
	return nil
}

// NoteRetryAfter records a target-supplied retry_after hint for
// (serverID, method), honored by subsequent Allow calls until it elapses.
func (r *RateLimiter) NoteRetryAfter(serverID, method string, retryAfter time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.retryAfter[key(serverID, method)] = time.Now().Add(retryAfter)
}
