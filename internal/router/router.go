package router

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"musterd/internal/errkind"
	"musterd/internal/mcpclient"
	"musterd/internal/resilience"
)

// RegistryView is the subset of the Registry the Router consults.
type RegistryView interface {
	CapabilityServers(capability string) []string
}

// PoolProvider is how the Router borrows an MCP session for one server_id,
// without owning the pool itself (the Supervisor does, spec §4.5/§4.13).
type PoolProvider interface {
	Acquire(ctx context.Context, serverID string) (*mcpclient.Client, error)
	Release(serverID string, client *mcpclient.Client)
}

// Task is one unit of routed work.
type Task struct {
	Capability string
	ToolName   string
	Arguments  map[string]interface{}
	DLQOptIn   bool
}

// Router implements spec §4.14 part 2's four-step resolution and the
// pool+breaker+retry+rate-limiter+DLQ call pipeline.
type Router struct {
	registry RegistryView
	pools    PoolProvider
	breakers *resilience.BreakerManager
	limiter  *resilience.RateLimiter
	retry    *resilience.RetryPolicy
	dlq      *resilience.DLQ

	mu        sync.Mutex
	rrIndex   map[string]int           // capability -> round-robin cursor
	latencies map[string]time.Duration // server_id -> last observed latency

	outcomes    []bool // ring of recent call outcomes, true = success
	outcomeCap  int
	outcomeNext int
	outcomeLen  int
}

// outcomeRingCap bounds the recent-outcome ring SuccessRate reads from.
const outcomeRingCap = 256

// New builds a Router wired to its dependencies. dlq may be nil if no task
// ever opts in.
func New(registry RegistryView, pools PoolProvider, breakers *resilience.BreakerManager, limiter *resilience.RateLimiter, retry *resilience.RetryPolicy, dlq *resilience.DLQ) *Router {
	return &Router{
		registry:   registry,
		pools:      pools,
		breakers:   breakers,
		limiter:    limiter,
		retry:      retry,
		dlq:        dlq,
		rrIndex:    make(map[string]int),
		latencies:  make(map[string]time.Duration),
		outcomes:   make([]bool, outcomeRingCap),
		outcomeCap: outcomeRingCap,
	}
}

// Route resolves and invokes task, returning the tool's raw JSON result.
func (r *Router) Route(ctx context.Context, task Task) ([]byte, error) {
	serverID, err := r.resolve(task.Capability)
	if err != nil {
		return nil, err
	}

	if err := r.limiter.Allow(serverID, task.ToolName); err != nil {
		return nil, err
	}

	op := func(ctx context.Context, attempt int) ([]byte, error) {
		start := time.Now()
		result, err := r.callOnce(ctx, serverID, task)
		r.recordLatency(serverID, time.Since(start))
		return result, err
	}

	breakerOp := func(ctx context.Context) ([]byte, error) {
		return r.retryRun(ctx, op)
	}

	result, err := r.breakers.Execute(ctx, serverID, breakerOp)
	r.recordOutcome(err == nil)
	if err != nil && task.DLQOptIn && r.dlq != nil {
		r.sendToDLQ(serverID, task, err)
	}
	return result, err
}

// recordOutcome feeds the Variety Engine's success_rate term (spec §4.15:
// "operational_variety = log2(1 + capabilities * avg_tools * success_rate)").
func (r *Router) recordOutcome(success bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes[r.outcomeNext] = success
	r.outcomeNext = (r.outcomeNext + 1) % r.outcomeCap
	if r.outcomeLen < r.outcomeCap {
		r.outcomeLen++
	}
}

// SuccessRate returns the fraction of recent calls (up to outcomeRingCap)
// that succeeded. Returns 1.0 with no history yet.
func (r *Router) SuccessRate() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.outcomeLen == 0 {
		return 1.0
	}
	successes := 0
	for i := 0; i < r.outcomeLen; i++ {
		if r.outcomes[i] {
			successes++
		}
	}
	return float64(successes) / float64(r.outcomeLen)
}

func (r *Router) retryRun(ctx context.Context, op resilience.Op) ([]byte, error) {
	outcome := r.retry.Run(ctx, op)
	return outcome.Result, outcome.Err
}

func (r *Router) callOnce(ctx context.Context, serverID string, task Task) ([]byte, error) {
	client, err := r.pools.Acquire(ctx, serverID)
	if err != nil {
		return nil, err
	}
	defer r.pools.Release(serverID, client)

	return client.CallTool(ctx, task.ToolName, task.Arguments)
}

// resolve implements spec §4.14 part 2 steps 1-3: capability lookup,
// breaker-state filtering, round-robin-within-priority + latency selection.
func (r *Router) resolve(capability string) (string, error) {
	candidates := r.registry.CapabilityServers(capability)
	if len(candidates) == 0 {
		return "", errkind.New(errkind.CapabilityUnavailable, "router", fmt.Errorf("no server registered for capability %q", capability))
	}

	eligible := make([]string, 0, len(candidates))
	for _, id := range candidates {
		state := r.breakers.State(id)
		if state == resilience.BreakerClosed || state == resilience.BreakerHalfOpen {
			eligible = append(eligible, id)
		}
	}
	if len(eligible) == 0 {
		return "", errkind.New(errkind.CapabilityUnavailable, "router", fmt.Errorf("every server for capability %q has its breaker open", capability))
	}

	sort.Strings(eligible)

	r.mu.Lock()
	defer r.mu.Unlock()

	best := eligible[0]
	bestLatency, haveBest := r.latencies[best]
	for _, id := range eligible[1:] {
		lat, ok := r.latencies[id]
		switch {
		case !haveBest && ok:
			best, bestLatency, haveBest = id, lat, true
		case haveBest && ok && lat < bestLatency:
			best, bestLatency = id, lat
		}
	}

	if !haveBest {
		idx := r.rrIndex[capability] % len(eligible)
		r.rrIndex[capability]++
		best = eligible[idx]
	}

	return best, nil
}

func (r *Router) recordLatency(serverID string, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.latencies[serverID] = d
}

func (r *Router) sendToDLQ(serverID string, task Task, err error) {
	kind, _ := errkind.KindOf(err)
	params, marshalErr := json.Marshal(task.Arguments)
	if marshalErr != nil {
		params = nil
	}
	r.dlq.Add(resilience.DLQEntry{
		ServerID:   serverID,
		Capability: task.Capability,
		Method:     task.ToolName,
		Params:     params,
		Kind:       kind,
		Cause:      err.Error(),
	})
}
