package variety

import (
	"context"
	"math"
	"sync"
	"time"

	"musterd/internal/events"
	"musterd/pkg/logging"
)

// Config holds the thresholds and window sizes spec §4.15 and §9's
// "thresholds" configuration group name explicitly: low_watermark,
// sustained_samples, plus the demand/failure windows this engine needs to
// evaluate conditions (b) and (c).
type Config struct {
	LowWatermark     float64
	SustainedSamples int
	RingCapacity     int
	Baseline         float64
	DemandWindow     time.Duration
	FailureStreakMin int
	TriggerCooldown  time.Duration
}

func (c Config) withDefaults() Config {
	if c.LowWatermark <= 0 {
		c.LowWatermark = 0.7
	}
	if c.SustainedSamples <= 0 {
		c.SustainedSamples = 3
	}
	if c.RingCapacity <= 0 {
		c.RingCapacity = 64
	}
	if c.DemandWindow <= 0 {
		c.DemandWindow = 5 * time.Minute
	}
	if c.FailureStreakMin <= 0 {
		c.FailureStreakMin = 5
	}
	if c.TriggerCooldown <= 0 {
		c.TriggerCooldown = time.Minute
	}
	return c
}

// Engine computes VarietySamples on each tick and emits deduplicated
// acquisition triggers (spec §4.15).
type Engine struct {
	cfg         Config
	registry    RegistrySource
	successRate func() float64 // may be nil; treated as 1.0
	inFlight    InFlightChecker
	onTrigger   OnTrigger
	bus         *events.Bus

	mu             sync.Mutex
	ring           []Sample
	lowStreak      int
	belowWatermark bool
	demand         map[string][]time.Time
	failures       map[string]int
	lastTriggered  map[string]time.Time
}

// New builds an Engine. successRate, inFlight, onTrigger, and bus may all
// be nil.
func New(cfg Config, registry RegistrySource, successRate func() float64, inFlight InFlightChecker, onTrigger OnTrigger, bus *events.Bus) *Engine {
	return &Engine{
		cfg:           cfg.withDefaults(),
		registry:      registry,
		successRate:   successRate,
		inFlight:      inFlight,
		onTrigger:     onTrigger,
		bus:           bus,
		demand:        make(map[string][]time.Time),
		failures:      make(map[string]int),
		lastTriggered: make(map[string]time.Time),
	}
}

// RecordCapabilityUnavailable notes that a task asked for a capability the
// Registry couldn't bind (spec §4.15 condition b).
func (e *Engine) RecordCapabilityUnavailable(capability string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.demand[capability] = append(e.demand[capability], time.Now())
}

// RecordRoutingFailure extends a capability's consecutive routing-failure
// streak (spec §4.15 condition c).
func (e *Engine) RecordRoutingFailure(capability string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failures[capability]++
}

// RecordRoutingSuccess resets a capability's failure streak.
func (e *Engine) RecordRoutingSuccess(capability string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.failures, capability)
}

// Tick computes one Sample and evaluates every trigger condition. It
// matches clock.Handler's signature so it can be registered directly
// against a Scheduler's "variety" tick.
func (e *Engine) Tick(ctx context.Context) error {
	sample := e.computeSample()

	e.mu.Lock()
	e.ring = append(e.ring, sample)
	if len(e.ring) > e.cfg.RingCapacity {
		e.ring = e.ring[len(e.ring)-e.cfg.RingCapacity:]
	}
	e.mu.Unlock()

	e.evaluateLowWatermark(sample)
	e.evaluateCapabilityDemand()
	e.evaluateFailureStreaks()
	return nil
}

func (e *Engine) computeSample() Sample {
	caps := e.registry.Capabilities()
	toolCount := e.registry.ToolCount()

	avgTools := 0.0
	if len(caps) > 0 {
		avgTools = float64(toolCount) / float64(len(caps))
	}
	sr := 1.0
	if e.successRate != nil {
		sr = e.successRate()
	}
	operational := math.Log2(1 + float64(len(caps))*avgTools*sr)

	e.mu.Lock()
	demandCount := 0
	cutoff := time.Now().Add(-e.cfg.DemandWindow)
	for cap, ts := range e.demand {
		kept := ts[:0]
		for _, t := range ts {
			if t.After(cutoff) {
				kept = append(kept, t)
			}
		}
		if len(kept) == 0 {
			delete(e.demand, cap)
		} else {
			e.demand[cap] = kept
		}
		demandCount += len(kept)
	}
	e.mu.Unlock()

	environmental := math.Log2(1 + e.cfg.Baseline + float64(demandCount))
	ratio := math.Inf(1)
	if environmental > 0 {
		ratio = operational / environmental
	}

	return Sample{Timestamp: time.Now(), Operational: operational, Environmental: environmental, Ratio: ratio}
}

func (e *Engine) evaluateLowWatermark(sample Sample) {
	e.mu.Lock()
	if sample.Ratio < e.cfg.LowWatermark {
		e.lowStreak++
	} else {
		if e.belowWatermark {
			e.belowWatermark = false
			e.mu.Unlock()
			if e.bus != nil {
				e.bus.Publish("variety", "", events.ReasonVarietyRecovered, "variety ratio recovered above low watermark", nil)
			}
			e.mu.Lock()
		}
		e.lowStreak = 0
	}
	sustained := e.lowStreak >= e.cfg.SustainedSamples
	e.mu.Unlock()

	if !sustained {
		return
	}
	e.mu.Lock()
	e.belowWatermark = true
	e.mu.Unlock()

	target := e.mostDemandedCapability()
	if target == "" {
		logging.Warn("variety", "ratio %.3f sustained below low watermark %.3f with no demand data to target", sample.Ratio, e.cfg.LowWatermark)
		if e.bus != nil {
			e.bus.Publish("variety", "", events.ReasonVarietyLow, "variety low watermark sustained, no capability to target", nil)
		}
		return
	}
	e.fire(Trigger{Capability: target, Reason: ReasonLowWatermark, Shortfall: e.cfg.LowWatermark - sample.Ratio, Priority: PriorityHigh})
}

func (e *Engine) mostDemandedCapability() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	best, bestCount := "", 0
	for cap, ts := range e.demand {
		if len(ts) > bestCount {
			best, bestCount = cap, len(ts)
		}
	}
	return best
}

func (e *Engine) evaluateCapabilityDemand() {
	e.mu.Lock()
	capsWithDemand := make([]string, 0, len(e.demand))
	for cap, ts := range e.demand {
		if len(ts) > 0 {
			capsWithDemand = append(capsWithDemand, cap)
		}
	}
	e.mu.Unlock()

	for _, cap := range capsWithDemand {
		e.fire(Trigger{Capability: cap, Reason: ReasonCapabilityRequested, Shortfall: 1, Priority: PriorityNormal})
	}
}

func (e *Engine) evaluateFailureStreaks() {
	e.mu.Lock()
	streaks := make(map[string]int, len(e.failures))
	for cap, n := range e.failures {
		streaks[cap] = n
	}
	e.mu.Unlock()

	for cap, n := range streaks {
		if n >= e.cfg.FailureStreakMin {
			e.fire(Trigger{Capability: cap, Reason: ReasonRoutingFailureStreak, Shortfall: float64(n), Priority: PriorityHigh})
		}
	}
}

// fire drops a trigger whose capability has an acquisition in flight, or
// whose capability and reason already fired within the cooldown window,
// before invoking onTrigger (spec §4.15: "deduplicated by
// capability and coalesced if another is already in-flight").
func (e *Engine) fire(t Trigger) {
	if e.inFlight != nil && e.inFlight(t.Capability) {
		return
	}

	key := t.Capability + "|" + string(t.Reason)
	e.mu.Lock()
	last, ok := e.lastTriggered[key]
	if ok && time.Since(last) < e.cfg.TriggerCooldown {
		e.mu.Unlock()
		return
	}
	e.lastTriggered[key] = time.Now()
	e.mu.Unlock()

	if e.bus != nil {
		e.bus.Publish("variety", "", events.ReasonVarietyLow, "acquisition trigger emitted", map[string]interface{}{
			"capability": t.Capability,
			"reason":     string(t.Reason),
			"shortfall":  t.Shortfall,
			"priority":   string(t.Priority),
		})
	}
	if e.onTrigger != nil {
		e.onTrigger(t)
	}
}

// LatestSample returns the most recent Sample, if any have been computed
// yet.
func (e *Engine) LatestSample() (Sample, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.ring) == 0 {
		return Sample{}, false
	}
	return e.ring[len(e.ring)-1], true
}

// History returns the retained ring of samples, oldest first.
func (e *Engine) History() []Sample {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Sample(nil), e.ring...)
}
