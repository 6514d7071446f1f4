package discovery

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"musterd/pkg/logging"
	pkgstrings "musterd/pkg/strings"
)

// Engine fans a Requirement out to every registered CatalogAdapter in
// parallel, merges and ranks the results (spec §4.10).
type Engine struct {
	adapters []CatalogAdapter
	weights  WeightTable
	topK     int
	deadline time.Duration
}

// NewEngine builds an Engine. weights must contain a default ("") entry;
// For falls back to it for unknown priorities.
func NewEngine(adapters []CatalogAdapter, weights WeightTable, topK int, deadline time.Duration) *Engine {
	return &Engine{adapters: adapters, weights: weights, topK: topK, deadline: deadline}
}

// Search queries every adapter, merges by Key() (keeping the highest-signal
// duplicate), ranks, and truncates to topK.
func (e *Engine) Search(ctx context.Context, req Requirement) ([]RankedCandidate, error) {
	ctx, cancel := context.WithTimeout(ctx, e.deadline)
	defer cancel()

	raw, err := e.fanOut(ctx, req)
	if err != nil {
		return nil, err
	}

	merged := dedupe(raw)
	ranked := e.rank(merged, req)

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})

	if e.topK > 0 && len(ranked) > e.topK {
		ranked = ranked[:e.topK]
	}
	for _, c := range ranked {
		logging.Debug("discovery", "candidate %s@%s score=%.2f %q", c.Name, c.Version, c.Score,
			pkgstrings.TruncateDescription(c.Description, pkgstrings.DefaultDescriptionMaxLen))
	}
	return ranked, nil
}

// fanOut queries every adapter concurrently; a single adapter's failure or
// timeout does not fail the whole search — it is logged and skipped, since
// the deadline governs the overall search, not any one source.
func (e *Engine) fanOut(ctx context.Context, req Requirement) ([]ServerCandidate, error) {
	var mu sync.Mutex
	var all []ServerCandidate

	g, gctx := errgroup.WithContext(ctx)
	for _, adapter := range e.adapters {
		adapter := adapter
		g.Go(func() error {
			candidates, err := adapter.Query(gctx, req)
			if err != nil {
				logging.Warn("discovery", "catalog adapter %s failed: %v", adapter.Name(), err)
				return nil
			}
			mu.Lock()
			all = append(all, candidates...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return all, nil
}

func dedupe(candidates []ServerCandidate) []ServerCandidate {
	best := make(map[string]ServerCandidate, len(candidates))
	order := make([]string, 0, len(candidates))
	for _, c := range candidates {
		key := c.Key()
		existing, ok := best[key]
		if !ok {
			order = append(order, key)
			best[key] = c
			continue
		}
		if totalSignal(c.Signals) > totalSignal(existing.Signals) {
			best[key] = c
		}
	}
	out := make([]ServerCandidate, 0, len(order))
	for _, k := range order {
		out = append(out, best[k])
	}
	return out
}

func totalSignal(s Signals) float64 {
	return s.QualityScore + s.SourceTrust + float64(s.KeywordMatches)
}

func (e *Engine) rank(candidates []ServerCandidate, req Requirement) []RankedCandidate {
	w := e.weights.For(req.Priority)
	out := make([]RankedCandidate, 0, len(candidates))
	for _, c := range candidates {
		score := w.CapabilityMatch*capabilityMatchScore(c, req) +
			w.Quality*c.Signals.QualityScore +
			w.Recency*recencyScore(c.Signals.MaintainedDays) +
			w.Trust*c.Signals.SourceTrust
		out = append(out, RankedCandidate{ServerCandidate: c, Score: score})
	}
	return out
}

// capabilityMatchScore rewards candidates whose description or keyword
// signals line up with the requirement.
func capabilityMatchScore(c ServerCandidate, req Requirement) float64 {
	score := 0.0
	lowered := strings.ToLower(c.Name + " " + c.Description)
	if strings.Contains(lowered, strings.ToLower(req.Capability)) {
		score += 0.5
	}
	if len(req.Keywords) == 0 {
		return clamp01(score + 0.5)
	}
	matched := 0
	for _, kw := range req.Keywords {
		if strings.Contains(lowered, strings.ToLower(kw)) {
			matched++
		}
	}
	score += 0.5 * float64(matched) / float64(len(req.Keywords))
	return clamp01(score)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
