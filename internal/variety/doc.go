// Package variety computes, on each clock tick, the gap between what the
// daemon can currently do (operational variety, derived from the Capability
// Registry) and what is being asked of it (environmental variety, derived
// from recent demand signals and configured baselines), and emits
// deduplicated acquisition triggers when that gap crosses a threshold
// (spec §4.15).
package variety
