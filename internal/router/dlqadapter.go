package router

import (
	"context"
	"encoding/json"
	"fmt"

	"musterd/internal/api"
	"musterd/internal/resilience"
)

// DLQAdapter implements api.DLQHandler, binding a DLQ to the Router so a
// retry replays the stored call through the normal capability-resolution
// path rather than pinning it back to the server that originally failed it
// (spec §9: "Retry re-executes the stored call through the normal Router
// path; success removes the entry").
type DLQAdapter struct {
	dlq    *resilience.DLQ
	router *Router
}

// NewDLQAdapter builds a DLQAdapter over dlq and router.
func NewDLQAdapter(dlq *resilience.DLQ, router *Router) *DLQAdapter {
	return &DLQAdapter{dlq: dlq, router: router}
}

// ListEntries implements api.DLQHandler.
func (a *DLQAdapter) ListEntries(serverID string) []api.DLQEntrySummary {
	entries := a.dlq.List(serverID)
	out := make([]api.DLQEntrySummary, 0, len(entries))
	for _, e := range entries {
		out = append(out, api.DLQEntrySummary{
			EntryID:   e.EntryID,
			ServerID:  e.ServerID,
			Method:    e.Method,
			Kind:      string(e.Kind),
			CreatedAt: e.CreatedAt,
			Attempts:  e.Attempts,
		})
	}
	return out
}

// RetryEntry implements api.DLQHandler.
func (a *DLQAdapter) RetryEntry(ctx context.Context, entryID string) error {
	return a.dlq.Retry(ctx, entryID, func(ctx context.Context, entry resilience.DLQEntry) error {
		var args map[string]interface{}
		if len(entry.Params) > 0 {
			if err := json.Unmarshal(entry.Params, &args); err != nil {
				return fmt.Errorf("dlq: decoding stored params for %s: %w", entry.EntryID, err)
			}
		}
		_, err := a.router.Route(ctx, Task{
			Capability: entry.Capability,
			ToolName:   entry.Method,
			Arguments:  args,
			DLQOptIn:   false, // a retry that fails again must not re-enqueue itself
		})
		return err
	})
}

// PurgeEntry implements api.DLQHandler.
func (a *DLQAdapter) PurgeEntry(entryID string) error {
	if !a.dlq.Purge(entryID) {
		return fmt.Errorf("dlq: no such entry %s", entryID)
	}
	return nil
}
