package registry

import (
	"sync"
	"time"

	"musterd/internal/mcpclient"
)

// ServerSummary is the Supervisor-reported state carried alongside a
// capability binding (spec §3 "CapabilityBinding").
type ServerSummary struct {
	ServerID     string
	State        string
	RestartCount int
	LastHealthAt time.Time
	BreakerState string
}

// Registry maintains capability -> [server_id], server_id -> summary, and
// server_id -> [ToolDescriptor] (spec §4.14). Only servers registered here
// are eligible for routing — registration and the ready state are kept in
// lockstep by the caller (normally the Supervisor's state-change hook).
type Registry struct {
	mu           sync.RWMutex
	capabilities map[string]map[string]struct{} // capability -> set of server_id
	summaries    map[string]ServerSummary
	tools        map[string][]mcpclient.ToolDescriptor
}

// New builds an empty Registry.
func New() *Registry {
	return &Registry{
		capabilities: make(map[string]map[string]struct{}),
		summaries:    make(map[string]ServerSummary),
		tools:        make(map[string][]mcpclient.ToolDescriptor),
	}
}

// Register binds serverID to every capability it provides, storing its
// tool descriptors and summary. Called once the Supervisor reports ready
// and tools/list has completed (spec §4.14: "Registration occurs when the
// Supervisor reports ready and the client has completed tools/list").
func (r *Registry) Register(serverID string, capabilities []string, tools []mcpclient.ToolDescriptor, summary ServerSummary) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, cap := range capabilities {
		set, ok := r.capabilities[cap]
		if !ok {
			set = make(map[string]struct{})
			r.capabilities[cap] = set
		}
		set[serverID] = struct{}{}
	}
	r.tools[serverID] = tools
	summary.ServerID = serverID
	r.summaries[serverID] = summary
}

// Unregister removes serverID from every capability binding and drops its
// tools/summary. Called when a server's state leaves ready, for any reason
// (spec §4.14: "Unregistration occurs on state leaving ready").
func (r *Registry) Unregister(serverID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for cap, set := range r.capabilities {
		delete(set, serverID)
		if len(set) == 0 {
			delete(r.capabilities, cap)
		}
	}
	delete(r.tools, serverID)
	delete(r.summaries, serverID)
}

// UpdateBreakerState refreshes the cached breaker state shown in status
// summaries, without touching capability bindings.
func (r *Registry) UpdateBreakerState(serverID, state string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.summaries[serverID]; ok {
		s.BreakerState = state
		r.summaries[serverID] = s
	}
}

// CapabilityServers returns the server_ids currently bound to capability,
// in no particular order (spec §8 property 3: routable iff ≥1 ready
// server is registered).
func (r *Registry) CapabilityServers(capability string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set, ok := r.capabilities[capability]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}

// ServerTools returns the tool descriptors learned from serverID's last
// tools/list handshake.
func (r *Registry) ServerTools(serverID string) []mcpclient.ToolDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]mcpclient.ToolDescriptor(nil), r.tools[serverID]...)
}

// Summary returns the cached summary for serverID.
func (r *Registry) Summary(serverID string) (ServerSummary, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.summaries[serverID]
	return s, ok
}

// Summaries returns every registered server's summary.
func (r *Registry) Summaries() []ServerSummary {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ServerSummary, 0, len(r.summaries))
	for _, s := range r.summaries {
		out = append(out, s)
	}
	return out
}

// Capabilities lists every currently bound capability name.
func (r *Registry) Capabilities() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.capabilities))
	for cap := range r.capabilities {
		out = append(out, cap)
	}
	return out
}

// ToolCount returns the total number of tool descriptors across all
// registered servers (a tool offered by two servers counts twice), used by
// the Variety Engine's operational_variety.
func (r *Registry) ToolCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	total := 0
	for _, ts := range r.tools {
		total += len(ts)
	}
	return total
}
