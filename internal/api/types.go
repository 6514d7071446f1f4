package api

import "time"

// ServerStatus is the Supervisor's public view of one managed server
// process, independent of the supervisor package's internal state type.
type ServerStatus struct {
	ServerID     string
	State        string
	Health       string
	RestartCount int
	LastError    string
	BreakerState string
	Capabilities []string
}

// JobStatus is the Orchestrator's public view of one acquisition job.
type JobStatus struct {
	JobID      string
	Capability string
	Phase      string
	StartedAt  time.Time
	UpdatedAt  time.Time
	Error      string
}

// DLQEntrySummary is the Dead-Letter Queue's public view of one entry.
type DLQEntrySummary struct {
	EntryID   string
	ServerID  string
	Method    string
	Kind      string
	CreatedAt time.Time
	Attempts  int
}

// VarietySnapshot is the Variety Engine's public view of its latest sample.
type VarietySnapshot struct {
	OperationalVariety  float64
	EnvironmentalVariety float64
	Ratio               float64
	SampledAt           time.Time
}
