package orchestrator

import (
	"context"
	"sync"
	"time"

	"musterd/internal/api"
	"musterd/internal/discovery"
	"musterd/internal/installer"
	"musterd/internal/sandbox"
	"musterd/internal/supervisor"
)

// Phase names one step of an AcquisitionJob's state machine (spec §4.16).
type Phase string

const (
	PhaseQueued      Phase = "queued"
	PhaseDiscovering Phase = "discovering"
	PhaseRanking     Phase = "ranking"
	PhaseInstalling  Phase = "installing"
	PhaseVerifying   Phase = "verifying"
	PhaseRegistering Phase = "registering"
	PhaseDone        Phase = "done"
	PhaseFailed      Phase = "failed"
)

func (p Phase) terminal() bool {
	return p == PhaseDone || p == PhaseFailed
}

// RequestBuilder turns a ranked discovery candidate into an install
// request. Catalog-specific: the candidate carries only name/version/
// source/signals, so the mapping to a package spec, repo URL, or image
// reference is supplied by the caller at wiring time.
type RequestBuilder func(candidate discovery.RankedCandidate) installer.Request

// SpecBuilder turns a completed Installation into the Supervisor Spec used
// to promote it to a live ServerProcess.
type SpecBuilder func(serverID string, installation installer.Installation, candidate discovery.RankedCandidate) supervisor.Spec

// ChecksFor returns the capability probes the Sandbox should run for one
// capability (spec §4.12 stage 2).
type ChecksFor func(capability string) []sandbox.CapabilityCheck

// CapabilitiesFor returns every capability name an installed candidate
// should be bound to in the Registry — usually just the requested
// capability, but a multi-tool server may advertise more than one.
type CapabilitiesFor func(candidate discovery.RankedCandidate) []string

// CandidateAllowed applies policy (package whitelist / dangerous-name
// blacklist, spec §6) to a ranked candidate before it is chosen. Nil
// allows every candidate.
type CandidateAllowed func(candidate discovery.RankedCandidate) bool

// Job is one in-flight (or completed) acquisition (spec §3 AcquisitionJob).
type Job struct {
	mu sync.Mutex

	JobID      string
	Capability string
	Phase      Phase
	Candidates []discovery.RankedCandidate
	Chosen     *discovery.RankedCandidate
	Installation *installer.Installation
	Verdict    *sandbox.Verdict
	ServerID   string
	Err        error
	StartedAt  time.Time
	UpdatedAt  time.Time

	cancel context.CancelFunc
}

func (j *Job) setPhase(p Phase, err error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Phase = p
	j.Err = err
	j.UpdatedAt = time.Now()
}

func (j *Job) status() api.JobStatus {
	j.mu.Lock()
	defer j.mu.Unlock()
	errMsg := ""
	if j.Err != nil {
		errMsg = j.Err.Error()
	}
	return api.JobStatus{
		JobID:      j.JobID,
		Capability: j.Capability,
		Phase:      string(j.Phase),
		StartedAt:  j.StartedAt,
		UpdatedAt:  j.UpdatedAt,
		Error:      errMsg,
	}
}

// Config holds the per-phase wall-clock deadlines (spec §4.16: "each phase
// has a wall-clock deadline; exceeding it transitions to failed").
type Config struct {
	DiscoverDeadline time.Duration
	InstallDeadline  time.Duration
	VerifyDeadline   time.Duration
	RegisterDeadline time.Duration
	DefaultPriority  string
	SandboxLimits    sandbox.Limits
	AllowNetwork     bool
}

func (c Config) withDefaults() Config {
	if c.DiscoverDeadline <= 0 {
		c.DiscoverDeadline = 10 * time.Second
	}
	if c.InstallDeadline <= 0 {
		c.InstallDeadline = 2 * time.Minute
	}
	if c.VerifyDeadline <= 0 {
		c.VerifyDeadline = 15 * time.Second
	}
	if c.RegisterDeadline <= 0 {
		c.RegisterDeadline = 10 * time.Second
	}
	if c.SandboxLimits.WallClock <= 0 {
		c.SandboxLimits.WallClock = c.VerifyDeadline
	}
	return c
}
