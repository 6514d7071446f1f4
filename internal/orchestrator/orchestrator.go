package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"musterd/internal/api"
	"musterd/internal/discovery"
	"musterd/internal/errkind"
	"musterd/internal/events"
	"musterd/internal/installer"
	"musterd/internal/registry"
	"musterd/internal/sandbox"
	"musterd/internal/supervisor"
	"musterd/pkg/logging"
)

// Orchestrator runs the acquisition pipeline described in spec §4.16,
// coalescing at most one in-flight job per capability and committing a new
// capability to the Registry only once the Supervisor has promoted it.
type Orchestrator struct {
	cfg Config

	discoveryEngine *discovery.Engine
	installerSvc    *installer.Installer
	supervisorSvc   *supervisor.Supervisor
	registrySvc     *registry.Registry
	bus             *events.Bus

	requestBuilder   RequestBuilder
	specBuilder      SpecBuilder
	checksFor        ChecksFor
	capabilitiesFor  CapabilitiesFor
	candidateAllowed CandidateAllowed

	mu           sync.Mutex
	jobs         map[string]*Job
	byCapability map[string]string // capability -> job_id, only while in discovering..registering
}

// New builds an Orchestrator. requestBuilder and specBuilder are required;
// checksFor and capabilitiesFor may be nil (sensible defaults apply). A
// fresh sandbox.Verifier is built per job (each one's Launch closure is
// bound to that job's own Installation), so none is threaded in here.
func New(
	cfg Config,
	discoveryEngine *discovery.Engine,
	installerSvc *installer.Installer,
	supervisorSvc *supervisor.Supervisor,
	registrySvc *registry.Registry,
	bus *events.Bus,
	requestBuilder RequestBuilder,
	specBuilder SpecBuilder,
	checksFor ChecksFor,
	capabilitiesFor CapabilitiesFor,
	candidateAllowed CandidateAllowed,
) *Orchestrator {
	return &Orchestrator{
		cfg:              cfg.withDefaults(),
		discoveryEngine:  discoveryEngine,
		installerSvc:     installerSvc,
		supervisorSvc:    supervisorSvc,
		registrySvc:      registrySvc,
		bus:              bus,
		requestBuilder:   requestBuilder,
		specBuilder:      specBuilder,
		checksFor:        checksFor,
		capabilitiesFor:  capabilitiesFor,
		candidateAllowed: candidateAllowed,
		jobs:             make(map[string]*Job),
		byCapability:     make(map[string]string),
	}
}

// Acquire implements api.OrchestratorHandler: it starts (or returns the
// existing) acquisition job for capability, coalesced per spec §4.16 "at
// most one job per capability in the discovering..registering span".
func (o *Orchestrator) Acquire(ctx context.Context, capability string) (string, error) {
	o.mu.Lock()
	if existing, ok := o.byCapability[capability]; ok {
		o.mu.Unlock()
		return existing, nil
	}

	jobID := uuid.NewString()
	now := time.Now()
	job := &Job{
		JobID:      jobID,
		Capability: capability,
		Phase:      PhaseQueued,
		StartedAt:  now,
		UpdatedAt:  now,
	}
	o.jobs[jobID] = job
	o.byCapability[capability] = jobID
	o.mu.Unlock()

	runCtx, cancel := context.WithCancel(context.Background())
	job.cancel = cancel

	o.publish(job, events.ReasonJobQueued, "acquisition job queued")
	go o.run(runCtx, job)

	return jobID, nil
}

// InFlight reports whether a capability currently has a coalescing job
// running, for the Variety Engine's InFlightChecker (spec §4.15:
// "coalesced if another is already in-flight").
func (o *Orchestrator) InFlight(capability string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.byCapability[capability]
	return ok
}

// JobStatus implements api.OrchestratorHandler.
func (o *Orchestrator) JobStatus(jobID string) (api.JobStatus, bool) {
	o.mu.Lock()
	job, ok := o.jobs[jobID]
	o.mu.Unlock()
	if !ok {
		return api.JobStatus{}, false
	}
	return job.status(), true
}

// PruneJobs drops terminal (done or failed) jobs last updated before
// olderThan, bounding the otherwise unbounded job history. Intended as the
// Clock's "cleanup" tick handler.
func (o *Orchestrator) PruneJobs(olderThan time.Time) int {
	o.mu.Lock()
	defer o.mu.Unlock()

	pruned := 0
	for id, job := range o.jobs {
		job.mu.Lock()
		terminal := job.Phase.terminal()
		updatedAt := job.UpdatedAt
		job.mu.Unlock()

		if terminal && updatedAt.Before(olderThan) {
			delete(o.jobs, id)
			pruned++
		}
	}
	return pruned
}

// ListJobs implements api.OrchestratorHandler.
func (o *Orchestrator) ListJobs() []api.JobStatus {
	o.mu.Lock()
	jobs := make([]*Job, 0, len(o.jobs))
	for _, j := range o.jobs {
		jobs = append(jobs, j)
	}
	o.mu.Unlock()

	out := make([]api.JobStatus, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, j.status())
	}
	return out
}

// CancelJob cancels a running job. Cancellation during installing or
// verifying rolls back (spec §4.16): the installer's own all-or-nothing
// guarantee handles the former, the sandbox's teardown func handles the
// latter.
func (o *Orchestrator) CancelJob(jobID string) error {
	o.mu.Lock()
	job, ok := o.jobs[jobID]
	o.mu.Unlock()
	if !ok {
		return errkind.New(errkind.InternalError, "orchestrator", fmt.Errorf("job %s not found", jobID))
	}
	if job.cancel != nil {
		job.cancel()
	}
	return nil
}

// run drives one job through every phase. It always terminates the job
// (done or failed) and releases the capability's coalescing slot.
func (o *Orchestrator) run(ctx context.Context, job *Job) {
	defer o.release(job.Capability)

	candidates, ok := o.discoverPhase(ctx, job)
	if !ok {
		return
	}

	chosen, ok := o.rankPhase(job, candidates)
	if !ok {
		return
	}

	installation, ok := o.installPhase(ctx, job, chosen)
	if !ok {
		return
	}

	verdict, ok := o.verifyPhase(ctx, job, installation)
	if !ok {
		return
	}

	o.registerPhase(ctx, job, installation, chosen, verdict)
}

func (o *Orchestrator) release(capability string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.byCapability, capability)
}

func (o *Orchestrator) discoverPhase(ctx context.Context, job *Job) (discovery.RankedCandidate, bool) {
	job.setPhase(PhaseDiscovering, nil)
	o.publish(job, events.ReasonJobDiscovering, "searching catalogs")

	phaseCtx, cancel := context.WithTimeout(ctx, o.cfg.DiscoverDeadline)
	defer cancel()

	req := discovery.Requirement{Capability: job.Capability, Priority: o.cfg.DefaultPriority}
	candidates, err := o.discoveryEngine.Search(phaseCtx, req)
	if err != nil {
		o.fail(job, errkind.New(errkind.InternalError, "orchestrator", fmt.Errorf("discovery: %w", err)))
		return discovery.RankedCandidate{}, false
	}
	if len(candidates) == 0 {
		o.fail(job, fmt.Errorf("discovery: no candidates found for capability %q", job.Capability))
		return discovery.RankedCandidate{}, false
	}

	job.mu.Lock()
	job.Candidates = candidates
	job.mu.Unlock()
	return candidates[0], true
}

func (o *Orchestrator) rankPhase(job *Job, candidates []discovery.RankedCandidate) (discovery.RankedCandidate, bool) {
	job.setPhase(PhaseRanking, nil)
	o.publish(job, events.ReasonJobRanking, fmt.Sprintf("ranked %d candidate(s)", len(candidates)))

	if o.candidateAllowed != nil {
		allowed := candidates[:0:0]
		for _, c := range candidates {
			if o.candidateAllowed(c) {
				allowed = append(allowed, c)
			}
		}
		candidates = allowed
	}
	if len(candidates) == 0 {
		o.fail(job, fmt.Errorf("rank: every candidate for capability %q was rejected by policy", job.Capability))
		return discovery.RankedCandidate{}, false
	}

	chosen := candidates[0]
	job.mu.Lock()
	job.Chosen = &chosen
	job.mu.Unlock()
	return chosen, true
}

func (o *Orchestrator) installPhase(ctx context.Context, job *Job, chosen discovery.RankedCandidate) (installer.Installation, bool) {
	job.setPhase(PhaseInstalling, nil)
	o.publish(job, events.ReasonJobInstalling, fmt.Sprintf("installing %s@%s", chosen.Name, chosen.Version))

	phaseCtx, cancel := context.WithTimeout(ctx, o.cfg.InstallDeadline)
	defer cancel()

	req := o.requestBuilder(chosen)
	installation, err := o.installerSvc.TryInstall(phaseCtx, req)
	if err != nil {
		if err == installer.ErrAlreadyInstalling {
			o.fail(job, fmt.Errorf("install: already_installing for %s", req.Key()))
			return installer.Installation{}, false
		}
		o.fail(job, fmt.Errorf("install: %w", err))
		return installer.Installation{}, false
	}

	job.mu.Lock()
	job.Installation = &installation
	job.mu.Unlock()
	return installation, true
}

func (o *Orchestrator) verifyPhase(ctx context.Context, job *Job, installation installer.Installation) (sandbox.Verdict, bool) {
	job.setPhase(PhaseVerifying, nil)
	o.publish(job, events.ReasonJobVerifying, "verifying install in sandbox")

	phaseCtx, cancel := context.WithTimeout(ctx, o.cfg.VerifyDeadline)
	defer cancel()

	var checks []sandbox.CapabilityCheck
	if o.checksFor != nil {
		checks = o.checksFor(job.Capability)
	}

	verifier := sandbox.New(newSandboxLaunch(installation, o.cfg.AllowNetwork), o.cfg.SandboxLimits)

	verdict, err := verifier.Verify(phaseCtx, installation.InstallDir, checks, o.cfg.AllowNetwork)
	if err != nil {
		// Sandbox failures roll back like any other installing-stage
		// failure: the candidate never ran cleanly enough to diagnose.
		o.installerSvc.RollbackDir(installation.InstallDir)
		o.fail(job, fmt.Errorf("verify: %w", err))
		return sandbox.Verdict{}, false
	}
	if !verdict.Pass {
		// A clean but failing verification is retained for diagnosis
		// (spec §4.12), not rolled back.
		job.mu.Lock()
		job.Verdict = &verdict
		job.mu.Unlock()
		o.fail(job, fmt.Errorf("verify: failed at stage %s: %s", verdict.FailedStage, verdict.Reason))
		return sandbox.Verdict{}, false
	}

	job.mu.Lock()
	job.Verdict = &verdict
	job.mu.Unlock()
	return verdict, true
}

func (o *Orchestrator) registerPhase(ctx context.Context, job *Job, installation installer.Installation, chosen discovery.RankedCandidate, _ sandbox.Verdict) {
	job.setPhase(PhaseRegistering, nil)
	o.publish(job, events.ReasonJobRegistering, "promoting to supervisor")

	phaseCtx, cancel := context.WithTimeout(ctx, o.cfg.RegisterDeadline)
	defer cancel()

	serverID := job.Capability + "-" + installation.InstallID
	spec := o.specBuilder(serverID, installation, chosen)
	spec.ServerID = serverID
	spec.Installation = installation

	status, err := o.supervisorSvc.Start(phaseCtx, spec)
	if err != nil {
		o.fail(job, fmt.Errorf("register: supervisor start: %w", err))
		return
	}

	caps := []string{job.Capability}
	if o.capabilitiesFor != nil {
		if extra := o.capabilitiesFor(chosen); len(extra) > 0 {
			caps = extra
		}
	}

	if client, err := o.supervisorSvc.Acquire(phaseCtx, serverID); err == nil {
		toolDescriptors := client.Tools()
		o.supervisorSvc.Release(serverID, client)
		o.registrySvc.Register(serverID, caps, toolDescriptors, registry.ServerSummary{
			State:        string(status.State),
			RestartCount: status.RestartCount,
			BreakerState: status.BreakerState,
		})
	} else {
		logging.Warn("orchestrator", "registering %s: could not fetch tool list: %v", serverID, err)
		o.registrySvc.Register(serverID, caps, nil, registry.ServerSummary{
			State:        string(status.State),
			RestartCount: status.RestartCount,
			BreakerState: status.BreakerState,
		})
	}

	job.mu.Lock()
	job.ServerID = serverID
	job.mu.Unlock()

	job.setPhase(PhaseDone, nil)
	o.publish(job, events.ReasonJobDone, fmt.Sprintf("capability %s bound to %s", job.Capability, serverID))
}

func (o *Orchestrator) fail(job *Job, cause error) {
	job.setPhase(PhaseFailed, cause)
	o.publish(job, events.ReasonJobFailed, cause.Error())
	logging.Error("orchestrator", cause, "job %s (%s) failed", job.JobID, job.Capability)
}

func (o *Orchestrator) publish(job *Job, reason events.Reason, message string) {
	if o.bus == nil {
		return
	}
	o.bus.Publish("orchestrator", job.ServerID, reason, message, map[string]interface{}{
		"job_id":     job.JobID,
		"capability": job.Capability,
	})
}
