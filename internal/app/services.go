package app

import (
	"context"
	"fmt"
	"time"

	"musterd/internal/api"
	"musterd/internal/clock"
	"musterd/internal/config"
	"musterd/internal/discovery"
	"musterd/internal/events"
	"musterd/internal/installer"
	"musterd/internal/mcpclient"
	"musterd/internal/orchestrator"
	"musterd/internal/registry"
	"musterd/internal/resilience"
	"musterd/internal/router"
	"musterd/internal/supervisor"
	"musterd/internal/variety"
	"musterd/pkg/logging"
)

// Services holds every long-lived collaborator the daemon wires together.
// Bootstrap builds exactly one of these; Application.Run drives it.
type Services struct {
	ConfigMgr    *config.Manager
	Bus          *events.Bus
	Breakers     *resilience.BreakerManager
	Limiter      *resilience.RateLimiter
	Retry        *resilience.RetryPolicy
	DLQ          *resilience.DLQ
	Supervisor   *supervisor.Supervisor
	Registry     *registry.Registry
	Router       *router.Router
	DLQAdapter   *router.DLQAdapter
	Discovery    *discovery.Engine
	Installer    *installer.Installer
	Orchestrator *orchestrator.Orchestrator
	Variety      *variety.Engine
	Clock        *clock.Scheduler
	Bridge       *StateChangeBridge
}

// InitializeServices performs the full dependency-injection sequence:
// resilience primitives, then the Supervisor/Registry/Router trio, then
// Discovery/Installer, then the Orchestrator that composes all of them,
// then the Variety Engine and Clock, and finally the admin API adapters.
// mgr has already loaded the on-disk configuration; its current snapshot
// seeds every collaborator built here.
func InitializeServices(mgr *config.Manager) (*Services, error) {
	mc := mgr.Current()

	bus := events.NewBus()
	reg := registry.New()

	breakers := resilience.NewBreakerManager(
		resilience.BreakerSettings{
			FailureThreshold: mc.Thresholds.BreakerFailureThreshold,
			SuccessThreshold: mc.Thresholds.BreakerSuccessThreshold,
			OpenTimeout:      mc.Thresholds.BreakerOpenTimeout,
		},
		func(target string, from, to resilience.BreakerState) {
			reg.UpdateBreakerState(target, string(to))
			bus.Publish("resilience", target, breakerReason(to), fmt.Sprintf("%s -> %s", from, to), nil)
		},
	)
	limiter := resilience.NewRateLimiter(resilience.RateLimitSettings{
		PerInterval: mc.Thresholds.RateLimitPerInterval,
		Interval:    mc.Thresholds.RateLimitInterval,
	})
	retry := resilience.NewRetryPolicy(
		mc.Thresholds.RetryMaxAttempts,
		mc.Thresholds.RetryInitialDelay,
		mc.Thresholds.RetryMaxDelay,
		mc.Thresholds.RetryBackoffFactor,
		mc.Thresholds.RetryJitter,
	)
	dlq := resilience.NewDLQ(mc.Limits.DLQCapacity, mc.Endpoints.DLQPersistPath)
	if err := dlq.Load(); err != nil {
		return nil, fmt.Errorf("app: loading dlq persist log: %w", err)
	}

	sup := supervisor.New(supervisor.Config{
		MaxChildren:        mc.Limits.MaxChildren,
		HealthInterval:     mc.Timeouts.HealthInterval,
		HealthTimeout:      mc.Timeouts.HealthTimeout,
		PoolAcquireWait:    mc.Timeouts.PoolAcquireDeadline,
		PoolInitTimeout:    mc.Timeouts.InitTimeout,
		MethodTimeouts:     mcpclient.MethodTimeouts{Default: mc.Timeouts.MethodTimeout},
		MaxBackoff:         mc.Policies.MaxRestartBackoff,
		CapabilitiesLookup: reg.CapabilityServers,
	}, bus, breakers)

	rtr := router.New(reg, sup, breakers, limiter, retry, dlq)
	dlqAdapter := router.NewDLQAdapter(dlq, rtr)

	catalogs := make([]discovery.CatalogAdapter, 0, len(mc.Endpoints.CatalogURLs))
	for _, url := range mc.Endpoints.CatalogURLs {
		catalogs = append(catalogs, discovery.NewHTTPCatalogAdapter(url, nil))
	}
	disco := discovery.NewEngine(catalogs, discovery.DefaultWeightTable(), mc.Limits.DiscoveryTopK, mc.Timeouts.DiscoveryDeadline)

	inst := installer.New(mc.Endpoints.InstallRoot, map[installer.Method]installer.Strategy{
		installer.MethodPackageManager: installer.PackageManagerStrategy{
			Command: "npm",
			InstallArgsFunc: func(installDir, packageSpec string) []string {
				return []string{"install", "--prefix", installDir, packageSpec}
			},
			LaunchFunc: defaultNPMLaunch,
		},
		installer.MethodVCSClone: installer.VCSCloneStrategy{
			LaunchFunc: defaultVCSLaunch,
		},
		installer.MethodContainerBuild: installer.ContainerBuildStrategy{
			LaunchFunc: defaultContainerLaunch,
		},
	})

	orch := orchestrator.New(
		orchestrator.Config{
			DiscoverDeadline: mc.Timeouts.DiscoveryDeadline,
			InstallDeadline:  mc.Timeouts.InstallDeadline,
			VerifyDeadline:   mc.Timeouts.VerifyDeadline,
			RegisterDeadline: mc.Timeouts.MethodTimeout,
			SandboxLimits:    sandboxLimitsFrom(mc),
			AllowNetwork:     mc.Policies.AllowNetwork,
		},
		disco, inst, sup, reg, bus,
		defaultRequestBuilder, defaultSpecBuilder(inst, mc),
		nil, nil, defaultCandidateAllowed(mc),
	)

	varietyEngine := variety.New(
		variety.Config{
			LowWatermark:     mc.Thresholds.VarietyLowWatermark,
			SustainedSamples: mc.Thresholds.VarietySustainedSamples,
		},
		reg, rtr.SuccessRate, orch.InFlight,
		func(t variety.Trigger) {
			if _, err := orch.Acquire(context.Background(), t.Capability); err != nil {
				logging.Error("app", err, "variety-triggered acquisition for %q failed to start", t.Capability)
			}
		},
		bus,
	)

	sched := clock.New()
	if err := sched.Register("variety", mc.Timeouts.VarietyTickInterval, varietyEngine.Tick); err != nil {
		return nil, fmt.Errorf("app: registering variety tick: %w", err)
	}
	if err := sched.Register("cleanup", mc.Timeouts.CleanupInterval, cleanupHandler(orch, mc.Timeouts.JobRetention)); err != nil {
		return nil, fmt.Errorf("app: registering cleanup tick: %w", err)
	}

	bridge := NewStateChangeBridge(bus, reg, sup)

	api.RegisterRegistry(reg)
	api.RegisterSupervisor(sup)
	api.RegisterOrchestrator(orch)
	api.RegisterDLQ(dlqAdapter)
	api.RegisterVariety(varietyEngine)

	return &Services{
		ConfigMgr:    mgr,
		Bus:          bus,
		Breakers:     breakers,
		Limiter:      limiter,
		Retry:        retry,
		DLQ:          dlq,
		Supervisor:   sup,
		Registry:     reg,
		Router:       rtr,
		DLQAdapter:   dlqAdapter,
		Discovery:    disco,
		Installer:    inst,
		Orchestrator: orch,
		Variety:      varietyEngine,
		Clock:        sched,
		Bridge:       bridge,
	}, nil
}

func breakerReason(state resilience.BreakerState) events.Reason {
	switch state {
	case resilience.BreakerOpen:
		return events.ReasonBreakerOpened
	case resilience.BreakerHalfOpen:
		return events.ReasonBreakerHalfOpen
	default:
		return events.ReasonBreakerClosed
	}
}

// cleanupHandler adapts Orchestrator.PruneJobs to clock.Handler, pruning
// terminal jobs older than retention on every "cleanup" tick.
func cleanupHandler(orch *orchestrator.Orchestrator, retention time.Duration) clock.Handler {
	return func(ctx context.Context) error {
		pruned := orch.PruneJobs(time.Now().Add(-retention))
		if pruned > 0 {
			logging.Debug("app", "cleanup tick pruned %d terminal job(s)", pruned)
		}
		return nil
	}
}
