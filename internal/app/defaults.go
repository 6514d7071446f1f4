package app

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"musterd/internal/config"
	"musterd/internal/discovery"
	"musterd/internal/installer"
	"musterd/internal/orchestrator"
	"musterd/internal/sandbox"
	"musterd/internal/supervisor"
)

// defaultRequestBuilder treats every ranked candidate as an npm package
// spec, the common shape for catalog-listed MCP servers (spec §4.11
// leaves the candidate-to-request mapping caller-supplied).
func defaultRequestBuilder(c discovery.RankedCandidate) installer.Request {
	return installer.Request{
		Name:        c.Name,
		Version:     c.Version,
		Method:      installer.MethodPackageManager,
		PackageSpec: c.Name + "@" + c.Version,
	}
}

// defaultNPMLaunch assumes the package's bin name matches its unscoped
// package name, the npm convention for single-binary CLI/server packages.
func defaultNPMLaunch(installDir string, req installer.Request) installer.LaunchSpec {
	binName := req.Name
	if i := strings.LastIndex(binName, "/"); i >= 0 {
		binName = binName[i+1:]
	}
	return installer.LaunchSpec{
		Command:    "node",
		Args:       []string{filepath.Join(installDir, "node_modules", ".bin", binName)},
		WorkingDir: installDir,
	}
}

// defaultVCSLaunch assumes a cloned repo exposes a top-level start script,
// the convention VCSCloneStrategy's post-clone BuildCommand is expected to
// produce when one is needed.
func defaultVCSLaunch(installDir string, _ installer.Request) installer.LaunchSpec {
	return installer.LaunchSpec{
		Command:    filepath.Join(installDir, "start.sh"),
		WorkingDir: installDir,
	}
}

// defaultContainerLaunch runs the pulled image attached to stdio, the shape
// an MCP server launched via transport.NewStdio expects.
func defaultContainerLaunch(installDir string, req installer.Request) installer.LaunchSpec {
	return installer.LaunchSpec{
		Command:    "docker",
		Args:       []string{"run", "--rm", "-i", req.ImageRef},
		WorkingDir: installDir,
	}
}

// defaultSpecBuilder maps an Installation onto a Supervisor Spec using the
// daemon's configured limits and restart policy. Reinstaller closes over
// the installer and the candidate's own request, backing escalation rung 4
// (spec §4.13's "full reinstall-and-restart").
func defaultSpecBuilder(inst *installer.Installer, mc config.Config) orchestrator.SpecBuilder {
	return func(_ string, _ installer.Installation, candidate discovery.RankedCandidate) supervisor.Spec {
		memBytes := uint64(mc.Limits.SandboxMemoryMB) * 1024 * 1024
		return supervisor.Spec{
			RestartPolicy:  supervisor.RestartPolicy(mc.Policies.DefaultRestartPolicy),
			HealthCheck:    supervisor.HealthProtocol,
			HealthInterval: mc.Timeouts.HealthInterval,
			HealthTimeout:  mc.Timeouts.HealthTimeout,
			Limits: supervisor.ResourceLimits{
				SoftRSSBytes:   memBytes,
				HardRSSBytes:   memBytes * 2,
				SoftCPUPercent: float64(mc.Limits.SandboxCPUPercent),
				HardCPUPercent: float64(mc.Limits.SandboxCPUPercent) * 2,
			},
			AllowNetwork:    mc.Policies.AllowNetwork,
			PoolBaseSize:    mc.Limits.PoolBaseSize,
			PoolMaxOverflow: mc.Limits.MaxOverflow,
			Reinstaller: func(ctx context.Context) (installer.Installation, error) {
				return inst.TryInstall(ctx, defaultRequestBuilder(candidate))
			},
		}
	}
}

// defaultCandidateAllowed enforces the package whitelist / dangerous-name
// blacklist policy (spec §6). Returns nil (allow everything) when neither
// list is configured.
func defaultCandidateAllowed(mc config.Config) orchestrator.CandidateAllowed {
	whitelist := mc.Policies.PackageWhitelist
	blacklist := mc.Policies.DangerousNameBlacklist
	if len(whitelist) == 0 && len(blacklist) == 0 {
		return nil
	}
	return func(c discovery.RankedCandidate) bool {
		for _, name := range blacklist {
			if strings.EqualFold(name, c.Name) {
				return false
			}
		}
		if len(whitelist) == 0 {
			return true
		}
		for _, name := range whitelist {
			if strings.EqualFold(name, c.Name) {
				return true
			}
		}
		return false
	}
}

// sandboxLimitsFrom derives the Sandbox verification's resource ceiling
// from the same configured limits the Supervisor enforces post-promotion.
func sandboxLimitsFrom(mc config.Config) sandbox.Limits {
	return sandbox.Limits{
		MemoryMB:    mc.Limits.SandboxMemoryMB,
		CPUPercent:  mc.Limits.SandboxCPUPercent,
		WallClock:   mc.Timeouts.VerifyDeadline,
		SampleEvery: 500 * time.Millisecond,
	}
}
