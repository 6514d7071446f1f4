// Package config defines the daemon's typed, hot-reloadable settings:
// timeouts, limits, thresholds, policies, and catalog endpoints (spec §6).
package config

import "time"

// Config is the top-level daemon configuration.
type Config struct {
	Timeouts   Timeouts   `yaml:"timeouts"`
	Limits     Limits     `yaml:"limits"`
	Thresholds Thresholds `yaml:"thresholds"`
	Policies   Policies   `yaml:"policies"`
	Endpoints  Endpoints  `yaml:"endpoints"`
}

// Timeouts groups every wall-clock deadline in the system.
type Timeouts struct {
	// InitTimeout bounds the MCP initialize handshake (§4.4).
	InitTimeout time.Duration `yaml:"initTimeout"`
	// MethodTimeout is the default per-method request deadline.
	MethodTimeout time.Duration `yaml:"methodTimeout"`
	// HealthInterval is how often the Supervisor health-checks a child.
	HealthInterval time.Duration `yaml:"healthInterval"`
	// HealthTimeout bounds a single health probe.
	HealthTimeout time.Duration `yaml:"healthTimeout"`
	// PoolAcquireDeadline bounds a caller's wait for a pooled session.
	PoolAcquireDeadline time.Duration `yaml:"poolAcquireDeadline"`
	// DiscoveryDeadline bounds the overall Discovery fan-out (§4.10).
	DiscoveryDeadline time.Duration `yaml:"discoveryDeadline"`
	// InstallDeadline bounds a single Installer run (§4.11).
	InstallDeadline time.Duration `yaml:"installDeadline"`
	// VerifyDeadline bounds the entire Sandbox verification (§4.12).
	VerifyDeadline time.Duration `yaml:"verifyDeadline"`
	// ShutdownGrace is how long a child is given to exit gracefully.
	ShutdownGrace time.Duration `yaml:"shutdownGrace"`
	// VarietyTickInterval is how often the Clock fires the Variety Engine's
	// sampling tick (§4.1, §4.15).
	VarietyTickInterval time.Duration `yaml:"varietyTickInterval"`
	// CleanupInterval is how often the Clock fires the cleanup tick that
	// prunes terminal orchestrator jobs (§4.1).
	CleanupInterval time.Duration `yaml:"cleanupInterval"`
	// JobRetention is how long a done/failed job is kept before the cleanup
	// tick prunes it.
	JobRetention time.Duration `yaml:"jobRetention"`
}

// Limits groups every cap/size bound.
type Limits struct {
	// MaxChildren is the Supervisor's total live-process concurrency cap (§4.13).
	MaxChildren int `yaml:"maxChildren"`
	// PoolBaseSize is the steady-state session count per server (§4.5).
	PoolBaseSize int `yaml:"poolBaseSize"`
	// MaxOverflow is the burst session allowance per server (§4.5).
	MaxOverflow int `yaml:"maxOverflow"`
	// DLQCapacity bounds the dead-letter queue (§4.8).
	DLQCapacity int `yaml:"dlqCapacity"`
	// SandboxMemoryMB is the sandbox's soft memory ceiling.
	SandboxMemoryMB int `yaml:"sandboxMemoryMB"`
	// SandboxCPUPercent is the sandbox's soft CPU ceiling.
	SandboxCPUPercent int `yaml:"sandboxCPUPercent"`
	// DiscoveryTopK truncates the ranked candidate list (§4.10).
	DiscoveryTopK int `yaml:"discoveryTopK"`
}

// Thresholds groups every numeric trigger point.
type Thresholds struct {
	// VarietyLowWatermark is the ratio below which a trigger is raised (§4.15).
	VarietyLowWatermark float64 `yaml:"varietyLowWatermark"`
	// VarietySustainedSamples is how many consecutive low samples are required.
	VarietySustainedSamples int `yaml:"varietySustainedSamples"`
	// BreakerFailureThreshold is consecutive failures before a breaker opens (§4.6).
	BreakerFailureThreshold int `yaml:"breakerFailureThreshold"`
	// BreakerSuccessThreshold is half-open successes before a breaker closes.
	BreakerSuccessThreshold int `yaml:"breakerSuccessThreshold"`
	// BreakerOpenTimeout is how long a breaker stays open before probing.
	BreakerOpenTimeout time.Duration `yaml:"breakerOpenTimeout"`
	// RetryMaxAttempts bounds the Retry policy (§4.7).
	RetryMaxAttempts int `yaml:"retryMaxAttempts"`
	// RetryInitialDelay is the first retry's base delay.
	RetryInitialDelay time.Duration `yaml:"retryInitialDelay"`
	// RetryMaxDelay caps the backoff delay.
	RetryMaxDelay time.Duration `yaml:"retryMaxDelay"`
	// RetryBackoffFactor is the exponential multiplier.
	RetryBackoffFactor float64 `yaml:"retryBackoffFactor"`
	// RetryJitter is the full-jitter fraction in [0,1].
	RetryJitter float64 `yaml:"retryJitter"`
	// RateLimitPerInterval is the token-bucket size per (server,method), and
	// the number of tokens refilled over each RateLimitInterval.
	RateLimitPerInterval int `yaml:"rateLimitPerInterval"`
	// RateLimitInterval is the period over which RateLimitPerInterval tokens
	// are refilled.
	RateLimitInterval time.Duration `yaml:"rateLimitInterval"`
}

// RestartPolicyName names a Supervisor restart policy (§4.13).
type RestartPolicyName string

const (
	RestartPermanent RestartPolicyName = "permanent"
	RestartTransient RestartPolicyName = "transient"
	RestartTemporary RestartPolicyName = "temporary"
)

// Policies groups behavioural policy settings.
type Policies struct {
	// DefaultRestartPolicy applies to servers that do not specify one.
	DefaultRestartPolicy RestartPolicyName `yaml:"defaultRestartPolicy"`
	// MaxRestartBackoff caps the Supervisor's exponential restart backoff.
	MaxRestartBackoff time.Duration `yaml:"maxRestartBackoff"`
	// PackageWhitelist restricts which package names the Installer may install.
	// An empty list means no restriction.
	PackageWhitelist []string `yaml:"packageWhitelist,omitempty"`
	// DangerousNameBlacklist rejects candidates whose name matches an entry.
	DangerousNameBlacklist []string `yaml:"dangerousNameBlacklist,omitempty"`
	// AllowNetwork permits sandbox verification and acquired servers to
	// reach the network. Off by default (§4.12: "no network by default").
	AllowNetwork bool `yaml:"allowNetwork"`
}

// Endpoints groups external collaborator addresses.
type Endpoints struct {
	// CatalogURLs lists the Discovery catalog adapters to query (§4.10).
	CatalogURLs []string `yaml:"catalogURLs,omitempty"`
	// InstallRoot is the directory under which Installations are created.
	InstallRoot string `yaml:"installRoot"`
	// DLQPersistPath is where the DLQ append-only log is written.
	DLQPersistPath string `yaml:"dlqPersistPath"`
}
