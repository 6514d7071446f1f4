package config

import "time"

// Default returns a Config populated with sane defaults. Callers layer a
// user-supplied YAML file on top of this via Load.
func Default() Config {
	return Config{
		Timeouts: Timeouts{
			InitTimeout:         5 * time.Second,
			MethodTimeout:       10 * time.Second,
			HealthInterval:      15 * time.Second,
			HealthTimeout:       3 * time.Second,
			PoolAcquireDeadline: 2 * time.Second,
			DiscoveryDeadline:   8 * time.Second,
			InstallDeadline:     60 * time.Second,
			VerifyDeadline:      30 * time.Second,
			ShutdownGrace:       10 * time.Second,
			VarietyTickInterval: 20 * time.Second,
			CleanupInterval:     5 * time.Minute,
			JobRetention:        1 * time.Hour,
		},
		Limits: Limits{
			MaxChildren:       64,
			PoolBaseSize:      2,
			MaxOverflow:       4,
			DLQCapacity:       1000,
			SandboxMemoryMB:   256,
			SandboxCPUPercent: 50,
			DiscoveryTopK:     5,
		},
		Thresholds: Thresholds{
			VarietyLowWatermark:     0.70,
			VarietySustainedSamples: 3,
			BreakerFailureThreshold: 5,
			BreakerSuccessThreshold: 2,
			BreakerOpenTimeout:      30 * time.Second,
			RetryMaxAttempts:        3,
			RetryInitialDelay:       200 * time.Millisecond,
			RetryMaxDelay:           5 * time.Second,
			RetryBackoffFactor:      2.0,
			RetryJitter:             0.2,
			RateLimitPerInterval:    50,
			RateLimitInterval:       time.Second,
		},
		Policies: Policies{
			DefaultRestartPolicy: RestartTransient,
			MaxRestartBackoff:    60 * time.Second,
			AllowNetwork:         false,
		},
		Endpoints: Endpoints{
			InstallRoot:    "./var/installs",
			DLQPersistPath: "./var/dlq.log",
		},
	}
}
