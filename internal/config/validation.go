package config

import "fmt"

// Validate checks a Config for internally-consistent, usable values.
func Validate(cfg Config) error {
	if cfg.Timeouts.InitTimeout <= 0 {
		return fmt.Errorf("config: timeouts.initTimeout must be positive")
	}
	if cfg.Timeouts.MethodTimeout <= 0 {
		return fmt.Errorf("config: timeouts.methodTimeout must be positive")
	}
	if cfg.Timeouts.VarietyTickInterval <= 0 {
		return fmt.Errorf("config: timeouts.varietyTickInterval must be positive")
	}
	if cfg.Timeouts.CleanupInterval <= 0 {
		return fmt.Errorf("config: timeouts.cleanupInterval must be positive")
	}
	if cfg.Timeouts.JobRetention <= 0 {
		return fmt.Errorf("config: timeouts.jobRetention must be positive")
	}
	if cfg.Limits.MaxChildren <= 0 {
		return fmt.Errorf("config: limits.maxChildren must be positive")
	}
	if cfg.Limits.PoolBaseSize <= 0 {
		return fmt.Errorf("config: limits.poolBaseSize must be positive")
	}
	if cfg.Limits.DLQCapacity <= 0 {
		return fmt.Errorf("config: limits.dlqCapacity must be positive")
	}
	if cfg.Thresholds.VarietyLowWatermark < 0 || cfg.Thresholds.VarietyLowWatermark > 1 {
		return fmt.Errorf("config: thresholds.varietyLowWatermark must be in [0,1]")
	}
	if cfg.Thresholds.VarietySustainedSamples <= 0 {
		return fmt.Errorf("config: thresholds.varietySustainedSamples must be positive")
	}
	if cfg.Thresholds.BreakerFailureThreshold <= 0 {
		return fmt.Errorf("config: thresholds.breakerFailureThreshold must be positive")
	}
	if cfg.Thresholds.BreakerSuccessThreshold <= 0 {
		return fmt.Errorf("config: thresholds.breakerSuccessThreshold must be positive")
	}
	if cfg.Thresholds.RetryMaxAttempts <= 0 {
		return fmt.Errorf("config: thresholds.retryMaxAttempts must be positive")
	}
	if cfg.Thresholds.RetryJitter < 0 || cfg.Thresholds.RetryJitter > 1 {
		return fmt.Errorf("config: thresholds.retryJitter must be in [0,1]")
	}
	switch cfg.Policies.DefaultRestartPolicy {
	case RestartPermanent, RestartTransient, RestartTemporary:
	default:
		return fmt.Errorf("config: policies.defaultRestartPolicy %q is not a recognized policy", cfg.Policies.DefaultRestartPolicy)
	}
	if cfg.Endpoints.InstallRoot == "" {
		return fmt.Errorf("config: endpoints.installRoot must not be empty")
	}
	return nil
}
