package supervisor

import (
	"context"
	"fmt"
	"time"

	"musterd/internal/events"
	"musterd/internal/mcpclient"
	"musterd/internal/resourcemon"
	"musterd/pkg/logging"
)

// healthLoop drives one server's health checks on its configured interval
// until Stop closes stopHealthCh (spec §4.13: "check interval and timeout
// are configurable").
func (s *Supervisor) healthLoop(ms *managedServer) {
	defer close(ms.healthDoneCh)

	interval := orDefault(ms.spec.HealthInterval, s.cfg.HealthInterval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ms.stopHealthCh:
			return
		case <-ticker.C:
			s.runHealthCheck(ms)
		}
	}
}

func (s *Supervisor) runHealthCheck(ms *managedServer) {
	timeout := orDefault(ms.spec.HealthTimeout, s.cfg.HealthTimeout)
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	err := s.probe(ctx, ms)
	if err == nil {
		s.onHealthy(ms)
		return
	}
	s.onUnhealthy(ms, err)
}

func (s *Supervisor) probe(ctx context.Context, ms *managedServer) error {
	switch ms.spec.HealthCheck {
	case HealthCustom:
		if ms.spec.CustomHealth == nil {
			return nil
		}
		return ms.spec.CustomHealth()
	case HealthProtocol:
		client, err := ms.pool.Acquire(ctx)
		if err != nil {
			return err
		}
		defer ms.pool.Release(client)
		_, err = client.Call(ctx, mcpclient.MethodToolsList, nil)
		return err
	default: // HealthLiveness
		client, err := ms.pool.Acquire(ctx)
		if err != nil {
			return err
		}
		defer ms.pool.Release(client)
		if client.State() != mcpclient.StateReady {
			return fmt.Errorf("supervisor: %s transport not ready", ms.spec.ServerID)
		}
		return nil
	}
}

func (s *Supervisor) onHealthy(ms *managedServer) {
	ms.mu.Lock()
	ms.consecutiveOK++
	sustained := ms.consecutiveOK >= sustainedHealthy
	ms.mu.Unlock()

	if ms.lifecycle.get() == StateDegraded {
		ms.lifecycle.setState(StateReady, nil)
		s.publish(ms.spec.ServerID, events.ReasonServerReady, "server recovered")
	}

	if sustained {
		ms.mu.Lock()
		ms.rung = 0
		ms.backoff = initialBackoff
		ms.mu.Unlock()
	}
}

func (s *Supervisor) onUnhealthy(ms *managedServer, cause error) {
	ms.mu.Lock()
	ms.consecutiveOK = 0
	ms.rung++
	rung := ms.rung
	ms.mu.Unlock()

	logging.Warn("supervisor", "%s missed health check (rung %d): %v", ms.spec.ServerID, rung, cause)
	if ms.lifecycle.get() == StateReady {
		ms.lifecycle.setState(StateDegraded, cause)
	}

	// restart_policy gates the ladder before any rung fires (spec §4.13):
	// temporary never restarts, transient only restarts once the process
	// has actually exited rather than merely stopped answering.
	switch ms.spec.RestartPolicy {
	case RestartTemporary:
		s.markFailed(ms, cause)
		return
	case RestartTransient:
		if ms.primaryAlive() {
			logging.Warn("supervisor", "%s unresponsive but still running, restart_policy=transient takes no action", ms.spec.ServerID)
			return
		}
	}

	switch {
	case rung == rungReconnect:
		// Acquiring again gives the pool a chance to discard the unhealthy
		// client and spawn a replacement worker on its own.
		s.publish(ms.spec.ServerID, events.ReasonServerEscalated, "attempting transport reconnect")
		s.sleepBackoff(ms)
	case rung == rungGracefulRestart:
		s.publish(ms.spec.ServerID, events.ReasonServerEscalated, "escalating to graceful restart")
		s.sleepBackoff(ms)
		if err := s.restart(context.Background(), ms, true); err != nil {
			logging.Error("supervisor", err, "graceful restart of %s failed", ms.spec.ServerID)
		}
	case rung == rungForcedRestart:
		s.publish(ms.spec.ServerID, events.ReasonServerEscalated, "escalating to forced restart")
		s.sleepBackoff(ms)
		if err := s.restart(context.Background(), ms, false); err != nil {
			logging.Error("supervisor", err, "forced restart of %s failed", ms.spec.ServerID)
		}
	case rung == rungReinstall && ms.spec.Reinstaller != nil:
		s.publish(ms.spec.ServerID, events.ReasonServerReinstalling, "escalating to reinstall and restart")
		s.reinstallAndRestart(ms)
	default:
		s.markFailed(ms, cause)
	}
}

func (s *Supervisor) sleepBackoff(ms *managedServer) {
	ms.mu.Lock()
	d := ms.backoff
	next := time.Duration(float64(d) * backoffMultiplier)
	if next > s.cfg.MaxBackoff {
		next = s.cfg.MaxBackoff
	}
	ms.backoff = next
	ms.mu.Unlock()
	time.Sleep(d)
}

func (s *Supervisor) reinstallAndRestart(ms *managedServer) {
	installation, err := ms.spec.Reinstaller(context.Background())
	if err != nil {
		logging.Error("supervisor", err, "reinstall of %s failed", ms.spec.ServerID)
		s.markFailed(ms, err)
		return
	}
	ms.spec.Installation = installation
	if err := s.restart(context.Background(), ms, false); err != nil {
		s.markFailed(ms, err)
	}
}

func (s *Supervisor) markFailed(ms *managedServer, cause error) {
	ms.lifecycle.setState(StateFailed, cause)
	s.publish(ms.spec.ServerID, events.ReasonServerFailed, fmt.Sprintf("server failed: %v", cause))
}

// checkResourceLimits applies the soft/hard RSS and CPU ceilings (spec
// §4.13: "exceeding a soft limit triggers a warning, a hard limit triggers
// graceful restart").
func (s *Supervisor) checkResourceLimits(ms *managedServer, sample resourcemon.Sample) {
	limits := ms.spec.Limits
	if limits.HardRSSBytes > 0 && sample.RSSBytes > limits.HardRSSBytes {
		logging.Warn("supervisor", "%s exceeded hard RSS limit (%d > %d), forcing restart", ms.spec.ServerID, sample.RSSBytes, limits.HardRSSBytes)
		s.publish(ms.spec.ServerID, events.ReasonServerEscalated, "hard RSS limit exceeded")
		go func() {
			if err := s.restart(context.Background(), ms, true); err != nil {
				logging.Error("supervisor", err, "resource-triggered restart of %s failed", ms.spec.ServerID)
			}
		}()
		return
	}
	if limits.HardCPUPercent > 0 && sample.CPUPercent > limits.HardCPUPercent {
		logging.Warn("supervisor", "%s exceeded hard CPU limit (%.1f%% > %.1f%%), forcing restart", ms.spec.ServerID, sample.CPUPercent, limits.HardCPUPercent)
		s.publish(ms.spec.ServerID, events.ReasonServerEscalated, "hard CPU limit exceeded")
		go func() {
			if err := s.restart(context.Background(), ms, true); err != nil {
				logging.Error("supervisor", err, "resource-triggered restart of %s failed", ms.spec.ServerID)
			}
		}()
		return
	}
	if limits.SoftRSSBytes > 0 && sample.RSSBytes > limits.SoftRSSBytes {
		logging.Warn("supervisor", "%s exceeded soft RSS limit (%d > %d)", ms.spec.ServerID, sample.RSSBytes, limits.SoftRSSBytes)
	}
	if limits.SoftCPUPercent > 0 && sample.CPUPercent > limits.SoftCPUPercent {
		logging.Warn("supervisor", "%s exceeded soft CPU limit (%.1f%% > %.1f%%)", ms.spec.ServerID, sample.CPUPercent, limits.SoftCPUPercent)
	}
}
