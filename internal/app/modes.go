package app

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"musterd/pkg/logging"
)

// shutdownGrace is the grace period used when the configuration leaves
// Timeouts.ShutdownGrace unset.
const shutdownGrace = 5 * time.Second

// runDaemon starts the Clock and the state-change bridge, then blocks
// until ctx is cancelled or SIGINT/SIGTERM arrives, and finally tears
// everything down in reverse order.
func runDaemon(ctx context.Context, services *Services) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := services.Bridge.Start(runCtx); err != nil {
		return err
	}
	services.Clock.Start(runCtx)

	logging.Info("daemon", "musterd is running, press Ctrl+C to stop")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case <-sigCh:
		logging.Info("daemon", "shutdown signal received")
	case <-ctx.Done():
		logging.Info("daemon", "parent context cancelled")
	}

	cancel()
	services.Clock.Stop()
	if err := services.Bridge.Stop(); err != nil {
		logging.Warn("daemon", "stopping state-change bridge: %v", err)
	}

	grace := services.ConfigMgr.Current().Timeouts.ShutdownGrace
	if grace <= 0 {
		grace = shutdownGrace
	}
	stopCtx, stopCancel := context.WithTimeout(context.Background(), grace)
	defer stopCancel()
	for _, serverID := range services.Supervisor.ListServerIDs() {
		if err := services.Supervisor.Stop(stopCtx, serverID, true, grace); err != nil {
			logging.Warn("daemon", "stopping %s: %v", serverID, err)
		}
	}

	services.DLQ.Close()
	services.ConfigMgr.Stop()

	logging.Info("daemon", "shutdown complete")
	return nil
}
