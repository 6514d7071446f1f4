package app

import (
	"context"
	"fmt"
	"os"

	"musterd/internal/config"
	"musterd/pkg/logging"
)

// defaultConfigPath is used when the caller doesn't specify one, the same
// "current directory first" convention the teacher's layered loader favors.
const defaultConfigPath = "musterd.yaml"

// Application bootstraps and runs the daemon. It follows the same
// two-phase pattern as the rest of the stack: a bootstrap phase that loads
// configuration and wires every collaborator, then a run phase that starts
// them and blocks until shutdown.
type Application struct {
	config   *Config
	services *Services
}

// NewApplication performs the full bootstrap sequence: configure logging,
// load configuration (optionally hot-reloaded), and initialize every
// service.
func NewApplication(cfg *Config) (*Application, error) {
	level := logging.LevelInfo
	if cfg.Debug {
		level = logging.LevelDebug
	}
	logging.InitForCLI(level, os.Stdout)

	path := cfg.ConfigPath
	if path == "" {
		path = defaultConfigPath
	}

	mgr, err := config.NewManager(path)
	if err != nil {
		logging.Error("bootstrap", err, "loading configuration from %s", path)
		return nil, fmt.Errorf("app: loading configuration: %w", err)
	}
	cfg.MusterConfig = mgr.Current()
	mgr.OnChange(func(next config.Config, diff config.Diff) {
		logging.Info("bootstrap", "configuration reloaded from %s", path)
	})
	if err := mgr.Watch(); err != nil {
		logging.Warn("bootstrap", "config hot reload disabled: %v", err)
	}

	services, err := InitializeServices(mgr)
	if err != nil {
		logging.Error("bootstrap", err, "initializing services")
		return nil, fmt.Errorf("app: initializing services: %w", err)
	}

	return &Application{config: cfg, services: services}, nil
}

// Run starts every long-lived collaborator and blocks until the context is
// cancelled or a termination signal arrives, then shuts down in reverse
// dependency order.
func (a *Application) Run(ctx context.Context) error {
	return runDaemon(ctx, a.services)
}
