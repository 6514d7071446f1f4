package app

import "musterd/internal/config"

// Config holds the daemon's boot-time settings. Debug controls log
// verbosity; ConfigPath, when set, names the config file to load instead of
// the default musterd.yaml.
type Config struct {
	Debug      bool
	ConfigPath string

	MusterConfig config.Config
}

// NewConfig builds a Config; MusterConfig is filled in by NewApplication.
func NewConfig(debug bool, configPath string) *Config {
	return &Config{Debug: debug, ConfigPath: configPath}
}
