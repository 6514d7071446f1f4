package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"musterd/pkg/logging"
)

// Load reads a YAML config file at path, layering it on top of Default().
// A missing file is not an error: the defaults are returned unchanged.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logging.Info("config", "no config file at %s, using defaults", path)
			return cfg, nil
		}
		return Config{}, fmt.Errorf("config: reading %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	if err := Validate(cfg); err != nil {
		return Config{}, err
	}

	logging.Info("config", "loaded configuration from %s", path)
	return cfg, nil
}
