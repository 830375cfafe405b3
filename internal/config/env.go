package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// EnvPrefix namespaces every environment override.
const EnvPrefix = "SHIP_SAFETY_"

// ApplyEnv overrides settings from SHIP_SAFETY_* environment variables.
// Unset variables keep the values read from the file.
func ApplyEnv(cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}

	return nil
}
