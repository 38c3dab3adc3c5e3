// Package config loads the concurrency layer's configuration from TOML.
package config

import (
	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
)

// Config is the top-level configuration.
type Config struct {
	Logging LoggingConfig `toml:"logging"`
	Lock    LockConfig    `toml:"lock"`
}

// LoggingConfig configures the global logger.
type LoggingConfig struct {
	Level  string `toml:"level"`
	Path   string `toml:"path"`
	Format string `toml:"format"`
}

// LockConfig configures lock manager policies.
type LockConfig struct {
	// EscalateThreshold is the saturation (locked descendants over
	// capacity) at which a transaction's fine-grained locks on a context
	// are escalated to a single coarse lock.
	EscalateThreshold float64 `toml:"escalate-threshold"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Lock: LockConfig{
			EscalateThreshold: 0.2,
		},
	}
}

// Load reads a TOML configuration file, applying defaults for any field the
// file omits.
func Load(path string) (Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, errors.Wrapf(err, "loading config %s", path)
	}
	return cfg, nil
}
