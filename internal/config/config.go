// Package config loads the scanmgr daemon configuration.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/vulnwatch/scanmgr/internal/otel"
)

// Config is the daemon configuration file.
type Config struct {
	// DBPath locates the manager database. Overridable with SCANMGR_DB.
	DBPath string `yaml:"db_path"`

	// BusyTimeoutMS is the engine busy-handler timeout in milliseconds.
	BusyTimeoutMS int `yaml:"busy_timeout_ms"`

	// GiveUpAttempts bounds contention retries for statements run under
	// the give-up policy.
	GiveUpAttempts int `yaml:"give_up_attempts"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`

	OTel otel.Config `yaml:"otel"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		BusyTimeoutMS:  5000,
		GiveUpAttempts: 5,
		LogLevel:       "info",
	}
}

// Load reads path, falling back to defaults when the file does not exist.
// Environment overrides apply after the file.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		// No file is fine; defaults plus environment apply.
	case err != nil:
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if db := os.Getenv("SCANMGR_DB"); db != "" {
		cfg.DBPath = db
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks field values, filling defaults for zero values.
func (c *Config) Validate() error {
	if c.BusyTimeoutMS < 0 {
		return fmt.Errorf("busy_timeout_ms must not be negative")
	}
	if c.BusyTimeoutMS == 0 {
		c.BusyTimeoutMS = 5000
	}
	if c.GiveUpAttempts < 0 {
		return fmt.Errorf("give_up_attempts must not be negative")
	}
	if c.GiveUpAttempts == 0 {
		c.GiveUpAttempts = 5
	}
	switch strings.ToLower(c.LogLevel) {
	case "":
		c.LogLevel = "info"
	case "debug", "info", "warn", "error":
		c.LogLevel = strings.ToLower(c.LogLevel)
	default:
		return fmt.Errorf("unknown log_level %q", c.LogLevel)
	}
	return nil
}
