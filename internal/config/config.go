// Package config loads flam's static ambient configuration: the queue
// database path, worker pool sizing, and logging. Per-job defaults
// (max_retries, base_backoff, default_timeout, ...) are NOT part of this
// package — they live in the store's own `config` table, read and
// written at runtime via Store.GetConfigValue/SetConfigValue, so they
// can change without a process restart.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/pelletier/go-toml/v2"
)

// Config is flam's top-level static configuration.
type Config struct {
	Database DatabaseConfig `toml:"database"`
	Worker   WorkerConfig   `toml:"worker"`
	Logging  LoggingConfig  `toml:"logging"`
}

type DatabaseConfig struct {
	Path string `toml:"path"` // queue.db location
}

type WorkerConfig struct {
	Count           int `toml:"count"`             // default 1
	PollIntervalMs  int `toml:"poll_interval_ms"`  // default 200
	StaleAfterS     int `toml:"stale_after_s"`     // default 300 (5 min)
	ShutdownTimeout int `toml:"shutdown_timeout_s"` // default 30
}

type LoggingConfig struct {
	Level  string `toml:"level"`  // debug, info, warn, error
	Format string `toml:"format"` // text, json
}

// Default returns a Config with all defaults applied.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path: "queue.db",
		},
		Worker: WorkerConfig{
			Count:           1,
			PollIntervalMs:  200,
			StaleAfterS:     300,
			ShutdownTimeout: 30,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads configPath (flam.toml if empty, ignored if absent), applies
// FLAM_-prefixed environment overrides, then flag overrides, then
// validates the result.
func Load(configPath string, flags map[string]string) (*Config, error) {
	cfg := Default()

	if configPath == "" {
		configPath = "flam.toml"
	}
	if data, err := os.ReadFile(configPath); err == nil {
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", configPath, err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	applyFlags(cfg, flags)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path must not be empty")
	}
	if c.Worker.Count < 1 {
		return fmt.Errorf("worker.count must be at least 1, got %d", c.Worker.Count)
	}
	if c.Worker.PollIntervalMs < 1 {
		return fmt.Errorf("worker.poll_interval_ms must be at least 1, got %d", c.Worker.PollIntervalMs)
	}
	if c.Worker.StaleAfterS < 1 {
		return fmt.Errorf("worker.stale_after_s must be at least 1, got %d", c.Worker.StaleAfterS)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error, got %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}
	return nil
}

func envInt(name string, dest *int) error {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %q is not an integer", name, v)
	}
	*dest = n
	return nil
}

func applyEnv(cfg *Config) error {
	if v := os.Getenv("FLAM_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if err := envInt("FLAM_WORKER_COUNT", &cfg.Worker.Count); err != nil {
		return err
	}
	if err := envInt("FLAM_WORKER_POLL_INTERVAL_MS", &cfg.Worker.PollIntervalMs); err != nil {
		return err
	}
	if err := envInt("FLAM_WORKER_STALE_AFTER_S", &cfg.Worker.StaleAfterS); err != nil {
		return err
	}
	if err := envInt("FLAM_WORKER_SHUTDOWN_TIMEOUT_S", &cfg.Worker.ShutdownTimeout); err != nil {
		return err
	}
	if v := os.Getenv("FLAM_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("FLAM_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	return nil
}

// applyFlags overlays CLI flag values parsed by the caller. Only keys
// present in the map are applied; flags are expected to already be
// validated (non-empty) by cobra before reaching here.
func applyFlags(cfg *Config, flags map[string]string) {
	if v, ok := flags["db"]; ok && v != "" {
		cfg.Database.Path = v
	}
	if v, ok := flags["workers"]; ok && v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Worker.Count = n
		}
	}
	if v, ok := flags["log-level"]; ok && v != "" {
		cfg.Logging.Level = v
	}
	if v, ok := flags["log-format"]; ok && v != "" {
		cfg.Logging.Format = v
	}
}

// GenerateDefault writes the default configuration to path as TOML.
func GenerateDefault(path string) error {
	cfg := Default()
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal default config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}
