package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "PARTYLINE_"

// Config represents the global ~/.partyline/config.toml.
type Config struct {
	DefaultProfile string `toml:"default_profile" env:"PROFILE"`
	GatewayAddr    string `toml:"gateway_addr" env:"GATEWAY_ADDR"`
	LogLevel       string `toml:"log_level" env:"LOG_LEVEL"`
	Sync           Sync   `toml:"sync" envPrefix:"SYNC_"`
}

// Sync tunes offline queue replay and reachability probing.
type Sync struct {
	MaxAttempts   int           `toml:"max_attempts" env:"MAX_ATTEMPTS"`
	ProbeInterval time.Duration `toml:"probe_interval" env:"PROBE_INTERVAL"`
	ProbeTimeout  time.Duration `toml:"probe_timeout" env:"PROBE_TIMEOUT"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		GatewayAddr: "127.0.0.1:7420",
		LogLevel:    "info",
		Sync: Sync{
			MaxAttempts:   5,
			ProbeInterval: 5 * time.Second,
			ProbeTimeout:  2 * time.Second,
		},
	}
}

// Load reads config from path on top of the defaults, then applies
// PARTYLINE_* environment overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the client cannot run with.
func (c *Config) Validate() error {
	if c.GatewayAddr == "" {
		return errors.New("gateway_addr is required")
	}
	if c.Sync.MaxAttempts < 1 {
		return fmt.Errorf("sync.max_attempts must be at least 1, got %d", c.Sync.MaxAttempts)
	}
	if c.Sync.ProbeInterval <= 0 || c.Sync.ProbeTimeout <= 0 {
		return errors.New("sync.probe_interval and sync.probe_timeout must be positive")
	}
	return nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
