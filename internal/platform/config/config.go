// Package config loads runtime configuration for the simulation server.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the tunable parameters of an engine instance.
type Config struct {
	// Tick loop
	TickInterval time.Duration `yaml:"tick_interval"`

	// Event bus
	HistoryCap      int           `yaml:"history_cap"`
	BatchWindow     time.Duration `yaml:"batch_window"`
	BatchSize       int           `yaml:"batch_size"`
	DefaultDebounce time.Duration `yaml:"default_debounce"`

	// Capacity cache
	SweepInterval time.Duration `yaml:"sweep_interval"`

	// Condition evaluator
	ConditionCacheTTL time.Duration `yaml:"condition_cache_ttl"`

	// Server
	ListenAddr   string `yaml:"listen_addr"`
	SnapshotPath string `yaml:"snapshot_path"`
	ContentPack  string `yaml:"content_pack"`
}

// Default returns sensible defaults for a standalone simulation.
func Default() *Config {
	return &Config{
		TickInterval:      time.Second,
		HistoryCap:        1000,
		BatchWindow:       100 * time.Millisecond,
		BatchSize:         50,
		DefaultDebounce:   250 * time.Millisecond,
		SweepInterval:     10 * time.Second,
		ConditionCacheTTL: time.Second,
		ListenAddr:        ":8420",
		SnapshotPath:      "data/idlecore.db",
	}
}

// Load reads a YAML config file, layering it over the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	if c.TickInterval <= 0 {
		return fmt.Errorf("tick_interval must be positive, got %s", c.TickInterval)
	}
	if c.HistoryCap <= 0 {
		return fmt.Errorf("history_cap must be positive, got %d", c.HistoryCap)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be positive, got %d", c.BatchSize)
	}
	return nil
}
