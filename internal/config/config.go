// Package config loads the Hiveplane daemon configuration from YAML.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// TokenThresholds classify a body's distance from its token budget limit.
type TokenThresholds struct {
	Warning  int64 `yaml:"warning"`
	Danger   int64 `yaml:"danger"`
	Critical int64 `yaml:"critical"`
}

// Config holds all daemon settings. Zero values are filled from Default.
type Config struct {
	Listen  string `yaml:"listen"`
	DataDir string `yaml:"data_dir"`

	ChatWindow     int `yaml:"chat_window"`
	LockHistoryCap int `yaml:"lock_history_cap"`
	InboxReadCap   int `yaml:"inbox_read_cap"`
	MemoryQueryCap int `yaml:"memory_query_cap"`

	ClaimStaleAfter time.Duration `yaml:"claim_stale_after"`

	Tokens            TokenThresholds `yaml:"tokens"`
	BurnRateSmoothing float64         `yaml:"burn_rate_smoothing"`
}

// Default returns the built-in configuration.
func Default() Config {
	homeDir, _ := os.UserHomeDir()
	return Config{
		Listen:          "127.0.0.1:7466",
		DataDir:         filepath.Join(homeDir, ".hiveplane"),
		ChatWindow:      200,
		LockHistoryCap:  50,
		InboxReadCap:    100,
		MemoryQueryCap:  50,
		ClaimStaleAfter: 30 * time.Minute,
		Tokens: TokenThresholds{
			Warning:  150_000,
			Danger:   180_000,
			Critical: 195_000,
		},
		BurnRateSmoothing: 0.7,
	}
}

// Load reads a YAML config file and overlays it on the defaults. A missing
// file is not an error; the defaults are returned.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	return cfg.normalize(), nil
}

// DefaultPath returns the config file location, honoring HIVEPLANE_CONFIG.
func DefaultPath() string {
	if p := os.Getenv("HIVEPLANE_CONFIG"); p != "" {
		return p
	}
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".hiveplane", "config.yaml")
}

// normalize re-fills fields an explicit config file zeroed out.
func (c Config) normalize() Config {
	def := Default()
	if c.Listen == "" {
		c.Listen = def.Listen
	}
	if c.DataDir == "" {
		c.DataDir = def.DataDir
	}
	if c.ChatWindow <= 0 {
		c.ChatWindow = def.ChatWindow
	}
	if c.LockHistoryCap <= 0 {
		c.LockHistoryCap = def.LockHistoryCap
	}
	if c.InboxReadCap <= 0 {
		c.InboxReadCap = def.InboxReadCap
	}
	if c.MemoryQueryCap <= 0 {
		c.MemoryQueryCap = def.MemoryQueryCap
	}
	if c.ClaimStaleAfter <= 0 {
		c.ClaimStaleAfter = def.ClaimStaleAfter
	}
	if c.Tokens.Warning <= 0 {
		c.Tokens.Warning = def.Tokens.Warning
	}
	if c.Tokens.Danger <= 0 {
		c.Tokens.Danger = def.Tokens.Danger
	}
	if c.Tokens.Critical <= 0 {
		c.Tokens.Critical = def.Tokens.Critical
	}
	if c.BurnRateSmoothing <= 0 || c.BurnRateSmoothing >= 1 {
		c.BurnRateSmoothing = def.BurnRateSmoothing
	}
	return c
}
