// Package config loads the optional TOML settings file. Every value has a
// default, and command line flags override whatever the file says.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	// logging
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
	// storage
	DBPath        string `toml:"db_path"`
	RedisAddr     string `toml:"redis_addr"`
	RedisPassword string `toml:"redis_password"`
	RedisDB       int    `toml:"redis_db"`
	CacheSizeMB   int    `toml:"cache_size_mb"`
	// servers
	APIAddr            string `toml:"api_addr"`
	MCPTransport       string `toml:"mcp_transport"`
	MCPPort            int    `toml:"mcp_port"`
	RateLimitPerMinute int    `toml:"rate_limit_per_minute"`
	Units              string `toml:"units"`
	// workers
	TokenRefreshInterval time.Duration `toml:"token_refresh_interval"`
	// StatsWarm turns on the background full-history recompute.
	// Each run spends upstream quota.
	StatsWarm            bool          `toml:"stats_warm"`
	StatsWarmInterval    time.Duration `toml:"stats_warm_interval"`
	MaxHistory           int           `toml:"max_history"`
}

// Toml is the file layout: one table per environment
type Toml struct {
	Development *Config
	Production  *Config
}

func (t *Toml) Get(env string) (*Config, error) {
	switch strings.ToLower(env) {
	case "dev", "development":
		return t.Development, nil
	case "prod", "production":
		return t.Production, nil
	default:
		return nil, fmt.Errorf("unknown env: %s", env)
	}
}

// DefaultDBPath returns ~/.strava-stats.db, falling back to the working directory
func DefaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".strava-stats.db"
	}
	return filepath.Join(home, ".strava-stats.db")
}

func Default() *Config {
	return &Config{
		LogLevel:             "info",
		LogFormat:            "console",
		DBPath:               DefaultDBPath(),
		CacheSizeMB:          32,
		APIAddr:              ":8080",
		MCPTransport:         "stdio",
		MCPPort:              8081,
		RateLimitPerMinute:   60,
		Units:                "metric",
		TokenRefreshInterval: 5 * time.Minute,
		StatsWarmInterval:    15 * time.Minute,
	}
}

// Load reads the env table from path and fills unset values from Default.
// A missing file is not an error when path is empty.
func Load(env, path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}

	var t Toml
	if _, err := toml.DecodeFile(path, &t); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config file %s not found", path)
		}
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg, err := t.Get(env)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return nil, fmt.Errorf("config %s has no [%s] table", path, strings.ToLower(env))
	}

	cfg.fillDefaults(Default())
	return cfg, cfg.Validate()
}

func (c *Config) fillDefaults(d *Config) {
	if c.LogLevel == "" {
		c.LogLevel = d.LogLevel
	}
	if c.LogFormat == "" {
		c.LogFormat = d.LogFormat
	}
	if c.DBPath == "" {
		c.DBPath = d.DBPath
	}
	if c.CacheSizeMB == 0 {
		c.CacheSizeMB = d.CacheSizeMB
	}
	if c.APIAddr == "" {
		c.APIAddr = d.APIAddr
	}
	if c.MCPTransport == "" {
		c.MCPTransport = d.MCPTransport
	}
	if c.MCPPort == 0 {
		c.MCPPort = d.MCPPort
	}
	if c.RateLimitPerMinute == 0 {
		c.RateLimitPerMinute = d.RateLimitPerMinute
	}
	if c.Units == "" {
		c.Units = d.Units
	}
	if c.TokenRefreshInterval == 0 {
		c.TokenRefreshInterval = d.TokenRefreshInterval
	}
	if c.StatsWarmInterval == 0 {
		c.StatsWarmInterval = d.StatsWarmInterval
	}
}

func (c *Config) Validate() error {
	switch c.MCPTransport {
	case "stdio", "sse", "none":
	default:
		return fmt.Errorf("mcp_transport must be stdio, sse or none, got %q", c.MCPTransport)
	}
	switch c.LogFormat {
	case "console", "json":
	default:
		return fmt.Errorf("log_format must be console or json, got %q", c.LogFormat)
	}
	if c.RateLimitPerMinute < 0 {
		return errors.New("rate_limit_per_minute must not be negative")
	}
	if c.MaxHistory < 0 {
		return errors.New("max_history must not be negative")
	}
	return nil
}
