// Package config loads service configuration with the precedence
// ENV > file > defaults.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// PollerConfig tunes the pre-arrival scan.
type PollerConfig struct {
	Interval    time.Duration `yaml:"interval"`
	WindowStart time.Duration `yaml:"window_start"`
	WindowEnd   time.Duration `yaml:"window_end"`
}

// Config is the full service configuration.
type Config struct {
	ListenAddr   string `yaml:"listen_addr"`
	DatabasePath string `yaml:"database_path"`

	// RedisAddr enables the shared replay tail; empty keeps the in-process
	// ring buffer.
	RedisAddr string `yaml:"redis_addr"`

	LogLevel string `yaml:"log_level"`

	KeepAliveInterval  time.Duration `yaml:"keep_alive_interval"`
	DelayThreshold     time.Duration `yaml:"delay_threshold"`
	ImbalanceTolerance int           `yaml:"imbalance_tolerance"`
	ReplayCapacity     int           `yaml:"replay_capacity"`

	// SubscribeRateLimit caps stream connects per client IP per minute.
	SubscribeRateLimit int `yaml:"subscribe_rate_limit"`

	Poller PollerConfig `yaml:"poller"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		ListenAddr:         ":8080",
		DatabasePath:       "freightwatch.db",
		LogLevel:           "info",
		KeepAliveInterval:  30 * time.Second,
		DelayThreshold:     30 * time.Minute,
		ImbalanceTolerance: 1,
		ReplayCapacity:     256,
		SubscribeRateLimit: 30,
		Poller: PollerConfig{
			Interval:    5 * time.Minute,
			WindowStart: 25 * time.Minute,
			WindowEnd:   35 * time.Minute,
		},
	}
}

// Load builds the effective configuration: defaults, overlaid with the YAML
// file at path (if non-empty), overlaid with environment variables.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.ListenAddr = ParseString("FW_LISTEN_ADDR", c.ListenAddr)
	c.DatabasePath = ParseString("FW_DB_PATH", c.DatabasePath)
	c.RedisAddr = ParseString("FW_REDIS_ADDR", c.RedisAddr)
	c.LogLevel = ParseString("FW_LOG_LEVEL", c.LogLevel)
	c.KeepAliveInterval = ParseDuration("FW_KEEPALIVE_INTERVAL", c.KeepAliveInterval)
	c.DelayThreshold = ParseDuration("FW_DELAY_THRESHOLD", c.DelayThreshold)
	c.ImbalanceTolerance = ParseInt("FW_IMBALANCE_TOLERANCE", c.ImbalanceTolerance)
	c.ReplayCapacity = ParseInt("FW_REPLAY_CAPACITY", c.ReplayCapacity)
	c.SubscribeRateLimit = ParseInt("FW_SUBSCRIBE_RATE_LIMIT", c.SubscribeRateLimit)
	c.Poller.Interval = ParseDuration("FW_POLL_INTERVAL", c.Poller.Interval)
	c.Poller.WindowStart = ParseDuration("FW_POLL_WINDOW_START", c.Poller.WindowStart)
	c.Poller.WindowEnd = ParseDuration("FW_POLL_WINDOW_END", c.Poller.WindowEnd)
}

// Validate rejects configurations the daemon cannot run with.
func (c Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("config: listen_addr must not be empty")
	}
	if c.DatabasePath == "" {
		return fmt.Errorf("config: database_path must not be empty")
	}
	if c.KeepAliveInterval <= 0 {
		return fmt.Errorf("config: keep_alive_interval must be positive")
	}
	if c.DelayThreshold <= 0 {
		return fmt.Errorf("config: delay_threshold must be positive")
	}
	if c.ImbalanceTolerance < 0 {
		return fmt.Errorf("config: imbalance_tolerance must not be negative")
	}
	if c.Poller.Interval <= 0 {
		return fmt.Errorf("config: poller.interval must be positive")
	}
	if c.Poller.WindowEnd <= c.Poller.WindowStart {
		return fmt.Errorf("config: poller.window_end must be after poller.window_start")
	}
	return nil
}
