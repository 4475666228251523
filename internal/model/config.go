// Package model defines the content, layer, snapshot and configuration types
// shared by the orchestrator and its transports.
package model

import (
	"fmt"
	"os"
	"strings"
	"time"

	yamlv3 "gopkg.in/yaml.v3"
)

type Config struct {
	Shows     ShowsConfig     `yaml:"shows"`
	Ticker    TickerConfig    `yaml:"ticker"`
	Durations DurationsConfig `yaml:"durations"`
	Timers    TimersConfig    `yaml:"timers"`
	Stack     StackConfig     `yaml:"stack"`
	Queue     QueueConfig     `yaml:"queue"`
	Publisher PublisherConfig `yaml:"publisher"`
	Overlay   OverlayConfig   `yaml:"overlay"`
	Daemon    DaemonConfig    `yaml:"daemon"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type ShowsConfig struct {
	Default string `yaml:"default"`
	// Games maps an upstream category/game id onto a show name.
	Games map[string]string `yaml:"games"`
}

type TickerConfig struct {
	IntervalSec int              `yaml:"interval_sec"`
	Items       []TickerSeedItem `yaml:"items"`
}

type TickerSeedItem struct {
	ID   string         `yaml:"id,omitempty"`
	Type string         `yaml:"type"`
	Text string         `yaml:"text,omitempty"`
	Data map[string]any `yaml:"data,omitempty"`
}

type DurationsConfig struct {
	AlertMs          int `yaml:"alert_ms"`
	SubTrainMs       int `yaml:"sub_train_ms"`
	ManualOverrideMs int `yaml:"manual_override_ms"`
}

type TimersConfig struct {
	MaxTimers      int    `yaml:"max_timers"`
	CapacityPolicy string `yaml:"capacity_policy"` // "deny" or "evict_oldest"
}

type StackConfig struct {
	MaxSize            int `yaml:"max_size"`
	KeepCount          int `yaml:"keep_count"`
	CleanupIntervalSec int `yaml:"cleanup_interval_sec"`
}

type QueueConfig struct {
	WaitWindowSec int `yaml:"wait_window_sec"`
}

type PublisherConfig struct {
	BufferSize         int    `yaml:"buffer_size"`
	BackpressurePolicy string `yaml:"backpressure_policy"` // "drop_oldest" or "disconnect"
}

type OverlayConfig struct {
	Addr        string   `yaml:"addr"`
	CorsOrigins []string `yaml:"cors_origins"`
}

type DaemonConfig struct {
	ShutdownTimeoutSec int `yaml:"shutdown_timeout_sec"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

const (
	CapacityPolicyDeny        = "deny"
	CapacityPolicyEvictOldest = "evict_oldest"

	BackpressureDropOldest = "drop_oldest"
	BackpressureDisconnect = "disconnect"
)

// DefaultConfig returns the configuration used when no file overrides a value.
func DefaultConfig() Config {
	var cfg Config
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills zero and negative values with defaults.
func (c *Config) ApplyDefaults() {
	if c.Shows.Default == "" {
		c.Shows.Default = "variety"
	}
	if c.Shows.Games == nil {
		c.Shows.Games = map[string]string{}
	}
	if c.Ticker.IntervalSec <= 0 {
		c.Ticker.IntervalSec = 15
	}
	if c.Durations.AlertMs <= 0 {
		c.Durations.AlertMs = 10000
	}
	if c.Durations.SubTrainMs <= 0 {
		c.Durations.SubTrainMs = 300000
	}
	if c.Durations.ManualOverrideMs <= 0 {
		c.Durations.ManualOverrideMs = 30000
	}
	if c.Timers.MaxTimers <= 0 {
		c.Timers.MaxTimers = 100
	}
	if c.Timers.CapacityPolicy == "" {
		c.Timers.CapacityPolicy = CapacityPolicyDeny
	}
	if c.Stack.MaxSize <= 0 {
		c.Stack.MaxSize = 50
	}
	if c.Stack.KeepCount <= 0 {
		c.Stack.KeepCount = 25
	}
	if c.Stack.CleanupIntervalSec <= 0 {
		c.Stack.CleanupIntervalSec = 600
	}
	if c.Queue.WaitWindowSec <= 0 {
		c.Queue.WaitWindowSec = 300
	}
	if c.Publisher.BufferSize <= 0 {
		c.Publisher.BufferSize = 64
	}
	if c.Publisher.BackpressurePolicy == "" {
		c.Publisher.BackpressurePolicy = BackpressureDropOldest
	}
	if c.Overlay.Addr == "" {
		c.Overlay.Addr = ":7175"
	}
	if c.Daemon.ShutdownTimeoutSec <= 0 {
		c.Daemon.ShutdownTimeoutSec = 10
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// Validate checks cross-field constraints after defaults are applied.
func (c Config) Validate() error {
	if c.Stack.KeepCount > c.Stack.MaxSize {
		return fmt.Errorf("stack.keep_count (%d) must not exceed stack.max_size (%d)",
			c.Stack.KeepCount, c.Stack.MaxSize)
	}
	switch c.Timers.CapacityPolicy {
	case CapacityPolicyDeny, CapacityPolicyEvictOldest:
	default:
		return fmt.Errorf("timers.capacity_policy must be deny|evict_oldest, got %q", c.Timers.CapacityPolicy)
	}
	switch c.Publisher.BackpressurePolicy {
	case BackpressureDropOldest, BackpressureDisconnect:
	default:
		return fmt.Errorf("publisher.backpressure_policy must be drop_oldest|disconnect, got %q",
			c.Publisher.BackpressurePolicy)
	}
	if strings.TrimSpace(c.Shows.Default) == "" {
		return fmt.Errorf("shows.default is required")
	}
	for game, show := range c.Shows.Games {
		if strings.TrimSpace(show) == "" {
			return fmt.Errorf("shows.games[%s]: show name is required", game)
		}
	}
	for i, item := range c.Ticker.Items {
		kind, ok := KindForType(item.Type)
		if !ok || kind != PayloadTicker {
			return fmt.Errorf("ticker.items[%d]: %q is not a ticker content type", i, item.Type)
		}
	}
	return nil
}

// LoadConfig reads a YAML config file, applies defaults and validates it.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	cfg, err := ParseConfig(data)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// ParseConfig decodes YAML config content, applies defaults and validates it.
// Content that is not YAML fails with ErrConfigParse.
func ParseConfig(data []byte) (Config, error) {
	var cfg Config
	if err := yamlv3.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrConfigParse, err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config invalid: %w", err)
	}
	return cfg, nil
}

// ShowFor maps a game id onto a show, falling back to the default show.
func (c Config) ShowFor(gameID string) string {
	if show, ok := c.Shows.Games[gameID]; ok {
		return show
	}
	return c.Shows.Default
}

func (c Config) TickerInterval() time.Duration {
	return time.Duration(c.Ticker.IntervalSec) * time.Second
}

func (c Config) CleanupInterval() time.Duration {
	return time.Duration(c.Stack.CleanupIntervalSec) * time.Second
}

func (c Config) WaitWindow() time.Duration {
	return time.Duration(c.Queue.WaitWindowSec) * time.Second
}

func (c Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Daemon.ShutdownTimeoutSec) * time.Second
}

// DefaultDuration is the display time for a band when a submission does not set one.
// Ticker items are unbounded.
func (c Config) DefaultDuration(p Priority) time.Duration {
	switch p {
	case PriorityAlert:
		return time.Duration(c.Durations.AlertMs) * time.Millisecond
	case PrioritySubTrain:
		return time.Duration(c.Durations.SubTrainMs) * time.Millisecond
	case PriorityManualOverride:
		return time.Duration(c.Durations.ManualOverrideMs) * time.Millisecond
	default:
		return 0
	}
}
