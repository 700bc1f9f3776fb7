package config

import (
	"fmt"
	"time"
)

// Config represents a canstream.yaml configuration file.
// All values are optional and act as defaults for canstream run flags.
// CLI flags always override config values.
type Config struct {
	Dictionary string         `yaml:"dictionary"`
	Cache      CacheConfig    `yaml:"cache"`
	Source     SourceConfig   `yaml:"source"`
	Stream     StreamConfig   `yaml:"stream"`
	Dispatch   DispatchConfig `yaml:"dispatch"`
	Log        LogConfig      `yaml:"log"`
}

// CacheConfig holds cache defaults from the config file.
type CacheConfig struct {
	// Dir is the cache directory. Empty means the platform user cache
	// directory, resolved by the CLI.
	Dir string `yaml:"dir"`
	// Disabled skips cache lookup and write entirely.
	Disabled bool `yaml:"disabled"`
}

// SourceConfig holds trace reading defaults from the config file.
type SourceConfig struct {
	// ReorderWindow is the out-of-order lookahead window, in frames.
	ReorderWindow int `yaml:"reorder_window"`
}

// StreamConfig holds run pipeline defaults from the config file.
type StreamConfig struct {
	// BatchSize is the number of samples per published batch.
	BatchSize int `yaml:"batch_size"`
	// ProgressInterval is the progress notification cadence.
	ProgressInterval Duration `yaml:"progress_interval"`
}

// DispatchConfig holds consumer delivery defaults from the config file.
type DispatchConfig struct {
	// PublishWait bounds how long a publish blocks on a full reliable
	// consumer backlog.
	PublishWait Duration `yaml:"publish_wait"`
	// PollInterval is the backlog re-check cadence while waiting.
	PollInterval Duration `yaml:"poll_interval"`
	// Capacity is the default per-consumer backlog capacity in batches.
	Capacity int `yaml:"capacity"`
}

// LogConfig holds logging defaults from the config file.
type LogConfig struct {
	// Level is a zap level name: debug, info, warn, error.
	Level string `yaml:"level"`
}

// Defaults applied by Normalize.
const (
	DefaultReorderWindow    = 64
	DefaultBatchSize        = 500
	DefaultProgressInterval = 75 * time.Millisecond
	DefaultPublishWait      = 2 * time.Second
	DefaultPollInterval     = 20 * time.Millisecond
	DefaultCapacity         = 32
)

// Normalize fills zero values with defaults.
func (c *Config) Normalize() {
	if c.Source.ReorderWindow <= 0 {
		c.Source.ReorderWindow = DefaultReorderWindow
	}
	if c.Stream.BatchSize <= 0 {
		c.Stream.BatchSize = DefaultBatchSize
	}
	if c.Stream.ProgressInterval.Duration <= 0 {
		c.Stream.ProgressInterval.Duration = DefaultProgressInterval
	}
	if c.Dispatch.PublishWait.Duration <= 0 {
		c.Dispatch.PublishWait.Duration = DefaultPublishWait
	}
	if c.Dispatch.PollInterval.Duration <= 0 {
		c.Dispatch.PollInterval.Duration = DefaultPollInterval
	}
	if c.Dispatch.Capacity <= 0 {
		c.Dispatch.Capacity = DefaultCapacity
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// Duration wraps time.Duration for YAML string parsing (e.g. "75ms", "2s").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "75ms" or "1m30s".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}
