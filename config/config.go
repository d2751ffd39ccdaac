// Package config provides configuration loading and management for Aria.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete Aria configuration
type Config struct {
	Storage  StorageConfig  `yaml:"storage"`
	NATS     NATSConfig     `yaml:"nats"`
	Executor ExecutorConfig `yaml:"executor"`
	Plugins  PluginsConfig  `yaml:"plugins"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// StorageConfig configures the model and resource stores
type StorageConfig struct {
	// Backend selects the store implementation: "memory" or "nats"
	Backend string `yaml:"backend"`
	// ResourceDir is the filesystem resource store root (memory backend)
	ResourceDir string `yaml:"resource_dir"`
	// WorkDir is the root for per-plugin working directories
	WorkDir string `yaml:"work_dir"`
}

// NATSConfig configures the NATS connection (nats backend and signal bridge)
type NATSConfig struct {
	// URL is the NATS server URL
	URL string `yaml:"url"`
	// SubjectPrefix is the subject prefix lifecycle signals publish under
	SubjectPrefix string `yaml:"subject_prefix"`
	// BridgeSignals forwards bus events to NATS subjects when true
	BridgeSignals bool `yaml:"bridge_signals"`
}

// ExecutorConfig configures task execution
type ExecutorConfig struct {
	// Kind selects the executor: "pool" or "subprocess"
	Kind string `yaml:"kind"`
	// Workers is the worker count / max concurrent subprocesses
	Workers int `yaml:"workers"`
	// TaskTimeout bounds one subprocess attempt (0 = unbounded)
	TaskTimeout time.Duration `yaml:"task_timeout"`
}

// PluginsConfig configures plugin discovery
type PluginsConfig struct {
	// Dir is the plugin directory watched for executables
	Dir string `yaml:"dir"`
	// WatchDebounce delays reloads after filesystem events
	WatchDebounce time.Duration `yaml:"watch_debounce"`
}

// LoggingConfig configures the slog handler
type LoggingConfig struct {
	// Level is one of debug, info, warn, error
	Level string `yaml:"level"`
	// Format is "text" or "json"
	Format string `yaml:"format"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Storage: StorageConfig{
			Backend:     "memory",
			ResourceDir: "",
			WorkDir:     "",
		},
		NATS: NATSConfig{
			URL:           "nats://localhost:4222",
			SubjectPrefix: "aria.execution",
			BridgeSignals: false,
		},
		Executor: ExecutorConfig{
			Kind:        "pool",
			Workers:     8,
			TaskTimeout: 0,
		},
		Plugins: PluginsConfig{
			Dir:           "",
			WatchDebounce: 100 * time.Millisecond,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case "memory", "nats":
	default:
		return fmt.Errorf("storage.backend must be memory or nats, got %q", c.Storage.Backend)
	}
	if c.Storage.Backend == "nats" && c.NATS.URL == "" {
		return fmt.Errorf("nats.url is required for the nats backend")
	}
	switch c.Executor.Kind {
	case "pool", "subprocess":
	default:
		return fmt.Errorf("executor.kind must be pool or subprocess, got %q", c.Executor.Kind)
	}
	if c.Executor.Workers < 0 {
		return fmt.Errorf("executor.workers must not be negative")
	}
	if c.Executor.TaskTimeout < 0 {
		return fmt.Errorf("executor.task_timeout must not be negative")
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn, or error, got %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}
	return nil
}

// LoadFromFile loads configuration from a YAML file
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveToFile saves configuration to a YAML file
func (c *Config) SaveToFile(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Merge merges another config into this one (other takes precedence for non-zero values)
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	// Storage
	if other.Storage.Backend != "" {
		c.Storage.Backend = other.Storage.Backend
	}
	if other.Storage.ResourceDir != "" {
		c.Storage.ResourceDir = other.Storage.ResourceDir
	}
	if other.Storage.WorkDir != "" {
		c.Storage.WorkDir = other.Storage.WorkDir
	}

	// NATS
	if other.NATS.URL != "" {
		c.NATS.URL = other.NATS.URL
	}
	if other.NATS.SubjectPrefix != "" {
		c.NATS.SubjectPrefix = other.NATS.SubjectPrefix
	}
	if other.NATS.BridgeSignals {
		c.NATS.BridgeSignals = true
	}

	// Executor
	if other.Executor.Kind != "" {
		c.Executor.Kind = other.Executor.Kind
	}
	if other.Executor.Workers != 0 {
		c.Executor.Workers = other.Executor.Workers
	}
	if other.Executor.TaskTimeout != 0 {
		c.Executor.TaskTimeout = other.Executor.TaskTimeout
	}

	// Plugins
	if other.Plugins.Dir != "" {
		c.Plugins.Dir = other.Plugins.Dir
	}
	if other.Plugins.WatchDebounce != 0 {
		c.Plugins.WatchDebounce = other.Plugins.WatchDebounce
	}

	// Logging
	if other.Logging.Level != "" {
		c.Logging.Level = other.Logging.Level
	}
	if other.Logging.Format != "" {
		c.Logging.Format = other.Logging.Format
	}
}
