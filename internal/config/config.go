// Package config loads and persists recap configuration. Settings live in a
// YAML document under ~/.recap; a missing file yields defaults so every
// command works on a fresh machine.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvConfigPath overrides the config file location when set. It is the only
// environment override the package honors.
const EnvConfigPath = "RECAP_CONFIG"

// Config holds all recap configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// Cultivation engine
	Engine EngineConfig `yaml:"engine"`

	// Seed interpreter
	Interpreter InterpreterConfig `yaml:"interpreter"`

	// Pattern substrate
	Substrate SubstrateConfig `yaml:"substrate"`

	// Seed files
	Seeds SeedsConfig `yaml:"seeds"`

	// Snapshot export
	Export ExportConfig `yaml:"export"`

	// Lineage deduction
	Lineage LineageConfig `yaml:"lineage"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// EngineConfig configures the cultivation engine.
type EngineConfig struct {
	InvokeTimeout     string `yaml:"invoke_timeout"`
	AnalyzersPerCycle int    `yaml:"analyzers_per_cycle"`
}

// InterpreterConfig configures the seed interpreter.
type InterpreterConfig struct {
	// AllowedImports replaces the built-in allowlist when set. An empty
	// list denies every import; absent means the built-in default.
	AllowedImports []string `yaml:"allowed_imports"`
}

// SubstrateConfig configures the pattern substrate.
type SubstrateConfig struct {
	DatabasePath string `yaml:"database_path"`
	Compression  string `yaml:"compression"` // minimal, medium, full
}

// SeedsConfig configures seed files and the seeds watcher.
type SeedsConfig struct {
	Directory string   `yaml:"directory"`
	Patterns  []string `yaml:"patterns"`
	Debounce  string   `yaml:"debounce"`
}

// ExportConfig configures the snapshot sinks.
type ExportConfig struct {
	SnapshotPath string `yaml:"snapshot_path"`
	RedisURL     string `yaml:"redis_url"` // empty disables the Redis sink
	HistorySize  int    `yaml:"history_size"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "recap",
		Version: "1.0.0",

		Engine: EngineConfig{
			InvokeTimeout:     "30s",
			AnalyzersPerCycle: 3,
		},

		Interpreter: InterpreterConfig{
			AllowedImports: nil,
		},

		Substrate: SubstrateConfig{
			DatabasePath: filepath.Join(".recap", "substrate.db"),
			Compression:  "medium",
		},

		Seeds: SeedsConfig{
			Directory: filepath.Join(".recap", "seeds"),
			Patterns:  []string{"**/*.seed.json"},
			Debounce:  "500ms",
		},

		Export: ExportConfig{
			SnapshotPath: filepath.Join(".recap", "snapshot.json"),
			RedisURL:     "",
			HistorySize:  32,
		},

		Lineage: LineageConfig{
			FactLimit: 100000,
		},

		Logging: LoggingConfig{
			DebugMode: false,
			Level:     "info",
			Directory: filepath.Join(".recap", "logs"),
		},
	}
}

// DefaultPath returns the config file location: $RECAP_CONFIG when set,
// otherwise ~/.recap/config.yaml.
func DefaultPath() string {
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".recap", "config.yaml")
	}
	return filepath.Join(home, ".recap", "config.yaml")
}

// Load loads configuration from a YAML file. A missing file returns
// defaults; unknown fields are ignored.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// GetInvokeTimeout returns the engine invoke timeout as a duration.
func (c *Config) GetInvokeTimeout() time.Duration {
	d, err := time.ParseDuration(c.Engine.InvokeTimeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// GetSeedDebounce returns the watcher debounce as a duration.
func (c *Config) GetSeedDebounce() time.Duration {
	d, err := time.ParseDuration(c.Seeds.Debounce)
	if err != nil {
		return 500 * time.Millisecond
	}
	return d
}
