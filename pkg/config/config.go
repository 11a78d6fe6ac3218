// Package config handles RefineDB configuration via YAML files and
// environment variables.
//
// Configuration Precedence (highest to lowest):
//  1. Command-line flags (--backend, --data-dir, etc.)
//  2. Environment variables (REFINEDB_*)
//  3. Config file (refinedb.yaml)
//  4. Built-in defaults
//
// Environment Variables (all use the REFINEDB_ prefix):
//
// Storage:
//   - REFINEDB_BACKEND="memory", "badger", or "sqlite"
//   - REFINEDB_DATA_DIR="./data"
//   - REFINEDB_NAMESPACE="default"
//
// Logging:
//   - REFINEDB_LOG_LEVEL="INFO"
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Backend names accepted by StorageConfig.Backend.
const (
	BackendMemory = "memory"
	BackendBadger = "badger"
	BackendSQLite = "sqlite"
)

// Config holds all RefineDB configuration.
type Config struct {
	Storage StorageConfig `yaml:"storage"`
	Logging LoggingConfig `yaml:"logging"`
}

// StorageConfig selects and parameterises the KV backend.
type StorageConfig struct {
	// Backend is one of "memory", "badger", "sqlite".
	Backend string `yaml:"backend"`

	// DataDir holds the Badger database, or the SQLite file
	// (refinedb.db) for the sqlite backend.
	DataDir string `yaml:"data_dir"`

	// Namespace is the key prefix scoping one logical database.
	Namespace string `yaml:"namespace"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Default returns the built-in defaults.
func Default() *Config {
	return &Config{
		Storage: StorageConfig{
			Backend:   BackendMemory,
			DataDir:   "./data",
			Namespace: "default",
		},
		Logging: LoggingConfig{Level: "INFO"},
	}
}

// LoadFromFile reads a YAML config file over the defaults, then
// applies environment overrides. An empty path skips the file.
func LoadFromFile(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("invalid config file %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromEnv returns defaults with environment overrides applied.
func LoadFromEnv() (*Config, error) {
	return LoadFromFile("")
}

// FindConfigFile locates refinedb.yaml next to the working directory,
// or returns "" when none exists.
func FindConfigFile() string {
	for _, candidate := range []string{"refinedb.yaml", "refinedb.yml"} {
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return ""
}

func (c *Config) applyEnv() {
	if v := os.Getenv("REFINEDB_BACKEND"); v != "" {
		c.Storage.Backend = v
	}
	if v := os.Getenv("REFINEDB_DATA_DIR"); v != "" {
		c.Storage.DataDir = v
	}
	if v := os.Getenv("REFINEDB_NAMESPACE"); v != "" {
		c.Storage.Namespace = v
	}
	if v := os.Getenv("REFINEDB_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case BackendMemory, BackendBadger, BackendSQLite:
	default:
		return fmt.Errorf("unknown storage backend %q (want %q, %q, or %q)",
			c.Storage.Backend, BackendMemory, BackendBadger, BackendSQLite)
	}
	if c.Storage.Namespace == "" {
		return fmt.Errorf("namespace must not be empty")
	}
	return nil
}

// SQLitePath returns the SQLite database path under the data dir.
func (c *Config) SQLitePath() string {
	return filepath.Join(c.Storage.DataDir, "refinedb.db")
}
