// Package config holds certtrace configuration, loaded from a YAML
// file with sensible defaults for a local batch run.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config holds all certtrace configuration.
type Config struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// Incident ledger settings
	Ledger LedgerConfig `yaml:"ledger"`

	// Persistence settings
	Store StoreConfig `yaml:"store"`

	// Regulatory reporting settings
	Reporting ReportingConfig `yaml:"reporting"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// LedgerConfig configures the incident ledger consumer side.
type LedgerConfig struct {
	// Capacity is the slot count used when creating a new ledger or
	// validating an imported ledger image.
	Capacity int `yaml:"capacity"`

	// ImagePath is where a drained ledger image is read from.
	ImagePath string `yaml:"image_path"`
}

// StoreConfig configures SQLite persistence.
type StoreConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// ReportingConfig configures the regulatory reporting scheduler.
type ReportingConfig struct {
	// RulesPath points at the YAML rule file describing regulatory
	// obligations per standard and clause.
	RulesPath string `yaml:"rules_path"`

	// WatchRules enables hot reload of the rule file.
	WatchRules bool `yaml:"watch_rules"`
}

// LoggingConfig configures logging verbosity.
type LoggingConfig struct {
	Verbose bool `yaml:"verbose"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "certtrace",
		Version: "1.0.0",

		Ledger: LedgerConfig{
			Capacity:  256,
			ImagePath: "data/incidents.bin",
		},

		Store: StoreConfig{
			DatabasePath: "data/certtrace.db",
		},

		Reporting: ReportingConfig{
			RulesPath:  "rules/reporting.yaml",
			WatchRules: false,
		},

		Logging: LoggingConfig{
			Verbose: false,
		},
	}
}

// Load loads configuration from a YAML file. Missing file returns the
// defaults rather than an error, matching the batch-tool workflow
// where a bare checkout should still run.
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

	cfg.applyEnvOverrides()

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

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if path := os.Getenv("CERTTRACE_DB"); path != "" {
		c.Store.DatabasePath = path
	}
	if path := os.Getenv("CERTTRACE_RULES"); path != "" {
		c.Reporting.RulesPath = path
	}
	if path := os.Getenv("CERTTRACE_LEDGER_IMAGE"); path != "" {
		c.Ledger.ImagePath = path
	}
}
