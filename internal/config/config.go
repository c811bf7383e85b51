// Package config holds all plume configuration. A single Config struct is
// loaded from YAML, adjusted by environment overrides, validated, and
// passed explicitly to each component at construction. There is no
// process-wide implicit state.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config holds all plume configuration.
type Config struct {
	// DataDir is where the decision store, write-ahead log, and logs live.
	DataDir string `yaml:"data_dir"`

	// Platform describes the target platform's UI surface.
	Platform PlatformConfig `yaml:"platform"`

	// Pool configures the browser session pool.
	Pool PoolConfig `yaml:"pool"`

	// Executor configures platform interaction.
	Executor ExecutorConfig `yaml:"executor"`

	// Extraction configures the identifier extraction chain.
	Extraction ExtractionConfig `yaml:"extraction"`

	// Scheduler configures the posting loop and retry policy.
	Scheduler SchedulerConfig `yaml:"scheduler"`

	// RateLimit configures the rolling-window posting cap.
	RateLimit RateLimitConfig `yaml:"rate_limit"`

	// Recovery configures the reconciliation sweep.
	Recovery RecoveryConfig `yaml:"recovery"`

	// Logging configures the category logger.
	Logging LoggingConfig `yaml:"logging"`
}

// Default returns a fully populated configuration with conservative
// defaults. Every threshold is a starting point, not a constant: the
// checkpoint timings, retry delays, escalation window, and rate caps are
// all expected to be tuned per deployment.
func Default() *Config {
	return &Config{
		DataDir:    ".plume",
		Platform:   DefaultPlatformConfig(),
		Pool:       DefaultPoolConfig(),
		Executor:   DefaultExecutorConfig(),
		Extraction: DefaultExtractionConfig(),
		Scheduler:  DefaultSchedulerConfig(),
		RateLimit:  DefaultRateLimitConfig(),
		Recovery:   DefaultRecoveryConfig(),
		Logging:    DefaultLoggingConfig(),
	}
}

// Load reads a YAML config file, layers it over defaults, applies
// environment overrides, and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, cfg.Validate()
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides lets deployments override the sensitive or
// deployment-specific settings without editing the config file.
func (c *Config) applyEnvOverrides() {
	if dir := os.Getenv("PLUME_DATA_DIR"); dir != "" {
		c.DataDir = dir
	}
	if handle := os.Getenv("PLUME_HANDLE"); handle != "" {
		c.Platform.Handle = handle
	}
	if url := os.Getenv("PLUME_DEBUGGER_URL"); url != "" {
		c.Pool.DebuggerURL = url
	}
	if bin := os.Getenv("PLUME_CHROME_BIN"); bin != "" {
		c.Pool.ChromeBin = bin
	}
}

// Validate checks every section. It is called once at load; components
// may assume a validated config.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir required")
	}
	validators := []func() error{
		c.Platform.Validate,
		c.Pool.Validate,
		c.Executor.Validate,
		c.Extraction.Validate,
		c.Scheduler.Validate,
		c.RateLimit.Validate,
		c.Recovery.Validate,
	}
	for _, v := range validators {
		if err := v(); err != nil {
			return err
		}
	}
	return nil
}

// StorePath returns the decision store location under the data dir.
func (c *Config) StorePath() string {
	return filepath.Join(c.DataDir, "plume.db")
}

// WALPath returns the write-ahead log location under the data dir.
func (c *Config) WALPath() string {
	return filepath.Join(c.DataDir, "wal.jsonl")
}
