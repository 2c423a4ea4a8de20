package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/quayside/waverunner/internal/failure"
	"github.com/quayside/waverunner/internal/scheduler"
)

// Load reads and merges configuration from global and project paths.
// Order of precedence (highest to lowest): project config, global config,
// defaults. Missing files are not errors; malformed JSON returns an error.
func Load(globalPath, projectPath string) (*Config, error) {
	cfg := DefaultConfig()

	if globalPath != "" {
		if err := mergeConfigFile(cfg, globalPath); err != nil {
			return nil, fmt.Errorf("loading global config: %w", err)
		}
	}
	if projectPath != "" {
		if err := mergeConfigFile(cfg, projectPath); err != nil {
			return nil, fmt.Errorf("loading project config: %w", err)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDefault loads configuration from conventional paths.
// Global: ~/.waverunner/config.json
// Project: .waverunner/config.json (relative to cwd)
func LoadDefault() (*Config, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting home directory: %w", err)
	}
	globalPath := filepath.Join(homeDir, ".waverunner", "config.json")
	projectPath := filepath.Join(".waverunner", "config.json")
	return Load(globalPath, projectPath)
}

// mergeConfigFile reads a JSON config file and overlays it onto the base.
// Keys absent from the file keep their current values. Missing files are
// silently skipped.
func mergeConfigFile(base *Config, path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	if err := json.Unmarshal(data, base); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

func (c *Config) validate() error {
	if c.Engine.MaxConcurrent < 1 {
		return fmt.Errorf("engine.max_concurrent must be at least 1, got %d", c.Engine.MaxConcurrent)
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be at least 1, got %d", c.Retry.MaxAttempts)
	}
	if len(c.Retry.BackoffSeconds) == 0 {
		return fmt.Errorf("retry.backoff_seconds must not be empty")
	}
	if c.Retry.JitterFraction < 0 || c.Retry.JitterFraction >= 1 {
		return fmt.Errorf("retry.jitter_fraction must be in [0, 1), got %v", c.Retry.JitterFraction)
	}
	if _, err := c.TieBreakFunc(); err != nil {
		return err
	}
	return nil
}

// Policy converts the retry section into the failure package's policy.
func (c *Config) Policy() failure.Policy {
	schedule := make([]time.Duration, len(c.Retry.BackoffSeconds))
	for i, sec := range c.Retry.BackoffSeconds {
		schedule[i] = time.Duration(sec) * time.Second
	}
	return failure.Policy{
		MaxAttempts:        c.Retry.MaxAttempts,
		SyntaxAttempts:     c.Retry.SyntaxAttempts,
		ValidationAttempts: c.Retry.ValidationAttempts,
		BackoffSchedule:    schedule,
		Jitter:             c.Retry.JitterFraction,
	}
}

// TieBreakFunc builds the wave tie-break comparator from the configured
// key order. Unknown keys are rejected.
func (c *Config) TieBreakFunc() (scheduler.TieBreak, error) {
	keys := c.Scheduling.TieBreak
	if len(keys) == 0 {
		return scheduler.DefaultTieBreak, nil
	}
	for _, key := range keys {
		switch key {
		case "priority", "creation", "id":
		default:
			return nil, fmt.Errorf("scheduling.tie_break: unknown key %q", key)
		}
	}
	order := append([]string(nil), keys...)
	return func(a, b *scheduler.Task) bool {
		for _, key := range order {
			switch key {
			case "priority":
				if a.Priority != b.Priority {
					return a.Priority > b.Priority
				}
			case "creation":
				if a.CreationOrder != b.CreationOrder {
					return a.CreationOrder < b.CreationOrder
				}
			case "id":
				if a.ID != b.ID {
					return a.ID < b.ID
				}
			}
		}
		return false
	}, nil
}

// Durations for the engine knobs.

func (c *Config) LockTTL() time.Duration {
	return time.Duration(c.Engine.LockTTLSeconds) * time.Second
}

func (c *Config) LockWait() time.Duration {
	return time.Duration(c.Engine.LockWaitSeconds) * time.Second
}

func (c *Config) LockRetryInterval() time.Duration {
	return time.Duration(c.Engine.LockRetryMillis) * time.Millisecond
}

func (c *Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.Engine.HeartbeatIntervalSeconds) * time.Second
}

func (c *Config) HeartbeatTimeout() time.Duration {
	return time.Duration(c.Engine.HeartbeatTimeoutSeconds) * time.Second
}

func (c *Config) TimeBudget() time.Duration {
	return time.Duration(c.Engine.TimeBudgetMinutes) * time.Minute
}
