// Package config loads the engine policy and runtime tuning shared by the
// matterflow binaries.
package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/dukex/matterflow/pkg/engine"
	"github.com/dukex/matterflow/pkg/eventbus"
	"github.com/dukex/matterflow/pkg/expiry"
)

// Config is the optional YAML file given with --config. Command line flags
// override it.
type Config struct {
	Engine  EngineConfig  `yaml:"engine"`
	Sweeper SweeperConfig `yaml:"sweeper"`
	Events  EventsConfig  `yaml:"events"`
}

type EngineConfig struct {
	// MaxNestingDepth bounds compound condition nesting (default 3).
	MaxNestingDepth int `yaml:"max_nesting_depth"`
	// RequireSwitchDefault rejects SWITCH steps without a default branch.
	RequireSwitchDefault bool `yaml:"require_switch_default"`
	// SkipUnreachable settles unsatisfiable pending steps as SKIPPED
	// instead of leaving the instance stalled.
	SkipUnreachable bool `yaml:"skip_unreachable"`
}

type SweeperConfig struct {
	Schedule string `yaml:"schedule"`
}

type EventsConfig struct {
	Breaker eventbus.BreakerConfig `yaml:"breaker"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Engine: EngineConfig{
			MaxNestingDepth: engine.DefaultMaxNestingDepth,
		},
		Sweeper: SweeperConfig{
			Schedule: expiry.DefaultSchedule,
		},
		Events: EventsConfig{
			Breaker: eventbus.DefaultBreakerConfig(),
		},
	}
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	var errs []error

	if c.Engine.MaxNestingDepth < 1 {
		errs = append(errs, errors.New("engine.max_nesting_depth must be at least 1"))
	}

	if _, err := cron.ParseStandard(c.Sweeper.Schedule); err != nil {
		errs = append(errs, fmt.Errorf("sweeper.schedule: %w", err))
	}

	breaker := c.Events.Breaker
	if breaker.ConsecutiveFailures == 0 {
		errs = append(errs, errors.New("events.breaker.consecutive_failures must be positive"))
	}

	if breaker.Timeout < 0 || breaker.Interval < 0 {
		errs = append(errs, errors.New("events.breaker durations cannot be negative"))
	}

	return errors.Join(errs...)
}

// EngineOptions translates the engine section into engine options.
func (c *Config) EngineOptions() []engine.Option {
	return []engine.Option{
		engine.WithMaxNestingDepth(c.Engine.MaxNestingDepth),
		engine.WithRequireSwitchDefault(c.Engine.RequireSwitchDefault),
		engine.WithSkipUnreachable(c.Engine.SkipUnreachable),
	}
}

// LoadFromFile reads path over the defaults and validates the result.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", path, err)
	}

	return config, nil
}

// Load returns the defaults when path is empty.
func Load(path string) (*Config, error) {
	if path == "" {
		return DefaultConfig(), nil
	}

	return LoadFromFile(path)
}
