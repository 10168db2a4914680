// Package config provides configuration loading for taskd.
//
// Configuration is loaded from a YAML file with environment variable
// overrides and sensible defaults for every field.
package config

import (
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/taskd/internal/engine"
	"github.com/fyrsmithlabs/taskd/internal/logging"
)

// Config holds the complete taskd configuration.
type Config struct {
	Logging    logging.Config   `koanf:"logging"`
	Engine     engine.Config    `koanf:"engine"`
	Retrieval  RetrievalConfig  `koanf:"retrieval"`
	Checkpoint CheckpointConfig `koanf:"checkpoint"`
}

// RetrievalConfig holds context retrieval configuration.
type RetrievalConfig struct {
	// Semantic enables embedding-based scoring alongside tag overlap.
	Semantic bool `koanf:"semantic"`

	// MaxResults caps the number of context items returned per query.
	MaxResults int `koanf:"max_results"`
}

// CheckpointConfig holds run persistence configuration.
type CheckpointConfig struct {
	// Enabled turns on checkpointing after each work item.
	Enabled bool `koanf:"enabled"`

	// Path is the SQLite database file for run state.
	Path string `koanf:"path"`
}

// Default returns a Config populated with defaults.
func Default() *Config {
	return &Config{
		Logging: logging.DefaultConfig(),
		Engine:  engine.DefaultConfig(),
		Retrieval: RetrievalConfig{
			Semantic:   false,
			MaxResults: 10,
		},
		Checkpoint: CheckpointConfig{
			Enabled: true,
			Path:    "taskd.db",
		},
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	if c.Engine.QualityThreshold < 0 || c.Engine.QualityThreshold > 1 {
		return fmt.Errorf("engine.quality_threshold must be in [0,1], got %g", c.Engine.QualityThreshold)
	}
	if c.Engine.MaxIterations < 1 {
		return fmt.Errorf("engine.max_iterations must be at least 1, got %d", c.Engine.MaxIterations)
	}
	if c.Engine.PromptBudget < 1 {
		return errors.New("engine.prompt_budget must be positive")
	}
	for mode, ov := range c.Engine.ModeOverrides {
		if ov.QualityThreshold < 0 || ov.QualityThreshold > 1 {
			return fmt.Errorf("engine.mode_overrides.%s.quality_threshold must be in [0,1], got %g", mode, ov.QualityThreshold)
		}
		if ov.MaxIterations < 0 {
			return fmt.Errorf("engine.mode_overrides.%s.max_iterations must not be negative", mode)
		}
	}
	if c.Retrieval.MaxResults < 1 {
		return errors.New("retrieval.max_results must be positive")
	}
	if c.Checkpoint.Enabled && c.Checkpoint.Path == "" {
		return errors.New("checkpoint.path is required when checkpointing is enabled")
	}
	return nil
}
