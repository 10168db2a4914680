package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/taskd/internal/engine"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 0.7, cfg.Engine.QualityThreshold)
	assert.Equal(t, 3, cfg.Engine.MaxIterations)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.True(t, cfg.Checkpoint.Enabled)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"threshold above one", func(c *Config) { c.Engine.QualityThreshold = 1.5 }},
		{"threshold negative", func(c *Config) { c.Engine.QualityThreshold = -0.1 }},
		{"zero iterations", func(c *Config) { c.Engine.MaxIterations = 0 }},
		{"zero prompt budget", func(c *Config) { c.Engine.PromptBudget = 0 }},
		{"zero max results", func(c *Config) { c.Retrieval.MaxResults = 0 }},
		{"bad log level", func(c *Config) { c.Logging.Level = "shouty" }},
		{"checkpoint without path", func(c *Config) { c.Checkpoint.Path = "" }},
		{"override threshold out of range", func(c *Config) {
			c.Engine.ModeOverrides = map[string]engine.ModeOverride{
				"implement": {QualityThreshold: 2},
			}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestValidateAcceptsModeOverrides(t *testing.T) {
	cfg := Default()
	cfg.Engine.ModeOverrides = map[string]engine.ModeOverride{
		"document": {QualityThreshold: 0.5, MaxIterations: 1},
	}
	assert.NoError(t, cfg.Validate())
}
