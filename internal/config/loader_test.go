package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadFromYAML(t *testing.T) {
	path := writeConfigFile(t, `
logging:
  level: debug
  format: console
engine:
  quality_threshold: 0.85
  max_iterations: 5
  mode_overrides:
    document:
      quality_threshold: 0.5
      max_iterations: 1
retrieval:
  semantic: true
  max_results: 20
checkpoint:
  path: /tmp/runs.db
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, 0.85, cfg.Engine.QualityThreshold)
	assert.Equal(t, 5, cfg.Engine.MaxIterations)
	assert.Equal(t, 0.5, cfg.Engine.ModeOverrides["document"].QualityThreshold)
	assert.True(t, cfg.Retrieval.Semantic)
	assert.Equal(t, 20, cfg.Retrieval.MaxResults)
	assert.Equal(t, "/tmp/runs.db", cfg.Checkpoint.Path)

	// Untouched fields keep their defaults.
	assert.Equal(t, Default().Engine.PromptBudget, cfg.Engine.PromptBudget)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := writeConfigFile(t, "engine:\n  max_iterations: 5\n")
	t.Setenv("TASKD_ENGINE__MAX_ITERATIONS", "7")
	t.Setenv("TASKD_LOGGING__LEVEL", "warn")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.Engine.MaxIterations)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestLoadRejectsMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	path := writeConfigFile(t, "engine:\n  quality_threshold: 3.0\n")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quality_threshold")
}

func TestLoadRejectsWorldReadableFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: info\n"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "permissions")
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := writeConfigFile(t, "logging: [unclosed\n")
	_, err := Load(path)
	require.Error(t, err)
}
