package config

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	maxConfigFileSize = 1024 * 1024 // 1MB

	// envPrefix namespaces taskd environment variables.
	envPrefix = "TASKD_"
)

// Load loads configuration from a YAML file, then overrides with
// environment variables.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (TASKD_ENGINE__MAX_ITERATIONS, etc.)
//  2. YAML config file
//  3. Defaults from Default()
//
// If configPath is empty, no file is read and only defaults plus the
// environment apply. A non-empty path must exist.
//
// Environment variables map to config keys by stripping the TASKD_
// prefix, lowercasing, and turning double underscores into section
// separators:
//
//	TASKD_LOGGING__LEVEL            -> logging.level
//	TASKD_ENGINE__QUALITY_THRESHOLD -> engine.quality_threshold
//	TASKD_CHECKPOINT__PATH          -> checkpoint.path
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath != "" {
		content, err := readConfigFile(configPath)
		if err != nil {
			return nil, err
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		key := strings.ToLower(strings.TrimPrefix(s, envPrefix))
		// Double underscore separates sections, single underscores
		// stay part of the field name.
		return strings.ReplaceAll(key, "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	// Unmarshal over the defaults so absent keys keep their values.
	cfg := Default()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// readConfigFile opens and validates the config file through a single
// file descriptor to avoid a stat/open race.
func readConfigFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if err := validateConfigFileProperties(info); err != nil {
		return nil, fmt.Errorf("config file validation failed: %w", err)
	}

	content, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return content, nil
}

// validateConfigFileProperties rejects oversized or world-accessible files.
func validateConfigFileProperties(info fs.FileInfo) error {
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%s is not a regular file", info.Name())
	}
	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("config file exceeds %d bytes", maxConfigFileSize)
	}
	if info.Mode().Perm()&0o077 != 0 {
		return fmt.Errorf("config file has permissions %04o, want 0600", info.Mode().Perm())
	}
	return nil
}
