package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

// Load returns the defaults overridden by environment variables only.
func Load() (*Config, error) {
	return LoadWithFile("")
}

// LoadWithFile loads configuration from a YAML file, then overrides with
// environment variables.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (COURTROOMD_SERVER_PORT, ...)
//  2. YAML config file
//  3. Hardcoded defaults
//
// An empty configPath skips the file layer; a missing file at an explicit
// path is an error.
func LoadWithFile(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath != "" {
		content, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// Environment variables use underscore separator under the
	// COURTROOMD_ prefix and map onto config paths:
	//
	//	COURTROOMD_SERVER_PORT        -> server.port
	//	COURTROOMD_STORE_BACKEND      -> store.backend
	//	COURTROOMD_JUDGMENT_API_KEY   -> judgment.api_key
	//
	// Strategy: strip the prefix, then split on the first underscore
	// only (section.field_name pattern).
	if err := k.Load(env.Provider("COURTROOMD_", ".", func(s string) string {
		lower := strings.ToLower(strings.TrimPrefix(s, "COURTROOMD_"))
		parts := strings.SplitN(lower, "_", 2)
		if len(parts) == 1 {
			return lower
		}
		return parts[0] + "." + parts[1]
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}
