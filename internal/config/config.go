// Package config provides configuration loading for courtroomd.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration.
type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Logging    LoggingConfig    `koanf:"logging"`
	Store      StoreConfig      `koanf:"store"`
	Stages     StagesConfig     `koanf:"stages"`
	Moderation ModerationConfig `koanf:"moderation"`
	Judgment   JudgmentConfig   `koanf:"judgment"`
}

// ServerConfig controls the HTTP shell.
type ServerConfig struct {
	Port            int      `koanf:"port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// LoggingConfig controls the zap logger.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `koanf:"level"`

	// Format is json or console.
	Format string `koanf:"format"`
}

// StoreConfig selects and configures the shared-state backend.
type StoreConfig struct {
	// Backend is "memory" (single node) or "nats" (replicated).
	Backend string `koanf:"backend"`

	NATS NATSConfig `koanf:"nats"`
}

// NATSConfig configures the JetStream-backed store.
type NATSConfig struct {
	URL    string `koanf:"url"`
	Bucket string `koanf:"bucket"`
}

// StagesConfig carries the per-stage countdowns and pacing knobs.
type StagesConfig struct {
	Intro      Duration `koanf:"intro"`
	Opening    Duration `koanf:"opening"`
	Issues     Duration `koanf:"issues"`
	Discussion Duration `koanf:"discussion"`
	Questions  Duration `koanf:"questions"`
	Closing    Duration `koanf:"closing"`

	GraceDelay   Duration `koanf:"grace_delay"`
	TickInterval Duration `koanf:"tick_interval"`
}

// ModerationConfig controls the profanity guard.
type ModerationConfig struct {
	Window  Duration `koanf:"window"`
	Warning string   `koanf:"warning"`
}

// JudgmentConfig configures the generative judgment service client.
type JudgmentConfig struct {
	BaseURL     string  `koanf:"base_url"`
	Model       string  `koanf:"model"`
	APIKey      Secret  `koanf:"api_key"`
	Temperature float64 `koanf:"temperature"`

	// CarryStatsOnAppeal keeps pre-appeal statistics in a re-trial
	// judgment instead of opening a fresh scoring window.
	CarryStatsOnAppeal bool `koanf:"carry_stats_on_appeal"`
}

// Default returns the configuration defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8420,
			ShutdownTimeout: Duration(10 * time.Second),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Store: StoreConfig{
			Backend: "memory",
			NATS: NATSConfig{
				URL:    "nats://localhost:4222",
				Bucket: "courtroom",
			},
		},
		Stages: StagesConfig{
			Intro:        Duration(60 * time.Second),
			Opening:      Duration(300 * time.Second),
			Issues:       Duration(60 * time.Second),
			Discussion:   Duration(240 * time.Second),
			Questions:    Duration(180 * time.Second),
			Closing:      Duration(120 * time.Second),
			GraceDelay:   Duration(time.Second),
			TickInterval: Duration(time.Second),
		},
		Moderation: ModerationConfig{
			Window: Duration(3 * time.Second),
		},
		Judgment: JudgmentConfig{
			BaseURL:     "https://api.openai.com/v1",
			Model:       "gpt-4o-mini",
			Temperature: 0.7,
		},
	}
}

// Validate checks the configuration for nonsense values.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port out of range: %d", c.Server.Port)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("unknown log format: %s", c.Logging.Format)
	}
	switch c.Store.Backend {
	case "memory", "nats":
	default:
		return fmt.Errorf("unknown store backend: %s", c.Store.Backend)
	}
	if c.Store.Backend == "nats" && c.Store.NATS.URL == "" {
		return fmt.Errorf("nats backend requires a url")
	}
	if c.Stages.TickInterval.Duration() < time.Second {
		return fmt.Errorf("tick interval below one second: %s", c.Stages.TickInterval.Duration())
	}
	if c.Moderation.Window.Duration() <= 0 {
		return fmt.Errorf("moderation window must be positive")
	}
	if c.Judgment.Model == "" {
		return fmt.Errorf("judgment model is required")
	}
	return nil
}
