// Package config loads sigtrend's configuration from a YAML file and
// SIGTREND_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/steveyegge/sigtrend/internal/ai"
	"github.com/steveyegge/sigtrend/internal/embedding"
	"github.com/steveyegge/sigtrend/internal/pipeline"
	"github.com/steveyegge/sigtrend/internal/storage"
)

// DefaultPath is where the CLI looks for a config file
const DefaultPath = ".sigtrend/config.yaml"

// LogConfig selects the log encoder and level
type LogConfig struct {
	Mode  string `yaml:"mode"`  // "dev" or "prod"
	Level string `yaml:"level"` // zap level name
}

// ServerConfig configures the HTTP trigger server
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Config aggregates every component's configuration
type Config struct {
	Log       LogConfig        `yaml:"log"`
	Storage   *storage.Config  `yaml:"storage"`
	Embedding embedding.Config `yaml:"embedding"`
	AI        ai.Config        `yaml:"ai"`
	Pipeline  *pipeline.Config `yaml:"pipeline"`
	Server    ServerConfig     `yaml:"server"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Log:       LogConfig{Mode: "dev", Level: "info"},
		Storage:   storage.DefaultConfig(),
		Embedding: embedding.DefaultConfig(),
		AI:        ai.DefaultConfig(),
		Pipeline:  pipeline.DefaultConfig(),
		Server: ServerConfig{
			Addr:            ":8080",
			ShutdownTimeout: 30 * time.Second,
		},
	}
}

// Load reads path over the defaults, then applies environment overrides and
// validates. A missing file is not an error when path is DefaultPath.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist) && path == DefaultPath:
		case err != nil:
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
			}
		}
	}

	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides fields from environment variables:
//
//   - SIGTREND_LOG_MODE, SIGTREND_LOG_LEVEL
//   - SIGTREND_STORAGE_BACKEND, SIGTREND_DB_PATH, SIGTREND_PG_HOST,
//     SIGTREND_PG_PORT, SIGTREND_PG_DATABASE, SIGTREND_PG_USER, SIGTREND_PG_PASSWORD
//   - SIGTREND_EMBEDDING_ENDPOINT, SIGTREND_EMBEDDING_MODEL, SIGTREND_EMBEDDING_API_KEY
//   - ANTHROPIC_API_KEY, SIGTREND_AI_MODEL
//   - SIGTREND_FAN_OUT, SIGTREND_BATCH_SIZE, SIGTREND_MIN_VERIFIED_SCORE,
//     SIGTREND_STALE_LOCK_THRESHOLD
//   - SIGTREND_SERVER_ADDR
func (c *Config) ApplyEnv() error {
	if c.Storage == nil {
		c.Storage = storage.DefaultConfig()
	}
	if c.Storage.Postgres == nil {
		c.Storage.Postgres = storage.DefaultConfig().Postgres
	}
	if c.Pipeline == nil {
		c.Pipeline = pipeline.DefaultConfig()
	}

	strs := []struct {
		key  string
		dest *string
	}{
		{"SIGTREND_LOG_MODE", &c.Log.Mode},
		{"SIGTREND_LOG_LEVEL", &c.Log.Level},
		{"SIGTREND_STORAGE_BACKEND", &c.Storage.Backend},
		{"SIGTREND_DB_PATH", &c.Storage.SQLite.Path},
		{"SIGTREND_PG_HOST", &c.Storage.Postgres.Host},
		{"SIGTREND_PG_DATABASE", &c.Storage.Postgres.Database},
		{"SIGTREND_PG_USER", &c.Storage.Postgres.User},
		{"SIGTREND_PG_PASSWORD", &c.Storage.Postgres.Password},
		{"SIGTREND_EMBEDDING_ENDPOINT", &c.Embedding.Endpoint},
		{"SIGTREND_EMBEDDING_MODEL", &c.Embedding.Model},
		{"SIGTREND_EMBEDDING_API_KEY", &c.Embedding.APIKey},
		{"ANTHROPIC_API_KEY", &c.AI.APIKey},
		{"SIGTREND_AI_MODEL", &c.AI.Model},
		{"SIGTREND_SERVER_ADDR", &c.Server.Addr},
	}
	for _, s := range strs {
		parseEnvString(s.key, s.dest)
	}

	ints := []struct {
		key  string
		dest *int
	}{
		{"SIGTREND_PG_PORT", &c.Storage.Postgres.Port},
		{"SIGTREND_FAN_OUT", &c.Pipeline.FanOut},
		{"SIGTREND_BATCH_SIZE", &c.Pipeline.BatchSize},
		{"SIGTREND_MIN_VERIFIED_SCORE", &c.Pipeline.MinVerifiedScore},
	}
	for _, i := range ints {
		if err := parseEnvInt(i.key, i.dest); err != nil {
			return err
		}
	}

	return parseEnvDuration("SIGTREND_STALE_LOCK_THRESHOLD", &c.Pipeline.StaleLockThreshold)
}

// Validate checks every section. The embedding endpoint and API keys are
// checked when the components are built, since not every command needs them.
func (c *Config) Validate() error {
	switch c.Log.Mode {
	case "", "dev", "prod", "production", "development":
	default:
		return fmt.Errorf("log.mode must be dev or prod (got %q)", c.Log.Mode)
	}
	if err := c.Storage.Validate(); err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	if err := c.AI.Retry.Validate(); err != nil {
		return fmt.Errorf("ai.retry: %w", err)
	}
	if err := c.Pipeline.Validate(); err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}
	if c.Server.ShutdownTimeout < 0 {
		return fmt.Errorf("server.shutdown_timeout cannot be negative")
	}
	return nil
}

// parseEnvInt parses an int from an environment variable
func parseEnvInt(key string, dest *int) error {
	value := os.Getenv(key)
	if value == "" {
		return nil // Use default
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	*dest = parsed
	return nil
}

// parseEnvDuration parses a time.Duration ("90s", "5m") from an environment variable
func parseEnvDuration(key string, dest *time.Duration) error {
	value := os.Getenv(key)
	if value == "" {
		return nil // Use default
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	*dest = parsed
	return nil
}

// parseEnvString parses a string from an environment variable
func parseEnvString(key string, dest *string) {
	if value := os.Getenv(key); value != "" {
		*dest = value
	}
}
