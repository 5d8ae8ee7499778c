// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Worker    WorkerConfig    `mapstructure:"worker"`
	Fetcher   FetcherConfig   `mapstructure:"fetcher"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Storage   StorageConfig   `mapstructure:"storage"`
	CORS      CORSConfig      `mapstructure:"cors"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port         int   `mapstructure:"port"`
	MaxBodyBytes int64 `mapstructure:"max_body_bytes"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// WorkerConfig governs the analysis pipeline.
type WorkerConfig struct {
	Concurrency int `mapstructure:"concurrency"`
	QueueDepth  int `mapstructure:"queue_depth"`
}

// FetcherConfig configures page fetching.
type FetcherConfig struct {
	UserAgent      string `mapstructure:"user_agent"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// ClassLimit holds the budget for one rate limit route class.
type ClassLimit struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

// RateLimitConfig holds per-route-class limiter budgets.
type RateLimitConfig struct {
	Analysis   ClassLimit `mapstructure:"analysis"`
	Validation ClassLimit `mapstructure:"validation"`
	Export     ClassLimit `mapstructure:"export"`
}

// PostgresConfig controls access to the relational job store.
type PostgresConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// StorageConfig selects the job store provider and export artifact location.
type StorageConfig struct {
	Jobs       string         `mapstructure:"jobs"`
	Postgres   PostgresConfig `mapstructure:"postgres"`
	ExportsDir string         `mapstructure:"exports_dir"`
}

// CORSConfig controls the allowed cross-origin callers.
type CORSConfig struct {
	AllowedOrigin string `mapstructure:"allowed_origin"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SEARCHLENS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.max_body_bytes", 10*1024*1024)
	v.SetDefault("logging.development", true)
	v.SetDefault("worker.concurrency", 4)
	v.SetDefault("worker.queue_depth", 64)
	v.SetDefault("fetcher.user_agent", "searchlens-bot/0.1")
	v.SetDefault("fetcher.timeout_seconds", 15)
	v.SetDefault("ratelimit.analysis.rps", 0.2)
	v.SetDefault("ratelimit.analysis.burst", 10)
	v.SetDefault("ratelimit.validation.rps", 5)
	v.SetDefault("ratelimit.validation.burst", 50)
	v.SetDefault("ratelimit.export.rps", 1)
	v.SetDefault("ratelimit.export.burst", 20)
	v.SetDefault("storage.jobs", "memory")
	v.SetDefault("storage.exports_dir", "exports")
	v.SetDefault("cors.allowed_origin", "*")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Server.MaxBodyBytes <= 0 {
		return fmt.Errorf("server.max_body_bytes must be > 0")
	}
	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker.concurrency must be > 0")
	}
	if c.Fetcher.TimeoutSeconds <= 0 {
		return fmt.Errorf("fetcher.timeout_seconds must be > 0")
	}
	switch c.Storage.Jobs {
	case "memory":
	case "postgres":
		if c.Storage.Postgres.DSN == "" {
			return fmt.Errorf("storage.postgres.dsn must be set when storage.jobs is postgres")
		}
	default:
		return fmt.Errorf("unknown job store provider %q", c.Storage.Jobs)
	}
	return nil
}

// FetchTimeout converts the fetcher timeout config into a duration.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Fetcher.TimeoutSeconds) * time.Second
}
