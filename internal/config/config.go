// Package config loads this module's static deployment configuration from a
// YAML document, grounded on the teacher's internal/config/providers.go
// shape (load-then-Validate, yaml.v3 tags, *MS/*Secs integer fields
// converted to time.Duration via accessors) and generalized to the
// connectors/persistence/crawler concerns this module has instead of the
// teacher's per-provider REST budgets.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete deployment document for cmd/ingestor: storage
// connection settings and logging. Per-service tunables are not part of it;
// they live in the ServiceConfig registry (spec §4.9) in Postgres.
type Config struct {
	Postgres PostgresConfig `yaml:"postgres"`
	Redis    RedisConfig    `yaml:"redis"`
	Log      LogConfig      `yaml:"log"`
}

// PostgresConfig holds the lib/pq DSN and pool/timeout tunables.
type PostgresConfig struct {
	DSN            string `yaml:"dsn"`
	MaxOpenConns   int    `yaml:"max_open_conns"`
	MaxIdleConns   int    `yaml:"max_idle_conns"`
	QueryTimeoutMS int    `yaml:"query_timeout_ms"`
}

// RedisConfig holds the go-redis client address; empty Addr falls back to
// the in-memory store (store.NewAutoAddr, spec §4.6).
type RedisConfig struct {
	Addr string `yaml:"addr"`
	DB   int    `yaml:"db"`
}

// LogConfig controls the zerolog console writer the way the teacher's
// cmd/cryptorun/main.go configures log.Logger.
type LogConfig struct {
	Level string `yaml:"level"` // debug|info|warn|error
	JSON  bool   `yaml:"json"`  // false => ConsoleWriter, true => raw JSON lines
}

// Default returns sane local-dev defaults: no Postgres DSN (caller must
// supply one), no Redis addr (in-memory store), info logging.
func Default() Config {
	return Config{
		Postgres: PostgresConfig{MaxOpenConns: 10, MaxIdleConns: 5, QueryTimeoutMS: 5000},
		Redis:    RedisConfig{},
		Log:      LogConfig{Level: "info"},
	}
}

// Load reads a YAML document from path, starting from Default() so a
// partial document only overrides what it sets.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate ensures the loaded document is usable.
func (c *Config) Validate() error {
	if c.Postgres.DSN == "" {
		return fmt.Errorf("postgres.dsn cannot be empty")
	}
	if c.Postgres.MaxOpenConns <= 0 {
		return fmt.Errorf("postgres.max_open_conns must be positive, got %d", c.Postgres.MaxOpenConns)
	}
	if c.Postgres.MaxIdleConns < 0 {
		return fmt.Errorf("postgres.max_idle_conns cannot be negative, got %d", c.Postgres.MaxIdleConns)
	}
	if c.Postgres.QueryTimeoutMS <= 0 {
		return fmt.Errorf("postgres.query_timeout_ms must be positive, got %d", c.Postgres.QueryTimeoutMS)
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of debug|info|warn|error, got %q", c.Log.Level)
	}
	return nil
}

// QueryTimeout returns the Postgres query timeout as a time.Duration.
func (c *Config) QueryTimeout() time.Duration {
	return time.Duration(c.Postgres.QueryTimeoutMS) * time.Millisecond
}
