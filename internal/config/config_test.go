package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_ValidDocument(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := "postgres:\n  dsn: postgres://localhost/test\nredis:\n  addr: localhost:6379\nlog:\n  level: debug\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Postgres.DSN != "postgres://localhost/test" {
		t.Fatalf("unexpected DSN: %s", cfg.Postgres.DSN)
	}
	if cfg.Postgres.MaxOpenConns != 10 {
		t.Fatalf("expected default max_open_conns to survive a partial document, got %d", cfg.Postgres.MaxOpenConns)
	}
	if cfg.Log.Level != "debug" {
		t.Fatalf("expected overridden log level debug, got %s", cfg.Log.Level)
	}
}

func TestLoad_MissingDSNFailsValidation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("log:\n  level: info\n"), 0o644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected Load to fail validation without a postgres.dsn")
	}
}

func TestLoad_InvalidLogLevel(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := "postgres:\n  dsn: postgres://localhost/test\nlog:\n  level: trace\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected Load to reject an unrecognized log level")
	}
}

func TestQueryTimeout(t *testing.T) {
	cfg := Default()
	cfg.Postgres.QueryTimeoutMS = 2500
	if got := cfg.QueryTimeout().Milliseconds(); got != 2500 {
		t.Fatalf("QueryTimeout() = %dms, want 2500ms", got)
	}
}
