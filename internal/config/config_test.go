package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadAppliesEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte(`
server:
  port: "9090"
postgres:
  url: postgres://file
grading:
  resolution: latest
log:
  level: debug
`)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("POSTGRES_URL", "postgres://env")
	t.Setenv("GRADING_RESOLUTION", "best")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != "9090" {
		t.Fatalf("expected port from file, got %q", cfg.Server.Port)
	}
	if cfg.Postgres.URL != "postgres://env" {
		t.Fatalf("expected env override, got %q", cfg.Postgres.URL)
	}
	if cfg.Grading.Resolution != "best" {
		t.Fatalf("expected env resolution, got %q", cfg.Grading.Resolution)
	}
	if cfg.LogLevel() != slog.LevelDebug {
		t.Fatalf("expected debug level, got %v", cfg.LogLevel())
	}
}

func TestTTLDuration(t *testing.T) {
	if got := TTLDuration("", time.Minute); got != time.Minute {
		t.Fatalf("expected fallback, got %v", got)
	}
	if got := TTLDuration("bogus", time.Minute); got != time.Minute {
		t.Fatalf("expected fallback for bad value, got %v", got)
	}
	if got := TTLDuration("90s", time.Minute); got != 90*time.Second {
		t.Fatalf("expected 90s, got %v", got)
	}
}
