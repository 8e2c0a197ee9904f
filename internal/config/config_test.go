package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Env != EnvDev {
		t.Errorf("Env = %q, want dev default", cfg.Env)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Errorf("HTTPAddr = %q", cfg.HTTPAddr)
	}
	if cfg.Upstream.Timeout != 30*time.Second {
		t.Errorf("Upstream.Timeout = %v", cfg.Upstream.Timeout)
	}
	if !strings.Contains(cfg.Buffer.Dir, "rentalsync") {
		t.Errorf("Buffer.Dir = %q, want a scratch-dir default", cfg.Buffer.Dir)
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("ENV", EnvProd)
	t.Setenv("HTTP_ADDR", ":9090")
	t.Setenv("DATABASE_URL", "postgres://localhost/rentals")
	t.Setenv("UPSTREAM_BASE_URL", "https://api.example.com/reservations")
	t.Setenv("UPSTREAM_AUTH_TOKEN", "Basic abc")
	t.Setenv("UPSTREAM_TIMEOUT", "10s")
	t.Setenv("BUFFER_DIR", "/var/tmp/rentalsync-test")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Env != EnvProd || cfg.HTTPAddr != ":9090" {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.DB.DatabaseURL != "postgres://localhost/rentals" {
		t.Errorf("DatabaseURL = %q", cfg.DB.DatabaseURL)
	}
	if cfg.Upstream.BaseURL != "https://api.example.com/reservations" || cfg.Upstream.AuthToken != "Basic abc" {
		t.Errorf("Upstream = %+v", cfg.Upstream)
	}
	if cfg.Upstream.Timeout != 10*time.Second {
		t.Errorf("Timeout = %v", cfg.Upstream.Timeout)
	}
	if cfg.Buffer.Dir != "/var/tmp/rentalsync-test" {
		t.Errorf("Buffer.Dir = %q", cfg.Buffer.Dir)
	}
}

func TestLoadRejectsBadTimeout(t *testing.T) {
	t.Setenv("UPSTREAM_TIMEOUT", "soon")
	if _, err := Load(); err == nil {
		t.Error("expected error for invalid UPSTREAM_TIMEOUT")
	}
}
