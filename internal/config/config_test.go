package config

import (
	"testing"
	"time"
)

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")

	cfg := Load()
	if cfg.AuthSecret != "" {
		t.Fatalf("expected empty AUTH_SECRET when unset, got %q", cfg.AuthSecret)
	}
}

func TestFromEnvDefaults(t *testing.T) {
	for _, key := range []string{"PORT", "DB_LOCK_TIMEOUT_MS", "TEMPLATE_CACHE_TTL_SECONDS", "ACCESS_TOKEN_TTL_MINUTES", "AUTO_MIGRATE", "LOG_LEVEL", "REDIS_DB"} {
		t.Setenv(key, "")
	}

	cfg := FromEnv()
	if cfg.Address() != ":8080" {
		t.Fatalf("expected :8080, got %q", cfg.Address())
	}
	if cfg.DBLockTimeout != 5*time.Second {
		t.Fatalf("expected 5s lock timeout, got %s", cfg.DBLockTimeout)
	}
	if cfg.TemplateCacheTTL() != 5*time.Minute {
		t.Fatalf("expected 5m cache ttl, got %s", cfg.TemplateCacheTTL())
	}
	if cfg.AccessTokenTTL() != 8*time.Hour {
		t.Fatalf("expected 8h token ttl, got %s", cfg.AccessTokenTTL())
	}
	if !cfg.AutoMigrate {
		t.Fatalf("expected auto migrate on by default")
	}
	if cfg.LogLevel != "info" {
		t.Fatalf("expected info log level, got %q", cfg.LogLevel)
	}
}

func TestFromEnvRejectsInvalidNumbers(t *testing.T) {
	t.Setenv("DB_LOCK_TIMEOUT_MS", "soon")
	t.Setenv("TEMPLATE_CACHE_TTL_SECONDS", "-1")
	t.Setenv("AUTO_MIGRATE", "false")
	t.Setenv("REDIS_DB", "3")

	cfg := FromEnv()
	if cfg.DBLockTimeout != 5*time.Second {
		t.Fatalf("expected fallback lock timeout, got %s", cfg.DBLockTimeout)
	}
	if cfg.TemplateCacheTTLSeconds != 300 {
		t.Fatalf("expected fallback cache ttl, got %d", cfg.TemplateCacheTTLSeconds)
	}
	if cfg.AutoMigrate {
		t.Fatalf("expected auto migrate disabled")
	}
	if cfg.RedisDB != 3 {
		t.Fatalf("expected redis db 3, got %d", cfg.RedisDB)
	}
}
