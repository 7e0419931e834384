package config

import (
	"testing"
	"time"
)

func TestLoadPoolDefaults(t *testing.T) {
	cfg := Load()

	if cfg.PostgresMaxOpenConns != 25 {
		t.Fatalf("expected default max open conns 25, got %d", cfg.PostgresMaxOpenConns)
	}
	if cfg.PostgresMaxIdleConns != 5 {
		t.Fatalf("expected default max idle conns 5, got %d", cfg.PostgresMaxIdleConns)
	}
	if cfg.PostgresConnMaxLifetime != 30*time.Minute {
		t.Fatalf("expected default conn lifetime 30m, got %v", cfg.PostgresConnMaxLifetime)
	}
	if cfg.RedisPoolSize != 10 {
		t.Fatalf("expected default redis pool size 10, got %d", cfg.RedisPoolSize)
	}
}

func TestLoadPoolOverridesFromEnv(t *testing.T) {
	t.Setenv("POSTGRES_MAX_OPEN_CONNS", "50")
	t.Setenv("POSTGRES_CONN_MAX_LIFETIME", "5m")
	t.Setenv("REDIS_POOL_SIZE", "32")

	cfg := Load()

	if cfg.PostgresMaxOpenConns != 50 {
		t.Fatalf("expected overridden max open conns 50, got %d", cfg.PostgresMaxOpenConns)
	}
	if cfg.PostgresConnMaxLifetime != 5*time.Minute {
		t.Fatalf("expected overridden conn lifetime 5m, got %v", cfg.PostgresConnMaxLifetime)
	}
	if cfg.RedisPoolSize != 32 {
		t.Fatalf("expected overridden redis pool size 32, got %d", cfg.RedisPoolSize)
	}
}
