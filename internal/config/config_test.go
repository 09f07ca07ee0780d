package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"PORT", "MONGO_URI", "LOW_STOCK_THRESHOLD", "SNAPSHOT_TTL_SECONDS"} {
		t.Setenv(key, "")
	}
	cfg := Load()

	if cfg.Port != "8080" {
		t.Fatalf("expected default port 8080, got %s", cfg.Port)
	}
	if cfg.MongoURI != "" {
		t.Fatalf("default backend must be in-memory, got %q", cfg.MongoURI)
	}
	if cfg.LowStockThreshold != 5 {
		t.Fatalf("expected default threshold 5, got %d", cfg.LowStockThreshold)
	}
	if cfg.SnapshotTTL != 5*time.Minute {
		t.Fatalf("expected default TTL 5m, got %s", cfg.SnapshotTTL)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9999")
	t.Setenv("MONGO_URI", "mongodb://localhost:27017")
	t.Setenv("LOW_STOCK_THRESHOLD", "12")
	t.Setenv("SNAPSHOT_TTL_SECONDS", "60")
	t.Setenv("REDIS_DB", "not-a-number")

	cfg := Load()
	if cfg.Port != "9999" {
		t.Fatalf("override not applied: %s", cfg.Port)
	}
	if cfg.MongoURI != "mongodb://localhost:27017" {
		t.Fatalf("override not applied: %s", cfg.MongoURI)
	}
	if cfg.LowStockThreshold != 12 {
		t.Fatalf("override not applied: %d", cfg.LowStockThreshold)
	}
	if cfg.SnapshotTTL != time.Minute {
		t.Fatalf("override not applied: %s", cfg.SnapshotTTL)
	}
	if cfg.RedisDB != 0 {
		t.Fatalf("unparseable int must fall back, got %d", cfg.RedisDB)
	}
}
