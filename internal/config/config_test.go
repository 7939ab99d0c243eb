package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Storage.Driver != "sqlite" || cfg.Storage.SQLitePath != "graphversioner.db" {
		t.Fatalf("unexpected storage defaults %+v", cfg.Storage)
	}
	if cfg.Blob.Driver != "fs" || cfg.Blob.S3.Region != "us-east-1" {
		t.Fatalf("unexpected blob defaults %+v", cfg.Blob)
	}
	if cfg.Lock.TTL != 30*time.Second {
		t.Fatalf("expected 30s lock ttl, got %s", cfg.Lock.TTL)
	}
	if cfg.Storage.BadgerGCInterval != 5*time.Minute {
		t.Fatalf("expected 5m gc interval, got %s", cfg.Storage.BadgerGCInterval)
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "graphversioner.yaml")
	content := strings.Join([]string{
		"storage:",
		"  driver: badger",
		"  badger_path: /tmp/graph",
		"blob:",
		"  driver: memory",
		"log:",
		"  level: debug",
	}, "\n")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("GRAPHVERSIONER_LOG_LEVEL", "warn")
	t.Setenv("GRAPHVERSIONER_LOCK_REDIS_ADDR", "localhost:6379")
	t.Setenv("GRAPHVERSIONER_LOCK_TTL", "5s")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Storage.Driver != "badger" || cfg.Storage.BadgerPath != "/tmp/graph" {
		t.Fatalf("file values not applied: %+v", cfg.Storage)
	}
	if cfg.Blob.Driver != "memory" {
		t.Fatalf("expected memory blob driver, got %s", cfg.Blob.Driver)
	}
	if cfg.Log.Level != "warn" {
		t.Fatalf("expected env override for log level, got %s", cfg.Log.Level)
	}
	if cfg.Lock.RedisAddr != "localhost:6379" || cfg.Lock.TTL != 5*time.Second {
		t.Fatalf("unexpected lock config %+v", cfg.Lock)
	}
}

func TestLoadWithoutFileUsesDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("GRAPHVERSIONER_STORAGE_DRIVER", "memory")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Storage.Driver != "memory" {
		t.Fatalf("expected env driver, got %s", cfg.Storage.Driver)
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing explicit config file")
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"unknown storage", func(c *Config) { c.Storage.Driver = "mongo" }, "unknown storage driver"},
		{"postgres without dsn", func(c *Config) { c.Storage.Driver = "postgres" }, "postgres_dsn"},
		{"unknown blob", func(c *Config) { c.Blob.Driver = "gcs" }, "unknown blob driver"},
		{"s3 without bucket", func(c *Config) { c.Blob.Driver = "s3" }, "bucket"},
		{"negative ttl", func(c *Config) { c.Lock.TTL = -time.Second }, "lock.ttl"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
	if err := Default().Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}
