package config

import (
	"os"
	"testing"
)

func TestLoadAppliesDefaultsWhenUnset(t *testing.T) {
	for _, key := range []string{"LISTEN_ADDR", "POSTGRES_DSN", "REDIS_ADDR", "S3_REGION", "S3_BUCKET", "STATIC_DIR"} {
		os.Unsetenv(key)
	}

	cfg := Load()

	if cfg.ListenAddr != ":8080" {
		t.Errorf("ListenAddr = %q, want :8080", cfg.ListenAddr)
	}
	if cfg.RedisAddr != "localhost:6379" {
		t.Errorf("RedisAddr = %q, want localhost:6379", cfg.RedisAddr)
	}
	if cfg.S3Bucket != "" {
		t.Errorf("S3Bucket = %q, want empty (archival disabled by default)", cfg.S3Bucket)
	}
}

func TestLoadPrefersEnvOverDefaults(t *testing.T) {
	os.Setenv("LISTEN_ADDR", ":9090")
	defer os.Unsetenv("LISTEN_ADDR")

	cfg := Load()

	if cfg.ListenAddr != ":9090" {
		t.Errorf("ListenAddr = %q, want :9090", cfg.ListenAddr)
	}
}
