package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Queue.MaxConcurrent != 2 {
		t.Errorf("default max_concurrent = %d, want 2", cfg.Queue.MaxConcurrent)
	}
	if cfg.Queue.MaxRetries != 3 {
		t.Errorf("default max_retries = %d, want 3", cfg.Queue.MaxRetries)
	}
	if cfg.Queue.RetryBackoff != 2*time.Second {
		t.Errorf("default retry_backoff = %v, want 2s", cfg.Queue.RetryBackoff)
	}
	if cfg.Download.TempSuffix != ".part" {
		t.Errorf("default temp_suffix = %q", cfg.Download.TempSuffix)
	}
	if cfg.Port != "8080" {
		t.Errorf("default port = %q", cfg.Port)
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := `
port: "9090"
queue:
  max_concurrent: 4
  idle_timeout: 5s
download:
  dir: /tmp/media
`
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Port != "9090" || cfg.Queue.MaxConcurrent != 4 {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.Queue.IdleTimeout != 5*time.Second {
		t.Errorf("idle_timeout = %v, want 5s", cfg.Queue.IdleTimeout)
	}
	if cfg.Download.Dir != "/tmp/media" {
		t.Errorf("download dir = %q", cfg.Download.Dir)
	}
}

func TestValidateRejectsBadLimit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("queue:\n  max_concurrent: 0\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected max_concurrent: 0 to be rejected")
	}
}
