package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestLoadLayers(t *testing.T) {
	dir := t.TempDir()

	yamlPath := filepath.Join(dir, "newsdesk.yaml")
	yamlDoc := "server_port: 9000\ninterval: 5m\nfeed_reader: feedfetcher\nlog_level: debug\nadmin_token: from-yaml\n"
	if err := os.WriteFile(yamlPath, []byte(yamlDoc), 0o600); err != nil {
		t.Fatal(err)
	}
	envPath := filepath.Join(dir, "test.env")
	if err := os.WriteFile(envPath, []byte("NEWSDESK_ADMIN_TOKEN=from-dotenv\nNEWSDESK_WORKER_COUNT=3\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv(ConfigPathEnv, yamlPath)
	t.Setenv(EnvFileEnv, envPath)
	t.Setenv("NEWSDESK_WORKER_COUNT", "7")
	// godotenv sets variables for the whole process.
	t.Setenv("NEWSDESK_ADMIN_TOKEN", "")
	os.Unsetenv("NEWSDESK_ADMIN_TOKEN")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.ServerPort != 9000 || cfg.Interval != 5*time.Minute || cfg.FeedReader != "feedfetcher" {
		t.Fatalf("yaml values not applied: %+v", cfg)
	}
	if cfg.AdminToken != "from-dotenv" {
		t.Fatalf("dotenv must override yaml, token = %q", cfg.AdminToken)
	}
	if cfg.WorkerCount != 7 {
		t.Fatalf("environment must override dotenv, workers = %d", cfg.WorkerCount)
	}
	if cfg.DBDSN != DefaultDBDSN {
		t.Fatalf("untouched field lost its default: %q", cfg.DBDSN)
	}
	if cfg.Level() != zerolog.DebugLevel {
		t.Fatalf("level = %v", cfg.Level())
	}
	if cfg.ListenAddr() != ":9000" {
		t.Fatalf("listen addr = %q", cfg.ListenAddr())
	}
}

func TestLoadWithoutFiles(t *testing.T) {
	t.Setenv(ConfigPathEnv, "")
	t.Setenv(EnvFileEnv, filepath.Join(t.TempDir(), "missing.env"))

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ServerPort != DefaultServerPort || cfg.Interval != DefaultInterval*time.Minute {
		t.Fatalf("defaults = %+v", cfg)
	}
}

func TestLoadRejectsBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("server_port: [not a number"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv(ConfigPathEnv, path)

	if _, err := Load(); err == nil {
		t.Fatal("expected error for malformed YAML")
	}
}
