package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "swift.json")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `{}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Server.Address != ":8080" {
		t.Fatalf("unexpected address: %s", cfg.Server.Address)
	}
	if cfg.Storage.Driver != "memory" || cfg.EventBus.Driver != "memory" {
		t.Fatalf("unexpected drivers: %s %s", cfg.Storage.Driver, cfg.EventBus.Driver)
	}
	if cfg.Settlement.Interval() != 5*time.Second || cfg.Settlement.Workers != 1 {
		t.Fatalf("unexpected settlement defaults: %+v", cfg.Settlement)
	}
	if cfg.Auth.Mode != "disabled" {
		t.Fatalf("unexpected auth mode: %s", cfg.Auth.Mode)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "json" {
		t.Fatalf("unexpected logging defaults: %+v", cfg.Logging)
	}
	if cfg.Runtime.DataDir != filepath.Join(filepath.Dir(path), "data") {
		t.Fatalf("unexpected data dir: %s", cfg.Runtime.DataDir)
	}
}

func TestLoadResolvesRelativePaths(t *testing.T) {
	path := writeConfig(t, `{
		"web3": {"enabled": true, "chain_config": "chains.yaml"},
		"runtime": {"data_dir": "state"}
	}`)
	base := filepath.Dir(path)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Web3.ChainConfig != filepath.Join(base, "chains.yaml") {
		t.Fatalf("chain config not resolved: %s", cfg.Web3.ChainConfig)
	}
	if cfg.Runtime.DataDir != filepath.Join(base, "state") {
		t.Fatalf("data dir not resolved: %s", cfg.Runtime.DataDir)
	}
}

func TestLoadParsesFullConfig(t *testing.T) {
	path := writeConfig(t, `{
		"storage": {
			"driver": "mysql",
			"dsn": "user:pass@tcp(db:3306)/swift",
			"conn_max_lifetime_seconds": 60,
			"conn_max_idle_time_seconds": 30
		},
		"event_bus": {
			"driver": "redis",
			"redis": {"address": "cache:6379", "queue": "events", "block_wait_seconds": 3}
		},
		"auth": {"mode": "token", "tokens": ["secret"]}
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Storage.ConnMaxLifetime() != time.Minute || cfg.Storage.ConnMaxIdleTime() != 30*time.Second {
		t.Fatalf("unexpected conn lifetimes: %v %v", cfg.Storage.ConnMaxLifetime(), cfg.Storage.ConnMaxIdleTime())
	}
	if cfg.EventBus.Redis.BlockWaitDuration() != 3*time.Second {
		t.Fatalf("unexpected block wait: %v", cfg.EventBus.Redis.BlockWaitDuration())
	}
	if cfg.Auth.Mode != "token" || len(cfg.Auth.Tokens) != 1 {
		t.Fatalf("unexpected auth config: %+v", cfg.Auth)
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(""); err == nil {
		t.Fatal("expected error for empty path")
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatal("expected error for missing file")
	}
	if _, err := Load(writeConfig(t, `{not json`)); err == nil {
		t.Fatal("expected error for malformed json")
	}
}
