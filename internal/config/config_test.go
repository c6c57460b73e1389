package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadWritesDefaultsOnFirstRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "inkbook.yaml")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DBPath != "inkbook.db" || cfg.StatusListen != "127.0.0.1:8787" {
		t.Errorf("defaults = %+v", cfg)
	}
	if cfg.Sync.Schedule != "@every 30s" {
		t.Errorf("sync schedule = %q", cfg.Sync.Schedule)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("default file not written: %v", err)
	}
	// Credentials live in this file.
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("perm = %o, want 600", perm)
	}
}

func TestLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "inkbook.yaml")

	cfg := Default()
	cfg.ServerURL = "https://sync.example.com"
	cfg.DeviceID = "device-a"
	cfg.DeviceToken = "secret"
	cfg.ActiveBook = "book1"
	cfg.Cache.MaxSizeMB = 250
	cfg.Cache.AutoCleanup = false
	if err := Save(cfg, path); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got != cfg {
		t.Errorf("loaded = %+v, want %+v", got, cfg)
	}
}

func TestLoadFillsMissingFieldsFromDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "inkbook.yaml")
	partial := "server_url: https://sync.example.com\ncache:\n  max_size_mb: 50\n"
	if err := os.WriteFile(path, []byte(partial), 0o600); err != nil {
		t.Fatalf("write partial config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ServerURL != "https://sync.example.com" {
		t.Errorf("server_url = %q", cfg.ServerURL)
	}
	if cfg.Cache.MaxSizeMB != 50 {
		t.Errorf("max_size_mb = %d, want 50", cfg.Cache.MaxSizeMB)
	}
	if cfg.DBPath != "inkbook.db" || cfg.Sync.Schedule != "@every 30s" {
		t.Errorf("defaults not applied: %+v", cfg)
	}
}

func TestSettleDelayDurationFallback(t *testing.T) {
	cases := []struct {
		in   string
		want time.Duration
	}{
		{"250ms", 250 * time.Millisecond},
		{"2s", 2 * time.Second},
		{"", time.Second},
		{"soon", time.Second},
		{"-5s", time.Second},
	}
	for _, tc := range cases {
		got := SyncConfig{SettleDelay: tc.in}.SettleDelayDuration()
		if got != tc.want {
			t.Errorf("SettleDelayDuration(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}
