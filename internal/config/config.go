// Package config loads the daemon's YAML configuration. On first run a
// default file is written so users have something to edit; credentials
// live in the same file, so it is created with mode 0600.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	// ServerURL is the base URL of the remote content server. Empty
	// means the device runs fully offline.
	ServerURL string `yaml:"server_url"`
	// DeviceID and DeviceToken are the registration credentials sent on
	// every remote request. Both empty means unregistered.
	DeviceID    string `yaml:"device_id"`
	DeviceToken string `yaml:"device_token"`

	DBPath string `yaml:"db_path"`
	// ActiveBook scopes bulk syncs to one book; empty syncs everything.
	ActiveBook string `yaml:"active_book"`
	// StatusListen is the local address for the status/websocket surface.
	StatusListen string `yaml:"status_listen"`

	Sync  SyncConfig  `yaml:"sync"`
	Cache CacheConfig `yaml:"cache"`
	Log   LogConfig   `yaml:"log"`
}

type SyncConfig struct {
	Schedule        string `yaml:"schedule"`
	CleanupSchedule string `yaml:"cleanup_schedule"`
	SettleDelay     string `yaml:"settle_delay"`
}

// SettleDelayDuration parses the settle delay, falling back to one
// second when the field is empty or malformed.
func (s SyncConfig) SettleDelayDuration() time.Duration {
	d, err := time.ParseDuration(s.SettleDelay)
	if err != nil || d <= 0 {
		return time.Second
	}
	return d
}

type CacheConfig struct {
	MaxSizeMB    int  `yaml:"max_size_mb"`
	DurationDays int  `yaml:"duration_days"`
	AutoCleanup  bool `yaml:"auto_cleanup"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

func Default() Config {
	return Config{
		DBPath:       "inkbook.db",
		StatusListen: "127.0.0.1:8787",
		Sync: SyncConfig{
			Schedule:        "@every 30s",
			CleanupSchedule: "@every 1m",
			SettleDelay:     "1s",
		},
		Cache: CacheConfig{
			MaxSizeMB:    100,
			DurationDays: 30,
			AutoCleanup:  true,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads the config at path. A missing file is not an error: the
// defaults are written there and returned.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		cfg := Default()
		if err := Save(cfg, path); err != nil {
			return cfg, err
		}
		return cfg, nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// Save writes cfg to path as YAML.
func Save(cfg Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
