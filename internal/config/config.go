// Package config loads fieldsync configuration from defaults and
// FIELDSYNC_* environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

type Config struct {
	Server  ServerConfig
	Storage StorageConfig
	Remote  RemoteConfig
	Sync    SyncConfig
}

type ServerConfig struct {
	Port int
}

type StorageConfig struct {
	DataDir string
}

type RemoteConfig struct {
	BaseURL     string
	APIKey      string
	HealthURL   string
	AnalysisURL string
}

type SyncConfig struct {
	ProbeInterval time.Duration
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 8701,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Sync: SyncConfig{
			ProbeInterval: 10 * time.Second,
		},
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./data"
	}
	return filepath.Join(home, ".fieldsync")
}

// Load reads configuration: defaults first, then FIELDSYNC_* environment
// overrides.
func Load() (Config, error) {
	cfg := defaults()

	if v := os.Getenv("FIELDSYNC_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid FIELDSYNC_PORT %q: %w", v, err)
		}
		cfg.Server.Port = port
	}
	if v := os.Getenv("FIELDSYNC_DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("FIELDSYNC_REMOTE_URL"); v != "" {
		cfg.Remote.BaseURL = v
	}
	if v := os.Getenv("FIELDSYNC_API_KEY"); v != "" {
		cfg.Remote.APIKey = v
	}
	if v := os.Getenv("FIELDSYNC_HEALTH_URL"); v != "" {
		cfg.Remote.HealthURL = v
	}
	if v := os.Getenv("FIELDSYNC_ANALYSIS_URL"); v != "" {
		cfg.Remote.AnalysisURL = v
	}
	if v := os.Getenv("FIELDSYNC_PROBE_INTERVAL"); v != "" {
		interval, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid FIELDSYNC_PROBE_INTERVAL %q: %w", v, err)
		}
		cfg.Sync.ProbeInterval = interval
	}

	if cfg.Remote.HealthURL == "" && cfg.Remote.BaseURL != "" {
		cfg.Remote.HealthURL = cfg.Remote.BaseURL
	}

	return cfg, nil
}
