// Package config loads runtime settings from an optional YAML file, an
// optional .env file and LIBRARY_* environment variables, in that order of
// increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds everything the binaries need to open the store and log.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Log      LogConfig      `yaml:"log"`
}

type DatabaseConfig struct {
	Path          string `yaml:"path"`
	BusyTimeoutMS int    `yaml:"busy_timeout_ms"`
}

type LogConfig struct {
	Mode  string `yaml:"mode"`
	Level string `yaml:"level"`
}

// BusyTimeout returns the configured lock wait.
func (d DatabaseConfig) BusyTimeout() time.Duration {
	return time.Duration(d.BusyTimeoutMS) * time.Millisecond
}

// Default returns the settings used when nothing else is configured.
func Default() Config {
	return Config{
		Database: DatabaseConfig{Path: "library.db", BusyTimeoutMS: 5000},
		Log:      LogConfig{Mode: "dev"},
	}
}

// Load builds a Config. path may be empty; a missing .env is not an error.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

func applyEnv(cfg *Config) error {
	if v := strings.TrimSpace(os.Getenv("LIBRARY_DB_PATH")); v != "" {
		cfg.Database.Path = v
	}
	if v := strings.TrimSpace(os.Getenv("LIBRARY_BUSY_TIMEOUT_MS")); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("LIBRARY_BUSY_TIMEOUT_MS: %w", err)
		}
		cfg.Database.BusyTimeoutMS = ms
	}
	if v := strings.TrimSpace(os.Getenv("LIBRARY_LOG_MODE")); v != "" {
		cfg.Log.Mode = v
	}
	if v := strings.TrimSpace(os.Getenv("LIBRARY_LOG_LEVEL")); v != "" {
		cfg.Log.Level = v
	}
	return nil
}

// Validate rejects settings the store cannot open with.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Database.Path) == "" {
		return errors.New("database path is required")
	}
	if c.Database.BusyTimeoutMS < 0 {
		return errors.New("busy timeout must not be negative")
	}
	return nil
}
