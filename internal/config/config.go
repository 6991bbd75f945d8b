// Package config handles process settings from environment variables and the
// accounts file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// Config holds the process configuration.
type Config struct {
	ConfigPath   string
	DatabasePath string
	LogLevel     string
}

// Load reads process configuration from environment variables.
func Load() (*Config, error) {
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		dir, err := os.UserConfigDir()
		if err != nil {
			return nil, fmt.Errorf("CONFIG_PATH is not set and no user config dir: %w", err)
		}
		cfgPath = filepath.Join(dir, "toogoodtogo-watcher", "config.yaml")
	}

	dbPath := os.Getenv("DATABASE_PATH")
	if dbPath == "" {
		dbPath = "./data/watcher.db"
	}

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "info"
	}

	return &Config{
		ConfigPath:   cfgPath,
		DatabasePath: dbPath,
		LogLevel:     logLevel,
	}, nil
}
