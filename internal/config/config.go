// Package config loads the process environment and audit specifications.
// Environment variables select the archive backend and server settings; the
// audit itself is described by a YAML spec file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"fairlens/internal/errors"
)

// Archive backends.
const (
	ArchiveBolt     = "bolt"
	ArchivePostgres = "postgres"
	ArchiveNone     = "none"
)

// Config represents the complete process configuration
type Config struct {
	Archive   ArchiveConfig
	Server    ServerConfig
	Profiling ProfilingConfig
}

// ArchiveConfig selects where finished audit runs are stored.
type ArchiveConfig struct {
	Backend     string
	BoltPath    string
	DatabaseURL string
}

// ServerConfig holds web server settings
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// ProfilingConfig holds performance profiling settings
type ProfilingConfig struct {
	Port    string
	Enabled bool
}

// Load reads configuration from environment variables and validates it
func Load() (*Config, error) {
	archive, err := loadArchiveConfig()
	if err != nil {
		return nil, errors.Wrap(err, "failed to load archive configuration")
	}

	return &Config{
		Archive: *archive,
		Server: ServerConfig{
			Port:         getEnvOrDefault("PORT", "8080"),
			ReadTimeout:  getEnvDurationOrDefault("SERVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout: getEnvDurationOrDefault("SERVER_WRITE_TIMEOUT", 30*time.Second),
		},
		Profiling: ProfilingConfig{
			Port:    getEnvOrDefault("PPROF_PORT", "6060"),
			Enabled: getEnvBoolOrDefault("PPROF_ENABLED", false),
		},
	}, nil
}

func loadArchiveConfig() (*ArchiveConfig, error) {
	backend := getEnvOrDefault("ARCHIVE_BACKEND", ArchiveBolt)
	cfg := &ArchiveConfig{Backend: backend}

	switch backend {
	case ArchiveBolt:
		cfg.BoltPath = getEnvOrDefault("BOLT_PATH", "fairlens.db")
	case ArchivePostgres:
		cfg.DatabaseURL = os.Getenv("DATABASE_URL")
		if cfg.DatabaseURL == "" {
			return nil, errors.ConfigInvalid("DATABASE_URL is required for the postgres archive")
		}
	case ArchiveNone:
	default:
		return nil, errors.ConfigInvalid(fmt.Sprintf("unknown archive backend %q", backend))
	}
	return cfg, nil
}

// Helper functions for environment variable parsing
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
