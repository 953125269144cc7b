// Package config provides application configuration management from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds the jdbd/jdbctl process configuration.
type Config struct {
	DataDir          string
	APIPort          string
	APIHost          string
	LogLevel         string
	CompressionCodec string // "none", "lz4", or "zstd"
	HandleCacheSize  int
	CatalogDSN       string // optional; enables the pgx catalog mirror when set
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		DataDir:          getEnv("JDB_DATA_DIR", "./data"),
		APIPort:          getEnv("API_PORT", "8080"),
		APIHost:          getEnv("API_HOST", "0.0.0.0"),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		CompressionCodec: getEnv("JDB_COMPRESSION", "none"),
		HandleCacheSize:  getEnvInt("JDB_HANDLE_CACHE_SIZE", 128),
		CatalogDSN:       getEnv("JDB_CATALOG_DSN", ""),
	}

	if cfg.DataDir == "" {
		return nil, fmt.Errorf("JDB_DATA_DIR is required")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return n
}
