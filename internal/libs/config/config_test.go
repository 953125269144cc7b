package config

import (
	"os"
	"testing"
)

func TestLoad(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.APIPort != "8080" {
		t.Errorf("expected default APIPort=8080, got %s", cfg.APIPort)
	}

	if cfg.LogLevel != "info" {
		t.Errorf("expected default LogLevel=info, got %s", cfg.LogLevel)
	}

	if cfg.DataDir != "./data" {
		t.Errorf("expected default DataDir=./data, got %s", cfg.DataDir)
	}

	if cfg.HandleCacheSize != 128 {
		t.Errorf("expected default HandleCacheSize=128, got %d", cfg.HandleCacheSize)
	}
}

func TestLoadWithEnv(t *testing.T) {
	_ = os.Setenv("API_PORT", "9000")
	_ = os.Setenv("LOG_LEVEL", "debug")
	_ = os.Setenv("JDB_DATA_DIR", "/tmp/jdb-test")
	_ = os.Setenv("JDB_HANDLE_CACHE_SIZE", "256")
	defer func() {
		_ = os.Unsetenv("API_PORT")
		_ = os.Unsetenv("LOG_LEVEL")
		_ = os.Unsetenv("JDB_DATA_DIR")
		_ = os.Unsetenv("JDB_HANDLE_CACHE_SIZE")
	}()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.APIPort != "9000" {
		t.Errorf("expected APIPort=9000, got %s", cfg.APIPort)
	}

	if cfg.LogLevel != "debug" {
		t.Errorf("expected LogLevel=debug, got %s", cfg.LogLevel)
	}

	if cfg.DataDir != "/tmp/jdb-test" {
		t.Errorf("expected DataDir=/tmp/jdb-test, got %s", cfg.DataDir)
	}

	if cfg.HandleCacheSize != 256 {
		t.Errorf("expected HandleCacheSize=256, got %d", cfg.HandleCacheSize)
	}
}
