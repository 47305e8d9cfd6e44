package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Ledger.Capacity != 256 {
		t.Errorf("default ledger capacity = %d, want 256", cfg.Ledger.Capacity)
	}
	if cfg.Store.DatabasePath == "" {
		t.Error("default database path is empty")
	}
}

func TestLoadSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "certtrace.yaml")

	cfg := DefaultConfig()
	cfg.Ledger.Capacity = 100
	cfg.Reporting.WatchRules = true
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Ledger.Capacity != 100 {
		t.Errorf("ledger capacity = %d, want 100", loaded.Ledger.Capacity)
	}
	if !loaded.Reporting.WatchRules {
		t.Error("watch_rules not preserved")
	}
}

func TestEnvOverrides(t *testing.T) {
	os.Setenv("CERTTRACE_DB", "/tmp/override.db")
	defer os.Unsetenv("CERTTRACE_DB")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Store.DatabasePath != "/tmp/override.db" {
		t.Errorf("database path = %q, want env override", cfg.Store.DatabasePath)
	}
}
