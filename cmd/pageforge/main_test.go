package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestEnvOr(t *testing.T) {
	t.Setenv("PAGEFORGE_TEST_URL", "")
	if got := envOr("PAGEFORGE_TEST_URL", "http://localhost:8080"); got != "http://localhost:8080" {
		t.Errorf("envOr() = %q, want default", got)
	}

	t.Setenv("PAGEFORGE_TEST_URL", "https://cms.example.com")
	if got := envOr("PAGEFORGE_TEST_URL", "http://localhost:8080"); got != "https://cms.example.com" {
		t.Errorf("envOr() = %q, want env value", got)
	}
}

func TestLoadConfig(t *testing.T) {
	old := cfgFile
	defer func() { cfgFile = old }()

	cfgFile = ""
	if _, err := loadConfig(); err == nil {
		t.Error("expected error without -c")
	}

	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte("store:\n  driver: bolt\n  path: " + filepath.Join(t.TempDir(), "layouts.bolt") + "\n")
	if err := os.WriteFile(path, data, 0600); err != nil {
		t.Fatal(err)
	}
	cfgFile = path

	cfg, err := loadConfig()
	if err != nil {
		t.Fatalf("loadConfig() error = %v", err)
	}
	if cfg.Store.Driver != "bolt" {
		t.Errorf("Store.Driver = %q, want bolt", cfg.Store.Driver)
	}
}
