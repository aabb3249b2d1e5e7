package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if len(cfg.SearchPaths) != 1 {
		t.Fatalf("expected one default search path, got %v", cfg.SearchPaths)
	}
	if cfg.BigAddress {
		t.Fatalf("expected small-address layout by default")
	}
}

func TestLoadEmptyPath(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\"): %v", err)
	}
	want := Default()
	if cfg.BigAddress != want.BigAddress || cfg.Debug != want.Debug ||
		len(cfg.SearchPaths) != len(want.SearchPaths) {
		t.Fatalf("Load(\"\") = %+v, want %+v", cfg, want)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "galago.yaml")
	yaml := "big_address: true\nsearch_paths:\n  - /opt/libs\ndebug: true\n"
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.BigAddress {
		t.Fatalf("expected big_address true")
	}
	if !cfg.Debug {
		t.Fatalf("expected debug true")
	}
	if len(cfg.SearchPaths) != 1 || cfg.SearchPaths[0] != "/opt/libs" {
		t.Fatalf("unexpected search paths: %v", cfg.SearchPaths)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/galago.yaml"); err == nil {
		t.Fatalf("expected error loading a missing config file")
	}
}

func TestEmulatorConfig(t *testing.T) {
	cfg := Config{
		SearchPaths:  []string{"/a", "/b"},
		BigAddress:   true,
		Debug:        false,
		SchedQuantum: 64,
		RootDir:      "/root",
	}
	ec := cfg.EmulatorConfig()
	if !ec.BigAddress || ec.RootDir != "/root" || ec.SchedQuantum != 64 {
		t.Fatalf("EmulatorConfig() dropped fields: %+v", ec)
	}
	if len(ec.SearchPaths) != 2 {
		t.Fatalf("EmulatorConfig() SearchPaths = %v", ec.SearchPaths)
	}
}
