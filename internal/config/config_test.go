package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultsApplied(t *testing.T) {
	cfg := &Config{}
	cfg.Normalize()

	if cfg.Agent.MaxToolIterations != 20 {
		t.Errorf("MaxToolIterations = %d, want 20", cfg.Agent.MaxToolIterations)
	}
	if cfg.Agent.MemoryWindow != 50 {
		t.Errorf("MemoryWindow = %d, want 50", cfg.Agent.MemoryWindow)
	}
	if cfg.Bus.DedupWindow != 10*time.Minute {
		t.Errorf("DedupWindow = %v, want 10m", cfg.Bus.DedupWindow)
	}
	if cfg.Scheduler.TickInterval != 30*time.Second {
		t.Errorf("TickInterval = %v, want 30s", cfg.Scheduler.TickInterval)
	}
	if cfg.Paths.Workspace == "" {
		t.Error("Workspace should default under BaseDir")
	}
}

func TestLoadFromMissingFile(t *testing.T) {
	cfg, err := LoadFrom(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("missing config file should not error: %v", err)
	}
	if cfg.Model.MaxTokens != 4096 {
		t.Errorf("MaxTokens = %d, want default 4096", cfg.Model.MaxTokens)
	}
}

func TestLoadFromFileAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	body := `{"model":{"name":"file-model","maxTokens":1024},"agent":{"maxToolIterations":7}}`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("TIDECLAW_MODEL", "env-model")

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if cfg.Model.Name != "env-model" {
		t.Errorf("Model.Name = %q, env override should win", cfg.Model.Name)
	}
	if cfg.Model.MaxTokens != 1024 {
		t.Errorf("MaxTokens = %d, want file value 1024", cfg.Model.MaxTokens)
	}
	if cfg.Agent.MaxToolIterations != 7 {
		t.Errorf("MaxToolIterations = %d, want file value 7", cfg.Agent.MaxToolIterations)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "config.json")

	cfg := DefaultConfig()
	cfg.Model.Name = "saved-model"
	if err := Save(cfg, path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if loaded.Model.Name != "saved-model" {
		t.Errorf("Model.Name = %q after round trip", loaded.Model.Name)
	}
}
