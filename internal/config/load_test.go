package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Agent.MaxSteps != 50 {
		t.Errorf("MaxSteps = %d, want 50", cfg.Agent.MaxSteps)
	}
	if cfg.Tools.BashTimeoutMS != 120_000 {
		t.Errorf("BashTimeoutMS = %d, want 120000", cfg.Tools.BashTimeoutMS)
	}
}

func TestLoadJSON5(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	body := `{
		// comments are allowed
		agent: { maxSteps: 10, model: "claude-opus-4" },
		tools: { webFetch: false },
	}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Agent.MaxSteps != 10 {
		t.Errorf("MaxSteps = %d, want 10", cfg.Agent.MaxSteps)
	}
	if cfg.Agent.Model != "claude-opus-4" {
		t.Errorf("Model = %q", cfg.Agent.Model)
	}
	if cfg.Tools.WebFetch {
		t.Error("WebFetch should be disabled by file")
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{agent: {model: "from-file"}}`), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("GOCODE_MODEL", "from-env")
	t.Setenv("GOCODE_MAX_STEPS", "7")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Agent.Model != "from-env" {
		t.Errorf("Model = %q, want env override", cfg.Agent.Model)
	}
	if cfg.Agent.MaxSteps != 7 {
		t.Errorf("MaxSteps = %d, want 7", cfg.Agent.MaxSteps)
	}
}

func TestDatabasePath(t *testing.T) {
	cfg := Default()
	cfg.DataDir = "/data"
	if got := cfg.DatabasePath(); got != "/data/gocode.db" {
		t.Errorf("DatabasePath = %q", got)
	}

	cfg.Database.DSN = "postgres://localhost/gocode"
	if got := cfg.DatabasePath(); got != "postgres://localhost/gocode" {
		t.Errorf("DatabasePath = %q", got)
	}
}
