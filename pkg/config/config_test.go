package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if !reflect.DeepEqual(cfg, DefaultConfig()) {
		t.Errorf("Expected default configuration for a missing file")
	}

	if cfg, err = LoadConfig(""); err != nil || cfg.Engine.BetaPattern != "beta_%04d.nii" {
		t.Errorf("Expected defaults for an empty path, got %+v (%v)", cfg, err)
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
processing:
  strategy: lsa
  ignoreConditions: [fixation, button]
engine:
  command: [octave, --eval, "run('{{.JobFile}}')"]
roi:
  threshold: 0.5
output:
  verbose: true
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Processing.Strategy != "lsa" {
		t.Errorf("Expected strategy lsa, got %q", cfg.Processing.Strategy)
	}
	if !reflect.DeepEqual(cfg.Processing.IgnoreConditions, []string{"fixation", "button"}) {
		t.Errorf("Unexpected ignore list %v", cfg.Processing.IgnoreConditions)
	}
	if len(cfg.Engine.Command) != 3 || cfg.Engine.Command[0] != "octave" {
		t.Errorf("Unexpected engine command %v", cfg.Engine.Command)
	}
	if cfg.ROI.Threshold != 0.5 {
		t.Errorf("Expected threshold 0.5, got %v", cfg.ROI.Threshold)
	}
	// untouched sections keep their defaults
	if cfg.Engine.ResidualImage != "ResMS.nii" || cfg.Output.TrialLog != "trials.csv" {
		t.Errorf("Expected defaults for unset fields, got %+v", cfg)
	}
	if !cfg.Output.Verbose {
		t.Error("Expected verbose output")
	}
}

func TestSaveConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	if err := CreateDefaultConfigFile(path); err != nil {
		t.Fatalf("CreateDefaultConfigFile failed: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if !reflect.DeepEqual(cfg, DefaultConfig()) {
		t.Errorf("Expected saved defaults to load back unchanged, got %+v", cfg)
	}
}

func TestLoadConfigInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("processing: [unclosed"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Error("Expected a parse error")
	}
}
