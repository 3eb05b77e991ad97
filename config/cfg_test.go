package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "datx.yaml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfigurationDefaults(t *testing.T) {
	cfg, err := LoadConfiguration("")
	if err != nil {
		t.Fatalf("LoadConfiguration() error = %v", err)
	}
	if cfg.Version != 1 {
		t.Errorf("Version = %d, want 1", cfg.Version)
	}
	if !cfg.Extract.Annotate {
		t.Error("Extract.Annotate default must be on")
	}
	if cfg.Extract.RenderJobs != 0 {
		t.Errorf("Extract.RenderJobs = %d, want 0", cfg.Extract.RenderJobs)
	}
	if cfg.Logging.ConsoleLogger.Level != "normal" {
		t.Errorf("console logger level = %q, want normal", cfg.Logging.ConsoleLogger.Level)
	}
	if cfg.Logging.FileLogger.Level != "none" {
		t.Errorf("file logger level = %q, want none", cfg.Logging.FileLogger.Level)
	}
}

func TestLoadConfigurationOverlay(t *testing.T) {
	path := writeConfig(t, `
version: 1
extract:
  annotate: false
  render_jobs: 4
`)
	cfg, err := LoadConfiguration(path)
	if err != nil {
		t.Fatalf("LoadConfiguration() error = %v", err)
	}
	if cfg.Extract.Annotate {
		t.Error("file value for annotate was not applied")
	}
	if cfg.Extract.RenderJobs != 4 {
		t.Errorf("Extract.RenderJobs = %d, want 4", cfg.Extract.RenderJobs)
	}
	// sections absent from the file keep template defaults
	if cfg.Logging.ConsoleLogger.Level != "normal" {
		t.Errorf("console logger level = %q, want normal", cfg.Logging.ConsoleLogger.Level)
	}
}

func TestLoadConfigurationRejectsBadValues(t *testing.T) {
	for _, tc := range []struct {
		name, body string
	}{
		{"unknown field", "version: 1\nextras: true\n"},
		{"wrong version", "version: 2\n"},
		{"negative render jobs", "version: 1\nextract:\n  render_jobs: -1\n"},
		{"bad logger level", "version: 1\nlogging:\n  console:\n    level: verbose\n"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := LoadConfiguration(writeConfig(t, tc.body)); err == nil {
				t.Error("LoadConfiguration() accepted a bad configuration")
			}
		})
	}
}

func TestPrepareAndDump(t *testing.T) {
	data, err := Prepare()
	if err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}
	if !strings.Contains(string(data), "render_jobs") {
		t.Error("Prepare() output lacks extraction settings")
	}

	cfg, err := LoadConfiguration("")
	if err != nil {
		t.Fatal(err)
	}
	dump, err := Dump(cfg)
	if err != nil {
		t.Fatalf("Dump() error = %v", err)
	}
	for _, want := range []string{"version: 1", "annotate: true", "console:"} {
		if !strings.Contains(string(dump), want) {
			t.Errorf("Dump() output lacks %q:\n%s", want, dump)
		}
	}
}
