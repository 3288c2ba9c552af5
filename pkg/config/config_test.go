package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// =============================================================================
// Defaults
// =============================================================================

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Scoring.BumpWindow != 10*time.Minute {
		t.Errorf("BumpWindow = %v, want 10m", cfg.Scoring.BumpWindow)
	}
	if cfg.Curves.Window != 336*time.Hour || cfg.Curves.Segments != 14 {
		t.Errorf("Curves = %+v, want 336h/14", cfg.Curves)
	}
	if cfg.Period.MinIntervals != 1 || cfg.Period.MaxIntervals != 5 || cfg.Period.StddevFactor != 2 {
		t.Errorf("Period = %+v, want 1/5/2", cfg.Period)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}

	opts := cfg.PeriodOptions()
	if opts.MinIntervals != 1 || opts.MaxIntervals != 5 || opts.StddevFactor != 2 {
		t.Errorf("PeriodOptions() = %+v", opts)
	}
}

// =============================================================================
// Environment
// =============================================================================

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("CADENCE_BUMP_WINDOW", "90")
	t.Setenv("CADENCE_CURVE_WINDOW", "48h")
	t.Setenv("CADENCE_CURVE_SEGMENTS", "48")
	t.Setenv("CADENCE_PERIOD_STDDEV_FACTOR", "1.5")
	t.Setenv("CADENCE_IN_MEMORY", "yes")
	t.Setenv("CADENCE_LOG_LEVEL", "DEBUG")

	cfg := LoadFromEnv()

	if cfg.Scoring.BumpWindow != 90*time.Second {
		t.Errorf("BumpWindow = %v, want 90s (bare seconds)", cfg.Scoring.BumpWindow)
	}
	if cfg.Curves.Window != 48*time.Hour {
		t.Errorf("Window = %v, want 48h", cfg.Curves.Window)
	}
	if cfg.Curves.Segments != 48 {
		t.Errorf("Segments = %d, want 48", cfg.Curves.Segments)
	}
	if cfg.Period.StddevFactor != 1.5 {
		t.Errorf("StddevFactor = %v, want 1.5", cfg.Period.StddevFactor)
	}
	if !cfg.Storage.InMemory {
		t.Error("InMemory should be true")
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Level = %q, want debug", cfg.Logging.Level)
	}
}

func TestLoadFromEnv_InvalidValuesKeepDefaults(t *testing.T) {
	t.Setenv("CADENCE_CURVE_SEGMENTS", "many")
	t.Setenv("CADENCE_BUMP_WINDOW", "soon")

	cfg := LoadFromEnv()
	if cfg.Curves.Segments != 14 {
		t.Errorf("Segments = %d, want default 14", cfg.Curves.Segments)
	}
	if cfg.Scoring.BumpWindow != 10*time.Minute {
		t.Errorf("BumpWindow = %v, want default 10m", cfg.Scoring.BumpWindow)
	}
}

// =============================================================================
// File loading
// =============================================================================

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cadence.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := writeConfig(t, `
scoring:
  bump_window: 5m
curves:
  window: 72h
  segments: 24
storage:
  data_dir: /var/lib/cadence
  sync_writes: true
logging:
  level: warn
  format: json
`)
	t.Setenv("CADENCE_CURVE_SEGMENTS", "12")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Scoring.BumpWindow != 5*time.Minute {
		t.Errorf("BumpWindow = %v, want 5m", cfg.Scoring.BumpWindow)
	}
	if cfg.Curves.Window != 72*time.Hour {
		t.Errorf("Window = %v, want 72h", cfg.Curves.Window)
	}
	if cfg.Curves.Segments != 12 {
		t.Errorf("Segments = %d, want env override 12", cfg.Curves.Segments)
	}
	if cfg.Storage.DataDir != "/var/lib/cadence" || !cfg.Storage.SyncWrites {
		t.Errorf("Storage = %+v", cfg.Storage)
	}
	if cfg.Period.MaxIntervals != 5 {
		t.Errorf("MaxIntervals = %d, want default 5", cfg.Period.MaxIntervals)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Format = %q, want json", cfg.Logging.Format)
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{"unknown key", "scoring:\n  bump: 5m\n", "field bump not found"},
		{"zero segments", "curves:\n  segments: 0\n", "Segments must be at least 1"},
		{"max below min", "period:\n  min_intervals: 4\n  max_intervals: 2\n", "MaxIntervals must be at least MinIntervals"},
		{"bad level", "logging:\n  level: loud\n", "Level must be one of"},
		{"no data dir", "storage:\n  data_dir: \"\"\n", "DataDir is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("missing file should fail")
	}
}

func TestLoad_InMemoryNeedsNoDataDir(t *testing.T) {
	path := writeConfig(t, "storage:\n  data_dir: \"\"\n  in_memory: true\n")
	if _, err := Load(path); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
}

func TestLoad_EmptyFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, ""))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Curves.Segments != 14 {
		t.Errorf("Segments = %d, want 14", cfg.Curves.Segments)
	}
}

// =============================================================================
// Logger
// =============================================================================

func TestNewLogger(t *testing.T) {
	for _, format := range []string{"json", "console"} {
		logger, err := NewLogger(LoggingConfig{Level: "debug", Format: format, Output: "stderr"})
		if err != nil {
			t.Fatalf("NewLogger(%s) error = %v", format, err)
		}
		if !logger.Core().Enabled(-1) {
			t.Errorf("%s logger should have debug enabled", format)
		}
	}

	if _, err := NewLogger(LoggingConfig{Level: "loud", Format: "json", Output: "stderr"}); err == nil {
		t.Error("invalid level should fail")
	}
}

func TestString(t *testing.T) {
	cfg := Default()
	cfg.Storage.InMemory = true
	s := cfg.String()
	if !strings.Contains(s, "Storage: memory") {
		t.Errorf("String() = %q", s)
	}
}
