package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := Default()

	if cfg.Database.Path != "ledger.db" {
		t.Errorf("database path = %q", cfg.Database.Path)
	}
	if cfg.Sync.Workers != 4 {
		t.Errorf("workers = %d, want 4", cfg.Sync.Workers)
	}
	if cfg.Sync.StaleAfter.Duration != 24*time.Hour {
		t.Errorf("stale_after = %s, want 24h", cfg.Sync.StaleAfter.Duration)
	}
	if cfg.Sync.SyncingStaleAfter.Duration != 10*time.Minute {
		t.Errorf("syncing_stale_after = %s, want 10m", cfg.Sync.SyncingStaleAfter.Duration)
	}
	if cfg.Sync.MinimumStaleAge.Duration != time.Hour {
		t.Errorf("minimum_stale_age = %s, want 1h", cfg.Sync.MinimumStaleAge.Duration)
	}
	if cfg.Sync.VisibilityWindow.Duration != 5*time.Minute {
		t.Errorf("visibility_window = %s, want 5m", cfg.Sync.VisibilityWindow.Duration)
	}

	minDate, err := cfg.Sync.MinSupportedDateTime()
	if err != nil {
		t.Fatalf("MinSupportedDateTime: %v", err)
	}
	if !minDate.Equal(time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("min supported date = %s", minDate)
	}
}

func TestParseOverridesAndDurations(t *testing.T) {
	cfg, err := Parse([]byte(`
[database]
path = "/tmp/test.db"

[sync]
workers = 8
stale_after = "48h"
syncing_stale_after = "5m"

[dashboard]
enabled = false
port = 9000
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if cfg.Database.Path != "/tmp/test.db" {
		t.Errorf("database path = %q", cfg.Database.Path)
	}
	if cfg.Sync.Workers != 8 {
		t.Errorf("workers = %d, want 8", cfg.Sync.Workers)
	}
	if cfg.Sync.StaleAfter.Duration != 48*time.Hour {
		t.Errorf("stale_after = %s, want 48h", cfg.Sync.StaleAfter.Duration)
	}
	if cfg.Sync.SyncingStaleAfter.Duration != 5*time.Minute {
		t.Errorf("syncing_stale_after = %s, want 5m", cfg.Sync.SyncingStaleAfter.Duration)
	}
	// Unspecified keys keep their defaults.
	if cfg.Sync.MinimumStaleAge.Duration != time.Hour {
		t.Errorf("minimum_stale_age = %s, want default 1h", cfg.Sync.MinimumStaleAge.Duration)
	}
	if cfg.Dashboard.Enabled {
		t.Error("dashboard should be disabled")
	}
	if cfg.Dashboard.Port != 9000 {
		t.Errorf("port = %d, want 9000", cfg.Dashboard.Port)
	}
}

func TestParseNormalizesBadValues(t *testing.T) {
	cfg, err := Parse([]byte(`
[sync]
workers = -2
min_supported_date = "not-a-date"

[dashboard]
port = 99999
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Sync.Workers != 4 {
		t.Errorf("workers = %d, want normalized 4", cfg.Sync.Workers)
	}
	if cfg.Sync.MinSupportedDate != "2000-01-01" {
		t.Errorf("min_supported_date = %q, want normalized default", cfg.Sync.MinSupportedDate)
	}
	if cfg.Dashboard.Port != 8484 {
		t.Errorf("port = %d, want normalized 8484", cfg.Dashboard.Port)
	}
}

func TestParseBadDurationFails(t *testing.T) {
	if _, err := Parse([]byte("[sync]\nstale_after = \"soon\"\n")); err == nil {
		t.Error("expected an error for unparseable duration")
	}
}

func TestLoadCreatesDefaultFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Sync.Workers != 4 {
		t.Errorf("workers = %d, want 4", cfg.Sync.Workers)
	}

	// The file was written and round-trips to the same config.
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("default config file not created: %v", err)
	}
	reparsed, err := Parse(data)
	if err != nil {
		t.Fatalf("re-parse: %v", err)
	}
	if reparsed != cfg {
		t.Errorf("reloaded config differs:\n%+v\n%+v", reparsed, cfg)
	}
}
