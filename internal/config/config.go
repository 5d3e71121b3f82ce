// Package config loads ledgerd's TOML configuration. A missing config
// file is created with defaults on first load, so `ledgerd serve` works
// out of the box and the file documents every tunable.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the top-level TOML structure.
type Config struct {
	Database  Database  `toml:"database"`
	Sync      Sync      `toml:"sync"`
	Dashboard Dashboard `toml:"dashboard"`
	Importer  Importer  `toml:"importer"`
	Log       Log       `toml:"log"`
}

// Database locates the SQLite file.
type Database struct {
	Path string `toml:"path"`
}

// Sync holds the engine's concurrency and staleness thresholds.
// Durations use Go syntax ("24h", "10m", "90s").
type Sync struct {
	Workers          int      `toml:"workers"`
	QueueSize        int      `toml:"queue_size"`
	PollInterval     duration `toml:"poll_interval"`
	DebounceInterval duration `toml:"debounce_interval"`

	StaleAfter        duration `toml:"stale_after"`
	SyncingStaleAfter duration `toml:"syncing_stale_after"`
	MinimumStaleAge   duration `toml:"minimum_stale_age"`
	CleanInterval     duration `toml:"clean_interval"`
	VisibilityWindow  duration `toml:"visibility_window"`

	MaxDailySyncs   int      `toml:"max_daily_syncs"`
	RetentionPeriod duration `toml:"retention_period"`

	// MinSupportedDate clamps how far back balance windows may reach
	// (YYYY-MM-DD).
	MinSupportedDate string `toml:"min_supported_date"`
}

// Dashboard configures the WebSocket server.
type Dashboard struct {
	Enabled bool `toml:"enabled"`
	Port    int  `toml:"port"`
}

// Importer configures the CSV drop directory watcher.
type Importer struct {
	Enabled  bool   `toml:"enabled"`
	WatchDir string `toml:"watch_dir"`
}

// Log configures rotating file output. Empty path logs to stderr only.
type Log struct {
	Path       string `toml:"path"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
}

// duration wraps time.Duration for TOML string parsing.
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

const defaultConfigTOML = `# ledgerd configuration

[database]
path = "ledger.db"

[sync]
workers = 4
queue_size = 256
poll_interval = "30s"
debounce_interval = "2s"
stale_after = "24h"
syncing_stale_after = "10m"
minimum_stale_age = "1h"
clean_interval = "1h"
visibility_window = "5m"
max_daily_syncs = 10
retention_period = "2160h"  # 90 days
min_supported_date = "2000-01-01"

[dashboard]
enabled = true
port = 8484

[importer]
enabled = false
watch_dir = "import"

[log]
path = ""
max_size_mb = 10
max_backups = 3
max_age_days = 30
`

// Default returns the built-in configuration.
func Default() Config {
	var cfg Config
	// The default TOML is the source of truth; it cannot fail to parse.
	if err := toml.Unmarshal([]byte(defaultConfigTOML), &cfg); err != nil {
		panic(fmt.Sprintf("invalid default config: %v", err))
	}
	return cfg
}

// Dir returns the ledgerd config directory under the user config root.
func Dir() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to locate user config dir: %w", err)
	}
	return filepath.Join(dir, "ledgerd"), nil
}

// Path returns the full path to the config file.
func Path() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// Load reads the config file at path, creating it with defaults if it
// does not exist. An empty path uses the standard location.
func Load(path string) (Config, error) {
	if path == "" {
		var err error
		path, err = Path()
		if err != nil {
			return Default(), err
		}
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if mkErr := os.MkdirAll(filepath.Dir(path), 0o755); mkErr != nil {
			return Default(), fmt.Errorf("failed to create config dir: %w", mkErr)
		}
		if wErr := os.WriteFile(path, []byte(defaultConfigTOML), 0o644); wErr != nil {
			return Default(), fmt.Errorf("failed to write default config: %w", wErr)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Default(), fmt.Errorf("failed to read config: %w", err)
	}
	return Parse(data)
}

// Parse parses TOML bytes, normalizing out-of-range values to defaults.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return Default(), fmt.Errorf("failed to parse config: %w", err)
	}
	return normalize(cfg), nil
}

// MinSupportedDateTime parses the configured minimum supported date.
func (s Sync) MinSupportedDateTime() (time.Time, error) {
	return time.Parse("2006-01-02", s.MinSupportedDate)
}

func normalize(cfg Config) Config {
	d := Default()

	if cfg.Database.Path == "" {
		cfg.Database.Path = d.Database.Path
	}
	if cfg.Sync.Workers <= 0 {
		cfg.Sync.Workers = d.Sync.Workers
	}
	if cfg.Sync.QueueSize <= 0 {
		cfg.Sync.QueueSize = d.Sync.QueueSize
	}
	if cfg.Sync.PollInterval.Duration <= 0 {
		cfg.Sync.PollInterval = d.Sync.PollInterval
	}
	if cfg.Sync.DebounceInterval.Duration <= 0 {
		cfg.Sync.DebounceInterval = d.Sync.DebounceInterval
	}
	if cfg.Sync.StaleAfter.Duration <= 0 {
		cfg.Sync.StaleAfter = d.Sync.StaleAfter
	}
	if cfg.Sync.SyncingStaleAfter.Duration <= 0 {
		cfg.Sync.SyncingStaleAfter = d.Sync.SyncingStaleAfter
	}
	if cfg.Sync.MinimumStaleAge.Duration <= 0 {
		cfg.Sync.MinimumStaleAge = d.Sync.MinimumStaleAge
	}
	if cfg.Sync.CleanInterval.Duration <= 0 {
		cfg.Sync.CleanInterval = d.Sync.CleanInterval
	}
	if cfg.Sync.VisibilityWindow.Duration <= 0 {
		cfg.Sync.VisibilityWindow = d.Sync.VisibilityWindow
	}
	if cfg.Sync.MaxDailySyncs < 0 {
		cfg.Sync.MaxDailySyncs = d.Sync.MaxDailySyncs
	}
	if cfg.Sync.RetentionPeriod.Duration < 0 {
		cfg.Sync.RetentionPeriod = d.Sync.RetentionPeriod
	}
	if _, err := time.Parse("2006-01-02", cfg.Sync.MinSupportedDate); err != nil {
		cfg.Sync.MinSupportedDate = d.Sync.MinSupportedDate
	}
	if cfg.Dashboard.Port <= 0 || cfg.Dashboard.Port > 65535 {
		cfg.Dashboard.Port = d.Dashboard.Port
	}
	if cfg.Importer.WatchDir == "" {
		cfg.Importer.WatchDir = d.Importer.WatchDir
	}
	if cfg.Log.MaxSizeMB <= 0 {
		cfg.Log.MaxSizeMB = d.Log.MaxSizeMB
	}
	if cfg.Log.MaxBackups < 0 {
		cfg.Log.MaxBackups = d.Log.MaxBackups
	}
	if cfg.Log.MaxAgeDays < 0 {
		cfg.Log.MaxAgeDays = d.Log.MaxAgeDays
	}
	return cfg
}
