// Package daemon holds process-level configuration: defaults, the TOML
// file at ~/.clearbook/config.toml, and environment overrides for the
// data directory.
package daemon

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config is the full daemon configuration.
type Config struct {
	API      APIConfig      `toml:"api"`
	Database DatabaseConfig `toml:"database"`
	Ledger   LedgerConfig   `toml:"ledger"`
	Recon    ReconConfig    `toml:"recon"`
	Metrics  MetricsConfig  `toml:"metrics"`
}

// APIConfig controls the HTTP server.
type APIConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// DatabaseConfig controls SQLite placement.
type DatabaseConfig struct {
	Path string `toml:"path"` // empty → <data-dir>/clearbook.db
}

// LedgerConfig controls transfer business rules.
type LedgerConfig struct {
	OverdraftAllowed     bool   `toml:"overdraft_allowed"`
	MaxTransactionAmount string `toml:"max_transaction_amount"`
	MaxRetries           int    `toml:"max_retries"`
}

// ReconConfig controls matching tolerances and the daily schedule.
type ReconConfig struct {
	AllowedAmountDiff      string            `toml:"allowed_amount_diff"`
	MaxTimeDiffMinutes     int               `toml:"max_time_diff_minutes"`
	MinScore               float64           `toml:"min_score"`
	ExactTimeToleranceSecs int               `toml:"exact_time_tolerance_seconds"`
	HighConfidenceScore    float64           `toml:"high_confidence_score"`
	JobTimeoutMinutes      int               `toml:"job_timeout_minutes"`
	MaxConcurrentJobs      int               `toml:"max_concurrent_jobs"`
	SchedulerEnabled       bool              `toml:"scheduler_enabled"`
	SchedulerHour          int               `toml:"scheduler_hour"`
	Sources                []string          `toml:"sources"`
	CSVDir                 string            `toml:"csv_dir"` // empty → <data-dir>/feeds
	APISources             []APISourceConfig `toml:"api_sources"`
}

// APISourceConfig registers one HTTP feed adapter.
type APISourceConfig struct {
	Name    string `toml:"name"`
	BaseURL string `toml:"base_url"`
	Token   string `toml:"token"`
}

// MetricsConfig toggles the /metrics endpoint.
type MetricsConfig struct {
	Enabled bool `toml:"enabled"`
}

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() Config {
	return Config{
		API: APIConfig{
			Host: "127.0.0.1",
			Port: 8372,
		},
		Database: DatabaseConfig{},
		Ledger: LedgerConfig{
			OverdraftAllowed:     false,
			MaxTransactionAmount: "1000000",
			MaxRetries:           3,
		},
		Recon: ReconConfig{
			AllowedAmountDiff:      "1.00",
			MaxTimeDiffMinutes:     5,
			MinScore:               0.8,
			ExactTimeToleranceSecs: 0,
			HighConfidenceScore:    0.95,
			JobTimeoutMinutes:      10,
			MaxConcurrentJobs:      4,
			SchedulerEnabled:       false,
			SchedulerHour:          2,
			Sources:                []string{"bank_csv"},
		},
		Metrics: MetricsConfig{Enabled: true},
	}
}

// DataDir returns the state directory, honoring CLEARBOOK_HOME.
func DataDir() string {
	if dir := os.Getenv("CLEARBOOK_HOME"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".clearbook"
	}
	return filepath.Join(home, ".clearbook")
}

// ConfigPath returns the TOML file location inside the data directory.
func ConfigPath() string {
	return filepath.Join(DataDir(), "config.toml")
}

// Load reads the config file over the defaults. A missing file is fine:
// defaults apply.
func Load() (Config, error) {
	return LoadFrom(ConfigPath())
}

// LoadFrom reads path over the defaults.
func LoadFrom(path string) (Config, error) {
	cfg := DefaultConfig()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("decode config %s: %w", path, err)
	}
	return cfg, nil
}

// DatabasePath resolves the SQLite file location.
func (c Config) DatabasePath() string {
	if c.Database.Path != "" {
		return c.Database.Path
	}
	return filepath.Join(DataDir(), "clearbook.db")
}

// CSVDir resolves the CSV feed drop directory.
func (c Config) CSVDir() string {
	if c.Recon.CSVDir != "" {
		return c.Recon.CSVDir
	}
	return filepath.Join(DataDir(), "feeds")
}
