package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/livinlefevreloca/ghareport/internal/collector"
	"github.com/livinlefevreloca/ghareport/internal/cron"
	"github.com/livinlefevreloca/ghareport/internal/db"
	"github.com/livinlefevreloca/ghareport/internal/reports"
	"github.com/livinlefevreloca/ghareport/internal/sheets"
	"github.com/livinlefevreloca/ghareport/internal/syncer"
	"github.com/livinlefevreloca/ghareport/internal/telemetry"
)

// Config represents the application configuration
type Config struct {
	Database  db.Config        `toml:"database"`
	Sheets    sheets.Config    `toml:"sheets"`
	Reports   reports.Config   `toml:"reports"`
	Schedule  ScheduleConfig   `toml:"schedule"`
	GitHub    collector.Config `toml:"github"`
	Syncer    syncer.Config    `toml:"syncer"`
	Telemetry telemetry.Config `toml:"telemetry"`
	Logging   LoggingConfig    `toml:"logging"`
}

// ScheduleConfig controls when serve runs a sync
type ScheduleConfig struct {
	Cron       string `toml:"cron"`
	RunOnStart bool   `toml:"run_on_start"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Database: db.Config{
			Driver:          "sqlite3",
			DSN:             "ghareport.db",
			MaxOpenConns:    10,
			MaxIdleConns:    2,
			ConnMaxLifetime: 30 * time.Minute,
			ConnMaxIdleTime: 5 * time.Minute,
			SkipMigrations:  false,
		},
		Reports: reports.DefaultConfig(),
		Schedule: ScheduleConfig{
			Cron:       "0 6 * * 1",
			RunOnStart: false,
		},
		GitHub:    collector.DefaultConfig(),
		Syncer:    syncer.DefaultConfig(),
		Telemetry: telemetry.DefaultConfig(),
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadFromFile loads configuration from a TOML file
func LoadFromFile(path string) (*Config, error) {
	// Start with defaults
	config := DefaultConfig()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file does not exist: %s", path)
	}

	meta, err := toml.DecodeFile(path, config)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("unknown config keys in %s: %v", path, undecoded)
	}

	return config, nil
}

// LoadConfig loads configuration with the following precedence:
// 1. Default values
// 2. Config file (if specified)
// 3. Environment variables and command-line flags (handled by caller)
func LoadConfig(configPath string) (*Config, error) {
	if configPath == "" {
		return DefaultConfig(), nil
	}
	return LoadFromFile(configPath)
}

// Validate checks if the configuration is valid. Settings only some
// commands need, such as the spreadsheet id or the GitHub repository, are
// checked by those commands.
func (c *Config) Validate() error {
	// Database validation
	if c.Database.Driver == "" {
		return fmt.Errorf("database driver must be specified")
	}
	switch c.Database.Driver {
	case db.DriverSQLite, db.DriverPostgres, "postgres", "postgresql":
	default:
		return fmt.Errorf("unsupported database driver: %s (must be sqlite3 or postgres)", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database DSN must be specified")
	}

	if err := c.Reports.Validate(); err != nil {
		return fmt.Errorf("reports: %w", err)
	}

	if _, err := cron.Parse(c.Schedule.Cron); err != nil {
		return fmt.Errorf("schedule: %w", err)
	}

	if err := c.Syncer.Validate(); err != nil {
		return fmt.Errorf("syncer: %w", err)
	}

	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}

	// Logging validation
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}
	if c.Logging.Format != "text" && c.Logging.Format != "json" {
		return fmt.Errorf("invalid log format: %s (must be text or json)", c.Logging.Format)
	}

	return nil
}
