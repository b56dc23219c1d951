package syncer

import (
	"fmt"
	"time"
)

// Config defines how reports are run and how their outcomes are audited
type Config struct {
	// Per-report deadline covering the aggregation and the sheet update
	ReportTimeout time.Duration `toml:"report_timeout"`

	// Audit records waiting to be written; records beyond this are dropped
	AuditChannelSize int `toml:"audit_channel_size"`

	// Deadline for a single audit write
	AuditTimeout time.Duration `toml:"audit_timeout"`
}

// DefaultConfig returns syncer configuration defaults
func DefaultConfig() Config {
	return Config{
		ReportTimeout:    10 * time.Minute,
		AuditChannelSize: 64,
		AuditTimeout:     10 * time.Second,
	}
}

// Validate checks the configuration values
func (c Config) Validate() error {
	return validateConfig(c)
}

func validateConfig(config Config) error {
	if config.ReportTimeout <= 0 {
		return fmt.Errorf("ReportTimeout must be positive, got %v", config.ReportTimeout)
	}

	if config.AuditChannelSize <= 0 {
		return fmt.Errorf("AuditChannelSize must be positive, got %d", config.AuditChannelSize)
	}

	if config.AuditTimeout <= 0 {
		return fmt.Errorf("AuditTimeout must be positive, got %v", config.AuditTimeout)
	}

	return nil
}
