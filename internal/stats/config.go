package stats

import (
	"fmt"
	"strings"
	"time"
)

// Config defines how CI history is aggregated into report rows
type Config struct {
	// Period configuration
	Timezone       string `toml:"timezone"`
	WeekStart      string `toml:"week_start"`
	WeeksOfHistory int    `toml:"weeks_of_history"`

	// Query configuration
	QueryTimeout time.Duration `toml:"query_timeout"`

	// Ranking and filtering
	SlowestTestsLimit     int      `toml:"slowest_tests_limit"`
	MaxFailuresPerAttempt int      `toml:"max_failures_per_attempt"`
	TestJobs              []string `toml:"test_jobs"`
	IgnoredJobPrefixes    []string `toml:"ignored_job_prefixes"`
	IgnoredRunIDs         []int64  `toml:"ignored_run_ids"`
}

// DefaultConfig returns default aggregation configuration
func DefaultConfig() Config {
	return Config{
		Timezone:              "UTC",
		WeekStart:             "monday",
		WeeksOfHistory:        8,
		QueryTimeout:          180 * time.Second,
		SlowestTestsLimit:     20,
		MaxFailuresPerAttempt: 10,
	}
}

// Validate checks the configuration values
func (c Config) Validate() error {
	if _, err := c.Location(); err != nil {
		return err
	}
	if _, err := c.FirstWeekday(); err != nil {
		return err
	}
	if c.WeeksOfHistory < 1 {
		return fmt.Errorf("weeks_of_history must be at least 1")
	}
	if c.QueryTimeout <= 0 {
		return fmt.Errorf("query_timeout must be positive")
	}
	if c.SlowestTestsLimit < 1 {
		return fmt.Errorf("slowest_tests_limit must be at least 1")
	}
	if c.MaxFailuresPerAttempt < 1 {
		return fmt.Errorf("max_failures_per_attempt must be at least 1")
	}
	return nil
}

// Location returns the timezone weeks are computed in
func (c Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// FirstWeekday returns the day weeks start on
func (c Config) FirstWeekday() (time.Weekday, error) {
	if c.WeekStart == "" {
		return time.Monday, nil
	}
	for d := time.Sunday; d <= time.Saturday; d++ {
		if strings.EqualFold(c.WeekStart, d.String()) || strings.EqualFold(c.WeekStart, d.String()[:3]) {
			return d, nil
		}
	}
	return 0, fmt.Errorf("invalid week_start %q", c.WeekStart)
}
