// Package reports defines the set of reports kept in the spreadsheet and how
// each one is refreshed from aggregated CI history.
package reports

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/livinlefevreloca/ghareport/internal/report"
	"github.com/livinlefevreloca/ghareport/internal/stats"
)

// Kind names a report.
type Kind string

const (
	RunSummary        Kind = "run-summary"
	FlakyTests        Kind = "flaky-tests"
	SlowestTests      Kind = "slowest-tests"
	JobMetrics        Kind = "job-metrics"
	FlakyTestFailures Kind = "flaky-test-failures"
	About             Kind = "about"
)

var defaultSheets = map[Kind]string{
	RunSummary:        "Run Summary",
	FlakyTests:        "Tests Likely To Be Flaky",
	SlowestTests:      "Slowest Tests",
	JobMetrics:        "Job Metrics",
	FlakyTestFailures: "Flaky Test Failures",
	About:             "About",
}

// Kinds returns every report in the order they are synchronized. The status
// stamp goes last so it only moves after the data did.
func Kinds() []Kind {
	return []Kind{RunSummary, FlakyTests, SlowestTests, JobMetrics, FlakyTestFailures, About}
}

// ParseKind returns the Kind named s.
func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if _, ok := defaultSheets[k]; !ok {
		return "", fmt.Errorf("unknown report %q", s)
	}
	return k, nil
}

// DefaultSheet returns the tab the report is written to unless configured
// otherwise.
func (k Kind) DefaultSheet() string {
	return defaultSheets[k]
}

// Aggregator produces the rows of every report for a cutoff time.
// *stats.Aggregator implements it.
type Aggregator interface {
	RunSummary(ctx context.Context, cutoff time.Time) ([]stats.WeeklySummary, error)
	FlakyTests(ctx context.Context, cutoff time.Time) ([]stats.FlakyTest, error)
	SlowestTests(ctx context.Context, cutoff time.Time) ([]stats.SlowTest, error)
	JobMetrics(ctx context.Context, cutoff time.Time) ([]stats.JobMetric, error)
	FlakyTestFailures(ctx context.Context, cutoff time.Time) ([]stats.FlakyTestFailure, error)
}

// Result counts the rows a sync changed.
type Result struct {
	Inserted int
	Updated  int
}

// Updater refreshes one report.
type Updater interface {
	Kind() Kind
	Sheet() string
	Update(ctx context.Context, now time.Time) (Result, error)
}

// Config holds aggregation settings and per-report sheet names.
type Config struct {
	stats.Config

	// Sheets maps a report kind to the tab it is written to
	Sheets map[string]string `toml:"sheets"`
}

// DefaultConfig returns the default report configuration
func DefaultConfig() Config {
	return Config{Config: stats.DefaultConfig()}
}

// Validate checks the configuration values
func (c Config) Validate() error {
	if err := c.Config.Validate(); err != nil {
		return err
	}
	for name, sheet := range c.Sheets {
		if _, err := ParseKind(name); err != nil {
			return fmt.Errorf("sheets: %w", err)
		}
		if sheet == "" {
			return fmt.Errorf("sheets: empty sheet name for %s", name)
		}
	}
	return nil
}

// SheetFor returns the tab configured for k
func (c Config) SheetFor(k Kind) string {
	if sheet, ok := c.Sheets[string(k)]; ok {
		return sheet
	}
	return k.DefaultSheet()
}

// Deps are the collaborators every updater shares.
type Deps struct {
	Aggregator Aggregator
	Sink       report.Sink
	Logger     *slog.Logger
}

// Build returns an updater for each kind, in the given order. With no kinds
// every report is built.
func Build(deps Deps, cfg Config, kinds ...Kind) ([]Updater, error) {
	if deps.Aggregator == nil || deps.Sink == nil {
		return nil, fmt.Errorf("reports: aggregator and sink are required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if len(kinds) == 0 {
		kinds = Kinds()
	}

	updaters := make([]Updater, 0, len(kinds))
	for _, k := range kinds {
		u, err := newUpdater(deps, k, cfg.SheetFor(k))
		if err != nil {
			return nil, err
		}
		updaters = append(updaters, u)
	}
	return updaters, nil
}

func newUpdater(deps Deps, k Kind, sheet string) (Updater, error) {
	agg := deps.Aggregator
	logger := deps.Logger.With("report", string(k), "sheet", sheet)

	switch k {
	case RunSummary:
		return &incremental{kind: k, sheet: sheet, sink: deps.Sink, logger: logger, rows: func(ctx context.Context, cutoff time.Time) ([]report.PeriodRow, error) {
			summaries, err := agg.RunSummary(ctx, cutoff)
			if err != nil {
				return nil, err
			}
			rows := make([]report.PeriodRow, len(summaries))
			for i, s := range summaries {
				rows[i] = report.PeriodRow{Period: s.WeekStarting, Cells: summaryRow(s)}
			}
			return rows, nil
		}}, nil

	case FlakyTests:
		return snapshotOf(k, sheet, deps.Sink, logger, agg.FlakyTests, flakyTestRow), nil
	case SlowestTests:
		return snapshotOf(k, sheet, deps.Sink, logger, agg.SlowestTests, slowTestRow), nil
	case JobMetrics:
		return snapshotOf(k, sheet, deps.Sink, logger, agg.JobMetrics, jobMetricRow), nil
	case FlakyTestFailures:
		return snapshotOf(k, sheet, deps.Sink, logger, agg.FlakyTestFailures, flakyFailureRow), nil
	case About:
		return &stamp{kind: k, sheet: sheet, sink: deps.Sink, logger: logger}, nil
	default:
		return nil, fmt.Errorf("unknown report %q", k)
	}
}

// Reset clears every data row of u's report so that the next sync starts
// from an empty report.
func Reset(ctx context.Context, sink report.Sink, u Updater) error {
	if err := sink.ClearRange(ctx, u.Sheet(), report.DataRange); err != nil {
		return fmt.Errorf("reset %s: %w", u.Kind(), err)
	}
	return nil
}

func queryError(err error) error {
	return fmt.Errorf("%w: %w", report.ErrQuery, err)
}
