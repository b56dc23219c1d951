package reports_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/livinlefevreloca/ghareport/internal/period"
	"github.com/livinlefevreloca/ghareport/internal/report"
	"github.com/livinlefevreloca/ghareport/internal/reports"
	"github.com/livinlefevreloca/ghareport/internal/stats"
	"github.com/livinlefevreloca/ghareport/internal/testutil"
)

var now = time.Date(2024, 1, 17, 12, 0, 0, 0, time.UTC)

type fakeAggregator struct {
	summaries []stats.WeeklySummary
	flaky     []stats.FlakyTest
	slow      []stats.SlowTest
	jobs      []stats.JobMetric
	failures  []stats.FlakyTestFailure
	err       error
	cutoffs   []time.Time
}

func (f *fakeAggregator) RunSummary(_ context.Context, cutoff time.Time) ([]stats.WeeklySummary, error) {
	f.cutoffs = append(f.cutoffs, cutoff)
	return f.summaries, f.err
}

func (f *fakeAggregator) FlakyTests(_ context.Context, cutoff time.Time) ([]stats.FlakyTest, error) {
	f.cutoffs = append(f.cutoffs, cutoff)
	return f.flaky, f.err
}

func (f *fakeAggregator) SlowestTests(_ context.Context, cutoff time.Time) ([]stats.SlowTest, error) {
	f.cutoffs = append(f.cutoffs, cutoff)
	return f.slow, f.err
}

func (f *fakeAggregator) JobMetrics(_ context.Context, cutoff time.Time) ([]stats.JobMetric, error) {
	f.cutoffs = append(f.cutoffs, cutoff)
	return f.jobs, f.err
}

func (f *fakeAggregator) FlakyTestFailures(_ context.Context, cutoff time.Time) ([]stats.FlakyTestFailure, error) {
	f.cutoffs = append(f.cutoffs, cutoff)
	return f.failures, f.err
}

func week(s string) period.Key {
	k, ok := period.Parse(s)
	if !ok {
		panic("invalid period: " + s)
	}
	return k
}

func build(t *testing.T, agg reports.Aggregator, sink report.Sink, kind reports.Kind) reports.Updater {
	t.Helper()
	updaters, err := reports.Build(reports.Deps{Aggregator: agg, Sink: sink}, reports.DefaultConfig(), kind)
	require.NoError(t, err)
	require.Len(t, updaters, 1)
	return updaters[0]
}

// =============================================================================
// Registry
// =============================================================================

func TestKinds(t *testing.T) {
	kinds := reports.Kinds()
	require.Len(t, kinds, 6)
	assert.Equal(t, reports.About, kinds[len(kinds)-1])

	for _, k := range kinds {
		parsed, err := reports.ParseKind(string(k))
		require.NoError(t, err)
		assert.Equal(t, k, parsed)
		assert.NotEmpty(t, k.DefaultSheet())
	}

	_, err := reports.ParseKind("weekly-digest")
	assert.Error(t, err)
}

func TestBuild_AllReports(t *testing.T) {
	updaters, err := reports.Build(reports.Deps{Aggregator: &fakeAggregator{}, Sink: testutil.NewMemorySheet()}, reports.DefaultConfig())
	require.NoError(t, err)
	require.Len(t, updaters, 6)

	for i, k := range reports.Kinds() {
		assert.Equal(t, k, updaters[i].Kind())
		assert.Equal(t, k.DefaultSheet(), updaters[i].Sheet())
	}
}

func TestBuild_SheetOverride(t *testing.T) {
	cfg := reports.DefaultConfig()
	cfg.Sheets = map[string]string{"run-summary": "Weekly"}

	updaters, err := reports.Build(reports.Deps{Aggregator: &fakeAggregator{}, Sink: testutil.NewMemorySheet()}, cfg, reports.RunSummary)
	require.NoError(t, err)
	assert.Equal(t, "Weekly", updaters[0].Sheet())
}

func TestBuild_RequiresDeps(t *testing.T) {
	_, err := reports.Build(reports.Deps{}, reports.DefaultConfig())
	assert.Error(t, err)
}

func TestConfigValidate(t *testing.T) {
	cfg := reports.DefaultConfig()
	require.NoError(t, cfg.Validate())

	cfg.Sheets = map[string]string{"nope": "Sheet"}
	assert.Error(t, cfg.Validate())

	cfg.Sheets = map[string]string{"about": ""}
	assert.Error(t, cfg.Validate())

	cfg = reports.DefaultConfig()
	cfg.WeeksOfHistory = 0
	assert.Error(t, cfg.Validate())
}

// =============================================================================
// Run summary
// =============================================================================

func TestRunSummary_ColdStartThenIncrement(t *testing.T) {
	sheet := testutil.NewMemorySheet()
	sheet.AddSheet("Run Summary", []any{"WeekStarting"})
	agg := &fakeAggregator{summaries: []stats.WeeklySummary{
		{WeekStarting: week("2024-01-15"), SuccessCount: 2, SuccessPercentage: 100, AvgAttemptsForSuccessfulRuns: 1.5},
		{WeekStarting: week("2024-01-08"), SuccessCount: 1},
	}}
	u := build(t, agg, sheet, reports.RunSummary)

	res, err := u.Update(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, reports.Result{Inserted: 2}, res)
	assert.Equal(t, []any{"WeekStarting", "2024-01-15", "2024-01-08"}, sheet.Column("Run Summary"))

	row := sheet.Row("Run Summary", 2)
	require.Len(t, row, 11)
	assert.Equal(t, 1.5, row[4].Number)
	assert.Equal(t, 100.0, row[7].Number)

	agg.summaries = append(agg.summaries, stats.WeeklySummary{WeekStarting: week("2024-01-22"), SuccessCount: 4})
	agg.summaries[0].SuccessCount = 3

	res, err = u.Update(context.Background(), now.AddDate(0, 0, 7))
	require.NoError(t, err)
	assert.Equal(t, reports.Result{Inserted: 1, Updated: 1}, res)
	assert.Equal(t, []any{"WeekStarting", "2024-01-22", "2024-01-15", "2024-01-08"}, sheet.Column("Run Summary"))
	assert.Equal(t, 3.0, sheet.Row("Run Summary", 3)[6].Number)
	assert.Equal(t, now.AddDate(0, 0, 7), agg.cutoffs[len(agg.cutoffs)-1])
}

func TestRunSummary_QueryFailureLeavesSheetAlone(t *testing.T) {
	sheet := testutil.NewMemorySheet()
	sheet.AddSheet("Run Summary", []any{"WeekStarting"}, []any{"2024-01-08"})
	u := build(t, &fakeAggregator{err: errors.New("connection reset")}, sheet, reports.RunSummary)

	_, err := u.Update(context.Background(), now)
	require.ErrorIs(t, err, report.ErrQuery)
	assert.Contains(t, err.Error(), "connection reset")
	assert.Empty(t, sheet.Batches())
}

func TestRunSummary_DuplicateWeeksIsQueryFailure(t *testing.T) {
	sheet := testutil.NewMemorySheet()
	sheet.AddSheet("Run Summary", []any{"WeekStarting"})
	agg := &fakeAggregator{summaries: []stats.WeeklySummary{
		{WeekStarting: week("2024-01-15")},
		{WeekStarting: week("2024-01-15")},
	}}

	_, err := build(t, agg, sheet, reports.RunSummary).Update(context.Background(), now)
	assert.ErrorIs(t, err, report.ErrQuery)
	assert.ErrorIs(t, err, report.ErrDuplicatePeriod)
}

func TestRunSummary_MissingSheet(t *testing.T) {
	u := build(t, &fakeAggregator{}, testutil.NewMemorySheet(), reports.RunSummary)

	_, err := u.Update(context.Background(), now)
	assert.ErrorIs(t, err, report.ErrSheetNotFound)
}

// =============================================================================
// Snapshot reports
// =============================================================================

func TestFlakyTests_ReplacesBody(t *testing.T) {
	sheet := testutil.NewMemorySheet()
	sheet.AddSheet("Tests Likely To Be Flaky", []any{"TestName"}, []any{"old-a"}, []any{"old-b"}, []any{"old-c"})
	agg := &fakeAggregator{flaky: []stats.FlakyTest{
		{Name: "login", FailureCount: 5},
		{Name: "checkout", FailureCount: 2},
	}}

	res, err := build(t, agg, sheet, reports.FlakyTests).Update(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Inserted)
	assert.Equal(t, []any{"TestName", "login", "checkout"}, sheet.Column("Tests Likely To Be Flaky"))
	assert.Len(t, sheet.Row("Tests Likely To Be Flaky", 2), 9)
}

func TestSlowestTestsAndJobMetrics_RowLayout(t *testing.T) {
	sheet := testutil.NewMemorySheet()
	sheet.AddSheet("Slowest Tests", []any{"TestName"})
	sheet.AddSheet("Job Metrics", []any{"Name"})
	agg := &fakeAggregator{
		slow: []stats.SlowTest{{Name: "upload", MinDurationSecondsLastWeek: 90}},
		jobs: []stats.JobMetric{{Name: "build", FailurePercentageLastWeek: 25}},
	}

	_, err := build(t, agg, sheet, reports.SlowestTests).Update(context.Background(), now)
	require.NoError(t, err)
	_, err = build(t, agg, sheet, reports.JobMetrics).Update(context.Background(), now)
	require.NoError(t, err)

	slow := sheet.Row("Slowest Tests", 2)
	require.Len(t, slow, 7)
	assert.Equal(t, 90.0, slow[3].Number)

	job := sheet.Row("Job Metrics", 2)
	require.Len(t, job, 13)
	assert.Equal(t, 25.0, job[9].Number)
}

func TestFlakyTestFailures_TimestampFormatted(t *testing.T) {
	sheet := testutil.NewMemorySheet()
	sheet.AddSheet("Flaky Test Failures", []any{"TestName"})
	started := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)
	agg := &fakeAggregator{failures: []stats.FlakyTestFailure{
		{Name: "login", RunID: 42, RunAttempt: 2, JobURL: "https://example.test/job/1", StartedAt: started},
	}}

	_, err := build(t, agg, sheet, reports.FlakyTestFailures).Update(context.Background(), now)
	require.NoError(t, err)

	row := sheet.Row("Flaky Test Failures", 2)
	require.Len(t, row, 5)
	assert.Equal(t, 42.0, row[1].Number)
	assert.Equal(t, 45306.5, row[4].Number)
	require.NotNil(t, row[4].Format)
	assert.Equal(t, report.DateTimePattern, row[4].Format.Pattern)
}

func TestSnapshot_QueryFailure(t *testing.T) {
	sheet := testutil.NewMemorySheet()
	sheet.AddSheet("Slowest Tests", []any{"TestName"}, []any{"kept"})

	_, err := build(t, &fakeAggregator{err: errors.New("timeout")}, sheet, reports.SlowestTests).Update(context.Background(), now)
	assert.ErrorIs(t, err, report.ErrQuery)
	assert.Equal(t, []any{"TestName", "kept"}, sheet.Column("Slowest Tests"))
}

// =============================================================================
// About
// =============================================================================

func TestAbout_StampsMarker(t *testing.T) {
	sheet := testutil.NewMemorySheet()
	sheet.AddSheet("About", []any{"CI report"}, []any{"Last Updated: never"})

	res, err := build(t, &fakeAggregator{}, sheet, reports.About).Update(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, reports.Result{Updated: 1}, res)
	assert.Equal(t, []any{"CI report", "Last Updated: 2024-01-17 12:00:00 UTC"}, sheet.Column("About"))
}

func TestAbout_NoMarkerWarns(t *testing.T) {
	sheet := testutil.NewMemorySheet()
	sheet.AddSheet("About", []any{"CI report"})
	logs := testutil.NewTestLogger()

	updaters, err := reports.Build(reports.Deps{Aggregator: &fakeAggregator{}, Sink: sheet, Logger: logs.Logger()},
		reports.DefaultConfig(), reports.About)
	require.NoError(t, err)

	res, err := updaters[0].Update(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, reports.Result{}, res)
	assert.True(t, logs.HasWarning())
	assert.Empty(t, sheet.Batches())

	entry, ok := logs.Find("no status cell")
	require.True(t, ok)
	assert.Equal(t, "about", entry.Attrs["report"])
}

// =============================================================================
// Reset
// =============================================================================

func TestReset(t *testing.T) {
	sheet := testutil.NewMemorySheet()
	sheet.AddSheet("Run Summary", []any{"WeekStarting"}, []any{"2024-01-15", 3.0})
	u := build(t, &fakeAggregator{}, sheet, reports.RunSummary)

	require.NoError(t, reports.Reset(context.Background(), sheet, u))
	assert.Equal(t, []any{"WeekStarting", nil}, sheet.Column("Run Summary"))

	cursor, err := report.ReadCursor(context.Background(), sheet, u.Sheet(), nil)
	require.NoError(t, err)
	assert.True(t, cursor.IsOldest())
}

func TestReset_Error(t *testing.T) {
	sheet := testutil.NewMemorySheet()
	sheet.AddSheet("Run Summary", []any{"WeekStarting"})
	sheet.SetClearError(errors.New("quota exceeded"))

	err := reports.Reset(context.Background(), sheet, build(t, &fakeAggregator{}, sheet, reports.RunSummary))
	assert.Error(t, err)
}
