package stats

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/livinlefevreloca/ghareport/internal/db"
	"github.com/livinlefevreloca/ghareport/internal/period"
)

// =============================================================================
// Test Helpers
// =============================================================================

// cutoff is a Wednesday; its Monday week starts 2024-01-15.
var cutoff = time.Date(2024, 1, 17, 12, 0, 0, 0, time.UTC)

func at(day, hour, minute int) time.Time {
	return time.Date(2024, 1, day, hour, minute, 0, 0, time.UTC)
}

func newTestStore(t *testing.T) *db.DB {
	t.Helper()

	store, err := db.Open(db.DriverSQLite, ":memory:")
	require.NoError(t, err)
	store.SetMaxOpenConns(1)
	t.Cleanup(func() { store.Close() })

	require.NoError(t, store.Migrate(context.Background(), db.Config{}))
	return store
}

type seedRun struct {
	run     db.WorkflowRun
	jobs    []db.WorkflowRunJob
	results []db.TestResult
}

func seed(t *testing.T, store *db.DB, runs ...seedRun) {
	t.Helper()
	ctx := context.Background()

	for _, s := range runs {
		run := s.run
		require.NoError(t, store.UpsertWorkflowRun(ctx, &run))
		require.NoError(t, store.UpsertJobs(ctx, s.jobs))
		require.NoError(t, store.UpsertTestResults(ctx, s.results))
	}
}

func run(id int64, conclusion string, start time.Time, minutes, attempts int) db.WorkflowRun {
	return db.WorkflowRun{
		RunID:       id,
		Workflow:    "ci.yml",
		NumAttempts: attempts,
		Conclusion:  conclusion,
		StartedAt:   start,
		CompletedAt: start.Add(time.Duration(minutes) * time.Minute),
	}
}

func job(id, runID int64, attempt int, name, conclusion string, start time.Time, minutes int) db.WorkflowRunJob {
	return db.WorkflowRunJob{
		JobID:       id,
		RunID:       runID,
		RunAttempt:  attempt,
		Name:        name,
		Conclusion:  conclusion,
		StartedAt:   start,
		CompletedAt: start.Add(time.Duration(minutes) * time.Minute),
		URL:         "https://github.com/acme/app/actions/runs/job",
	}
}

func result(jobID int64, name, outcome string, ms int64) db.TestResult {
	return db.TestResult{JobID: jobID, Name: name, DurationMS: ms, Result: outcome}
}

// standardHistory seeds two weeks of runs:
//
//	week of 01-08: run 1 succeeds, run 2 fails with TestA failing
//	week of 01-15: run 3 fails TestA on attempt 1 and passes it on attempt 2
//	run 4 was cancelled and run 5 is on the ignore list
func standardHistory(t *testing.T) *db.DB {
	store := newTestStore(t)
	const tests = "Integration tests"

	seed(t, store,
		seedRun{
			run:  run(1, db.ConclusionSuccess, at(8, 10, 0), 30, 1),
			jobs: []db.WorkflowRunJob{job(11, 1, 1, tests, db.ConclusionSuccess, at(8, 10, 0), 20)},
		},
		seedRun{
			run:  run(2, db.ConclusionFailure, at(9, 10, 0), 45, 1),
			jobs: []db.WorkflowRunJob{job(21, 2, 1, tests, db.ConclusionFailure, at(9, 10, 0), 40)},
			results: []db.TestResult{
				result(21, "TestA", db.ResultFailed, 4000),
				result(21, "TestB", db.ResultPassed, 9000),
			},
		},
		seedRun{
			run: run(3, db.ConclusionSuccess, at(15, 9, 0), 60, 2),
			jobs: []db.WorkflowRunJob{
				job(31, 3, 1, tests, db.ConclusionFailure, at(15, 9, 0), 25),
				job(32, 3, 2, tests, db.ConclusionSuccess, at(15, 9, 30), 25),
			},
			results: []db.TestResult{
				result(31, "TestA", db.ResultFailed, 2500),
				result(32, "TestA", db.ResultPassed, 1500),
			},
		},
		seedRun{
			run:  run(4, db.ConclusionCancelled, at(16, 9, 0), 5, 1),
			jobs: []db.WorkflowRunJob{job(41, 4, 1, tests, db.ConclusionCancelled, at(16, 9, 0), 5)},
		},
		seedRun{
			run:  run(5, db.ConclusionSuccess, at(16, 10, 0), 5, 1),
			jobs: []db.WorkflowRunJob{job(51, 5, 1, "Deploy", db.ConclusionSuccess, at(16, 10, 0), 5)},
		},
	)
	return store
}

func newTestAggregator(t *testing.T, source Source, mutate func(*Config)) *Aggregator {
	t.Helper()

	cfg := DefaultConfig()
	cfg.IgnoredRunIDs = []int64{5}
	if mutate != nil {
		mutate(&cfg)
	}
	agg, err := NewAggregator(source, cfg)
	require.NoError(t, err)
	return agg
}

// =============================================================================
// Aggregation Tests
// =============================================================================

func TestRunSummary(t *testing.T) {
	agg := newTestAggregator(t, standardHistory(t), nil)

	summaries, err := agg.RunSummary(context.Background(), cutoff)
	require.NoError(t, err)
	require.Len(t, summaries, 2)

	current := summaries[0]
	assert.True(t, period.New(2024, 1, 15).Equal(current.WeekStarting), "got %s", current.WeekStarting)
	assert.Equal(t, 1, current.SuccessCount)
	assert.Equal(t, 0, current.FailureCount)
	assert.Equal(t, 100, current.SuccessPercentage)
	assert.Equal(t, 60, current.AvgDurationForSuccessfulRuns)
	assert.Equal(t, 2.0, current.AvgAttemptsForSuccessfulRuns)
	assert.Equal(t, 1, current.FlakyTestCount)
	assert.Equal(t, 25, current.MinutesWastedDueToFailingTests)
	assert.Equal(t, 25, current.TotalMinutesWasted)

	previous := summaries[1]
	assert.True(t, period.New(2024, 1, 8).Equal(previous.WeekStarting), "got %s", previous.WeekStarting)
	assert.Equal(t, 1, previous.SuccessCount)
	assert.Equal(t, 1, previous.FailureCount)
	assert.Equal(t, 50, previous.SuccessPercentage)
	assert.Equal(t, 30, previous.MaxDurationForSuccessfulRuns)
	assert.Equal(t, 30, previous.MinDurationForSuccessfulRuns)
	assert.Equal(t, 0, previous.FlakyTestCount, "a failure without a pass in the same run is not flaky")
	assert.Equal(t, 40, previous.MinutesWastedDueToFailingTests)
	assert.Equal(t, 40, previous.TotalMinutesWasted)
}

func TestRunSummary_WeekStartAndHistory(t *testing.T) {
	store := standardHistory(t)

	agg := newTestAggregator(t, store, func(c *Config) {
		c.WeekStart = "sunday"
		c.WeeksOfHistory = 1
	})
	summaries, err := agg.RunSummary(context.Background(), cutoff)
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.True(t, period.New(2024, 1, 14).Equal(summaries[0].WeekStarting), "got %s", summaries[0].WeekStarting)
}

func TestRunSummary_IgnoredJobsDoNotWaste(t *testing.T) {
	agg := newTestAggregator(t, standardHistory(t), func(c *Config) {
		c.IgnoredJobPrefixes = []string{"Integration"}
	})

	summaries, err := agg.RunSummary(context.Background(), cutoff)
	require.NoError(t, err)
	require.Len(t, summaries, 2)
	assert.Equal(t, 0, summaries[0].TotalMinutesWasted)
	assert.Equal(t, 25, summaries[0].MinutesWastedDueToFailingTests)
}

func TestFlakyTests(t *testing.T) {
	agg := newTestAggregator(t, standardHistory(t), nil)

	flaky, err := agg.FlakyTests(context.Background(), cutoff)
	require.NoError(t, err)
	require.Len(t, flaky, 1)

	got := flaky[0]
	assert.Equal(t, "TestA", got.Name)
	assert.Equal(t, 1, got.FailureCount)
	assert.Equal(t, 1, got.SuccessCount)
	assert.Equal(t, 50, got.FailurePercentage)
	assert.Equal(t, 1, got.NumberOfRunsImpacted)
	assert.Equal(t, 2, got.FailureCountLast4Weeks)
	assert.Equal(t, 2, got.MaxDurationSeconds)
	assert.Equal(t, 1, got.MinDurationSeconds)
	assert.Equal(t, 1, got.AvgDurationSeconds)
}

func TestFlakyTests_OrderedByFailures(t *testing.T) {
	store := newTestStore(t)
	var results []db.TestResult
	// TestRare fails once, TestOften fails twice, both pass on retry
	results = append(results,
		result(11, "TestRare", db.ResultFailed, 0),
		result(11, "TestOften", db.ResultFailed, 0),
		result(12, "TestRare", db.ResultPassed, 0),
		result(12, "TestOften", db.ResultFailed, 0),
		result(13, "TestOften", db.ResultPassed, 0),
	)
	seed(t, store, seedRun{
		run: run(1, db.ConclusionSuccess, at(15, 9, 0), 60, 3),
		jobs: []db.WorkflowRunJob{
			job(11, 1, 1, "tests", db.ConclusionFailure, at(15, 9, 0), 10),
			job(12, 1, 2, "tests", db.ConclusionFailure, at(15, 9, 15), 10),
			job(13, 1, 3, "tests", db.ConclusionSuccess, at(15, 9, 30), 10),
		},
		results: results,
	})

	flaky, err := newTestAggregator(t, store, nil).FlakyTests(context.Background(), cutoff)
	require.NoError(t, err)
	require.Len(t, flaky, 2)
	assert.Equal(t, "TestOften", flaky[0].Name)
	assert.Equal(t, "TestRare", flaky[1].Name)
}

func TestFlakyTests_NoisyAttemptsIgnored(t *testing.T) {
	store := newTestStore(t)
	seed(t, store, seedRun{
		run: run(1, db.ConclusionSuccess, at(15, 9, 0), 60, 2),
		jobs: []db.WorkflowRunJob{
			job(11, 1, 1, "tests", db.ConclusionFailure, at(15, 9, 0), 10),
			job(12, 1, 2, "tests", db.ConclusionSuccess, at(15, 9, 30), 10),
		},
		results: []db.TestResult{
			result(11, "TestA", db.ResultFailed, 0),
			result(11, "TestB", db.ResultFailed, 0),
			result(11, "TestC", db.ResultFailed, 0),
			result(12, "TestA", db.ResultPassed, 0),
		},
	})

	agg := newTestAggregator(t, store, func(c *Config) { c.MaxFailuresPerAttempt = 2 })
	flaky, err := agg.FlakyTests(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Empty(t, flaky)

	failures, err := agg.FlakyTestFailures(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Empty(t, failures)
}

func TestFlakyTests_TestJobFilter(t *testing.T) {
	agg := newTestAggregator(t, standardHistory(t), func(c *Config) {
		c.TestJobs = []string{"Staging"}
	})

	flaky, err := agg.FlakyTests(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Empty(t, flaky)
}

func TestSlowestTests(t *testing.T) {
	store := newTestStore(t)
	seed(t, store,
		seedRun{
			run:  run(1, db.ConclusionSuccess, at(2, 9, 0), 60, 1),
			jobs: []db.WorkflowRunJob{job(11, 1, 1, "tests", db.ConclusionSuccess, at(2, 9, 0), 10)},
			results: []db.TestResult{
				result(11, "TestSlow", db.ResultPassed, 90000),
			},
		},
		seedRun{
			run:  run(2, db.ConclusionSuccess, at(15, 9, 0), 60, 1),
			jobs: []db.WorkflowRunJob{job(21, 2, 1, "tests", db.ConclusionSuccess, at(15, 9, 0), 10)},
			results: []db.TestResult{
				result(21, "TestSlow", db.ResultPassed, 30000),
				result(21, "TestMedium", db.ResultPassed, 20000),
				result(21, "TestFast", db.ResultPassed, 1000),
				result(21, "TestBroken", db.ResultFailed, 99000),
			},
		},
	)

	agg := newTestAggregator(t, store, func(c *Config) { c.SlowestTestsLimit = 2 })
	slow, err := agg.SlowestTests(context.Background(), cutoff)
	require.NoError(t, err)
	require.Len(t, slow, 2)

	assert.Equal(t, "TestSlow", slow[0].Name)
	assert.Equal(t, 30, slow[0].MinDurationSecondsLastWeek)
	assert.Equal(t, 90, slow[0].MaxDurationSecondsLast4Weeks)
	assert.Equal(t, 60, slow[0].AvgDurationSecondsLast4Weeks)
	assert.Equal(t, "TestMedium", slow[1].Name)
}

func TestJobMetrics(t *testing.T) {
	agg := newTestAggregator(t, standardHistory(t), nil)

	metrics, err := agg.JobMetrics(context.Background(), cutoff)
	require.NoError(t, err)
	require.Len(t, metrics, 1, "jobs of ignored and cancelled runs are excluded")

	got := metrics[0]
	assert.Equal(t, "Integration tests", got.Name)
	assert.Equal(t, 1, got.SuccessCountLastWeek)
	assert.Equal(t, 1, got.FailureCountLastWeek)
	assert.Equal(t, 50, got.FailurePercentageLastWeek)
	assert.Equal(t, 25, got.AvgDurationMinutesLastWeek)
	assert.Equal(t, 2, got.SuccessCountLast4Weeks)
	assert.Equal(t, 2, got.FailureCountLast4Weeks)
	assert.Equal(t, 50, got.FailurePercentageLast4Weeks)
	assert.Equal(t, 22, got.AvgDurationMinutesLast4Weeks)
	assert.Equal(t, 25, got.MaxDurationMinutesLast4Weeks)
	assert.Equal(t, 20, got.MinDurationMinutesLast4Weeks)
}

func TestFlakyTestFailures(t *testing.T) {
	agg := newTestAggregator(t, standardHistory(t), nil)

	failures, err := agg.FlakyTestFailures(context.Background(), cutoff)
	require.NoError(t, err)
	require.Len(t, failures, 1)

	got := failures[0]
	assert.Equal(t, "TestA", got.Name)
	assert.Equal(t, int64(3), got.RunID)
	assert.Equal(t, 1, got.RunAttempt)
	assert.True(t, at(15, 9, 0).Equal(got.StartedAt))
	assert.NotEmpty(t, got.JobURL)
}

// =============================================================================
// Failure Tests
// =============================================================================

type failingSource struct {
	err error
}

func (f failingSource) ListRuns(context.Context, time.Time, time.Time) ([]db.WorkflowRun, error) {
	return nil, f.err
}

func (f failingSource) ListJobs(context.Context, time.Time, time.Time) ([]db.WorkflowRunJob, error) {
	return nil, f.err
}

func (f failingSource) ListTestResults(context.Context, time.Time, time.Time) ([]db.TestResultRow, error) {
	return nil, f.err
}

func TestAggregator_SourceErrors(t *testing.T) {
	boom := errors.New("connection refused")
	agg := newTestAggregator(t, failingSource{err: boom}, nil)
	ctx := context.Background()

	_, err := agg.RunSummary(ctx, cutoff)
	assert.ErrorIs(t, err, boom)
	_, err = agg.FlakyTests(ctx, cutoff)
	assert.ErrorIs(t, err, boom)
	_, err = agg.SlowestTests(ctx, cutoff)
	assert.ErrorIs(t, err, boom)
	_, err = agg.JobMetrics(ctx, cutoff)
	assert.ErrorIs(t, err, boom)
	_, err = agg.FlakyTestFailures(ctx, cutoff)
	assert.ErrorIs(t, err, boom)
}

// =============================================================================
// Config Tests
// =============================================================================

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"named zone", func(c *Config) { c.Timezone = "Australia/Sydney" }, false},
		{"short weekday", func(c *Config) { c.WeekStart = "Sun" }, false},
		{"bad zone", func(c *Config) { c.Timezone = "Mars/Olympus" }, true},
		{"bad weekday", func(c *Config) { c.WeekStart = "someday" }, true},
		{"no history", func(c *Config) { c.WeeksOfHistory = 0 }, true},
		{"no timeout", func(c *Config) { c.QueryTimeout = 0 }, true},
		{"no slow limit", func(c *Config) { c.SlowestTestsLimit = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
