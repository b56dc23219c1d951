// Package stats turns stored CI history into the rows of each report.
package stats

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/livinlefevreloca/ghareport/internal/db"
	"github.com/livinlefevreloca/ghareport/internal/period"
)

const (
	week      = 7 * 24 * time.Hour
	fourWeeks = 4 * week
)

// Source provides raw CI history for a time window. db.DB implements it.
type Source interface {
	ListRuns(ctx context.Context, from, to time.Time) ([]db.WorkflowRun, error)
	ListJobs(ctx context.Context, from, to time.Time) ([]db.WorkflowRunJob, error)
	ListTestResults(ctx context.Context, from, to time.Time) ([]db.TestResultRow, error)
}

// Aggregator computes report rows from a Source
type Aggregator struct {
	source    Source
	config    Config
	loc       *time.Location
	weekStart time.Weekday
	ignored   map[int64]bool
}

// NewAggregator creates an aggregator reading from source
func NewAggregator(source Source, config Config) (*Aggregator, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	loc, _ := config.Location()
	weekStart, _ := config.FirstWeekday()

	ignored := make(map[int64]bool, len(config.IgnoredRunIDs))
	for _, id := range config.IgnoredRunIDs {
		ignored[id] = true
	}

	return &Aggregator{
		source:    source,
		config:    config,
		loc:       loc,
		weekStart: weekStart,
		ignored:   ignored,
	}, nil
}

// WeekOf returns the reporting week containing t
func (a *Aggregator) WeekOf(t time.Time) period.Key {
	return period.WeekOf(t, a.loc, a.weekStart)
}

type attemptKey struct {
	runID   int64
	attempt int
}

type runTest struct {
	runID int64
	name  string
}

// history is the filtered CI data of one window
type history struct {
	runs    map[int64]db.WorkflowRun
	jobs    []db.WorkflowRunJob
	results []db.TestResultRow
}

// load reads runs, jobs and test results that started in [from, to). Runs
// are looked up from a week earlier so that jobs of runs started just
// before the window keep their run. Only runs that concluded success or
// failure and are not ignored are kept, and jobs and results follow their
// run.
func (a *Aggregator) load(ctx context.Context, from, to time.Time) (*history, error) {
	ctx, cancel := context.WithTimeout(ctx, a.config.QueryTimeout)
	defer cancel()

	runs, err := a.source.ListRuns(ctx, from.Add(-week), to)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	jobs, err := a.source.ListJobs(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	results, err := a.source.ListTestResults(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("list test results: %w", err)
	}

	h := &history{runs: make(map[int64]db.WorkflowRun, len(runs))}
	for _, r := range runs {
		if a.ignored[r.RunID] {
			continue
		}
		if r.Conclusion != db.ConclusionSuccess && r.Conclusion != db.ConclusionFailure {
			continue
		}
		h.runs[r.RunID] = r
	}
	for _, j := range jobs {
		if _, ok := h.runs[j.RunID]; ok {
			h.jobs = append(h.jobs, j)
		}
	}
	for _, r := range results {
		if _, ok := h.runs[r.RunID]; ok && a.isTestJob(r.JobName) {
			h.results = append(h.results, r)
		}
	}
	return h, nil
}

func (a *Aggregator) isTestJob(name string) bool {
	if len(a.config.TestJobs) == 0 {
		return true
	}
	for _, p := range a.config.TestJobs {
		if strings.Contains(name, p) {
			return true
		}
	}
	return false
}

func (a *Aggregator) isIgnoredJob(name string) bool {
	for _, p := range a.config.IgnoredJobPrefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

// withoutNoise drops every result of attempts with more failed tests than
// MaxFailuresPerAttempt.
func (a *Aggregator) withoutNoise(results []db.TestResultRow) []db.TestResultRow {
	failures := make(map[attemptKey]int)
	for _, r := range results {
		if r.Result == db.ResultFailed {
			failures[attemptKey{r.RunID, r.RunAttempt}]++
		}
	}

	kept := make([]db.TestResultRow, 0, len(results))
	for _, r := range results {
		if failures[attemptKey{r.RunID, r.RunAttempt}] <= a.config.MaxFailuresPerAttempt {
			kept = append(kept, r)
		}
	}
	return kept
}

// flakyPairs returns the (run, test) pairs where the test both failed and
// passed.
func flakyPairs(results []db.TestResultRow) map[runTest]bool {
	failed := make(map[runTest]bool)
	passed := make(map[runTest]bool)
	for _, r := range results {
		key := runTest{r.RunID, r.Name}
		switch r.Result {
		case db.ResultFailed:
			failed[key] = true
		case db.ResultPassed:
			passed[key] = true
		}
	}

	pairs := make(map[runTest]bool)
	for key := range failed {
		if passed[key] {
			pairs[key] = true
		}
	}
	return pairs
}

// attemptDurations returns, per attempt, the time from its first job start
// to its last job completion.
func attemptDurations(jobs []db.WorkflowRunJob) map[attemptKey]time.Duration {
	first := make(map[attemptKey]time.Time)
	last := make(map[attemptKey]time.Time)
	for _, j := range jobs {
		key := attemptKey{j.RunID, j.RunAttempt}
		if s, ok := first[key]; !ok || j.StartedAt.Before(s) {
			first[key] = j.StartedAt
		}
		if c, ok := last[key]; !ok || j.CompletedAt.After(c) {
			last[key] = j.CompletedAt
		}
	}

	out := make(map[attemptKey]time.Duration, len(first))
	for key, start := range first {
		out[key] = last[key].Sub(start)
	}
	return out
}

// RunSummary returns one row per week with at least one run, covering
// WeeksOfHistory weeks up to cutoff. The week containing cutoff is included
// even though it is not over yet. Rows are newest first.
func (a *Aggregator) RunSummary(ctx context.Context, cutoff time.Time) ([]WeeklySummary, error) {
	newest := a.WeekOf(cutoff)
	from := newest.AddDays(-7 * (a.config.WeeksOfHistory - 1)).Start(a.loc)

	h, err := a.load(ctx, from, cutoff)
	if err != nil {
		return nil, err
	}

	type acc struct {
		durations       spread
		attempts        int
		failures        int
		successes       int
		flaky           map[string]bool
		failedTestTries map[attemptKey]bool
		failedJobTries  map[attemptKey]bool
	}
	weeks := make(map[period.Key]*acc)
	weekOfRun := make(map[int64]period.Key)
	get := func(k period.Key) *acc {
		w, ok := weeks[k]
		if !ok {
			w = &acc{
				flaky:           make(map[string]bool),
				failedTestTries: make(map[attemptKey]bool),
				failedJobTries:  make(map[attemptKey]bool),
			}
			weeks[k] = w
		}
		return w
	}

	for _, r := range h.runs {
		if r.StartedAt.Before(from) {
			continue
		}
		k := a.WeekOf(r.StartedAt)
		weekOfRun[r.RunID] = k
		w := get(k)
		if r.Conclusion == db.ConclusionSuccess {
			w.successes++
			w.durations.add(wholeMinutes(r.Duration()))
			w.attempts += r.NumAttempts
		} else {
			w.failures++
		}
	}

	for _, j := range h.jobs {
		k, ok := weekOfRun[j.RunID]
		if !ok || j.Conclusion != db.ConclusionFailure || a.isIgnoredJob(j.Name) {
			continue
		}
		weeks[k].failedJobTries[attemptKey{j.RunID, j.RunAttempt}] = true
	}

	for _, r := range h.results {
		k, ok := weekOfRun[r.RunID]
		if !ok || r.Result != db.ResultFailed {
			continue
		}
		weeks[k].failedTestTries[attemptKey{r.RunID, r.RunAttempt}] = true
	}

	for pair := range flakyPairs(a.withoutNoise(h.results)) {
		if k, ok := weekOfRun[pair.runID]; ok {
			weeks[k].flaky[pair.name] = true
		}
	}

	durations := attemptDurations(h.jobs)
	summaries := make([]WeeklySummary, 0, len(weeks))
	for k, w := range weeks {
		s := WeeklySummary{
			WeekStarting:                 k,
			AvgDurationForSuccessfulRuns: w.durations.avg(),
			MaxDurationForSuccessfulRuns: w.durations.max,
			MinDurationForSuccessfulRuns: w.durations.min,
			FailureCount:                 w.failures,
			SuccessCount:                 w.successes,
			SuccessPercentage:            percentage(w.successes, w.failures),
			FlakyTestCount:               len(w.flaky),
		}
		if w.successes > 0 {
			s.AvgAttemptsForSuccessfulRuns = round2(float64(w.attempts) / float64(w.successes))
		}
		for key := range w.failedTestTries {
			s.MinutesWastedDueToFailingTests += wholeMinutes(durations[key])
		}
		for key := range w.failedJobTries {
			s.TotalMinutesWasted += wholeMinutes(durations[key])
		}
		summaries = append(summaries, s)
	}

	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].WeekStarting.After(summaries[j].WeekStarting)
	})
	return summaries, nil
}

// FlakyTests returns the tests that both failed and passed within a single
// run during the week before cutoff, most failures first.
func (a *Aggregator) FlakyTests(ctx context.Context, cutoff time.Time) ([]FlakyTest, error) {
	h, err := a.load(ctx, cutoff.Add(-fourWeeks), cutoff)
	if err != nil {
		return nil, err
	}

	all := a.withoutNoise(h.results)
	lastWeekStart := cutoff.Add(-week)
	var lastWeek []db.TestResultRow
	for _, r := range all {
		if r.JobStartedAt.After(lastWeekStart) {
			lastWeek = append(lastWeek, r)
		}
	}

	flaky := make(map[string]bool)
	for pair := range flakyPairs(lastWeek) {
		flaky[pair.name] = true
	}

	type acc struct {
		durations spread
		failures  int
		successes int
		runs      map[int64]bool
		failures4 int
	}
	tests := make(map[string]*acc, len(flaky))
	for name := range flaky {
		tests[name] = &acc{runs: make(map[int64]bool)}
	}

	for _, r := range lastWeek {
		t, ok := tests[r.Name]
		if !ok {
			continue
		}
		t.durations.add(wholeSeconds(r.DurationMS))
		switch r.Result {
		case db.ResultFailed:
			t.failures++
			t.runs[r.RunID] = true
		case db.ResultPassed:
			t.successes++
		}
	}
	for _, r := range all {
		if t, ok := tests[r.Name]; ok && r.Result == db.ResultFailed {
			t.failures4++
		}
	}

	out := make([]FlakyTest, 0, len(tests))
	for name, t := range tests {
		out = append(out, FlakyTest{
			Name:                   name,
			AvgDurationSeconds:     t.durations.avg(),
			MaxDurationSeconds:     t.durations.max,
			MinDurationSeconds:     t.durations.min,
			FailureCount:           t.failures,
			SuccessCount:           t.successes,
			FailurePercentage:      percentage(t.failures, t.successes),
			NumberOfRunsImpacted:   len(t.runs),
			FailureCountLast4Weeks: t.failures4,
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].FailureCount != out[j].FailureCount {
			return out[i].FailureCount > out[j].FailureCount
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

// SlowestTests returns the SlowestTestsLimit tests with the longest minimum
// passing duration during the week before cutoff, slowest first.
func (a *Aggregator) SlowestTests(ctx context.Context, cutoff time.Time) ([]SlowTest, error) {
	h, err := a.load(ctx, cutoff.Add(-fourWeeks), cutoff)
	if err != nil {
		return nil, err
	}

	lastWeekStart := cutoff.Add(-week)
	type acc struct {
		lastWeek spread
		all      spread
	}
	tests := make(map[string]*acc)
	for _, r := range h.results {
		if r.Result != db.ResultPassed {
			continue
		}
		t, ok := tests[r.Name]
		if !ok {
			t = &acc{}
			tests[r.Name] = t
		}
		secs := wholeSeconds(r.DurationMS)
		t.all.add(secs)
		if r.JobStartedAt.After(lastWeekStart) {
			t.lastWeek.add(secs)
		}
	}

	out := make([]SlowTest, 0, len(tests))
	for name, t := range tests {
		if t.lastWeek.n == 0 {
			continue
		}
		out = append(out, SlowTest{
			Name:                         name,
			AvgDurationSecondsLastWeek:   t.lastWeek.avg(),
			MaxDurationSecondsLastWeek:   t.lastWeek.max,
			MinDurationSecondsLastWeek:   t.lastWeek.min,
			AvgDurationSecondsLast4Weeks: t.all.avg(),
			MaxDurationSecondsLast4Weeks: t.all.max,
			MinDurationSecondsLast4Weeks: t.all.min,
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].MinDurationSecondsLastWeek != out[j].MinDurationSecondsLastWeek {
			return out[i].MinDurationSecondsLastWeek > out[j].MinDurationSecondsLastWeek
		}
		return out[i].Name < out[j].Name
	})
	if len(out) > a.config.SlowestTestsLimit {
		out = out[:a.config.SlowestTestsLimit]
	}
	return out, nil
}

// JobMetrics returns duration and failure statistics for every job name
// that succeeded at least once during the week before cutoff, highest
// failure percentage first.
func (a *Aggregator) JobMetrics(ctx context.Context, cutoff time.Time) ([]JobMetric, error) {
	h, err := a.load(ctx, cutoff.Add(-fourWeeks), cutoff)
	if err != nil {
		return nil, err
	}

	lastWeekStart := cutoff.Add(-week)
	type window struct {
		durations spread
		failures  int
		successes int
	}
	type acc struct {
		lastWeek window
		all      window
	}
	jobs := make(map[string]*acc)
	for _, j := range h.jobs {
		m, ok := jobs[j.Name]
		if !ok {
			m = &acc{}
			jobs[j.Name] = m
		}
		windows := []*window{&m.all}
		if j.StartedAt.After(lastWeekStart) {
			windows = append(windows, &m.lastWeek)
		}
		for _, w := range windows {
			switch j.Conclusion {
			case db.ConclusionSuccess:
				w.successes++
				w.durations.add(wholeMinutes(j.Duration()))
			case db.ConclusionFailure:
				w.failures++
			}
		}
	}

	out := make([]JobMetric, 0, len(jobs))
	for name, m := range jobs {
		if m.lastWeek.successes == 0 {
			continue
		}
		out = append(out, JobMetric{
			Name:                         name,
			AvgDurationMinutesLastWeek:   m.lastWeek.durations.avg(),
			MaxDurationMinutesLastWeek:   m.lastWeek.durations.max,
			MinDurationMinutesLastWeek:   m.lastWeek.durations.min,
			AvgDurationMinutesLast4Weeks: m.all.durations.avg(),
			MaxDurationMinutesLast4Weeks: m.all.durations.max,
			MinDurationMinutesLast4Weeks: m.all.durations.min,
			FailureCountLastWeek:         m.lastWeek.failures,
			SuccessCountLastWeek:         m.lastWeek.successes,
			FailurePercentageLastWeek:    percentage(m.lastWeek.failures, m.lastWeek.successes),
			FailureCountLast4Weeks:       m.all.failures,
			SuccessCountLast4Weeks:       m.all.successes,
			FailurePercentageLast4Weeks:  percentage(m.all.failures, m.all.successes),
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].FailurePercentageLastWeek != out[j].FailurePercentageLastWeek {
			return out[i].FailurePercentageLastWeek > out[j].FailurePercentageLastWeek
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

// FlakyTestFailures lists every failed execution, during the four weeks
// before cutoff, of a test that also passed in the same run. Most recent
// first.
func (a *Aggregator) FlakyTestFailures(ctx context.Context, cutoff time.Time) ([]FlakyTestFailure, error) {
	h, err := a.load(ctx, cutoff.Add(-fourWeeks), cutoff)
	if err != nil {
		return nil, err
	}

	results := a.withoutNoise(h.results)
	pairs := flakyPairs(results)

	var out []FlakyTestFailure
	for _, r := range results {
		if r.Result != db.ResultFailed || !pairs[runTest{r.RunID, r.Name}] {
			continue
		}
		out = append(out, FlakyTestFailure{
			Name:       r.Name,
			RunID:      r.RunID,
			RunAttempt: r.RunAttempt,
			JobURL:     r.JobURL,
			StartedAt:  r.JobStartedAt,
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.After(out[j].StartedAt)
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}
