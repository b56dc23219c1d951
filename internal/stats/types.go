package stats

import (
	"math"
	"time"

	"github.com/livinlefevreloca/ghareport/internal/period"
)

// WeeklySummary aggregates the workflow runs of one week. Durations are in
// whole minutes.
type WeeklySummary struct {
	WeekStarting                   period.Key
	AvgDurationForSuccessfulRuns   int
	MaxDurationForSuccessfulRuns   int
	MinDurationForSuccessfulRuns   int
	AvgAttemptsForSuccessfulRuns   float64
	FailureCount                   int
	SuccessCount                   int
	SuccessPercentage              int
	FlakyTestCount                 int
	MinutesWastedDueToFailingTests int
	TotalMinutesWasted             int
}

// FlakyTest describes a test that both failed and passed within one run
// during the last week. Durations are in whole seconds.
type FlakyTest struct {
	Name                   string
	AvgDurationSeconds     int
	MaxDurationSeconds     int
	MinDurationSeconds     int
	FailureCount           int
	SuccessCount           int
	FailurePercentage      int
	NumberOfRunsImpacted   int
	FailureCountLast4Weeks int
}

// SlowTest ranks a test by the duration of its passing executions.
type SlowTest struct {
	Name                         string
	AvgDurationSecondsLastWeek   int
	MaxDurationSecondsLastWeek   int
	MinDurationSecondsLastWeek   int
	AvgDurationSecondsLast4Weeks int
	MaxDurationSecondsLast4Weeks int
	MinDurationSecondsLast4Weeks int
}

// JobMetric summarizes one job name. Durations are in whole minutes and
// only count successful executions.
type JobMetric struct {
	Name                         string
	AvgDurationMinutesLastWeek   int
	MaxDurationMinutesLastWeek   int
	MinDurationMinutesLastWeek   int
	AvgDurationMinutesLast4Weeks int
	MaxDurationMinutesLast4Weeks int
	MinDurationMinutesLast4Weeks int
	FailureCountLastWeek         int
	SuccessCountLastWeek         int
	FailurePercentageLastWeek    int
	FailureCountLast4Weeks       int
	SuccessCountLast4Weeks       int
	FailurePercentageLast4Weeks  int
}

// FlakyTestFailure is one failed execution of a test that also passed in
// the same run.
type FlakyTestFailure struct {
	Name       string
	RunID      int64
	RunAttempt int
	JobURL     string
	StartedAt  time.Time
}

// spread accumulates integer samples for min/max/avg reporting
type spread struct {
	n, sum, min, max int
}

func (s *spread) add(v int) {
	if s.n == 0 || v < s.min {
		s.min = v
	}
	if s.n == 0 || v > s.max {
		s.max = v
	}
	s.n++
	s.sum += v
}

// avg truncates like an integer SQL AVG
func (s spread) avg() int {
	if s.n == 0 {
		return 0
	}
	return s.sum / s.n
}

// percentage returns part*100/(part+other), truncated, or 0 when both are 0
func percentage(part, other int) int {
	if part+other == 0 {
		return 0
	}
	return part * 100 / (part + other)
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}

func wholeMinutes(d time.Duration) int {
	return int(d / time.Minute)
}

func wholeSeconds(ms int64) int {
	return int(ms / 1000)
}
