package reports

import (
	"github.com/livinlefevreloca/ghareport/internal/report"
	"github.com/livinlefevreloca/ghareport/internal/stats"
)

func summaryRow(s stats.WeeklySummary) report.Row {
	return report.Row{
		report.Period(s.WeekStarting),
		report.Int(int64(s.AvgDurationForSuccessfulRuns)),
		report.Int(int64(s.MaxDurationForSuccessfulRuns)),
		report.Int(int64(s.MinDurationForSuccessfulRuns)),
		report.Number(s.AvgAttemptsForSuccessfulRuns),
		report.Int(int64(s.FailureCount)),
		report.Int(int64(s.SuccessCount)),
		report.Int(int64(s.SuccessPercentage)),
		report.Int(int64(s.FlakyTestCount)),
		report.Int(int64(s.MinutesWastedDueToFailingTests)),
		report.Int(int64(s.TotalMinutesWasted)),
	}
}

func flakyTestRow(t stats.FlakyTest) report.Row {
	return report.Row{
		report.String(t.Name),
		report.Int(int64(t.AvgDurationSeconds)),
		report.Int(int64(t.MaxDurationSeconds)),
		report.Int(int64(t.MinDurationSeconds)),
		report.Int(int64(t.FailureCount)),
		report.Int(int64(t.SuccessCount)),
		report.Int(int64(t.FailurePercentage)),
		report.Int(int64(t.NumberOfRunsImpacted)),
		report.Int(int64(t.FailureCountLast4Weeks)),
	}
}

func slowTestRow(t stats.SlowTest) report.Row {
	return report.Row{
		report.String(t.Name),
		report.Int(int64(t.AvgDurationSecondsLastWeek)),
		report.Int(int64(t.MaxDurationSecondsLastWeek)),
		report.Int(int64(t.MinDurationSecondsLastWeek)),
		report.Int(int64(t.AvgDurationSecondsLast4Weeks)),
		report.Int(int64(t.MaxDurationSecondsLast4Weeks)),
		report.Int(int64(t.MinDurationSecondsLast4Weeks)),
	}
}

func jobMetricRow(j stats.JobMetric) report.Row {
	return report.Row{
		report.String(j.Name),
		report.Int(int64(j.AvgDurationMinutesLastWeek)),
		report.Int(int64(j.MaxDurationMinutesLastWeek)),
		report.Int(int64(j.MinDurationMinutesLastWeek)),
		report.Int(int64(j.AvgDurationMinutesLast4Weeks)),
		report.Int(int64(j.MaxDurationMinutesLast4Weeks)),
		report.Int(int64(j.MinDurationMinutesLast4Weeks)),
		report.Int(int64(j.FailureCountLastWeek)),
		report.Int(int64(j.SuccessCountLastWeek)),
		report.Int(int64(j.FailurePercentageLastWeek)),
		report.Int(int64(j.FailureCountLast4Weeks)),
		report.Int(int64(j.SuccessCountLast4Weeks)),
		report.Int(int64(j.FailurePercentageLast4Weeks)),
	}
}

func flakyFailureRow(f stats.FlakyTestFailure) report.Row {
	return report.Row{
		report.String(f.Name),
		report.Int(f.RunID),
		report.Int(int64(f.RunAttempt)),
		report.String(f.JobURL),
		report.DateTime(f.StartedAt),
	}
}
