package db

import "time"

// Conclusions recorded for runs and jobs.
const (
	ConclusionSuccess   = "success"
	ConclusionFailure   = "failure"
	ConclusionCancelled = "cancelled"
	ConclusionSkipped   = "skipped"
)

// Test outcomes recorded in test_results.
const (
	ResultPassed  = "Passed"
	ResultFailed  = "Failed"
	ResultSkipped = "Skipped"
)

// Sync run statuses.
const (
	SyncRunning   = "running"
	SyncSucceeded = "succeeded"
	SyncFailed    = "failed"
)

// WorkflowRun is one GitHub Actions workflow run. StartedAt and CompletedAt
// span every attempt.
type WorkflowRun struct {
	RunID       int64
	Workflow    string
	Title       string
	URL         string
	HeadBranch  string
	NumAttempts int
	Conclusion  string
	StartedAt   time.Time
	CompletedAt time.Time
}

// Duration returns the wall-clock time the run took.
func (r WorkflowRun) Duration() time.Duration {
	return r.CompletedAt.Sub(r.StartedAt)
}

// WorkflowRunJob is one job of one attempt of a workflow run.
type WorkflowRunJob struct {
	JobID       int64
	RunID       int64
	RunAttempt  int
	Name        string
	Conclusion  string
	StartedAt   time.Time
	CompletedAt time.Time
	URL         string
}

// Duration returns the wall-clock time the job took.
func (j WorkflowRunJob) Duration() time.Duration {
	return j.CompletedAt.Sub(j.StartedAt)
}

// TestResult is the outcome of one test in one job.
type TestResult struct {
	JobID      int64
	Name       string
	DurationMS int64
	Result     string
}

// TestResultRow is a test result joined with the job that produced it.
type TestResultRow struct {
	RunID        int64
	RunAttempt   int
	JobID        int64
	JobName      string
	JobURL       string
	JobStartedAt time.Time
	Name         string
	DurationMS   int64
	Result       string
}

// SyncRun records one synchronization of one report.
type SyncRun struct {
	ID           string
	Report       string
	StartedAt    time.Time
	CompletedAt  *time.Time
	RowsInserted int
	RowsUpdated  int
	Status       string
	Error        *string
}
