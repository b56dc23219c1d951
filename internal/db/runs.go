package db

import (
	"context"
	"database/sql"
	"time"
)

// UpsertWorkflowRun inserts a run or refreshes it when GitHub reports a
// newer attempt.
func (db *DB) UpsertWorkflowRun(ctx context.Context, run *WorkflowRun) error {
	query := `
		INSERT INTO workflow_runs (run_id, workflow, title, url, head_branch, num_attempts, conclusion, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (run_id) DO UPDATE SET
			workflow = excluded.workflow,
			title = excluded.title,
			url = excluded.url,
			head_branch = excluded.head_branch,
			num_attempts = excluded.num_attempts,
			conclusion = excluded.conclusion,
			started_at = excluded.started_at,
			completed_at = excluded.completed_at
	`

	_, err := db.ExecContext(ctx, db.rebind(query),
		run.RunID,
		run.Workflow,
		run.Title,
		run.URL,
		run.HeadBranch,
		run.NumAttempts,
		run.Conclusion,
		utc(run.StartedAt),
		utc(run.CompletedAt),
	)
	return err
}

// GetWorkflowRun retrieves a run by its GitHub id
func (db *DB) GetWorkflowRun(ctx context.Context, runID int64) (*WorkflowRun, error) {
	run := &WorkflowRun{}

	query := `
		SELECT run_id, workflow, title, url, head_branch, num_attempts, conclusion, started_at, completed_at
		FROM workflow_runs
		WHERE run_id = ?
	`

	err := db.QueryRowContext(ctx, db.rebind(query), runID).Scan(
		&run.RunID,
		&run.Workflow,
		&run.Title,
		&run.URL,
		&run.HeadBranch,
		&run.NumAttempts,
		&run.Conclusion,
		&run.StartedAt,
		&run.CompletedAt,
	)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return run, nil
}

// ListRuns returns runs that started in [from, to), oldest first.
func (db *DB) ListRuns(ctx context.Context, from, to time.Time) ([]WorkflowRun, error) {
	query := `
		SELECT run_id, workflow, title, url, head_branch, num_attempts, conclusion, started_at, completed_at
		FROM workflow_runs
		WHERE started_at >= ? AND started_at < ?
		ORDER BY started_at, run_id
	`

	rows, err := db.QueryContext(ctx, db.rebind(query), utc(from), utc(to))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs := []WorkflowRun{}
	for rows.Next() {
		var run WorkflowRun
		err := rows.Scan(
			&run.RunID,
			&run.Workflow,
			&run.Title,
			&run.URL,
			&run.HeadBranch,
			&run.NumAttempts,
			&run.Conclusion,
			&run.StartedAt,
			&run.CompletedAt,
		)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}

	return runs, rows.Err()
}

// LatestRunStart returns the start of the most recent stored run, or the
// zero time when the store is empty.
func (db *DB) LatestRunStart(ctx context.Context) (time.Time, error) {
	var latest sql.NullTime
	// MAX over a TIMESTAMP column comes back as text from SQLite, so order
	// and scan the column directly.
	query := `SELECT started_at FROM workflow_runs ORDER BY started_at DESC LIMIT 1`

	err := db.QueryRowContext(ctx, query).Scan(&latest)
	if err == sql.ErrNoRows {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return latest.Time, nil
}
