package db

import (
	"context"
	"time"
)

// StartSyncRun records a report synchronization as running.
func (db *DB) StartSyncRun(ctx context.Context, run *SyncRun) error {
	query := `
		INSERT INTO sync_runs (id, report, started_at, status)
		VALUES (?, ?, ?, ?)
	`

	status := run.Status
	if status == "" {
		status = SyncRunning
	}

	_, err := db.ExecContext(ctx, db.rebind(query), run.ID, run.Report, utc(run.StartedAt), status)
	return err
}

// FinishSyncRun stores the outcome of a synchronization started with
// StartSyncRun. A nil syncErr marks the run succeeded.
func (db *DB) FinishSyncRun(ctx context.Context, id string, completedAt time.Time, inserted, updated int, syncErr error) error {
	query := `
		UPDATE sync_runs
		SET completed_at = ?, rows_inserted = ?, rows_updated = ?, status = ?, error = ?
		WHERE id = ?
	`

	status := SyncSucceeded
	var errText *string
	if syncErr != nil {
		status = SyncFailed
		msg := syncErr.Error()
		errText = &msg
	}

	result, err := db.ExecContext(ctx, db.rebind(query), utc(completedAt), inserted, updated, status, errText, id)
	if err != nil {
		return err
	}

	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListSyncRuns returns the most recent synchronizations, newest first. An
// empty report lists every report.
func (db *DB) ListSyncRuns(ctx context.Context, report string, limit int) ([]SyncRun, error) {
	query := `
		SELECT id, report, started_at, completed_at, rows_inserted, rows_updated, status, error
		FROM sync_runs
	`
	var args []any
	if report != "" {
		query += ` WHERE report = ?`
		args = append(args, report)
	}
	query += ` ORDER BY started_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := db.QueryContext(ctx, db.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs := []SyncRun{}
	for rows.Next() {
		var run SyncRun
		err := rows.Scan(
			&run.ID,
			&run.Report,
			&run.StartedAt,
			&run.CompletedAt,
			&run.RowsInserted,
			&run.RowsUpdated,
			&run.Status,
			&run.Error,
		)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}

	return runs, rows.Err()
}
