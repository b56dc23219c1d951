package db

import (
	"context"
	"time"
)

// UpsertTestResults replaces the stored outcome of each named test for the
// job. All results are written in one transaction.
func (db *DB) UpsertTestResults(ctx context.Context, results []TestResult) error {
	if len(results) == 0 {
		return nil
	}

	query := `
		INSERT INTO test_results (job_id, name, duration_ms, result)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (job_id, name) DO UPDATE SET
			duration_ms = excluded.duration_ms,
			result = excluded.result
	`

	return db.WithTransaction(ctx, func(tx *Tx) error {
		for _, r := range results {
			if _, err := tx.exec(ctx, query, r.JobID, r.Name, r.DurationMS, r.Result); err != nil {
				return err
			}
		}
		return nil
	})
}

// ListTestResults returns the test results of jobs that started in
// [from, to), joined with their job.
func (db *DB) ListTestResults(ctx context.Context, from, to time.Time) ([]TestResultRow, error) {
	query := `
		SELECT j.run_id, j.run_attempt, j.job_id, j.name, j.url, j.started_at,
		       t.name, t.duration_ms, t.result
		FROM test_results t
		JOIN workflow_run_jobs j ON j.job_id = t.job_id
		WHERE j.started_at >= ? AND j.started_at < ?
		ORDER BY j.started_at, j.job_id, t.name
	`

	rows, err := db.QueryContext(ctx, db.rebind(query), utc(from), utc(to))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := []TestResultRow{}
	for rows.Next() {
		var r TestResultRow
		err := rows.Scan(
			&r.RunID,
			&r.RunAttempt,
			&r.JobID,
			&r.JobName,
			&r.JobURL,
			&r.JobStartedAt,
			&r.Name,
			&r.DurationMS,
			&r.Result,
		)
		if err != nil {
			return nil, err
		}
		results = append(results, r)
	}

	return results, rows.Err()
}
