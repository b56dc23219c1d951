package db

import (
	"context"
	"database/sql"
	"time"
)

const jobColumns = `job_id, run_id, run_attempt, name, conclusion, started_at, completed_at, url`

// UpsertJobs stores the jobs of a run in one transaction.
func (db *DB) UpsertJobs(ctx context.Context, jobs []WorkflowRunJob) error {
	if len(jobs) == 0 {
		return nil
	}

	query := `
		INSERT INTO workflow_run_jobs (` + jobColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (job_id) DO UPDATE SET
			run_id = excluded.run_id,
			run_attempt = excluded.run_attempt,
			name = excluded.name,
			conclusion = excluded.conclusion,
			started_at = excluded.started_at,
			completed_at = excluded.completed_at,
			url = excluded.url
	`

	return db.WithTransaction(ctx, func(tx *Tx) error {
		for _, job := range jobs {
			_, err := tx.exec(ctx, query,
				job.JobID,
				job.RunID,
				job.RunAttempt,
				job.Name,
				job.Conclusion,
				utc(job.StartedAt),
				utc(job.CompletedAt),
				job.URL,
			)
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// GetJob retrieves a job by its GitHub id
func (db *DB) GetJob(ctx context.Context, jobID int64) (*WorkflowRunJob, error) {
	query := `SELECT ` + jobColumns + ` FROM workflow_run_jobs WHERE job_id = ?`

	job, err := scanJob(db.QueryRowContext(ctx, db.rebind(query), jobID))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return job, nil
}

// ListJobs returns jobs that started in [from, to), oldest first.
func (db *DB) ListJobs(ctx context.Context, from, to time.Time) ([]WorkflowRunJob, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM workflow_run_jobs
		WHERE started_at >= ? AND started_at < ?
		ORDER BY started_at, job_id
	`

	rows, err := db.QueryContext(ctx, db.rebind(query), utc(from), utc(to))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	jobs := []WorkflowRunJob{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}

	return jobs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(s scanner) (*WorkflowRunJob, error) {
	job := &WorkflowRunJob{}
	err := s.Scan(
		&job.JobID,
		&job.RunID,
		&job.RunAttempt,
		&job.Name,
		&job.Conclusion,
		&job.StartedAt,
		&job.CompletedAt,
		&job.URL,
	)
	if err != nil {
		return nil, err
	}
	return job, nil
}
