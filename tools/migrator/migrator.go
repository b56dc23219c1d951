// Package migrator applies versioned SQL migrations to SQLite or Postgres.
package migrator

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"strings"
)

// lockKey identifies the Postgres advisory lock held while migrating.
const lockKey = 7301163527

// Migrate applies every migration in fsys that has not been recorded in
// schema_migrations, in version order.
func Migrate(ctx context.Context, db *sql.DB, driver string, fsys fs.FS) error {
	migrations, err := Load(fsys)
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}

	// The advisory lock belongs to a session, so keep one connection for
	// the whole run.
	conn, err := db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Close()

	if err := createSchemaTable(ctx, conn); err != nil {
		return fmt.Errorf("create schema table: %w", err)
	}

	if err := acquireLock(ctx, conn, driver); err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	defer releaseLock(context.WithoutCancel(ctx), conn, driver)

	applied, err := appliedVersions(ctx, conn)
	if err != nil {
		return fmt.Errorf("read applied migrations: %w", err)
	}

	appliedSet := make(map[int]bool, len(applied))
	maxApplied := 0
	for _, v := range applied {
		appliedSet[v] = true
		if v > maxApplied {
			maxApplied = v
		}
	}

	for _, mig := range migrations {
		if appliedSet[mig.Version] {
			continue
		}
		if mig.Version < maxApplied {
			return fmt.Errorf("cannot apply migration %d: version %d is already applied (migrations must be applied in order)", mig.Version, maxApplied)
		}
		for _, dep := range mig.Dependencies {
			if !appliedSet[dep] {
				return fmt.Errorf("migration %d depends on version %d which has not been applied", mig.Version, dep)
			}
		}
		if err := apply(ctx, conn, driver, mig); err != nil {
			return fmt.Errorf("apply migration %03d_%s: %w", mig.Version, mig.Name, err)
		}
		appliedSet[mig.Version] = true
	}

	return nil
}

// CurrentVersion returns the highest applied migration version, or 0 when
// nothing has been applied yet.
func CurrentVersion(ctx context.Context, db *sql.DB) (int, error) {
	var version int
	err := db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	if err != nil {
		if isMissingTable(err) {
			return 0, nil
		}
		return 0, err
	}
	return version, nil
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func appliedVersions(ctx context.Context, q querier) ([]int, error) {
	rows, err := q.QueryContext(ctx, "SELECT version FROM schema_migrations ORDER BY version")
	if err != nil {
		if isMissingTable(err) {
			return nil, nil
		}
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

func createSchemaTable(ctx context.Context, q querier) error {
	_, err := q.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`)
	return err
}

func apply(ctx context.Context, conn *sql.Conn, driver string, mig Migration) error {
	record := "INSERT INTO schema_migrations (version) VALUES (" + placeholder(driver, 1) + ")"

	if mig.NoTransaction {
		if _, err := conn.ExecContext(ctx, mig.UpSQL); err != nil {
			return fmt.Errorf("execute: %w", err)
		}
		if _, err := conn.ExecContext(ctx, record, mig.Version); err != nil {
			return fmt.Errorf("record: %w", err)
		}
		return nil
	}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if _, err := tx.ExecContext(ctx, mig.UpSQL); err != nil {
		tx.Rollback()
		return fmt.Errorf("execute: %w", err)
	}
	if _, err := tx.ExecContext(ctx, record, mig.Version); err != nil {
		tx.Rollback()
		return fmt.Errorf("record: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func isPostgres(driver string) bool {
	switch driver {
	case "pgx", "postgres", "postgresql":
		return true
	}
	return false
}

// placeholder returns the nth bind parameter for driver.
func placeholder(driver string, n int) string {
	if isPostgres(driver) {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

// SQLite serializes writers on its own, so only Postgres takes a lock.
func acquireLock(ctx context.Context, q querier, driver string) error {
	if !isPostgres(driver) {
		return nil
	}
	_, err := q.ExecContext(ctx, fmt.Sprintf("SELECT pg_advisory_lock(%d)", lockKey))
	return err
}

func releaseLock(ctx context.Context, q querier, driver string) error {
	if !isPostgres(driver) {
		return nil
	}
	_, err := q.ExecContext(ctx, fmt.Sprintf("SELECT pg_advisory_unlock(%d)", lockKey))
	return err
}

func isMissingTable(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "no such table") ||
		strings.Contains(msg, "does not exist")
}
