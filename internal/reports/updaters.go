package reports

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/livinlefevreloca/ghareport/internal/report"
)

// incremental keeps a period-keyed report, adding new periods on top and
// refreshing only the newest one already present.
type incremental struct {
	kind   Kind
	sheet  string
	sink   report.Sink
	logger *slog.Logger
	rows   func(ctx context.Context, cutoff time.Time) ([]report.PeriodRow, error)
}

func (u *incremental) Kind() Kind    { return u.kind }
func (u *incremental) Sheet() string { return u.sheet }

func (u *incremental) Update(ctx context.Context, now time.Time) (Result, error) {
	last, err := report.ReadCursor(ctx, u.sink, u.sheet, u.logger)
	if err != nil {
		return Result{}, err
	}

	rows, err := u.rows(ctx, now)
	if err != nil {
		return Result{}, queryError(err)
	}

	plan, err := report.PlanIncremental(u.sheet, rows, last)
	if err != nil {
		return Result{}, queryError(err)
	}

	u.logger.Debug("planned incremental sync",
		"last_synced", last.String(),
		"records", len(rows),
		"inserts", plan.Inserted,
		"updates", plan.Updated)

	if err := plan.Apply(ctx, u.sink); err != nil {
		return Result{}, err
	}
	return Result{Inserted: plan.Inserted, Updated: plan.Updated}, nil
}

// snapshot rewrites the whole body of a report on every sync.
type snapshot struct {
	kind   Kind
	sheet  string
	sink   report.Sink
	logger *slog.Logger
	rows   func(ctx context.Context, cutoff time.Time) ([]report.Row, error)
}

// snapshotOf adapts a typed aggregation and its row layout into a snapshot
// updater.
func snapshotOf[T any](k Kind, sheet string, sink report.Sink, logger *slog.Logger,
	query func(context.Context, time.Time) ([]T, error), toRow func(T) report.Row) *snapshot {
	return &snapshot{kind: k, sheet: sheet, sink: sink, logger: logger,
		rows: func(ctx context.Context, cutoff time.Time) ([]report.Row, error) {
			records, err := query(ctx, cutoff)
			if err != nil {
				return nil, err
			}
			rows := make([]report.Row, len(records))
			for i, r := range records {
				rows[i] = toRow(r)
			}
			return rows, nil
		}}
}

func (u *snapshot) Kind() Kind    { return u.kind }
func (u *snapshot) Sheet() string { return u.sheet }

func (u *snapshot) Update(ctx context.Context, now time.Time) (Result, error) {
	rows, err := u.rows(ctx, now)
	if err != nil {
		return Result{}, queryError(err)
	}

	plan := report.PlanSnapshot(u.sheet, rows)
	u.logger.Debug("planned snapshot sync", "rows", len(rows))

	if err := plan.Apply(ctx, u.sink); err != nil {
		return Result{}, err
	}
	return Result{Inserted: plan.Inserted}, nil
}

// stamp records the time of the last sync on a status tab.
type stamp struct {
	kind   Kind
	sheet  string
	sink   report.Sink
	logger *slog.Logger
}

func (u *stamp) Kind() Kind    { return u.kind }
func (u *stamp) Sheet() string { return u.sheet }

func (u *stamp) Update(ctx context.Context, now time.Time) (Result, error) {
	column, err := u.sink.ReadRange(ctx, u.sheet, report.StampRange)
	if err != nil {
		return Result{}, fmt.Errorf("read %s!%s: %w", u.sheet, report.StampRange, err)
	}

	plan, ok := report.PlanStamp(u.sheet, column, now)
	if !ok {
		u.logger.Warn("no status cell found", "marker", report.StampMarker)
		return Result{}, nil
	}

	if err := plan.Apply(ctx, u.sink); err != nil {
		return Result{}, err
	}
	return Result{Updated: plan.Updated}, nil
}
