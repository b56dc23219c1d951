package report

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/livinlefevreloca/ghareport/internal/period"
)

// PeriodRow is one aggregated record keyed by the period it summarizes.
type PeriodRow struct {
	Period period.Key
	Cells  Row
}

// ReadCursor returns the newest period already on the report, read from A2.
// An empty or unparsable cell yields period.Oldest. Errors reaching the
// sink are returned so that an unreachable report is never mistaken for an
// empty one.
func ReadCursor(ctx context.Context, sink Sink, sheet string, logger *slog.Logger) (period.Key, error) {
	v, err := sink.ReadCell(ctx, sheet, CursorRef)
	if err != nil {
		return period.Oldest, fmt.Errorf("read %s!%s: %w", sheet, CursorRef, err)
	}

	key, ok := period.FromCellValue(v)
	if !ok {
		if logger != nil {
			logger.Debug("no period at cursor, treating report as empty",
				"sheet", sheet, "ref", CursorRef, "value", v)
		}
		return period.Oldest, nil
	}
	return key, nil
}

// PlanIncremental plans the update of a period-keyed report whose newest
// period on the report is last.
//
// The row for last, if present, is rewritten in place at row 2. Every row
// newer than last is then inserted at row 2 in ascending period order, so the
// newest ends on top. Rows older than last are ignored and rows below row 2
// are never touched. The input need not be sorted but must not repeat a
// period.
func PlanIncremental(sheet string, rows []PeriodRow, last period.Key) (Plan, error) {
	sorted := make([]PeriodRow, len(rows))
	copy(sorted, rows)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Period.Before(sorted[j].Period)
	})

	for i := 1; i < len(sorted); i++ {
		if sorted[i].Period.Equal(sorted[i-1].Period) {
			return Plan{}, fmt.Errorf("%w: %s", ErrDuplicatePeriod, sorted[i].Period)
		}
	}

	plan := Plan{Batch: Batch{Sheet: sheet}}
	for _, r := range sorted {
		if !last.IsOldest() && r.Period.Equal(last) {
			plan.Batch.Ops = append(plan.Batch.Ops, WriteRow(FirstDataRow, r.Cells))
			plan.Updated++
		}
	}
	for _, r := range sorted {
		if r.Period.After(last) {
			plan.Batch.Ops = append(plan.Batch.Ops,
				InsertRow(FirstDataRow),
				WriteRow(FirstDataRow, r.Cells),
			)
			plan.Inserted++
		}
	}
	return plan, nil
}
