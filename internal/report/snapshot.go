package report

import (
	"strings"
	"time"
)

// PlanSnapshot replaces the whole body of a report with rows, which are
// given in display order. Rows are inserted at row 2 from last to first so
// that rows[0] ends on top, then everything that used to be below the header
// is truncated.
func PlanSnapshot(sheet string, rows []Row) Plan {
	plan := Plan{Batch: Batch{Sheet: sheet}, Inserted: len(rows)}
	for i := len(rows) - 1; i >= 0; i-- {
		plan.Batch.Ops = append(plan.Batch.Ops,
			InsertRow(FirstDataRow),
			WriteRow(FirstDataRow, rows[i]),
		)
	}
	plan.Batch.Ops = append(plan.Batch.Ops, Truncate(FirstDataRow+len(rows)))
	return plan
}

// StampMarker prefixes the status cell of a stamp report.
const StampMarker = "Last Updated:"

// StampRange is the column searched for the marker.
const StampRange = "A:A"

// PlanStamp rewrites the first cell of column (the values of column A, top
// to bottom) that contains StampMarker with the time of now in UTC. It
// returns false when no cell holds the marker.
func PlanStamp(sheet string, column [][]any, now time.Time) (Plan, bool) {
	for i, row := range column {
		if len(row) == 0 {
			continue
		}
		s, ok := row[0].(string)
		if !ok || !strings.Contains(s, StampMarker) {
			continue
		}
		text := StampMarker + " " + now.UTC().Format("2006-01-02 15:04:05") + " UTC"
		return Plan{
			Batch:   Batch{Sheet: sheet, Ops: []Op{WriteRow(i+1, Row{String(text)})}},
			Updated: 1,
		}, true
	}
	return Plan{Batch: Batch{Sheet: sheet}}, false
}
