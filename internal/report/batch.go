// Package report plans the row-level changes that keep a tabular report in
// step with freshly aggregated metrics.
//
// A report is a grid whose first row is a header. Row 2 always holds the most
// recently synchronized record and anything below it is history. Planning is
// pure: the functions here turn aggregated rows plus what is currently on the
// report into a Batch, and a Sink applies that Batch in one atomic call.
package report

import (
	"context"
	"errors"
	"fmt"
)

const (
	// HeaderRow is the 1-based row holding column titles.
	HeaderRow = 1
	// FirstDataRow is the 1-based row where new records are inserted.
	FirstDataRow = 2
	// CursorRef is the cell that holds the newest synchronized period.
	CursorRef = "A2"
	// DataRange covers every data cell below the header.
	DataRange = "A2:Z"
)

var (
	ErrSheetNotFound   = errors.New("report: sheet not found")
	ErrQuery           = errors.New("report: aggregation query failed")
	ErrDuplicatePeriod = errors.New("report: duplicate period")
)

// OpKind is the type of a single row operation.
type OpKind int

const (
	// OpInsertRow shifts Row and everything below it down by one, leaving an
	// empty row at Row.
	OpInsertRow OpKind = iota + 1
	// OpWriteRow overwrites the cells of Row starting at column A.
	OpWriteRow
	// OpTruncate removes Row and every row below it.
	OpTruncate
)

func (k OpKind) String() string {
	switch k {
	case OpInsertRow:
		return "insert"
	case OpWriteRow:
		return "write"
	case OpTruncate:
		return "truncate"
	default:
		return fmt.Sprintf("OpKind(%d)", int(k))
	}
}

// Op is one row operation. Row is 1-based.
type Op struct {
	Kind  OpKind
	Row   int
	Cells Row
}

// InsertRow returns an op inserting an empty row at row.
func InsertRow(row int) Op { return Op{Kind: OpInsertRow, Row: row} }

// WriteRow returns an op writing cells into row.
func WriteRow(row int, cells Row) Op { return Op{Kind: OpWriteRow, Row: row, Cells: cells} }

// Truncate returns an op deleting row and everything after it.
func Truncate(row int) Op { return Op{Kind: OpTruncate, Row: row} }

// Batch is an ordered list of operations against one sheet. Operations are
// applied in order, each seeing the effect of the previous ones.
type Batch struct {
	Sheet string
	Ops   []Op
}

// Empty reports whether the batch has nothing to apply.
func (b Batch) Empty() bool {
	return len(b.Ops) == 0
}

// Sink is a tabular report store. Refs use A1 notation relative to the
// named sheet. ApplyBatch must apply all operations or none.
type Sink interface {
	// ReadCell returns the unformatted value at ref, or nil when empty.
	ReadCell(ctx context.Context, sheet, ref string) (any, error)
	// ReadRange returns the unformatted values in ref, row-major.
	ReadRange(ctx context.Context, sheet, ref string) ([][]any, error)
	// ClearRange removes the values in ref without deleting rows.
	ClearRange(ctx context.Context, sheet, ref string) error
	// ApplyBatch applies every op of b atomically.
	ApplyBatch(ctx context.Context, b Batch) error
}

// Plan is a batch together with a summary of its effect.
type Plan struct {
	Batch    Batch
	Inserted int
	Updated  int
}

// Apply submits the plan's batch to sink. Empty plans are not submitted.
func (p Plan) Apply(ctx context.Context, sink Sink) error {
	if p.Batch.Empty() {
		return nil
	}
	if err := sink.ApplyBatch(ctx, p.Batch); err != nil {
		return fmt.Errorf("apply batch to %q: %w", p.Batch.Sheet, err)
	}
	return nil
}
