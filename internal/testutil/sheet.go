package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/livinlefevreloca/ghareport/internal/report"
)

// MemorySheet is an in-memory report.Sink holding any number of named
// sheets. Batches are applied to a copy and only committed when every op
// succeeds.
type MemorySheet struct {
	mu         sync.Mutex
	sheets     map[string][]report.Row
	batches    []report.Batch
	readError  error
	applyError error
	clearError error
	failAtOp   int
}

func NewMemorySheet() *MemorySheet {
	return &MemorySheet{
		sheets:   make(map[string][]report.Row),
		failAtOp: -1,
	}
}

// AddSheet creates sheet with the given header and body values.
func (m *MemorySheet) AddSheet(name string, rows ...[]any) {
	m.mu.Lock()
	defer m.mu.Unlock()

	body := make([]report.Row, 0, len(rows))
	for _, r := range rows {
		row := make(report.Row, len(r))
		for i, v := range r {
			row[i] = report.FromValue(v)
		}
		body = append(body, row)
	}
	m.sheets[name] = body
}

func (m *MemorySheet) SetReadError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readError = err
}

func (m *MemorySheet) SetApplyError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.applyError = err
}

func (m *MemorySheet) SetClearError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clearError = err
}

// FailAtOp makes the next ApplyBatch fail after applying i ops to its
// working copy. Use it to check that partial batches are not committed.
func (m *MemorySheet) FailAtOp(i int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failAtOp = i
}

func (m *MemorySheet) ReadCell(ctx context.Context, sheet, ref string) (any, error) {
	values, err := m.ReadRange(ctx, sheet, ref)
	if err != nil {
		return nil, err
	}
	if len(values) == 0 || len(values[0]) == 0 {
		return nil, nil
	}
	return values[0][0], nil
}

func (m *MemorySheet) ReadRange(_ context.Context, sheet, ref string) ([][]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.readError != nil {
		return nil, m.readError
	}
	rows, ok := m.sheets[sheet]
	if !ok {
		return nil, fmt.Errorf("%w: %q", report.ErrSheetNotFound, sheet)
	}
	rng, err := report.ParseRange(ref)
	if err != nil {
		return nil, err
	}

	// Mirror the Sheets API: trailing empty rows and cells are omitted.
	var out [][]any
	for r := rng.StartRow; r <= len(rows); r++ {
		if rng.EndRow > 0 && r > rng.EndRow {
			break
		}
		var vals []any
		for c := rng.StartCol; c <= len(rows[r-1]); c++ {
			if rng.EndCol > 0 && c > rng.EndCol {
				break
			}
			vals = append(vals, rows[r-1][c-1].Value())
		}
		for len(vals) > 0 && vals[len(vals)-1] == nil {
			vals = vals[:len(vals)-1]
		}
		out = append(out, vals)
	}
	for len(out) > 0 && len(out[len(out)-1]) == 0 {
		out = out[:len(out)-1]
	}
	return out, nil
}

func (m *MemorySheet) ClearRange(_ context.Context, sheet, ref string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.clearError != nil {
		return m.clearError
	}
	rows, ok := m.sheets[sheet]
	if !ok {
		return fmt.Errorf("%w: %q", report.ErrSheetNotFound, sheet)
	}
	rng, err := report.ParseRange(ref)
	if err != nil {
		return err
	}
	for r := range rows {
		for c := range rows[r] {
			if rng.Contains(c+1, r+1) {
				rows[r][c] = report.Cell{}
			}
		}
	}
	return nil
}

func (m *MemorySheet) ApplyBatch(_ context.Context, b report.Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.applyError != nil {
		return m.applyError
	}
	rows, ok := m.sheets[b.Sheet]
	if !ok {
		return fmt.Errorf("%w: %q", report.ErrSheetNotFound, b.Sheet)
	}

	work := cloneRows(rows)
	for i, op := range b.Ops {
		if i == m.failAtOp {
			m.failAtOp = -1
			return fmt.Errorf("injected failure at op %d", i)
		}
		if op.Row < 1 {
			return fmt.Errorf("op %d: invalid row %d", i, op.Row)
		}
		switch op.Kind {
		case report.OpInsertRow:
			for len(work) < op.Row-1 {
				work = append(work, report.Row{})
			}
			work = append(work, nil)
			copy(work[op.Row:], work[op.Row-1:])
			work[op.Row-1] = report.Row{}
		case report.OpWriteRow:
			for len(work) < op.Row {
				work = append(work, report.Row{})
			}
			row := work[op.Row-1]
			for len(row) < len(op.Cells) {
				row = append(row, report.Cell{})
			}
			copy(row, op.Cells)
			work[op.Row-1] = row
		case report.OpTruncate:
			if len(work) >= op.Row {
				work = work[:op.Row-1]
			}
		default:
			return fmt.Errorf("op %d: unknown kind %v", i, op.Kind)
		}
	}

	m.sheets[b.Sheet] = work
	m.batches = append(m.batches, b)
	return nil
}

// Rows returns the values of every row in sheet, header included.
func (m *MemorySheet) Rows(sheet string) [][]any {
	m.mu.Lock()
	defer m.mu.Unlock()

	rows := m.sheets[sheet]
	out := make([][]any, len(rows))
	for i, r := range rows {
		out[i] = r.Values()
	}
	return out
}

// Row returns the cells of the 1-based row in sheet, or nil.
func (m *MemorySheet) Row(sheet string, row int) report.Row {
	m.mu.Lock()
	defer m.mu.Unlock()

	rows := m.sheets[sheet]
	if row < 1 || row > len(rows) {
		return nil
	}
	return append(report.Row(nil), rows[row-1]...)
}

// Column returns the first cell of every row in sheet, header included.
func (m *MemorySheet) Column(sheet string) []any {
	m.mu.Lock()
	defer m.mu.Unlock()

	rows := m.sheets[sheet]
	out := make([]any, len(rows))
	for i, r := range rows {
		if len(r) > 0 {
			out[i] = r[0].Value()
		}
	}
	return out
}

// Batches returns every batch committed so far.
func (m *MemorySheet) Batches() []report.Batch {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := make([]report.Batch, len(m.batches))
	copy(result, m.batches)
	return result
}

func cloneRows(rows []report.Row) []report.Row {
	out := make([]report.Row, len(rows))
	for i, r := range rows {
		out[i] = append(report.Row(nil), r...)
	}
	return out
}
