package report

import (
	"time"

	"github.com/livinlefevreloca/ghareport/internal/period"
)

// CellKind identifies which value a Cell carries.
type CellKind int

const (
	KindEmpty CellKind = iota
	KindString
	KindNumber
)

// DateTimePattern is the number format applied to timestamp cells.
const DateTimePattern = "yyyy-MM-dd HH:mm:ss.SSS"

// NumberFormat is a display format attached to a numeric cell.
type NumberFormat struct {
	Type    string
	Pattern string
}

// Cell is a single value written into a report.
type Cell struct {
	Kind   CellKind
	Text   string
	Number float64
	Format *NumberFormat
}

// Row is an ordered set of cells starting at column A.
type Row []Cell

// String returns a text cell.
func String(s string) Cell {
	return Cell{Kind: KindString, Text: s}
}

// Number returns a numeric cell.
func Number(f float64) Cell {
	return Cell{Kind: KindNumber, Number: f}
}

// Int returns a numeric cell holding n.
func Int(n int64) Cell {
	return Number(float64(n))
}

// Period returns a text cell holding the period key in YYYY-MM-DD form.
func Period(k period.Key) Cell {
	return String(k.String())
}

// DateTime returns a serial date cell formatted as a timestamp.
func DateTime(t time.Time) Cell {
	return Cell{
		Kind:   KindNumber,
		Number: period.Serial(t.UTC()),
		Format: &NumberFormat{Type: "DATE_TIME", Pattern: DateTimePattern},
	}
}

// Value returns the cell as an unformatted spreadsheet value: nil, string
// or float64.
func (c Cell) Value() any {
	switch c.Kind {
	case KindString:
		return c.Text
	case KindNumber:
		return c.Number
	default:
		return nil
	}
}

// FromValue converts an unformatted spreadsheet value back into a Cell.
func FromValue(v any) Cell {
	switch val := v.(type) {
	case nil:
		return Cell{}
	case string:
		return String(val)
	case float64:
		return Number(val)
	case float32:
		return Number(float64(val))
	case int:
		return Int(int64(val))
	case int64:
		return Int(val)
	case bool:
		if val {
			return String("TRUE")
		}
		return String("FALSE")
	default:
		return Cell{}
	}
}

// HasFormat reports whether any cell in r carries a number format.
func (r Row) HasFormat() bool {
	for _, c := range r {
		if c.Format != nil {
			return true
		}
	}
	return false
}

// Values returns the unformatted values of r.
func (r Row) Values() []any {
	out := make([]any, len(r))
	for i, c := range r {
		out[i] = c.Value()
	}
	return out
}
