package report

import (
	"fmt"
	"strconv"
	"strings"
)

// Range is a rectangular A1 range with 1-based bounds. A zero end bound is
// open-ended.
type Range struct {
	StartCol, StartRow int
	EndCol, EndRow     int
}

// Contains reports whether the 1-based (col, row) lies in r.
func (r Range) Contains(col, row int) bool {
	if col < r.StartCol || row < r.StartRow {
		return false
	}
	if r.EndCol > 0 && col > r.EndCol {
		return false
	}
	if r.EndRow > 0 && row > r.EndRow {
		return false
	}
	return true
}

// ParseRange parses refs like "A2", "A2:Z", "A:A" and "B3:K10".
func ParseRange(ref string) (Range, error) {
	ref = strings.ToUpper(strings.TrimSpace(ref))
	if ref == "" {
		return Range{}, fmt.Errorf("empty range")
	}

	start, end, isSpan := strings.Cut(ref, ":")
	sc, sr, err := parseCellRef(start)
	if err != nil {
		return Range{}, fmt.Errorf("range %q: %w", ref, err)
	}
	if sc == 0 {
		return Range{}, fmt.Errorf("range %q: missing start column", ref)
	}
	if !isSpan {
		if sr == 0 {
			return Range{StartCol: sc, StartRow: 1, EndCol: sc}, nil
		}
		return Range{StartCol: sc, StartRow: sr, EndCol: sc, EndRow: sr}, nil
	}

	ec, er, err := parseCellRef(end)
	if err != nil {
		return Range{}, fmt.Errorf("range %q: %w", ref, err)
	}
	if sr == 0 {
		sr = 1
	}
	if (ec > 0 && ec < sc) || (er > 0 && er < sr) {
		return Range{}, fmt.Errorf("range %q: end before start", ref)
	}
	return Range{StartCol: sc, StartRow: sr, EndCol: ec, EndRow: er}, nil
}

func parseCellRef(s string) (col, row int, err error) {
	i := 0
	for i < len(s) && s[i] >= 'A' && s[i] <= 'Z' {
		col = col*26 + int(s[i]-'A'+1)
		i++
	}
	if i < len(s) {
		row, err = strconv.Atoi(s[i:])
		if err != nil || row < 1 {
			return 0, 0, fmt.Errorf("invalid row in %q", s)
		}
	}
	if col == 0 && row == 0 {
		return 0, 0, fmt.Errorf("invalid cell reference %q", s)
	}
	return col, row, nil
}

// ColumnName returns the A1 letters of the 1-based column n.
func ColumnName(n int) string {
	var b []byte
	for n > 0 {
		n--
		b = append([]byte{byte('A' + n%26)}, b...)
		n /= 26
	}
	return string(b)
}
