package cron

import (
	"fmt"
	"strconv"
	"strings"
)

// field describes the bounds and names allowed in one cron field
type field struct {
	name  string
	min   int
	max   int
	names map[string]int
}

var (
	minuteField = field{name: "minute", min: 0, max: 59}
	hourField   = field{name: "hour", min: 0, max: 23}
	domField    = field{name: "day-of-month", min: 1, max: 31}
	monthField  = field{name: "month", min: 1, max: 12, names: map[string]int{
		"jan": 1, "feb": 2, "mar": 3, "apr": 4, "may": 5, "jun": 6,
		"jul": 7, "aug": 8, "sep": 9, "oct": 10, "nov": 11, "dec": 12,
	}}
	dowField = field{name: "day-of-week", min: 0, max: 7, names: map[string]int{
		"sun": 0, "mon": 1, "tue": 2, "wed": 3, "thu": 4, "fri": 5, "sat": 6,
	}}
)

var descriptors = map[string]string{
	"@yearly":   "0 0 1 1 *",
	"@annually": "0 0 1 1 *",
	"@monthly":  "0 0 1 * *",
	"@weekly":   "0 0 * * 0",
	"@daily":    "0 0 * * *",
	"@midnight": "0 0 * * *",
	"@hourly":   "0 * * * *",
}

// set is a bitset of allowed values
type set uint64

func (s set) has(v int) bool { return s&(1<<uint(v)) != 0 }

func span(lo, hi, step int) set {
	var s set
	for v := lo; v <= hi; v += step {
		s |= 1 << uint(v)
	}
	return s
}

func parse(expr string) (*Schedule, error) {
	text := strings.TrimSpace(expr)
	if full, ok := descriptors[strings.ToLower(text)]; ok {
		text = full
	}

	fields := strings.Fields(text)
	if len(fields) != 5 {
		return nil, fmt.Errorf("invalid cron expression %q: expected 5 fields, got %d", expr, len(fields))
	}

	s := &Schedule{expr: expr}
	var err error
	if s.minutes, err = minuteField.parse(fields[0]); err != nil {
		return nil, err
	}
	if s.hours, err = hourField.parse(fields[1]); err != nil {
		return nil, err
	}
	if s.days, err = domField.parse(fields[2]); err != nil {
		return nil, err
	}
	if s.months, err = monthField.parse(fields[3]); err != nil {
		return nil, err
	}
	if s.weekdays, err = dowField.parse(fields[4]); err != nil {
		return nil, err
	}

	// 7 is an alias for Sunday
	if s.weekdays.has(7) {
		s.weekdays = s.weekdays&^(1<<7) | 1
	}
	s.anyDay = fields[2] == "*" || strings.HasPrefix(fields[2], "*/")
	s.anyWeekday = fields[4] == "*" || strings.HasPrefix(fields[4], "*/")

	if s.anyWeekday && !s.possibleDay() {
		return nil, fmt.Errorf("invalid cron expression %q: no month has the requested days", expr)
	}
	return s, nil
}

// parse reads a comma separated list of values, ranges and steps
func (f field) parse(text string) (set, error) {
	var out set
	for _, part := range strings.Split(text, ",") {
		s, err := f.parsePart(part)
		if err != nil {
			return 0, fmt.Errorf("invalid %s field %q: %w", f.name, text, err)
		}
		out |= s
	}
	return out, nil
}

func (f field) parsePart(part string) (set, error) {
	if part == "" {
		return 0, fmt.Errorf("empty value")
	}

	rangePart, stepPart, hasStep := strings.Cut(part, "/")
	step := 1
	if hasStep {
		n, err := strconv.Atoi(stepPart)
		if err != nil || n <= 0 {
			return 0, fmt.Errorf("invalid step %q", stepPart)
		}
		step = n
	}

	lo, hi := f.min, f.max
	switch {
	case rangePart == "*":
	case strings.Contains(rangePart, "-"):
		a, b, _ := strings.Cut(rangePart, "-")
		var err error
		if lo, err = f.value(a); err != nil {
			return 0, err
		}
		if hi, err = f.value(b); err != nil {
			return 0, err
		}
		if lo > hi {
			return 0, fmt.Errorf("range start %d after end %d", lo, hi)
		}
	default:
		v, err := f.value(rangePart)
		if err != nil {
			return 0, err
		}
		lo = v
		if !hasStep {
			hi = v
		}
	}

	return span(lo, hi, step), nil
}

func (f field) value(text string) (int, error) {
	if v, ok := f.names[strings.ToLower(text)]; ok {
		return v, nil
	}
	v, err := strconv.Atoi(text)
	if err != nil {
		return 0, fmt.Errorf("invalid value %q", text)
	}
	if v < f.min || v > f.max {
		return 0, fmt.Errorf("value %d out of bounds [%d, %d]", v, f.min, f.max)
	}
	return v, nil
}

// daysIn is the longest a month can be, leap years included
var daysIn = [13]int{0, 31, 29, 31, 30, 31, 30, 31, 31, 30, 31, 30, 31}

// possibleDay reports whether some allowed month has an allowed day
func (s *Schedule) possibleDay() bool {
	for m := 1; m <= 12; m++ {
		if !s.months.has(m) {
			continue
		}
		for d := 1; d <= daysIn[m]; d++ {
			if s.days.has(d) {
				return true
			}
		}
	}
	return false
}
