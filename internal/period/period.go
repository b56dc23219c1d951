// Package period defines the calendar-week keys that identify report rows.
package period

import (
	"encoding/json"
	"math"
	"strings"
	"time"
)

// Layout is the textual form written into report cells.
const Layout = "2006-01-02"

// sheetsEpoch is day zero of spreadsheet serial dates.
var sheetsEpoch = time.Date(1899, 12, 30, 0, 0, 0, 0, time.UTC)

// maxSerial is 9999-12-31, the last date a spreadsheet accepts.
const maxSerial = 2958465

// Key identifies a reporting period by the calendar date it starts on.
// The zero Key is the oldest possible period: every real key is After it.
type Key struct {
	date time.Time
}

// Oldest is the sentinel used when a report holds no readable period.
var Oldest = Key{}

// New returns the key for the given calendar date.
func New(year int, month time.Month, day int) Key {
	return Key{date: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// Of returns the key for the calendar date of t as seen in t's location.
func Of(t time.Time) Key {
	return New(t.Year(), t.Month(), t.Day())
}

// WeekOf returns the key of the week containing t, where weeks start on
// weekStart in loc.
func WeekOf(t time.Time, loc *time.Location, weekStart time.Weekday) Key {
	if loc == nil {
		loc = time.UTC
	}
	local := t.In(loc)
	offset := (int(local.Weekday()) - int(weekStart) + 7) % 7
	return Of(local).AddDays(-offset)
}

// Start returns the instant the period begins in loc.
func (k Key) Start(loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	return time.Date(k.date.Year(), k.date.Month(), k.date.Day(), 0, 0, 0, 0, loc)
}

// AddDays returns the key n calendar days later (earlier when negative).
func (k Key) AddDays(n int) Key {
	return Key{date: k.date.AddDate(0, 0, n)}
}

// IsOldest reports whether k is the Oldest sentinel.
func (k Key) IsOldest() bool {
	return k.date.IsZero()
}

// After reports whether k is strictly newer than o.
func (k Key) After(o Key) bool {
	return k.date.After(o.date)
}

// Before reports whether k is strictly older than o.
func (k Key) Before(o Key) bool {
	return k.date.Before(o.date)
}

// Equal reports whether k and o name the same period.
func (k Key) Equal(o Key) bool {
	return k.date.Equal(o.date)
}

// Compare returns -1, 0 or +1 depending on whether k is older, equal or newer.
func (k Key) Compare(o Key) int {
	return k.date.Compare(o.date)
}

// String formats k as YYYY-MM-DD, or "oldest" for the sentinel.
func (k Key) String() string {
	if k.IsOldest() {
		return "oldest"
	}
	return k.date.Format(Layout)
}

var textLayouts = []string{
	Layout,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
}

// Parse reads a key from text. Anything that is not a recognised date
// yields ok == false.
func Parse(s string) (Key, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Oldest, false
	}
	for _, layout := range textLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return Of(t), true
		}
	}
	return Oldest, false
}

// FromCellValue converts a raw spreadsheet value into a key. Strings are
// parsed as dates and numbers are treated as spreadsheet serial dates.
func FromCellValue(v any) (Key, bool) {
	switch val := v.(type) {
	case nil:
		return Oldest, false
	case string:
		return Parse(val)
	case float64:
		return fromSerial(val)
	case int:
		return fromSerial(float64(val))
	case int64:
		return fromSerial(float64(val))
	case json.Number:
		f, err := val.Float64()
		if err != nil {
			return Oldest, false
		}
		return fromSerial(f)
	default:
		return Oldest, false
	}
}

func fromSerial(serial float64) (Key, bool) {
	if math.IsNaN(serial) || serial <= 0 || serial >= maxSerial+1 {
		return Oldest, false
	}
	return Of(sheetsEpoch.AddDate(0, 0, int(math.Floor(serial)))), true
}

// Serial converts t into a spreadsheet serial date-time.
func Serial(t time.Time) float64 {
	return t.Sub(sheetsEpoch).Hours() / 24
}
