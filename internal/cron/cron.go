// Package cron parses standard 5-field cron expressions and computes when
// they next fire.
package cron

import (
	"time"
)

// searchLimit bounds how far ahead Next looks for a matching minute
const searchLimit = 5 * 366 * 24 * time.Hour

// Schedule is a parsed cron expression
type Schedule struct {
	minutes  set // 0-59
	hours    set // 0-23
	days     set // 1-31
	months   set // 1-12
	weekdays set // 0-6 (0=Sunday)

	// A "*" day field does not restrict the other one
	anyDay     bool
	anyWeekday bool

	expr string
}

// Parse parses a cron expression. Besides the five numeric fields it
// accepts month and weekday names (jan, mon) and the @hourly, @daily,
// @weekly, @monthly and @yearly shorthands.
func Parse(expr string) (*Schedule, error) {
	return parse(expr)
}

// String returns the expression the schedule was parsed from
func (s *Schedule) String() string {
	return s.expr
}

// Next returns the first time strictly after after at which the schedule
// fires, evaluated in after's location. It returns the zero time when no
// such time exists within five years.
func (s *Schedule) Next(after time.Time) time.Time {
	loc := after.Location()
	t := after.Truncate(time.Minute).Add(time.Minute)
	limit := t.Add(searchLimit)

	for t.Before(limit) {
		y, m, d := t.Date()

		if !s.months.has(int(m)) {
			t = time.Date(y, m+1, 1, 0, 0, 0, 0, loc)
			continue
		}
		if !s.matchesDay(t) {
			t = time.Date(y, m, d+1, 0, 0, 0, 0, loc)
			continue
		}
		if !s.hours.has(t.Hour()) {
			next := time.Date(y, m, d, t.Hour()+1, 0, 0, 0, loc)
			if !next.After(t) {
				next = t.Add(time.Hour).Truncate(time.Minute)
			}
			t = next
			continue
		}
		if !s.minutes.has(t.Minute()) {
			t = t.Add(time.Minute)
			continue
		}
		return t
	}

	return time.Time{}
}

// matchesDay applies the cron day rule: when both day fields are
// restricted a day matches if either one does.
func (s *Schedule) matchesDay(t time.Time) bool {
	dom := s.days.has(t.Day())
	dow := s.weekdays.has(int(t.Weekday()))

	switch {
	case s.anyDay && s.anyWeekday:
		return true
	case s.anyDay:
		return dow
	case s.anyWeekday:
		return dom
	default:
		return dom || dow
	}
}
