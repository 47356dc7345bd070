package ledger

import (
	"fmt"
	"time"
)

const dayLayout = "02-01-2006"

// Day is a calendar date that keys one ledger file.
type Day struct {
	year  int
	month time.Month
	day   int
}

// DayOf returns the calendar day t falls on in t's location.
func DayOf(t time.Time) Day {
	y, m, d := t.Date()
	return Day{year: y, month: m, day: d}
}

// ParseDay parses a DD-MM-YYYY key.
func ParseDay(s string) (Day, error) {
	t, err := time.Parse(dayLayout, s)
	if err != nil {
		return Day{}, fmt.Errorf("parse day %q: %w", s, err)
	}
	return DayOf(t), nil
}

// String renders the DD-MM-YYYY key.
func (d Day) String() string {
	return fmt.Sprintf("%02d-%02d-%04d", d.day, int(d.month), d.year)
}

// Month returns the month component.
func (d Day) Month() time.Month { return d.month }

// MonthKey is the two-digit month used for directory and mirror sharding.
func (d Day) MonthKey() string { return fmt.Sprintf("%02d", int(d.month)) }

// Year returns the year component.
func (d Day) Year() int { return d.year }

// IsZero reports whether d is the zero Day.
func (d Day) IsZero() bool { return d == Day{} }

// Before reports whether d is an earlier date than o.
func (d Day) Before(o Day) bool {
	if d.year != o.year {
		return d.year < o.year
	}
	if d.month != o.month {
		return d.month < o.month
	}
	return d.day < o.day
}
