// Package timeutil handles calendar dates for the progression engine.
// Daily goals and streaks are keyed by YYYY-MM-DD strings in a single
// configured timezone; everything that turns an instant into such a key goes
// through Calendar.
package timeutil

import (
	"fmt"
	"time"
)

// DateLayout is the layout of every date key.
const DateLayout = "2006-01-02"

// Clock abstracts the current time so batch jobs can be tested.
type Clock interface {
	Now() time.Time
}

// SystemClock returns the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// FixedClock always returns the same instant.
type FixedClock time.Time

func (c FixedClock) Now() time.Time { return time.Time(c) }

// Calendar converts instants to date keys in one timezone.
type Calendar struct {
	loc   *time.Location
	clock Clock
}

// NewCalendar creates a Calendar. A nil location means UTC, a nil clock the wall clock.
func NewCalendar(loc *time.Location, clock Clock) *Calendar {
	if loc == nil {
		loc = time.UTC
	}
	if clock == nil {
		clock = SystemClock{}
	}
	return &Calendar{loc: loc, clock: clock}
}

// LoadCalendar resolves an IANA timezone name such as "Europe/Berlin".
func LoadCalendar(tz string, clock Clock) (*Calendar, error) {
	if tz == "" {
		return NewCalendar(time.UTC, clock), nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", tz, err)
	}
	return NewCalendar(loc, clock), nil
}

// Location returns the calendar timezone.
func (c *Calendar) Location() *time.Location { return c.loc }

// Now returns the current instant in the calendar timezone.
func (c *Calendar) Now() time.Time { return c.clock.Now().In(c.loc) }

// Today returns today's date key.
func (c *Calendar) Today() string { return c.DateKey(c.clock.Now()) }

// Yesterday returns yesterday's date key.
func (c *Calendar) Yesterday() string { return c.DateKey(c.Now().AddDate(0, 0, -1)) }

// DateKey formats t as a date key in the calendar timezone.
func (c *Calendar) DateKey(t time.Time) string {
	return t.In(c.loc).Format(DateLayout)
}

// StartOfDay returns midnight of the given date key in the calendar timezone.
func (c *Calendar) StartOfDay(date string) (time.Time, error) {
	return time.ParseInLocation(DateLayout, date, c.loc)
}

// ParseDate validates a date key. Only canonical YYYY-MM-DD is accepted.
func ParseDate(date string) (time.Time, error) {
	t, err := time.Parse(DateLayout, date)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", date, err)
	}
	if t.Format(DateLayout) != date {
		return time.Time{}, fmt.Errorf("invalid date %q: not canonical", date)
	}
	return t, nil
}

// IsValidDate reports whether date is a canonical date key.
func IsValidDate(date string) bool {
	_, err := ParseDate(date)
	return err == nil
}

// AddDays shifts a date key by n days.
func AddDays(date string, n int) (string, error) {
	t, err := ParseDate(date)
	if err != nil {
		return "", err
	}
	return t.AddDate(0, 0, n).Format(DateLayout), nil
}

// PreviousDate returns the date key of the day before date.
func PreviousDate(date string) (string, error) {
	return AddDays(date, -1)
}

// DaysBetween returns to - from in whole days. Both must be valid date keys.
func DaysBetween(from, to string) (int, error) {
	a, err := ParseDate(from)
	if err != nil {
		return 0, err
	}
	b, err := ParseDate(to)
	if err != nil {
		return 0, err
	}
	return int(b.Sub(a).Hours() / 24), nil
}

// IsConsecutive reports whether next is exactly one day after prev.
func IsConsecutive(prev, next string) bool {
	d, err := DaysBetween(prev, next)
	return err == nil && d == 1
}
