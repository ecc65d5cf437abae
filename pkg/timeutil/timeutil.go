// Package timeutil provides calendar-day utilities for a learner's local timezone.
// Streaks and "active today" checks are keyed by calendar day, so every helper
// takes the location the day boundary is computed in.
// No external dependencies - uses only standard library.
package timeutil

import (
	"fmt"
	"time"
)

// DayLayout is the canonical calendar-day format (YYYY-MM-DD).
const DayLayout = "2006-01-02"

// Calendar computes day boundaries in a fixed location.
// The zero value uses UTC.
type Calendar struct {
	loc *time.Location
}

// NewCalendar returns a Calendar for loc. A nil loc means UTC.
func NewCalendar(loc *time.Location) Calendar {
	return Calendar{loc: loc}
}

// LoadCalendar resolves an IANA zone name ("Europe/Berlin", "UTC", "Local").
func LoadCalendar(name string) (Calendar, error) {
	if name == "" {
		return Calendar{}, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return Calendar{}, fmt.Errorf("timeutil: load location %q: %w", name, err)
	}
	return NewCalendar(loc), nil
}

// Location returns the calendar's location.
func (c Calendar) Location() *time.Location {
	if c.loc == nil {
		return time.UTC
	}
	return c.loc
}

// In converts t into the calendar's location.
func (c Calendar) In(t time.Time) time.Time {
	return t.In(c.Location())
}

// StartOfDay returns 00:00:00 of t's calendar day.
func (c Calendar) StartOfDay(t time.Time) time.Time {
	local := c.In(t)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, c.Location())
}

// DayKey formats t's calendar day as YYYY-MM-DD.
func (c Calendar) DayKey(t time.Time) string {
	return c.In(t).Format(DayLayout)
}

// ParseDayKey parses a YYYY-MM-DD key as the start of that day.
func (c Calendar) ParseDayKey(key string) (time.Time, error) {
	return time.ParseInLocation(DayLayout, key, c.Location())
}

// IsSameDay checks if two times fall on the same calendar day.
func (c Calendar) IsSameDay(t1, t2 time.Time) bool {
	return c.DayKey(t1) == c.DayKey(t2)
}

// IsConsecutiveDay checks if t2 is the calendar day after t1.
func (c Calendar) IsConsecutiveDay(t1, t2 time.Time) bool {
	return c.DaysBetween(t1, t2) == 1
}

// DaysBetween returns the number of calendar days from t1 to t2.
// The result is negative when t2 is before t1. DST shifts do not affect it.
func (c Calendar) DaysBetween(t1, t2 time.Time) int {
	a, b := c.In(t1), c.In(t2)
	da := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	db := time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	return int(db.Sub(da).Hours() / 24)
}

// FormatRFC3339 formats t in UTC with millisecond precision, the wire format for snapshot timestamps.
func FormatRFC3339(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z07:00")
}

// ParseRFC3339 parses an ISO-8601 timestamp with or without fractional seconds.
func ParseRFC3339(value string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}
