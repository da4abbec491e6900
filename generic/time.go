package generic

import (
	"fmt"
	"time"
)

// =============================================================================
// CLOCK - Injected "now" so temporal rules are testable
// =============================================================================

type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// FixedClock always returns the same instant. Tests move it by assigning At.
type FixedClock struct {
	At time.Time
}

func (c *FixedClock) Now() time.Time { return c.At }

// Advance moves the clock forward by d.
func (c *FixedClock) Advance(d time.Duration) { c.At = c.At.Add(d) }

// =============================================================================
// CALENDAR - Day/month windows in one fixed reference zone
// =============================================================================

// Calendar computes day and month windows in a single reference zone.
// Every agent shares the same boundaries regardless of their local time.
type Calendar struct {
	Location *time.Location
}

const (
	DayKeyLayout   = "2006-01-02"
	MonthKeyLayout = "2006-01"
)

func NewCalendar(loc *time.Location) Calendar {
	if loc == nil {
		loc = time.UTC
	}
	return Calendar{Location: loc}
}

// LoadCalendar resolves an IANA zone name ("UTC", "Europe/Kyiv").
func LoadCalendar(name string) (Calendar, error) {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return Calendar{}, fmt.Errorf("load reference timezone %q: %w", name, err)
	}
	return NewCalendar(loc), nil
}

func (c Calendar) loc() *time.Location {
	if c.Location == nil {
		return time.UTC
	}
	return c.Location
}

// Day returns the [00:00, next 00:00) window containing t.
func (c Calendar) Day(t time.Time) Period {
	lt := t.In(c.loc())
	start := time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, c.loc())
	return Period{Start: start, End: start.AddDate(0, 0, 1)}
}

// Month returns the [1st 00:00, next 1st 00:00) window containing t.
func (c Calendar) Month(t time.Time) Period {
	lt := t.In(c.loc())
	start := time.Date(lt.Year(), lt.Month(), 1, 0, 0, 0, 0, c.loc())
	return Period{Start: start, End: start.AddDate(0, 1, 0)}
}

func (c Calendar) DayKey(t time.Time) string   { return t.In(c.loc()).Format(DayKeyLayout) }
func (c Calendar) MonthKey(t time.Time) string { return t.In(c.loc()).Format(MonthKeyLayout) }

// EndOfDay is the last nanosecond of the day containing t.
func (c Calendar) EndOfDay(t time.Time) time.Time {
	return c.Day(t).End.Add(-time.Nanosecond)
}

// ParseDay parses a YYYY-MM-DD key into its day window.
func (c Calendar) ParseDay(key string) (Period, error) {
	t, err := time.ParseInLocation(DayKeyLayout, key, c.loc())
	if err != nil {
		return Period{}, fmt.Errorf("%w: day %q", ErrInvalidPeriod, key)
	}
	return c.Day(t), nil
}

// ParseMonth parses a YYYY-MM key into its month window.
func (c Calendar) ParseMonth(key string) (Period, error) {
	t, err := time.ParseInLocation(MonthKeyLayout, key, c.loc())
	if err != nil {
		return Period{}, fmt.Errorf("%w: month %q", ErrInvalidPeriod, key)
	}
	return c.Month(t), nil
}

// Hour is the wall-clock hour of t in the reference zone.
func (c Calendar) Hour(t time.Time) int { return t.In(c.loc()).Hour() }
