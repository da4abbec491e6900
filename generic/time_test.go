package generic_test

import (
	"errors"
	"testing"
	"time"

	"github.com/umbra/earnings-engine/generic"
)

func TestCalendar_DayWindowInReferenceZone(t *testing.T) {
	// GIVEN: A calendar pinned to UTC+3
	// WHEN: An instant at 22:30 UTC on March 9 is bucketed
	// THEN: It belongs to March 10 local time

	cal := generic.NewCalendar(time.FixedZone("UTC+3", 3*3600))
	at := time.Date(2025, time.March, 9, 22, 30, 0, 0, time.UTC)

	if got := cal.DayKey(at); got != "2025-03-10" {
		t.Fatalf("expected 2025-03-10, got %s", got)
	}
	day := cal.Day(at)
	if !day.Contains(at) {
		t.Errorf("day window %s should contain %s", day, at)
	}
	if want := time.Date(2025, time.March, 9, 21, 0, 0, 0, time.UTC); !day.Start.Equal(want) {
		t.Errorf("expected start %s, got %s", want, day.Start.UTC())
	}
	if cal.Hour(at) != 1 {
		t.Errorf("expected local hour 1, got %d", cal.Hour(at))
	}
	if eod := cal.EndOfDay(at); !eod.Equal(day.End.Add(-time.Nanosecond)) {
		t.Errorf("unexpected end of day %s", eod)
	}
}

func TestCalendar_ParseMonthAndPrevious(t *testing.T) {
	cal := generic.NewCalendar(time.UTC)

	m, err := cal.ParseMonth("2025-03")
	if err != nil {
		t.Fatalf("parse month: %v", err)
	}
	prev := m.Previous()
	if got := cal.MonthKey(prev.Start); got != "2025-02" {
		t.Errorf("expected 2025-02, got %s", got)
	}
	if !prev.End.Equal(m.Start) {
		t.Errorf("previous month should end where March starts")
	}
	if next := m.Next(); cal.MonthKey(next.Start) != "2025-04" {
		t.Errorf("expected April after March, got %s", next)
	}

	if _, err := cal.ParseMonth("March"); !errors.Is(err, generic.ErrInvalidPeriod) {
		t.Errorf("expected ErrInvalidPeriod, got %v", err)
	}
}

func TestCalendar_PreviousDayAcrossMonthBoundary(t *testing.T) {
	cal := generic.NewCalendar(time.UTC)

	d, err := cal.ParseDay("2025-03-01")
	if err != nil {
		t.Fatalf("parse day: %v", err)
	}
	if got := cal.DayKey(d.Previous().Start); got != "2025-02-28" {
		t.Errorf("expected 2025-02-28, got %s", got)
	}
	if d.End.Sub(d.Start) != 24*time.Hour {
		t.Errorf("expected 24h day in UTC, got %s", d.End.Sub(d.Start))
	}
}

func TestFixedClock_Advance(t *testing.T) {
	c := &generic.FixedClock{At: time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC)}
	c.Advance(90 * time.Minute)
	if c.Now().Hour() != 10 || c.Now().Minute() != 30 {
		t.Errorf("expected 10:30, got %s", c.Now())
	}
}
