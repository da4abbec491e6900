package generic

import "time"

// =============================================================================
// PERIOD - The window every total is computed over
// =============================================================================

// Period is a half-open window [Start, End).
//
// Examples:
//   - Day 2025-03-10: [03-10 00:00, 03-11 00:00)
//   - Month 2025-03:  [03-01 00:00, 04-01 00:00)
type Period struct {
	Start time.Time
	End   time.Time
}

// Contains returns true if t is within [Start, End).
func (p Period) Contains(t time.Time) bool {
	return !t.Before(p.Start) && t.Before(p.End)
}

// Valid reports whether End is strictly after Start.
func (p Period) Valid() bool { return p.End.After(p.Start) }

// Previous returns the window of the same calendar length before this one.
// Days step back one day and months one month, so DST and month lengths
// are respected.
func (p Period) Previous() Period {
	if p.isMonth() {
		return Period{Start: p.Start.AddDate(0, -1, 0), End: p.Start}
	}
	return Period{Start: p.Start.AddDate(0, 0, -1), End: p.Start}
}

// Next returns the window following this one.
func (p Period) Next() Period {
	if p.isMonth() {
		return Period{Start: p.End, End: p.End.AddDate(0, 1, 0)}
	}
	return Period{Start: p.End, End: p.End.AddDate(0, 0, 1)}
}

func (p Period) isMonth() bool {
	return p.Start.Day() == 1 && p.End.Equal(p.Start.AddDate(0, 1, 0))
}

// String returns a string representation of the period.
func (p Period) String() string {
	return "[" + p.Start.Format(time.RFC3339) + ", " + p.End.Format(time.RFC3339) + ")"
}
