// Package timerange holds the half-open date ranges that generation and
// deletion operate on, and the calendar arithmetic that produces them.
package timerange

import (
	"fmt"
	"time"
)

// DefaultDays is the length of the trailing window.
const DefaultDays = 30

// Range is the half-open interval [Start, End).
type Range struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// New returns the range [start, end) or an error if start is not before end.
func New(start, end time.Time) (Range, error) {
	r := Range{Start: start, End: end}
	if err := r.Validate(); err != nil {
		return Range{}, err
	}
	return r, nil
}

func (r Range) Validate() error {
	if !r.Start.Before(r.End) {
		return fmt.Errorf("range start %s is not before end %s", r.Start.Format(time.RFC3339), r.End.Format(time.RFC3339))
	}
	return nil
}

func (r Range) Duration() time.Duration {
	return r.End.Sub(r.Start)
}

// Overlaps reports whether [start, end) intersects r.
func (r Range) Overlaps(start, end time.Time) bool {
	return start.Before(r.End) && end.After(r.Start)
}

// Contains reports whether t falls inside r.
func (r Range) Contains(t time.Time) bool {
	return !t.Before(r.Start) && t.Before(r.End)
}

func (r Range) String() string {
	return fmt.Sprintf("[%s, %s)", r.Start.Format(time.RFC3339), r.End.Format(time.RFC3339))
}

// Midnight returns the start of t's calendar day in t's location.
func Midnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// AddDays moves t by n calendar days, keeping the wall clock where the
// location allows it. Days are 23 or 25 hours long across DST changes.
func AddDays(t time.Time, n int) time.Time {
	y, m, d := t.Date()
	hh, mm, ss := t.Clock()
	return time.Date(y, m, d+n, hh, mm, ss, t.Nanosecond(), t.Location())
}

// Day returns the calendar day that is k days before now's day:
// [midnight(now) - k days, midnight(now) - (k-1) days).
func Day(now time.Time, k int) Range {
	start := AddDays(Midnight(now), -k)
	return Range{Start: start, End: AddDays(start, 1)}
}

// Days returns the n trailing day ranges, today first.
func Days(now time.Time, n int) []Range {
	days := make([]Range, 0, n)
	for k := 0; k < n; k++ {
		days = append(days, Day(now, k))
	}
	return days
}

// Trailing returns the window [now - days, midnight(now) + 1 day).
// The end is clamped to tomorrow's midnight so today is included.
func Trailing(now time.Time, days int) Range {
	return Range{
		Start: AddDays(now, -days),
		End:   AddDays(Midnight(now), 1),
	}
}

// Split returns the calendar days covering r, clipped to r.
// Used for explicit windows chosen by the caller.
func Split(r Range) []Range {
	var days []Range
	for start := r.Start; start.Before(r.End); {
		end := AddDays(Midnight(start), 1)
		if end.After(r.End) {
			end = r.End
		}
		days = append(days, Range{Start: start, End: end})
		start = end
	}
	return days
}
