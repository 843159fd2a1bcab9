// Package daywindow computes the local calendar day used to scope "today"
// queries.
package daywindow

import "time"

// Window is the half-open interval [Start, End).
type Window struct {
	Start time.Time
	End   time.Time
}

// Current returns the local day containing now in loc. End is the next local
// midnight, so a day crossing a DST transition is 23 or 25 hours long.
func Current(loc *time.Location, now time.Time) Window {
	if loc == nil {
		loc = time.Local
	}
	start := midnight(now.In(loc))
	y, m, d := start.Date()
	return Window{
		Start: start,
		End:   time.Date(y, m, d+1, 0, 0, 0, 0, loc),
	}
}

func midnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// Clock returns a window function bound to loc and a time source; the engine
// calls it on every query so the window rolls over at local midnight.
func Clock(loc *time.Location, now func() time.Time) func() Window {
	if now == nil {
		now = time.Now
	}
	return func() Window { return Current(loc, now()) }
}
