package report

import (
	"fmt"
	"strings"
	"time"

	"railsight/internal/daywindow"
	"railsight/internal/timetable"
)

// Vote is a user's credibility judgement on a report.
type Vote string

const (
	VoteNone Vote = ""
	VoteUp   Vote = "up"
	VoteDown Vote = "down"
)

func ParseVote(s string) (Vote, error) {
	switch v := Vote(strings.ToLower(strings.TrimSpace(s))); v {
	case VoteUp, VoteDown:
		return v, nil
	}
	return VoteNone, fmt.Errorf("%w: vote %q", ErrInvalidInput, s)
}

// Report is a single user-submitted sighting.
type Report struct {
	ID          string              `json:"id"`
	Station     string              `json:"station"`
	Direction   timetable.Direction `json:"direction"`
	CreatedAt   time.Time           `json:"createdAt"`
	DisplayTime string              `json:"displayTime"`
	CreatorID   string              `json:"-"`
	Upvotes     int                 `json:"upvotes"`
	Downvotes   int                 `json:"downvotes"`
	UserVotes   map[string]Vote     `json:"-"`
}

// Tally is the displayed credibility of a report.
type Tally struct {
	Upvotes   int `json:"upvotes"`
	Downvotes int `json:"downvotes"`
}

func (r Report) Tally() Tally { return Tally{Upvotes: r.Upvotes, Downvotes: r.Downvotes} }

// Clone returns a deep copy; stores hand out clones so callers never alias
// stored state.
func (r Report) Clone() Report {
	c := r
	c.UserVotes = make(map[string]Vote, len(r.UserVotes))
	for u, v := range r.UserVotes {
		c.UserVotes[u] = v
	}
	return c
}

// Filter selects reports. Zero-valued fields do not constrain. The CreatedAt
// range is half-open: From <= CreatedAt < To.
type Filter struct {
	Station   string
	Direction timetable.Direction
	CreatorID string
	From      time.Time
	To        time.Time
}

// Match reports whether r satisfies f. Backends without a query language use
// it directly.
func (f Filter) Match(r Report) bool {
	if f.Station != "" && r.Station != f.Station {
		return false
	}
	if f.Direction != "" && r.Direction != f.Direction {
		return false
	}
	if f.CreatorID != "" && r.CreatorID != f.CreatorID {
		return false
	}
	switch {
	case !f.From.IsZero() && !f.To.IsZero():
		return daywindow.Window{Start: f.From, End: f.To}.Contains(r.CreatedAt)
	case !f.From.IsZero():
		return !r.CreatedAt.Before(f.From)
	case !f.To.IsZero():
		return r.CreatedAt.Before(f.To)
	}
	return true
}

// Delta is the signed change applied to (Upvotes, Downvotes).
type Delta struct {
	Up   int
	Down int
}

// VoteUpdate is the atomic operation handed to Store.ApplyVote: set
// UserVotes[UserID] = Next and apply Delta, only if the stored vote is still
// Prev.
type VoteUpdate struct {
	UserID string
	Prev   Vote
	Next   Vote
	Delta  Delta
}
