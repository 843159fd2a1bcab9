package report

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"railsight/internal/daywindow"
	"railsight/internal/timetable"
)

const (
	defaultStoreTimeout = 3 * time.Second
	defaultVoteRetries  = 3
)

// Metrics receives engine instrumentation. A nil Metrics disables it.
type Metrics interface {
	StoreCall(op string, d time.Duration, err error)
	ReportSubmitted(dir timetable.Direction)
	VoteCast(v Vote, outcome string)
	ReportDeleted(outcome string)
}

type EventKind string

const (
	EventCreated EventKind = "created"
	EventVoted   EventKind = "voted"
	EventDeleted EventKind = "deleted"
)

// Event describes a report lifecycle change for downstream consumers.
type Event struct {
	Kind   EventKind `json:"kind"`
	Report Report    `json:"report"`
	// UserID is the voter on EventVoted and empty otherwise; creators are
	// never published.
	UserID string    `json:"userId,omitempty"`
	Vote   Vote      `json:"vote,omitempty"`
	At     time.Time `json:"at"`
}

// Notifier publishes lifecycle events. Failures never fail the interaction.
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

type EngineParam struct {
	Store     Store
	Timetable *timetable.Index
	Catalog   *timetable.Catalog
	Location  *time.Location

	// Now defaults to time.Now.
	Now          func() time.Time
	StoreTimeout time.Duration
	VoteRetries  int

	Logger   *slog.Logger
	Metrics  Metrics
	Notifier Notifier
}

// Engine is what front-ends call. It holds no mutable state of its own and is
// safe for concurrent use.
type Engine struct {
	store    Store
	index    *timetable.Index
	catalog  *timetable.Catalog
	loc      *time.Location
	now      func() time.Time
	window   func() daywindow.Window
	timeout  time.Duration
	retries  int
	log      *slog.Logger
	metrics  Metrics
	notifier Notifier
	degraded bool
}

func NewEngine(p EngineParam) (*Engine, error) {
	if p.Store == nil {
		return nil, errors.New("report engine: store is required")
	}
	if p.Timetable == nil {
		return nil, errors.New("report engine: timetable is required")
	}
	if p.Catalog == nil {
		p.Catalog = timetable.NewCatalog(p.Timetable)
	}
	if p.Location == nil {
		p.Location = time.Local
	}
	if p.Now == nil {
		p.Now = time.Now
	}
	if p.StoreTimeout <= 0 {
		p.StoreTimeout = defaultStoreTimeout
	}
	if p.VoteRetries <= 0 {
		p.VoteRetries = defaultVoteRetries
	}
	if p.Logger == nil {
		p.Logger = slog.Default()
	}
	_, degraded := p.Store.(UnavailableStore)

	return &Engine{
		store:    p.Store,
		index:    p.Timetable,
		catalog:  p.Catalog,
		loc:      p.Location,
		now:      p.Now,
		window:   daywindow.Clock(p.Location, p.Now),
		timeout:  p.StoreTimeout,
		retries:  p.VoteRetries,
		log:      p.Logger,
		metrics:  p.Metrics,
		notifier: p.Notifier,
		degraded: degraded,
	}, nil
}

// Degraded reports whether the engine was started without a reachable store.
func (e *Engine) Degraded() bool { return e.degraded }

func (e *Engine) Location() *time.Location { return e.loc }

func (e *Engine) Timetable() *timetable.Index { return e.index }

func (e *Engine) Catalog() *timetable.Catalog { return e.catalog }

// Now is the current time in the line's timezone.
func (e *Engine) Now() time.Time { return e.now().In(e.loc) }

// Submit records a sighting of a train at station in direction, made now by
// creatorID.
func (e *Engine) Submit(ctx context.Context, station string, dir timetable.Direction, creatorID string) (Report, error) {
	station, err := e.catalog.Validate(station)
	if err != nil {
		return Report{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if !dir.Valid() {
		return Report{}, fmt.Errorf("%w: direction %q", ErrInvalidInput, dir)
	}
	creatorID = strings.TrimSpace(creatorID)
	if creatorID == "" {
		return Report{}, fmt.Errorf("%w: empty creator", ErrInvalidInput)
	}

	now := e.Now()
	r := Report{
		Station:     station,
		Direction:   dir,
		CreatedAt:   now,
		DisplayTime: now.Format("15:04"),
		CreatorID:   creatorID,
		UserVotes:   map[string]Vote{},
	}
	err = e.call(ctx, "create", func(ctx context.Context) error {
		id, err := e.store.Create(ctx, r)
		r.ID = id
		return err
	})
	if err != nil {
		e.log.Error("submit report failed", "station", station, "direction", dir, "err", err)
		return Report{}, err
	}
	if e.metrics != nil {
		e.metrics.ReportSubmitted(dir)
	}
	e.log.Info("report submitted", "id", r.ID, "station", station, "direction", dir, "time", r.DisplayTime)
	e.notify(ctx, Event{Kind: EventCreated, Report: r, At: now})
	return r, nil
}

// Today returns today's reports matching f, newest first. The day window
// overrides any range set on f. When the store is unavailable the result is
// an empty slice together with ErrStoreUnavailable.
func (e *Engine) Today(ctx context.Context, f Filter) ([]Report, error) {
	w := e.window()
	f.From, f.To = w.Start, w.End
	return e.find(ctx, f)
}

// MyReports returns every report created by userID, newest first, regardless
// of day.
func (e *Engine) MyReports(ctx context.Context, userID string) ([]Report, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return []Report{}, fmt.Errorf("%w: empty user", ErrInvalidInput)
	}
	return e.find(ctx, Filter{CreatorID: userID})
}

func (e *Engine) find(ctx context.Context, f Filter) ([]Report, error) {
	var found []Report
	err := e.call(ctx, "find", func(ctx context.Context) error {
		var err error
		found, err = e.store.Find(ctx, f)
		return err
	})
	if err != nil {
		if errors.Is(err, ErrStoreUnavailable) {
			e.log.Warn("report query degraded to empty result", "err", err)
		} else {
			e.log.Error("report query failed", "err", err)
		}
		return []Report{}, err
	}
	out := make([]Report, 0, len(found))
	for _, r := range found {
		r.CreatedAt = r.CreatedAt.In(e.loc)
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// Sightings is the grouped view of today's reports.
type Sightings struct {
	Buckets []Bucket `json:"buckets"`
	// Stations lists stations with at least one sighting. For a single
	// direction they are ordered by earliest sighting, otherwise by catalog
	// order.
	Stations []string `json:"stations"`
}

// Sightings groups today's reports. An empty dir covers both directions.
func (e *Engine) Sightings(ctx context.Context, dir timetable.Direction) (Sightings, error) {
	if dir != "" && !dir.Valid() {
		return Sightings{Buckets: []Bucket{}, Stations: []string{}}, fmt.Errorf("%w: direction %q", ErrInvalidInput, dir)
	}
	reports, err := e.Today(ctx, Filter{Direction: dir})
	if err != nil {
		return Sightings{Buckets: []Bucket{}, Stations: []string{}}, err
	}
	s := Sightings{Buckets: GroupByMinute(reports)}
	if dir != "" {
		s.Stations = OrderStationsByEarliestSighting(reports)
	} else {
		s.Stations = e.catalogOrder(reports)
	}
	return s, nil
}

func (e *Engine) catalogOrder(reports []Report) []string {
	seen := make(map[string]bool, len(reports))
	for _, r := range reports {
		seen[r.Station] = true
	}
	out := make([]string, 0, len(seen))
	for _, s := range e.catalog.AllStations() {
		if seen[s] {
			out = append(out, s)
		}
	}
	return out
}

// StationReports returns today's individual reports for one station and
// direction, newest first, with their tallies.
func (e *Engine) StationReports(ctx context.Context, station string, dir timetable.Direction) ([]Report, error) {
	station, err := e.catalog.Validate(station)
	if err != nil {
		return []Report{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if !dir.Valid() {
		return []Report{}, fmt.Errorf("%w: direction %q", ErrInvalidInput, dir)
	}
	return e.Today(ctx, Filter{Station: station, Direction: dir})
}

// CastVote records userID's vote on a report and returns the resulting tally.
// Repeating the current vote is a no-op. The counter change is applied by the
// store as a compare-and-set on the user's previous vote; a lost race is
// retried from a fresh read.
func (e *Engine) CastVote(ctx context.Context, reportID, userID string, v Vote) (Tally, error) {
	if v != VoteUp && v != VoteDown {
		return Tally{}, fmt.Errorf("%w: vote %q", ErrInvalidInput, v)
	}
	userID = strings.TrimSpace(userID)
	if reportID == "" || userID == "" {
		return Tally{}, fmt.Errorf("%w: empty report or user id", ErrInvalidInput)
	}

	for attempt := 1; attempt <= e.retries; attempt++ {
		r, err := e.findOne(ctx, reportID)
		if err != nil {
			e.voteOutcome(v, err)
			return Tally{}, err
		}
		prev := CurrentVoteOf(r, userID)
		delta, changed := Transition(prev, v)
		if !changed {
			if e.metrics != nil {
				e.metrics.VoteCast(v, "unchanged")
			}
			return r.Tally(), nil
		}

		var tally Tally
		err = e.call(ctx, "apply_vote", func(ctx context.Context) error {
			var err error
			tally, err = e.store.ApplyVote(ctx, reportID, VoteUpdate{UserID: userID, Prev: prev, Next: v, Delta: delta})
			return err
		})
		if errors.Is(err, ErrVoteConflict) {
			e.log.Debug("vote conflict, retrying", "id", reportID, "attempt", attempt)
			continue
		}
		if err != nil {
			e.voteOutcome(v, err)
			return Tally{}, err
		}

		e.voteOutcome(v, nil)
		r.Upvotes, r.Downvotes = tally.Upvotes, tally.Downvotes
		e.notify(ctx, Event{Kind: EventVoted, Report: r, UserID: userID, Vote: v, At: e.Now()})
		return tally, nil
	}
	e.voteOutcome(v, ErrVoteConflict)
	e.log.Warn("vote retries exhausted", "id", reportID, "retries", e.retries)
	return Tally{}, ErrVoteConflict
}

func (e *Engine) voteOutcome(v Vote, err error) {
	if e.metrics == nil {
		return
	}
	e.metrics.VoteCast(v, Outcome(err))
}

// CurrentVote returns userID's vote on the report, or VoteNone.
func (e *Engine) CurrentVote(ctx context.Context, reportID, userID string) (Vote, error) {
	r, err := e.findOne(ctx, reportID)
	if err != nil {
		return VoteNone, err
	}
	return CurrentVoteOf(r, strings.TrimSpace(userID)), nil
}

func (e *Engine) HasVoted(ctx context.Context, reportID, userID string) (bool, error) {
	v, err := e.CurrentVote(ctx, reportID, userID)
	return v != VoteNone, err
}

// Delete removes a report on behalf of its creator.
func (e *Engine) Delete(ctx context.Context, reportID, requesterID string) error {
	r, err := e.findOne(ctx, reportID)
	if err != nil {
		e.deleteOutcome(err)
		return err
	}
	if !CanDelete(r, requesterID) {
		e.log.Info("delete refused", "id", reportID, "requester", requesterID)
		e.deleteOutcome(ErrUnauthorized)
		return ErrUnauthorized
	}

	var n int64
	err = e.call(ctx, "delete", func(ctx context.Context) error {
		var err error
		n, err = e.store.Delete(ctx, reportID)
		return err
	})
	if err == nil && n == 0 {
		err = ErrNotFound
	}
	e.deleteOutcome(err)
	if err != nil {
		return err
	}
	e.log.Info("report deleted", "id", reportID)
	e.notify(ctx, Event{Kind: EventDeleted, Report: r, At: e.Now()})
	return nil
}

func (e *Engine) deleteOutcome(err error) {
	if e.metrics != nil {
		e.metrics.ReportDeleted(Outcome(err))
	}
}

func (e *Engine) findOne(ctx context.Context, id string) (Report, error) {
	if strings.TrimSpace(id) == "" {
		return Report{}, fmt.Errorf("%w: empty report id", ErrInvalidInput)
	}
	var r Report
	err := e.call(ctx, "find_one", func(ctx context.Context) error {
		var err error
		r, err = e.store.FindOne(ctx, id)
		return err
	})
	if err != nil {
		return Report{}, err
	}
	r.CreatedAt = r.CreatedAt.In(e.loc)
	return r, nil
}

// call bounds a store call by the configured timeout and records it. A
// deadline hit is reported as ErrStoreUnavailable.
func (e *Engine) call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	start := time.Now()
	err := fn(ctx)
	if err != nil && errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, ErrStoreUnavailable) {
		err = fmt.Errorf("%w: %s: %v", ErrStoreUnavailable, op, err)
	}
	if e.metrics != nil {
		e.metrics.StoreCall(op, time.Since(start), err)
	}
	return err
}

func (e *Engine) notify(ctx context.Context, ev Event) {
	if e.notifier == nil {
		return
	}
	if err := e.notifier.Notify(ctx, ev); err != nil {
		e.log.Warn("publish report event failed", "kind", ev.Kind, "id", ev.Report.ID, "err", err)
	}
}

// Outcome maps an error onto a low-cardinality metrics label.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrInvalidInput):
		return "invalid"
	case errors.Is(err, ErrVoteConflict):
		return "conflict"
	case errors.Is(err, ErrStoreUnavailable):
		return "unavailable"
	}
	return "error"
}
