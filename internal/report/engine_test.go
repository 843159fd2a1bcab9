package report_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"railsight/internal/memstore"
	"railsight/internal/report"
	"railsight/internal/timetable"
)

var algiers = func() *time.Location {
	loc, err := time.LoadLocation("Africa/Algiers")
	if err != nil {
		panic(err)
	}
	return loc
}()

type fixture struct {
	engine  *report.Engine
	store   *memstore.Store
	now     time.Time
	events  *recorder
	metrics *metricsRecorder
	clockMu sync.Mutex
}

func (f *fixture) setNow(t time.Time) {
	f.clockMu.Lock()
	defer f.clockMu.Unlock()
	f.now = t
}

func (f *fixture) clock() time.Time {
	f.clockMu.Lock()
	defer f.clockMu.Unlock()
	return f.now
}

type recorder struct {
	mu     sync.Mutex
	events []report.Event
	err    error
}

func (r *recorder) Notify(_ context.Context, ev report.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return r.err
}

func (r *recorder) kinds() []report.EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []report.EventKind
	for _, ev := range r.events {
		out = append(out, ev.Kind)
	}
	return out
}

type metricsRecorder struct {
	mu      sync.Mutex
	calls   map[string]int
	votes   map[string]int
	deletes map[string]int
}

func newMetricsRecorder() *metricsRecorder {
	return &metricsRecorder{calls: map[string]int{}, votes: map[string]int{}, deletes: map[string]int{}}
}

func (m *metricsRecorder) StoreCall(op string, _ time.Duration, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[op+":"+report.Outcome(err)]++
}
func (m *metricsRecorder) ReportSubmitted(timetable.Direction) {}
func (m *metricsRecorder) VoteCast(v report.Vote, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.votes[string(v)+":"+outcome]++
}
func (m *metricsRecorder) ReportDeleted(outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deletes[outcome]++
}

func testTimetable(t *testing.T) *timetable.Index {
	t.Helper()
	idx, err := timetable.NewIndex(
		[]timetable.StationTimes{{Station: "Alger"}, {Station: "El Harrach"}, {Station: "Blida"}},
		[]timetable.StationTimes{{Station: "Blida"}, {Station: "El Harrach"}, {Station: "Alger"}, {Station: "Agha"}},
	)
	require.NoError(t, err)
	return idx
}

func newFixture(t *testing.T, store report.Store) *fixture {
	t.Helper()
	f := &fixture{
		now:     time.Date(2024, 5, 14, 8, 0, 0, 0, algiers),
		events:  &recorder{},
		metrics: newMetricsRecorder(),
	}
	if store == nil {
		f.store = memstore.New()
		store = f.store
	}
	e, err := report.NewEngine(report.EngineParam{
		Store:        store,
		Timetable:    testTimetable(t),
		Location:     algiers,
		Now:          f.clock,
		StoreTimeout: 200 * time.Millisecond,
		Metrics:      f.metrics,
		Notifier:     f.events,
	})
	require.NoError(t, err)
	f.engine = e
	return f
}

func (f *fixture) submit(t *testing.T, station string, dir timetable.Direction, user string, at time.Time) report.Report {
	t.Helper()
	f.setNow(at)
	r, err := f.engine.Submit(context.Background(), station, dir, user)
	require.NoError(t, err)
	return r
}

func TestSubmit(t *testing.T) {
	f := newFixture(t, nil)
	r := f.submit(t, " Blida ", timetable.Outbound, "42", time.Date(2024, 5, 14, 8, 15, 42, 0, algiers))

	assert.NotEmpty(t, r.ID)
	assert.Equal(t, "Blida", r.Station)
	assert.Equal(t, "08:15", r.DisplayTime)
	assert.Equal(t, "42", r.CreatorID)

	stored, err := f.store.FindOne(context.Background(), r.ID)
	require.NoError(t, err)
	assert.True(t, stored.CreatedAt.Equal(r.CreatedAt))
	assert.Equal(t, []report.EventKind{report.EventCreated}, f.events.kinds())
}

func TestSubmit_InvalidInput(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.engine.Submit(ctx, "Oran", timetable.Outbound, "1")
	assert.ErrorIs(t, err, report.ErrInvalidInput)
	_, err = f.engine.Submit(ctx, "Blida", timetable.Direction("north"), "1")
	assert.ErrorIs(t, err, report.ErrInvalidInput)
	_, err = f.engine.Submit(ctx, "Blida", timetable.Outbound, "  ")
	assert.ErrorIs(t, err, report.ErrInvalidInput)
	assert.Equal(t, 0, f.store.Len())
}

func TestToday_DayWindow(t *testing.T) {
	f := newFixture(t, nil)
	midnight := time.Date(2024, 5, 15, 0, 0, 0, 0, algiers)

	f.submit(t, "Blida", timetable.Outbound, "1", midnight.Add(-time.Second))
	atMidnight := f.submit(t, "Blida", timetable.Outbound, "1", midnight)

	f.setNow(midnight.Add(6 * time.Hour))
	got, err := f.engine.Today(context.Background(), report.Filter{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, atMidnight.ID, got[0].ID)

	f.setNow(midnight.Add(-time.Minute))
	got, err = f.engine.Today(context.Background(), report.Filter{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.NotEqual(t, atMidnight.ID, got[0].ID)
}

func TestSightings(t *testing.T) {
	f := newFixture(t, nil)
	day := func(h, m, s int) time.Time { return time.Date(2024, 5, 14, h, m, s, 0, algiers) }

	f.submit(t, "Blida", timetable.Outbound, "1", day(9, 0, 10))
	f.submit(t, "Blida", timetable.Outbound, "2", day(9, 0, 40))
	f.submit(t, "El Harrach", timetable.Outbound, "3", day(8, 20, 0))
	f.submit(t, "Agha", timetable.Inbound, "4", day(7, 0, 0))
	f.submit(t, "Alger", timetable.Inbound, "5", day(7, 30, 0))

	f.setNow(day(12, 0, 0))
	s, err := f.engine.Sightings(context.Background(), timetable.Outbound)
	require.NoError(t, err)
	assert.Equal(t, []string{"El Harrach", "Blida"}, s.Stations)
	require.Len(t, s.Buckets, 2)
	assert.Equal(t, report.Bucket{Station: "Blida", Direction: timetable.Outbound, Minute: 9 * 60, Count: 2}, s.Buckets[0])

	all, err := f.engine.Sightings(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, []string{"Alger", "El Harrach", "Blida", "Agha"}, all.Stations)
	assert.Len(t, all.Buckets, 4)

	_, err = f.engine.Sightings(context.Background(), timetable.Direction("up"))
	assert.ErrorIs(t, err, report.ErrInvalidInput)
}

func TestStationReports(t *testing.T) {
	f := newFixture(t, nil)
	first := f.submit(t, "Blida", timetable.Outbound, "1", time.Date(2024, 5, 14, 9, 0, 0, 0, algiers))
	second := f.submit(t, "Blida", timetable.Outbound, "2", time.Date(2024, 5, 14, 9, 5, 0, 0, algiers))
	f.submit(t, "Blida", timetable.Inbound, "3", time.Date(2024, 5, 14, 9, 6, 0, 0, algiers))

	got, err := f.engine.StationReports(context.Background(), "Blida", timetable.Outbound)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, second.ID, got[0].ID)
	assert.Equal(t, first.ID, got[1].ID)

	_, err = f.engine.StationReports(context.Background(), "Nowhere", timetable.Outbound)
	assert.ErrorIs(t, err, report.ErrInvalidInput)
}

func TestCastVote(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	r := f.submit(t, "Blida", timetable.Outbound, "creator", f.clock())

	tally, err := f.engine.CastVote(ctx, r.ID, "u1", report.VoteUp)
	require.NoError(t, err)
	assert.Equal(t, report.Tally{Upvotes: 1}, tally)

	// repeat is a no-op
	tally, err = f.engine.CastVote(ctx, r.ID, "u1", report.VoteUp)
	require.NoError(t, err)
	assert.Equal(t, report.Tally{Upvotes: 1}, tally)

	tally, err = f.engine.CastVote(ctx, r.ID, "u2", report.VoteDown)
	require.NoError(t, err)
	assert.Equal(t, report.Tally{Upvotes: 1, Downvotes: 1}, tally)

	// switch
	tally, err = f.engine.CastVote(ctx, r.ID, "u1", report.VoteDown)
	require.NoError(t, err)
	assert.Equal(t, report.Tally{Downvotes: 2}, tally)

	v, err := f.engine.CurrentVote(ctx, r.ID, "u1")
	require.NoError(t, err)
	assert.Equal(t, report.VoteDown, v)

	voted, err := f.engine.HasVoted(ctx, r.ID, "u3")
	require.NoError(t, err)
	assert.False(t, voted)

	assert.Equal(t, 1, f.metrics.votes["up:unchanged"])
	assert.Equal(t, []report.EventKind{report.EventCreated, report.EventVoted, report.EventVoted, report.EventVoted}, f.events.kinds())
}

func TestCastVote_Errors(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.engine.CastVote(ctx, "missing", "u1", report.VoteUp)
	assert.ErrorIs(t, err, report.ErrNotFound)

	_, err = f.engine.CastVote(ctx, "missing", "u1", report.Vote("meh"))
	assert.ErrorIs(t, err, report.ErrInvalidInput)

	_, err = f.engine.CastVote(ctx, "", "u1", report.VoteUp)
	assert.ErrorIs(t, err, report.ErrInvalidInput)
}

func TestCastVote_ConcurrentUsers(t *testing.T) {
	f := newFixture(t, nil)
	r := f.submit(t, "Blida", timetable.Outbound, "creator", f.clock())

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v := report.VoteUp
			if i%4 == 0 {
				v = report.VoteDown
			}
			_, err := f.engine.CastVote(context.Background(), r.ID, string(rune('A'+i)), v)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	got, err := f.store.FindOne(context.Background(), r.ID)
	require.NoError(t, err)
	assert.Equal(t, 30, got.Upvotes)
	assert.Equal(t, 10, got.Downvotes)
	assert.Len(t, got.UserVotes, 40)
}

// conflictStore loses the compare-and-set race a fixed number of times.
type conflictStore struct {
	*memstore.Store
	mu        sync.Mutex
	conflicts int
}

func (s *conflictStore) ApplyVote(ctx context.Context, id string, u report.VoteUpdate) (report.Tally, error) {
	s.mu.Lock()
	if s.conflicts > 0 {
		s.conflicts--
		s.mu.Unlock()
		return report.Tally{}, report.ErrVoteConflict
	}
	s.mu.Unlock()
	return s.Store.ApplyVote(ctx, id, u)
}

func TestCastVote_RetriesConflict(t *testing.T) {
	cs := &conflictStore{Store: memstore.New(), conflicts: 2}
	f := newFixture(t, cs)
	id, err := cs.Create(context.Background(), report.Report{Station: "Blida", Direction: timetable.Outbound, CreatedAt: f.clock(), CreatorID: "c"})
	require.NoError(t, err)

	tally, err := f.engine.CastVote(context.Background(), id, "u", report.VoteUp)
	require.NoError(t, err)
	assert.Equal(t, report.Tally{Upvotes: 1}, tally)
}

func TestCastVote_RetriesExhausted(t *testing.T) {
	cs := &conflictStore{Store: memstore.New(), conflicts: 10}
	f := newFixture(t, cs)
	id, err := cs.Create(context.Background(), report.Report{Station: "Blida", Direction: timetable.Outbound, CreatedAt: f.clock(), CreatorID: "c"})
	require.NoError(t, err)

	_, err = f.engine.CastVote(context.Background(), id, "u", report.VoteUp)
	assert.ErrorIs(t, err, report.ErrVoteConflict)

	r, err := cs.FindOne(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 0, r.Upvotes)
	assert.Empty(t, r.UserVotes)
}

func TestDelete(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	r := f.submit(t, "Blida", timetable.Outbound, "owner", f.clock())

	err := f.engine.Delete(ctx, r.ID, "intruder")
	assert.ErrorIs(t, err, report.ErrUnauthorized)
	still, err := f.store.FindOne(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, r.ID, still.ID)

	require.NoError(t, f.engine.Delete(ctx, r.ID, " owner"))
	_, err = f.store.FindOne(ctx, r.ID)
	assert.ErrorIs(t, err, report.ErrNotFound)

	err = f.engine.Delete(ctx, r.ID, "owner")
	assert.ErrorIs(t, err, report.ErrNotFound)

	assert.Equal(t, 1, f.metrics.deletes["ok"])
	assert.Equal(t, 1, f.metrics.deletes["unauthorized"])
	assert.Equal(t, 1, f.metrics.deletes["not_found"])
}

// racingDeleteStore reports zero deleted rows, as if another request removed
// the report between the ownership check and the delete.
type racingDeleteStore struct{ *memstore.Store }

func (s racingDeleteStore) Delete(context.Context, string) (int64, error) { return 0, nil }

func TestDelete_ConcurrentlyRemoved(t *testing.T) {
	rs := racingDeleteStore{memstore.New()}
	f := newFixture(t, rs)
	id, err := rs.Create(context.Background(), report.Report{Station: "Blida", CreatorID: "owner"})
	require.NoError(t, err)

	err = f.engine.Delete(context.Background(), id, "owner")
	assert.ErrorIs(t, err, report.ErrNotFound)
}

func TestMyReports(t *testing.T) {
	f := newFixture(t, nil)
	yesterday := time.Date(2024, 5, 13, 22, 0, 0, 0, algiers)
	f.submit(t, "Blida", timetable.Outbound, "me", yesterday)
	f.submit(t, "Alger", timetable.Inbound, "me", yesterday.Add(4*time.Hour))
	f.submit(t, "Alger", timetable.Inbound, "you", yesterday.Add(5*time.Hour))

	got, err := f.engine.MyReports(context.Background(), "me")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Alger", got[0].Station)

	_, err = f.engine.MyReports(context.Background(), "")
	assert.ErrorIs(t, err, report.ErrInvalidInput)
}

func TestDegradedStore(t *testing.T) {
	f := newFixture(t, report.UnavailableStore{Reason: errors.New("dial tcp: connection refused")})
	ctx := context.Background()
	assert.True(t, f.engine.Degraded())

	got, err := f.engine.Today(ctx, report.Filter{})
	assert.ErrorIs(t, err, report.ErrStoreUnavailable)
	assert.NotNil(t, got)
	assert.Empty(t, got)

	s, err := f.engine.Sightings(ctx, timetable.Outbound)
	assert.ErrorIs(t, err, report.ErrStoreUnavailable)
	assert.Empty(t, s.Buckets)

	_, err = f.engine.Submit(ctx, "Blida", timetable.Outbound, "1")
	assert.ErrorIs(t, err, report.ErrStoreUnavailable)

	_, err = f.engine.CastVote(ctx, "x", "1", report.VoteUp)
	assert.ErrorIs(t, err, report.ErrStoreUnavailable)

	err = f.engine.Delete(ctx, "x", "1")
	assert.ErrorIs(t, err, report.ErrStoreUnavailable)
	assert.Empty(t, f.events.kinds())
}

// hangingStore never answers until the context is done.
type hangingStore struct{ report.UnavailableStore }

func (hangingStore) Find(ctx context.Context, _ report.Filter) ([]report.Report, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestStoreTimeout(t *testing.T) {
	f := newFixture(t, hangingStore{})
	start := time.Now()
	got, err := f.engine.Today(context.Background(), report.Filter{})
	assert.ErrorIs(t, err, report.ErrStoreUnavailable)
	assert.Empty(t, got)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, 1, f.metrics.calls["find:unavailable"])
}

func TestEventsOnlyCarryVoters(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	r := f.submit(t, "Blida", timetable.Outbound, "owner", f.clock())
	_, err := f.engine.CastVote(ctx, r.ID, "voter", report.VoteUp)
	require.NoError(t, err)
	require.NoError(t, f.engine.Delete(ctx, r.ID, "owner"))

	f.events.mu.Lock()
	defer f.events.mu.Unlock()
	require.Len(t, f.events.events, 3)
	assert.Empty(t, f.events.events[0].UserID)
	assert.Equal(t, "voter", f.events.events[1].UserID)
	assert.Empty(t, f.events.events[2].UserID)
}

func TestNotifierFailureDoesNotFailSubmit(t *testing.T) {
	f := newFixture(t, nil)
	f.events.err = errors.New("nats: connection closed")
	_, err := f.engine.Submit(context.Background(), "Blida", timetable.Outbound, "1")
	assert.NoError(t, err)
}
