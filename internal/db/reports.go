package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"railsight/internal/report"
	"railsight/internal/timetable"
)

const reportColumns = `id, station, direction, created_at, display_time, creator_id, upvotes, downvotes, user_votes`

// ReportStore implements report.Store on PostgreSQL. Vote counters are only
// changed by a single conditional UPDATE, so concurrent voters never lose
// each other's increments.
type ReportStore struct {
	db *sql.DB
}

func NewReportStore(db *sql.DB) *ReportStore {
	return &ReportStore{db: db}
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", report.ErrStoreUnavailable, op, err)
}

func (s *ReportStore) Create(ctx context.Context, r report.Report) (string, error) {
	votes, err := json.Marshal(nonNilVotes(r.UserVotes))
	if err != nil {
		return "", err
	}
	id := uuid.NewString()
	q := `INSERT INTO reports (` + reportColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::jsonb)`
	_, err = s.db.ExecContext(ctx, q,
		id, r.Station, string(r.Direction), r.CreatedAt, r.DisplayTime, r.CreatorID, r.Upvotes, r.Downvotes, string(votes))
	if err != nil {
		return "", unavailable("insert report", err)
	}
	return id, nil
}

func (s *ReportStore) Find(ctx context.Context, f report.Filter) ([]report.Report, error) {
	var conds []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.Station != "" {
		add("station = $%d", f.Station)
	}
	if f.Direction != "" {
		add("direction = $%d", string(f.Direction))
	}
	if f.CreatorID != "" {
		add("creator_id = $%d", f.CreatorID)
	}
	if !f.From.IsZero() {
		add("created_at >= $%d", f.From)
	}
	if !f.To.IsZero() {
		add("created_at < $%d", f.To)
	}

	q := `SELECT ` + reportColumns + ` FROM reports`
	if len(conds) > 0 {
		q += ` WHERE ` + strings.Join(conds, " AND ")
	}
	q += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, unavailable("query reports", err)
	}
	defer rows.Close()

	var out []report.Report
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("query reports", err)
	}
	return out, nil
}

func (s *ReportStore) FindOne(ctx context.Context, id string) (report.Report, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+reportColumns+` FROM reports WHERE id = $1`, id)
	r, err := scanReport(row)
	if errors.Is(err, sql.ErrNoRows) {
		return report.Report{}, report.ErrNotFound
	}
	return r, err
}

// ApplyVote sets the user's vote and moves the counters in one statement,
// guarded by the user's previous vote. Zero affected rows means either the id
// is unknown or another request changed the vote first.
func (s *ReportStore) ApplyVote(ctx context.Context, id string, u report.VoteUpdate) (report.Tally, error) {
	q := `UPDATE reports
SET user_votes = jsonb_set(user_votes, ARRAY[$2::text], to_jsonb($3::text), true),
    upvotes = upvotes + $4,
    downvotes = downvotes + $5
WHERE id = $1 AND COALESCE(user_votes->>($2::text), '') = $6
RETURNING upvotes, downvotes`

	var t report.Tally
	err := s.db.QueryRowContext(ctx, q, id, u.UserID, string(u.Next), u.Delta.Up, u.Delta.Down, string(u.Prev)).
		Scan(&t.Upvotes, &t.Downvotes)
	if err == nil {
		return t, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return report.Tally{}, unavailable("apply vote", err)
	}

	var exists bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM reports WHERE id = $1)`, id).Scan(&exists); err != nil {
		return report.Tally{}, unavailable("apply vote", err)
	}
	if !exists {
		return report.Tally{}, report.ErrNotFound
	}
	return report.Tally{}, report.ErrVoteConflict
}

func (s *ReportStore) Delete(ctx context.Context, id string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM reports WHERE id = $1`, id)
	if err != nil {
		return 0, unavailable("delete report", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, unavailable("delete report", err)
	}
	return n, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanReport(sc scanner) (report.Report, error) {
	var r report.Report
	var dir string
	var votes []byte
	err := sc.Scan(&r.ID, &r.Station, &dir, &r.CreatedAt, &r.DisplayTime, &r.CreatorID, &r.Upvotes, &r.Downvotes, &votes)
	if errors.Is(err, sql.ErrNoRows) {
		return report.Report{}, err
	}
	if err != nil {
		return report.Report{}, unavailable("scan report", err)
	}
	r.Direction = timetable.Direction(dir)
	r.UserVotes = map[string]report.Vote{}
	if len(votes) > 0 {
		if err := json.Unmarshal(votes, &r.UserVotes); err != nil {
			return report.Report{}, fmt.Errorf("decode user_votes of %s: %w", r.ID, err)
		}
	}
	return r, nil
}

func nonNilVotes(m map[string]report.Vote) map[string]report.Vote {
	if m == nil {
		return map[string]report.Vote{}
	}
	return m
}
