// Package redisstore keeps reports in Redis hashes, indexed by creation time
// and by creator.
//
// Layout, under a configurable prefix:
//
//	<prefix>:report:<id>          hash of report fields and counters
//	<prefix>:report:<id>:votes    hash user -> up|down
//	<prefix>:by_time              zset of ids scored by created_at (unix ms)
//	<prefix>:creator:<creator>    set of ids
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"railsight/internal/report"
	"railsight/internal/timetable"
)

const defaultPrefix = "railsight"

type Store struct {
	client *redis.Client
	prefix string
}

// Open parses redisURL (redis://host:port/db) and checks the connection.
func Open(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

func New(client *redis.Client, prefix string) *Store {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Store{client: client, prefix: prefix}
}

func (s *Store) reportKey(id string) string { return s.prefix + ":report:" + id }
func (s *Store) votesKey(id string) string { return s.prefix + ":report:" + id + ":votes" }
func (s *Store) timeKey() string { return s.prefix + ":by_time" }
func (s *Store) creatorKey(id string) string { return s.prefix + ":creator:" + id }

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", report.ErrStoreUnavailable, op, err)
}

func (s *Store) Create(ctx context.Context, r report.Report) (string, error) {
	id := uuid.NewString()
	fields := map[string]any{
		"station":      r.Station,
		"direction":    string(r.Direction),
		"created_at":   r.CreatedAt.UnixNano(),
		"display_time": r.DisplayTime,
		"creator_id":   r.CreatorID,
		"upvotes":      r.Upvotes,
		"downvotes":    r.Downvotes,
	}
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.reportKey(id), fields)
		if len(r.UserVotes) > 0 {
			votes := make(map[string]any, len(r.UserVotes))
			for u, v := range r.UserVotes {
				votes[u] = string(v)
			}
			pipe.HSet(ctx, s.votesKey(id), votes)
		}
		pipe.ZAdd(ctx, s.timeKey(), redis.Z{Score: float64(r.CreatedAt.UnixMilli()), Member: id})
		pipe.SAdd(ctx, s.creatorKey(r.CreatorID), id)
		return nil
	})
	if err != nil {
		return "", unavailable("create report", err)
	}
	return id, nil
}

func (s *Store) Find(ctx context.Context, f report.Filter) ([]report.Report, error) {
	var ids []string
	var err error
	if f.CreatorID != "" {
		ids, err = s.client.SMembers(ctx, s.creatorKey(f.CreatorID)).Result()
	} else {
		rng := &redis.ZRangeBy{Min: "-inf", Max: "+inf"}
		if !f.From.IsZero() {
			rng.Min = strconv.FormatInt(f.From.UnixMilli(), 10)
		}
		if !f.To.IsZero() {
			rng.Max = "(" + strconv.FormatInt(f.To.UnixMilli(), 10)
		}
		ids, err = s.client.ZRangeByScore(ctx, s.timeKey(), rng).Result()
	}
	if err != nil {
		return nil, unavailable("find reports", err)
	}

	reports, err := s.load(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := reports[:0]
	for _, r := range reports {
		if f.Match(r) {
			out = append(out, r)
		}
	}
	return out, nil
}

// load fetches reports by id in one pipeline, skipping ids whose hash has
// gone (deleted between the index read and the load).
func (s *Store) load(ctx context.Context, ids []string) ([]report.Report, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	type pending struct {
		fields *redis.MapStringStringCmd
		votes  *redis.MapStringStringCmd
	}
	cmds := make([]pending, len(ids))
	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pending{
				fields: pipe.HGetAll(ctx, s.reportKey(id)),
				votes:  pipe.HGetAll(ctx, s.votesKey(id)),
			}
		}
		return nil
	})
	if err != nil {
		return nil, unavailable("load reports", err)
	}

	out := make([]report.Report, 0, len(ids))
	for i, id := range ids {
		fields := cmds[i].fields.Val()
		if len(fields) == 0 {
			continue
		}
		r, err := decode(id, fields, cmds[i].votes.Val())
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *Store) FindOne(ctx context.Context, id string) (report.Report, error) {
	reports, err := s.load(ctx, []string{id})
	if err != nil {
		return report.Report{}, err
	}
	if len(reports) == 0 {
		return report.Report{}, report.ErrNotFound
	}
	return reports[0], nil
}

// applyVoteScript sets a user's vote and moves both counters only when the
// stored vote still equals the expected previous one. Other users' votes on
// the same report never make it fail.
// KEYS[1] = report hash
// KEYS[2] = votes hash
// ARGV[1] = user id
// ARGV[2] = expected previous vote ("" for none)
// ARGV[3] = next vote
// ARGV[4] = upvotes delta
// ARGV[5] = downvotes delta
// Returns {1, up, down} on success, {0} for a missing report, {-1} on conflict.
var applyVoteScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
    return {0}
end
local cur = redis.call("HGET", KEYS[2], ARGV[1])
if not cur then
    cur = ""
end
if cur ~= ARGV[2] then
    return {-1}
end
redis.call("HSET", KEYS[2], ARGV[1], ARGV[3])
local up = redis.call("HINCRBY", KEYS[1], "upvotes", ARGV[4])
local down = redis.call("HINCRBY", KEYS[1], "downvotes", ARGV[5])
return {1, up, down}
`)

// ApplyVote runs the compare-and-set as one Lua script, so only a race on
// the same user's vote reports ErrVoteConflict.
func (s *Store) ApplyVote(ctx context.Context, id string, u report.VoteUpdate) (report.Tally, error) {
	keys := []string{s.reportKey(id), s.votesKey(id)}
	res, err := applyVoteScript.Run(ctx, s.client, keys,
		u.UserID, string(u.Prev), string(u.Next), u.Delta.Up, u.Delta.Down).Int64Slice()
	if err != nil {
		return report.Tally{}, unavailable("apply vote", err)
	}
	if len(res) == 0 {
		return report.Tally{}, unavailable("apply vote", errors.New("empty script reply"))
	}
	switch res[0] {
	case 0:
		return report.Tally{}, report.ErrNotFound
	case -1:
		return report.Tally{}, report.ErrVoteConflict
	}
	if len(res) != 3 {
		return report.Tally{}, unavailable("apply vote", fmt.Errorf("unexpected script reply %v", res))
	}
	return report.Tally{Upvotes: int(res[1]), Downvotes: int(res[2])}, nil
}

func (s *Store) Delete(ctx context.Context, id string) (int64, error) {
	creator, err := s.client.HGet(ctx, s.reportKey(id), "creator_id").Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, unavailable("delete report", err)
	}

	var del *redis.IntCmd
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		del = pipe.Del(ctx, s.reportKey(id))
		pipe.Del(ctx, s.votesKey(id))
		pipe.ZRem(ctx, s.timeKey(), id)
		pipe.SRem(ctx, s.creatorKey(creator), id)
		return nil
	})
	if err != nil {
		return 0, unavailable("delete report", err)
	}
	return del.Val(), nil
}

func decode(id string, f map[string]string, votes map[string]string) (report.Report, error) {
	nanos, err := strconv.ParseInt(f["created_at"], 10, 64)
	if err != nil {
		return report.Report{}, fmt.Errorf("report %s: created_at: %w", id, err)
	}
	up, err := strconv.Atoi(f["upvotes"])
	if err != nil {
		return report.Report{}, fmt.Errorf("report %s: upvotes: %w", id, err)
	}
	down, err := strconv.Atoi(f["downvotes"])
	if err != nil {
		return report.Report{}, fmt.Errorf("report %s: downvotes: %w", id, err)
	}
	r := report.Report{
		ID:          id,
		Station:     f["station"],
		Direction:   timetable.Direction(f["direction"]),
		CreatedAt:   time.Unix(0, nanos),
		DisplayTime: f["display_time"],
		CreatorID:   f["creator_id"],
		Upvotes:     up,
		Downvotes:   down,
		UserVotes:   make(map[string]report.Vote, len(votes)),
	}
	for u, v := range votes {
		r.UserVotes[u] = report.Vote(v)
	}
	return r, nil
}
