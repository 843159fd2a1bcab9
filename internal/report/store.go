package report

import (
	"context"
	"fmt"
)

// Store is the persistent store boundary. Implementations assign IDs on
// Create, return copies, and wrap connectivity failures in
// ErrStoreUnavailable.
type Store interface {
	Create(ctx context.Context, r Report) (string, error)
	Find(ctx context.Context, f Filter) ([]Report, error)
	// FindOne returns ErrNotFound when no report has the id.
	FindOne(ctx context.Context, id string) (Report, error)
	// ApplyVote performs u atomically. It returns ErrNotFound for an unknown
	// id and ErrVoteConflict when the stored vote is no longer u.Prev.
	ApplyVote(ctx context.Context, id string, u VoteUpdate) (Tally, error)
	Delete(ctx context.Context, id string) (int64, error)
}

// UnavailableStore stands in for a backend that could not be reached at
// startup. Every call fails with ErrStoreUnavailable.
type UnavailableStore struct {
	Reason error
}

func (s UnavailableStore) err() error {
	if s.Reason == nil {
		return ErrStoreUnavailable
	}
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, s.Reason)
}

func (s UnavailableStore) Create(context.Context, Report) (string, error) { return "", s.err() }
func (s UnavailableStore) Find(context.Context, Filter) ([]Report, error) { return nil, s.err() }
func (s UnavailableStore) FindOne(context.Context, string) (Report, error) {
	return Report{}, s.err()
}
func (s UnavailableStore) ApplyVote(context.Context, string, VoteUpdate) (Tally, error) {
	return Tally{}, s.err()
}
func (s UnavailableStore) Delete(context.Context, string) (int64, error) { return 0, s.err() }
