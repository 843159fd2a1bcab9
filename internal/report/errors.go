package report

import "errors"

var (
	// ErrStoreUnavailable means the persistent store could not be reached or
	// did not answer within the call timeout.
	ErrStoreUnavailable = errors.New("report store unavailable")
	ErrNotFound         = errors.New("report not found")
	ErrUnauthorized     = errors.New("not the report creator")
	ErrInvalidInput     = errors.New("invalid input")
	// ErrVoteConflict is returned by Store.ApplyVote when the user's stored
	// vote no longer matches VoteUpdate.Prev.
	ErrVoteConflict = errors.New("concurrent vote update")
)
