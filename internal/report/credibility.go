package report

// Transition returns the counter delta for moving a user's vote from prev to
// next. changed is false when the vote is unchanged; the tally must then be
// left alone.
func Transition(prev, next Vote) (d Delta, changed bool) {
	if prev == next {
		return Delta{}, false
	}
	switch prev {
	case VoteUp:
		d.Up--
	case VoteDown:
		d.Down--
	}
	switch next {
	case VoteUp:
		d.Up++
	case VoteDown:
		d.Down++
	}
	return d, true
}

// CurrentVoteOf returns the user's vote on r, or VoteNone.
func CurrentVoteOf(r Report, userID string) Vote {
	return r.UserVotes[userID]
}

// Apply applies u to r in place. It is the reference semantics of
// Store.ApplyVote for backends that hold reports in memory.
func Apply(r *Report, u VoteUpdate) error {
	if r.UserVotes[u.UserID] != u.Prev {
		return ErrVoteConflict
	}
	if r.UserVotes == nil {
		r.UserVotes = make(map[string]Vote)
	}
	r.UserVotes[u.UserID] = u.Next
	r.Upvotes += u.Delta.Up
	r.Downvotes += u.Delta.Down
	return nil
}
