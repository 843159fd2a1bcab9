// Package memstore is an in-process report store for development and tests.
package memstore

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"railsight/internal/report"
)

// Store implements report.Store in memory. Thread-safe via RWMutex; reports
// are copied on the way in and out.
type Store struct {
	mu      sync.RWMutex
	reports map[string]*report.Report
}

func New() *Store {
	return &Store{reports: make(map[string]*report.Report)}
}

func (s *Store) Create(ctx context.Context, r report.Report) (string, error) {
	c := r.Clone()
	c.ID = uuid.NewString()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports[c.ID] = &c
	return c.ID, nil
}

func (s *Store) Find(ctx context.Context, f report.Filter) ([]report.Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []report.Report
	for _, r := range s.reports {
		if f.Match(*r) {
			out = append(out, r.Clone())
		}
	}
	return out, nil
}

func (s *Store) FindOne(ctx context.Context, id string) (report.Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.reports[id]
	if !ok {
		return report.Report{}, report.ErrNotFound
	}
	return r.Clone(), nil
}

func (s *Store) ApplyVote(ctx context.Context, id string, u report.VoteUpdate) (report.Tally, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reports[id]
	if !ok {
		return report.Tally{}, report.ErrNotFound
	}
	if err := report.Apply(r, u); err != nil {
		return report.Tally{}, err
	}
	return r.Tally(), nil
}

func (s *Store) Delete(ctx context.Context, id string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.reports[id]; !ok {
		return 0, nil
	}
	delete(s.reports, id)
	return 1, nil
}

// Len returns the number of stored reports.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.reports)
}
