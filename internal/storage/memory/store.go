// Package memory implements storage interfaces in process memory
package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/sirosfoundation/go-ksef/internal/storage"
)

// Store implements storage.Store with a map
type Store struct {
	mu          sync.RWMutex
	submissions map[string]*storage.Submission
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{submissions: make(map[string]*storage.Submission)}
}

func (s *Store) Close(ctx context.Context) error {
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return nil
}

func (s *Store) SaveSubmission(ctx context.Context, sub *storage.Submission) error {
	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	c := *sub
	c.UPO = slices.Clone(sub.UPO)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.submissions[sub.ID] = &c
	return nil
}

func (s *Store) GetSubmission(ctx context.Context, id string) (*storage.Submission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sub, ok := s.submissions[id]
	if !ok {
		return nil, nil
	}
	c := *sub
	return &c, nil
}

func (s *Store) GetSubmissionByKsefNumber(ctx context.Context, ksefNumber string) (*storage.Submission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sub := range s.submissions {
		if sub.KsefNumber == ksefNumber {
			c := *sub
			return &c, nil
		}
	}
	return nil, nil
}

func (s *Store) ListSubmissions(ctx context.Context, filter *storage.SubmissionFilter) ([]*storage.Submission, error) {
	s.mu.RLock()
	var out []*storage.Submission
	for _, sub := range s.submissions {
		if filter.Matches(sub) {
			c := *sub
			out = append(out, &c)
		}
	}
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b *storage.Submission) int {
		return b.SubmittedAt.Compare(a.SubmittedAt)
	})

	if filter != nil {
		if filter.Offset > 0 {
			out = out[min(filter.Offset, len(out)):]
		}
		if filter.Limit > 0 && len(out) > filter.Limit {
			out = out[:filter.Limit]
		}
	}
	return out, nil
}

func (s *Store) CountSubmissions(ctx context.Context, filter *storage.SubmissionFilter) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int64
	for _, sub := range s.submissions {
		if filter.Matches(sub) {
			n++
		}
	}
	return n, nil
}

var _ storage.Store = (*Store)(nil)
