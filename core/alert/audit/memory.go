package audit

import (
	"context"
	"sync"

	"github.com/fleetglide/dispatchd/core/model"
)

// MemoryStore keeps transitions in memory, used in tests and as the default
// when no backend is configured.
type MemoryStore struct {
	mu   sync.Mutex
	recs []model.AlertTransition
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore { return &MemoryStore{} }

func (s *MemoryStore) Append(_ context.Context, tr model.AlertTransition) error {
	s.mu.Lock()
	s.recs = append(s.recs, tr)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Query(_ context.Context, q Query) ([]model.AlertTransition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var res []model.AlertTransition
	for _, tr := range s.recs {
		if q.matches(tr) {
			res = append(res, tr)
		}
	}
	return res, nil
}

func (s *MemoryStore) Close() error { return nil }
