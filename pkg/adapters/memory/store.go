package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/aretw0/asyncworker/pkg/domain"
)

// Store implements ports.AtomicRunnerStore in memory.
// Safe for concurrent use.
type Store struct {
	data map[string]*domain.Runner
	mu   sync.RWMutex
}

// NewStore creates a new in-memory store.
func NewStore() *Store {
	return &Store{
		data: make(map[string]*domain.Runner),
	}
}

// Get returns a copy of the record, or a fresh idle record for an unknown id.
func (s *Store) Get(ctx context.Context, id string) (*domain.Runner, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.data[id]
	if !ok {
		return domain.NewRunner(id), nil
	}
	// Copy on read so callers can't mutate store state through the pointer
	return r.Clone(), nil
}

// Update upserts the record and assigns the next revision.
func (s *Store) Update(ctx context.Context, runner *domain.Runner) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.write(runner)
	return nil
}

// CompareAndSwap writes the record only if nobody wrote it since runner was read.
func (s *Store) CompareAndSwap(ctx context.Context, runner *domain.Runner) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var current int64
	if stored, ok := s.data[runner.ID]; ok {
		current = stored.Revision
	}
	if current != runner.Revision {
		return false, nil
	}

	s.write(runner)
	return true, nil
}

// write must be called with mu held.
func (s *Store) write(runner *domain.Runner) {
	var revision int64
	if stored, ok := s.data[runner.ID]; ok {
		revision = stored.Revision
	}
	runner.Revision = revision + 1
	runner.UpdatedAt = time.Now()
	s.data[runner.ID] = runner.Clone()
}

// List returns copies of all records, ordered by id.
func (s *Store) List(ctx context.Context) ([]*domain.Runner, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	runners := make([]*domain.Runner, 0, len(s.data))
	for _, r := range s.data {
		runners = append(runners, r.Clone())
	}
	sort.Slice(runners, func(i, j int) bool {
		return runners[i].ID < runners[j].ID
	})
	return runners, nil
}
