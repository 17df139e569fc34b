// Package memory provides the in-process match store. A single RWMutex
// inside the store is its atomicity primitive: predicates run and mutations
// commit while the write lock is held.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/okian/matchpoint/internal/adapters/repository"
	"github.com/okian/matchpoint/internal/domain/geo"
	"github.com/okian/matchpoint/internal/domain/model"
	"github.com/okian/matchpoint/pkg/metrics"
)

const driver = "memory"

// Store is an in-memory repository.Store.
type Store struct {
	mu      sync.RWMutex
	matches map[string]model.Match
	index   *geo.Index

	now     func() time.Time
	cellDeg float64
}

var _ repository.Store = (*Store)(nil)

// New creates an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		now:     time.Now,
		cellDeg: geo.DefaultCellDegrees,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.matches = make(map[string]model.Match)
	s.index = geo.NewIndex(s.cellDeg)
	return s
}

// Create implements repository.Store.
func (s *Store) Create(ctx context.Context, m model.Match) (model.Match, error) {
	if err := repository.ContextError(ctx); err != nil {
		return model.Match{}, err
	}
	m, err := repository.Prepare(m, s.now())
	if err != nil {
		return model.Match{}, err
	}

	s.mu.Lock()
	if _, exists := s.matches[m.ID]; exists {
		s.mu.Unlock()
		return model.Match{}, repository.ErrAlreadyExists
	}
	s.matches[m.ID] = m
	s.index.Put(m.ID, m.Location)
	count := len(s.matches)
	s.mu.Unlock()

	metrics.UpdateMatchesTotal(count)
	return m.Clone(), nil
}

// Get implements repository.Store.
func (s *Store) Get(ctx context.Context, id string) (model.Match, error) {
	if err := repository.ContextError(ctx); err != nil {
		return model.Match{}, err
	}
	start := time.Now()
	defer func() {
		metrics.RecordStoreQueryLatency(driver, float64(time.Since(start).Microseconds())/1000)
	}()

	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.matches[id]
	if !ok {
		return model.Match{}, repository.ErrNotFound
	}
	return m.Clone(), nil
}

// ConditionalUpdate implements repository.Store.
func (s *Store) ConditionalUpdate(ctx context.Context, id string, pred repository.Predicate, mut repository.Mutation) (model.Match, error) {
	if err := repository.ContextError(ctx); err != nil {
		return model.Match{}, err
	}
	start := time.Now()
	result := "applied"
	defer func() {
		metrics.RecordStoreUpdateLatency(driver, result, float64(time.Since(start).Microseconds())/1000)
	}()

	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.matches[id]
	if !ok {
		result = "not_found"
		return model.Match{}, repository.ErrNotFound
	}
	next, err := repository.Apply(current, pred, mut, s.now())
	if err != nil {
		result = "not_applied"
		return model.Match{}, err
	}
	s.matches[id] = next
	if next.Location != current.Location {
		s.index.Put(id, next.Location)
	}
	return next.Clone(), nil
}

// Query implements repository.Store. Results are ordered by id.
func (s *Store) Query(ctx context.Context, q repository.Query) ([]model.Match, error) {
	if err := repository.ContextError(ctx); err != nil {
		return nil, err
	}
	start := time.Now()
	defer func() {
		metrics.RecordStoreQueryLatency(driver, float64(time.Since(start).Microseconds())/1000)
	}()

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Match
	if q.Near != nil {
		for _, hit := range s.index.Within(*q.Near, q.RadiusMeters) {
			if m, ok := s.matches[hit.ID]; ok && repository.Matches(q, m) {
				out = append(out, m.Clone())
			}
		}
	} else {
		for _, m := range s.matches {
			if repository.Matches(q, m) {
				out = append(out, m.Clone())
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Count implements repository.Store.
func (s *Store) Count(_ context.Context) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.matches)
}
