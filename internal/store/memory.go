package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/atmx/adaptive-amm/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu     sync.RWMutex
	pools  map[string]*model.Pool
	events []model.Event
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		pools: make(map[string]*model.Pool),
	}
}

func (s *MemoryStore) SavePool(_ context.Context, p *model.Pool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Store a copy to avoid external mutation.
	c := clonePool(p)
	if existing, ok := s.pools[p.ID]; ok {
		c.CreatedAt = existing.CreatedAt
	}
	s.pools[p.ID] = c
	return nil
}

func (s *MemoryStore) GetPool(_ context.Context, id string) (*model.Pool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.pools[id]
	if !ok {
		return nil, fmt.Errorf("pool %s: %w", id, ErrNotFound)
	}
	return clonePool(p), nil
}

func (s *MemoryStore) ListPools(_ context.Context) ([]model.Pool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pools := make([]model.Pool, 0, len(s.pools))
	for _, p := range s.pools {
		pools = append(pools, *clonePool(p))
	}
	sort.Slice(pools, func(i, j int) bool {
		if pools[i].CreatedAt.Equal(pools[j].CreatedAt) {
			return pools[i].ID < pools[j].ID
		}
		return pools[i].CreatedAt.After(pools[j].CreatedAt)
	})
	return pools, nil
}

func (s *MemoryStore) InsertEvent(_ context.Context, e *model.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events = append(s.events, cloneEvent(e))
	return nil
}

func (s *MemoryStore) ListEvents(_ context.Context, poolID string, limit int) ([]model.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Event
	for i := range s.events {
		if s.events[i].PoolID == poolID {
			result = append(result, cloneEvent(&s.events[i]))
		}
	}
	return tail(result, limit), nil
}

func (s *MemoryStore) ListEventsByAccount(_ context.Context, account string) ([]model.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Event
	for i := range s.events {
		if s.events[i].Account == account {
			result = append(result, cloneEvent(&s.events[i]))
		}
	}
	return result, nil
}
