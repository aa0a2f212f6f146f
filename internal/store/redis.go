package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/atmx/adaptive-amm/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and refresh or invalidate the
// cache; reads check Redis first then fall back to the primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through ---

func (s *CachedStore) SavePool(ctx context.Context, p *model.Pool) error {
	if err := s.primary.SavePool(ctx, p); err != nil {
		return err
	}
	// CreatedAt may have been preserved by the primary; let the next read
	// repopulate instead of caching the caller's copy.
	s.rdb.Del(ctx, poolKey(p.ID))
	return nil
}

func (s *CachedStore) InsertEvent(ctx context.Context, e *model.Event) error {
	if err := s.primary.InsertEvent(ctx, e); err != nil {
		return err
	}
	s.rdb.Del(ctx, accountEventsKey(e.Account))
	return nil
}

// --- Read-through ---

func (s *CachedStore) GetPool(ctx context.Context, id string) (*model.Pool, error) {
	data, err := s.rdb.Get(ctx, poolKey(id)).Bytes()
	if err == nil {
		var p model.Pool
		if json.Unmarshal(data, &p) == nil {
			return &p, nil
		}
	}

	p, err := s.primary.GetPool(ctx, id)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(p); err == nil {
		s.rdb.Set(ctx, poolKey(id), data, s.ttl)
	}
	return p, nil
}

func (s *CachedStore) ListEventsByAccount(ctx context.Context, account string) ([]model.Event, error) {
	data, err := s.rdb.Get(ctx, accountEventsKey(account)).Bytes()
	if err == nil {
		var events []model.Event
		if json.Unmarshal(data, &events) == nil {
			return events, nil
		}
	}

	events, err := s.primary.ListEventsByAccount(ctx, account)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(events); err == nil {
		s.rdb.Set(ctx, accountEventsKey(account), data, s.ttl)
	}
	return events, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListPools(ctx context.Context) ([]model.Pool, error) {
	return s.primary.ListPools(ctx)
}

func (s *CachedStore) ListEvents(ctx context.Context, poolID string, limit int) ([]model.Event, error) {
	return s.primary.ListEvents(ctx, poolID, limit)
}

// --- Cache helpers ---

func poolKey(id string) string            { return fmt.Sprintf("amm:pool:%s", id) }
func accountEventsKey(acct string) string { return fmt.Sprintf("amm:events:account:%s", acct) }
