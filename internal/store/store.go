// Package store defines the persistence interface for the AMM engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing and development).
package store

import (
	"context"
	"errors"

	"github.com/atmx/adaptive-amm/internal/model"
)

// ErrNotFound is returned when a pool does not exist.
var ErrNotFound = errors.New("store: not found")

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	// --- Pool snapshots ---

	// SavePool inserts or replaces the snapshot of a pool. CreatedAt of an
	// existing pool is preserved.
	SavePool(ctx context.Context, p *model.Pool) error

	// GetPool retrieves a pool snapshot by ID.
	GetPool(ctx context.Context, id string) (*model.Pool, error)

	// ListPools returns all pool snapshots, newest first.
	ListPools(ctx context.Context) ([]model.Pool, error)

	// --- Immutable event log ---

	// InsertEvent appends an immutable event record.
	InsertEvent(ctx context.Context, e *model.Event) error

	// ListEvents returns the most recent limit events of a pool in
	// chronological order. limit <= 0 returns all of them.
	ListEvents(ctx context.Context, poolID string, limit int) ([]model.Event, error)

	// ListEventsByAccount returns all events caused by an account.
	ListEventsByAccount(ctx context.Context, account string) ([]model.Event, error)
}

func clonePool(p *model.Pool) *model.Pool {
	c := *p
	c.Shares = make(map[string]string, len(p.Shares))
	for owner, s := range p.Shares {
		c.Shares[owner] = s
	}
	return &c
}

func cloneEvent(e *model.Event) model.Event {
	c := *e
	if e.Params != nil {
		params := *e.Params
		c.Params = &params
	}
	return c
}

// tail keeps the last limit entries.
func tail(events []model.Event, limit int) []model.Event {
	if limit > 0 && len(events) > limit {
		return events[len(events)-limit:]
	}
	return events
}
