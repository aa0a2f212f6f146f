package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/adaptive-amm/internal/model"
)

func testPool(id string, created time.Time) *model.Pool {
	return &model.Pool{
		ID:          id,
		Symbol:      "ETH-USDC",
		Token0:      "ETH",
		Token1:      "USDC",
		Address:     "pool:" + id,
		Reserve0:    "1000",
		Reserve1:    "2000",
		TotalShares: "1414",
		Shares:      map[string]string{"alice": "1414"},
		EMAPrice:    "2000000000000000000",
		SpotPrice:   decimal.NewFromInt(2),
		CreatedAt:   created,
		UpdatedAt:   created,
	}
}

func TestMemoryStore_SaveAndGetPool(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	created := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	p := testPool("eth-usdc", created)
	if err := s.SavePool(ctx, p); err != nil {
		t.Fatalf("save: %v", err)
	}
	// Mutating the caller's copy must not leak into the store.
	p.Shares["mallory"] = "1"

	got, err := s.GetPool(ctx, "eth-usdc")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if _, ok := got.Shares["mallory"]; ok {
		t.Error("store shares aliased with caller")
	}
	if got.Reserve1 != "2000" || !got.SpotPrice.Equal(decimal.NewFromInt(2)) {
		t.Errorf("unexpected pool %+v", got)
	}
}

func TestMemoryStore_SavePoolPreservesCreatedAt(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	created := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	if err := s.SavePool(ctx, testPool("eth-usdc", created)); err != nil {
		t.Fatal(err)
	}
	update := testPool("eth-usdc", created.Add(time.Hour))
	update.Reserve0 = "1100"
	if err := s.SavePool(ctx, update); err != nil {
		t.Fatal(err)
	}

	got, _ := s.GetPool(ctx, "eth-usdc")
	if !got.CreatedAt.Equal(created) {
		t.Errorf("expected created_at %v, got %v", created, got.CreatedAt)
	}
	if got.Reserve0 != "1100" {
		t.Errorf("expected updated reserve, got %s", got.Reserve0)
	}
}

func TestMemoryStore_GetPoolNotFound(t *testing.T) {
	_, err := NewMemoryStore().GetPool(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStore_ListPoolsNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"a-b", "c-d", "e-f"} {
		if err := s.SavePool(ctx, testPool(id, base.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatal(err)
		}
	}

	pools, err := s.ListPools(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(pools) != 3 || pools[0].ID != "e-f" || pools[2].ID != "a-b" {
		t.Errorf("unexpected order: %v", []string{pools[0].ID, pools[1].ID, pools[2].ID})
	}
}

func TestMemoryStore_Events(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	events := []model.Event{
		{ID: "1", PoolID: "eth-usdc", Kind: model.EventMint, Account: "alice", Timestamp: base},
		{ID: "2", PoolID: "eth-usdc", Kind: model.EventSwap, Account: "bob", Timestamp: base.Add(time.Second)},
		{ID: "3", PoolID: "wbtc-dai", Kind: model.EventMint, Account: "alice", Timestamp: base.Add(2 * time.Second)},
		{ID: "4", PoolID: "eth-usdc", Kind: model.EventParamsUpdated, Account: "admin",
			Params: &model.Params{MinFeeBps: 10, MaxFeeBps: 100}, Timestamp: base.Add(3 * time.Second)},
	}
	for i := range events {
		if err := s.InsertEvent(ctx, &events[i]); err != nil {
			t.Fatal(err)
		}
	}
	events[3].Params.MinFeeBps = 99

	all, err := s.ListEvents(ctx, "eth-usdc", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 || all[0].ID != "1" || all[2].ID != "4" {
		t.Fatalf("unexpected pool events %+v", all)
	}
	if all[2].Params.MinFeeBps != 10 {
		t.Error("event params aliased with caller")
	}

	recent, _ := s.ListEvents(ctx, "eth-usdc", 2)
	if len(recent) != 2 || recent[0].ID != "2" || recent[1].ID != "4" {
		t.Errorf("expected the two most recent events, got %+v", recent)
	}

	byAlice, _ := s.ListEventsByAccount(ctx, "alice")
	if len(byAlice) != 2 {
		t.Errorf("expected 2 events for alice, got %d", len(byAlice))
	}
}
