package token

import (
	"context"
	"errors"
	"testing"

	"github.com/holiman/uint256"
)

func u(v uint64) *uint256.Int {
	return uint256.NewInt(v)
}

func TestMemory_MintAndTransfer(t *testing.T) {
	ctx := context.Background()
	tok := NewMemory("ETH")
	if err := tok.Mint("alice", u(100)); err != nil {
		t.Fatalf("mint: %v", err)
	}

	if err := tok.TransferFrom(ctx, "alice", "pool", u(40)); err != nil {
		t.Fatalf("transferFrom: %v", err)
	}
	if err := tok.Transfer(ctx, "pool", "bob", u(15)); err != nil {
		t.Fatalf("transfer: %v", err)
	}

	want := map[string]uint64{"alice": 60, "pool": 25, "bob": 15, "nobody": 0}
	for holder, amount := range want {
		bal, _ := tok.BalanceOf(ctx, holder)
		if bal.Uint64() != amount {
			t.Errorf("%s: expected %d, got %s", holder, amount, bal.Dec())
		}
	}
	if tok.TotalSupply().Uint64() != 100 {
		t.Errorf("expected supply 100, got %s", tok.TotalSupply().Dec())
	}
}

func TestMemory_InsufficientBalance(t *testing.T) {
	ctx := context.Background()
	tok := NewMemory("ETH")
	tok.Mint("alice", u(10))

	if err := tok.TransferFrom(ctx, "alice", "pool", u(11)); !errors.Is(err, ErrInsufficientBalance) {
		t.Errorf("expected ErrInsufficientBalance, got %v", err)
	}
	if err := tok.Transfer(ctx, "pool", "alice", u(1)); !errors.Is(err, ErrInsufficientBalance) {
		t.Errorf("expected ErrInsufficientBalance, got %v", err)
	}
	bal, _ := tok.BalanceOf(ctx, "alice")
	if bal.Uint64() != 10 {
		t.Errorf("failed transfer changed balance: %s", bal.Dec())
	}
}

func TestMemory_MintRejectsZero(t *testing.T) {
	tok := NewMemory("ETH")
	if err := tok.Mint("alice", u(0)); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("expected ErrInvalidAmount, got %v", err)
	}
}

func TestBank(t *testing.T) {
	b := NewBank()
	if _, err := b.Get("ETH"); !errors.Is(err, ErrUnknownToken) {
		t.Errorf("expected ErrUnknownToken, got %v", err)
	}
	eth := b.Ensure("ETH")
	if again := b.Ensure("ETH"); again != eth {
		t.Error("Ensure should return the existing token")
	}
	got, err := b.Get("ETH")
	if err != nil || got != eth {
		t.Errorf("Get returned %v, %v", got, err)
	}
}
