package ledger

import (
	"errors"
	"testing"

	"github.com/holiman/uint256"
	"pgregory.net/rapid"
)

func u(v uint64) *uint256.Int {
	return uint256.NewInt(v)
}

func TestNew_Empty(t *testing.T) {
	l := New()
	if !l.Empty() {
		t.Error("new ledger should be empty")
	}
	r0, r1 := l.Reserves()
	if !r0.IsZero() || !r1.IsZero() {
		t.Errorf("expected zero reserves, got %s/%s", r0.Dec(), r1.Dec())
	}
	if err := l.CheckInvariants(); err != nil {
		t.Errorf("unexpected invariant error: %v", err)
	}
}

func TestMintBurn(t *testing.T) {
	l := New()
	l.Sync(u(400), u(900))
	if err := l.Mint("alice", u(600)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := l.Mint("bob", u(60)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if l.TotalShares().Uint64() != 660 {
		t.Errorf("expected total 660, got %s", l.TotalShares().Dec())
	}

	if err := l.Burn("alice", u(100)); err != nil {
		t.Fatalf("burn: %v", err)
	}
	if l.SharesOf("alice").Uint64() != 500 {
		t.Errorf("expected alice=500, got %s", l.SharesOf("alice").Dec())
	}
	if err := l.CheckInvariants(); err != nil {
		t.Errorf("unexpected invariant error: %v", err)
	}
}

func TestBurn_Insufficient(t *testing.T) {
	l := New()
	l.Sync(u(1), u(1))
	l.Mint("alice", u(10))

	if err := l.Burn("alice", u(11)); !errors.Is(err, ErrInsufficientShares) {
		t.Errorf("expected ErrInsufficientShares, got %v", err)
	}
	if err := l.Burn("mallory", u(1)); !errors.Is(err, ErrInsufficientShares) {
		t.Errorf("expected ErrInsufficientShares for unknown owner, got %v", err)
	}
	if l.SharesOf("alice").Uint64() != 10 {
		t.Error("failed burn must not change balance")
	}
}

func TestZeroShares(t *testing.T) {
	l := New()
	if err := l.Mint("alice", u(0)); !errors.Is(err, ErrZeroShares) {
		t.Errorf("expected ErrZeroShares on mint, got %v", err)
	}
	if err := l.Burn("alice", u(0)); !errors.Is(err, ErrZeroShares) {
		t.Errorf("expected ErrZeroShares on burn, got %v", err)
	}
}

func TestMint_Overflow(t *testing.T) {
	l := New()
	max := new(uint256.Int).SetAllOne()
	if err := l.Mint("alice", max); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := l.Mint("bob", u(1)); !errors.Is(err, ErrSharesOverflow) {
		t.Errorf("expected ErrSharesOverflow, got %v", err)
	}
	if !l.SharesOf("bob").IsZero() {
		t.Error("overflowing mint must not credit shares")
	}
}

func TestSnapshotRestore(t *testing.T) {
	l := New()
	l.Sync(u(400), u(900))
	l.Mint("bob", u(60))
	l.Mint("alice", u(600))

	snap := l.Snapshot()
	if len(snap.Holdings) != 2 || snap.Holdings[0].Owner != "alice" {
		t.Fatalf("expected holdings sorted by owner, got %+v", snap.Holdings)
	}

	// Snapshot is a deep copy.
	l.Burn("alice", u(600))
	if snap.Holdings[0].Shares.Uint64() != 600 {
		t.Error("snapshot mutated by later burn")
	}

	restored, err := Restore(snap)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if restored.TotalShares().Uint64() != 660 {
		t.Errorf("expected total 660, got %s", restored.TotalShares().Dec())
	}
	r0, r1 := restored.Reserves()
	if r0.Uint64() != 400 || r1.Uint64() != 900 {
		t.Errorf("expected reserves 400/900, got %s/%s", r0.Dec(), r1.Dec())
	}
}

func TestRestore_RejectsMismatchedTotal(t *testing.T) {
	snap := Snapshot{
		Reserve0:    u(1),
		Reserve1:    u(1),
		TotalShares: u(100),
		Holdings:    []Holding{{Owner: "alice", Shares: u(99)}},
	}
	if _, err := Restore(snap); !errors.Is(err, ErrInvariant) {
		t.Errorf("expected ErrInvariant, got %v", err)
	}
}

func TestCheckInvariants_ReservesWithoutShares(t *testing.T) {
	l := New()
	l.Sync(u(5), u(0))
	if err := l.CheckInvariants(); !errors.Is(err, ErrInvariant) {
		t.Errorf("expected ErrInvariant, got %v", err)
	}
}

func TestMintBurn_SumMatchesTotal(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		l := New()
		l.Sync(u(1), u(1))
		owners := []string{"alice", "bob", "carol"}
		ops := rapid.IntRange(1, 100).Draw(t, "ops")
		for i := 0; i < ops; i++ {
			owner := rapid.SampledFrom(owners).Draw(t, "owner")
			amount := u(rapid.Uint64Range(1, 1_000_000).Draw(t, "amount"))
			if rapid.Bool().Draw(t, "mint") {
				if err := l.Mint(owner, amount); err != nil {
					t.Fatalf("mint: %v", err)
				}
			} else {
				_ = l.Burn(owner, amount)
			}
			if err := l.CheckInvariants(); err != nil && !l.Empty() {
				t.Fatalf("invariant broken after op %d: %v", i, err)
			}
		}
	})
}
