// Package ledger is the authoritative record of value held by a pool:
// reserves of both tokens plus liquidity shares per owner. Reserves are
// never computed by addition; callers resynchronize them to observed token
// balances after every transfer with Sync.
package ledger

import (
	"errors"
	"fmt"
	"sort"

	"github.com/holiman/uint256"
)

var (
	ErrInsufficientShares = errors.New("ledger: insufficient shares")
	ErrZeroShares         = errors.New("ledger: share amount must be positive")
	ErrSharesOverflow     = errors.New("ledger: total shares overflow")
	ErrInvariant          = errors.New("ledger: invariant violated")
)

// Ledger is not safe for concurrent use; the owning pool serializes access.
type Ledger struct {
	reserve0    *uint256.Int
	reserve1    *uint256.Int
	totalShares *uint256.Int
	shares      map[string]*uint256.Int
}

// New returns an empty ledger.
func New() *Ledger {
	return &Ledger{
		reserve0:    new(uint256.Int),
		reserve1:    new(uint256.Int),
		totalShares: new(uint256.Int),
		shares:      make(map[string]*uint256.Int),
	}
}

// Reserves returns copies of both reserves.
func (l *Ledger) Reserves() (*uint256.Int, *uint256.Int) {
	return l.reserve0.Clone(), l.reserve1.Clone()
}

// TotalShares returns a copy of the outstanding share supply.
func (l *Ledger) TotalShares() *uint256.Int {
	return l.totalShares.Clone()
}

// SharesOf returns a copy of owner's share balance.
func (l *Ledger) SharesOf(owner string) *uint256.Int {
	if s, ok := l.shares[owner]; ok {
		return s.Clone()
	}
	return new(uint256.Int)
}

// Empty reports whether no shares are outstanding.
func (l *Ledger) Empty() bool {
	return l.totalShares.IsZero()
}

// Sync replaces both reserves with freshly observed balances.
func (l *Ledger) Sync(balance0, balance1 *uint256.Int) {
	l.reserve0.Set(balance0)
	l.reserve1.Set(balance1)
}

// Mint credits amount shares to owner.
func (l *Ledger) Mint(owner string, amount *uint256.Int) error {
	if amount.IsZero() {
		return ErrZeroShares
	}
	total, overflow := new(uint256.Int).AddOverflow(l.totalShares, amount)
	if overflow {
		return ErrSharesOverflow
	}
	bal, ok := l.shares[owner]
	if !ok {
		bal = new(uint256.Int)
		l.shares[owner] = bal
	}
	// bal <= totalShares, so this cannot overflow once the total did not.
	bal.Add(bal, amount)
	l.totalShares = total
	return nil
}

// Burn debits amount shares from owner.
func (l *Ledger) Burn(owner string, amount *uint256.Int) error {
	if amount.IsZero() {
		return ErrZeroShares
	}
	bal, ok := l.shares[owner]
	if !ok || bal.Lt(amount) {
		return fmt.Errorf("%w: owner %s holds %s, burning %s",
			ErrInsufficientShares, owner, l.SharesOf(owner).Dec(), amount.Dec())
	}
	bal.Sub(bal, amount)
	if bal.IsZero() {
		delete(l.shares, owner)
	}
	l.totalShares.Sub(l.totalShares, amount)
	return nil
}

// Holding is one owner's share balance.
type Holding struct {
	Owner  string
	Shares *uint256.Int
}

// Snapshot is a deep copy of the ledger, holdings sorted by owner.
type Snapshot struct {
	Reserve0    *uint256.Int
	Reserve1    *uint256.Int
	TotalShares *uint256.Int
	Holdings    []Holding
}

// Snapshot copies the ledger state.
func (l *Ledger) Snapshot() Snapshot {
	holdings := make([]Holding, 0, len(l.shares))
	for owner, s := range l.shares {
		holdings = append(holdings, Holding{Owner: owner, Shares: s.Clone()})
	}
	sort.Slice(holdings, func(i, j int) bool { return holdings[i].Owner < holdings[j].Owner })
	return Snapshot{
		Reserve0:    l.reserve0.Clone(),
		Reserve1:    l.reserve1.Clone(),
		TotalShares: l.totalShares.Clone(),
		Holdings:    holdings,
	}
}

// Restore rebuilds a ledger from a snapshot, rejecting snapshots whose
// holdings do not sum to the total.
func Restore(s Snapshot) (*Ledger, error) {
	l := New()
	l.Sync(s.Reserve0, s.Reserve1)
	for _, h := range s.Holdings {
		if h.Shares == nil || h.Shares.IsZero() {
			continue
		}
		if err := l.Mint(h.Owner, h.Shares); err != nil {
			return nil, fmt.Errorf("restore holding %s: %w", h.Owner, err)
		}
	}
	if !l.totalShares.Eq(s.TotalShares) {
		return nil, fmt.Errorf("%w: holdings sum to %s, total is %s",
			ErrInvariant, l.totalShares.Dec(), s.TotalShares.Dec())
	}
	return l, l.CheckInvariants()
}

// CheckInvariants verifies sum(shares) == totalShares and that an empty
// share supply coincides with empty reserves.
func (l *Ledger) CheckInvariants() error {
	sum := new(uint256.Int)
	for owner, s := range l.shares {
		var overflow bool
		sum, overflow = sum.AddOverflow(sum, s)
		if overflow {
			return fmt.Errorf("%w: share sum overflows at %s", ErrInvariant, owner)
		}
	}
	if !sum.Eq(l.totalShares) {
		return fmt.Errorf("%w: shares sum to %s, total is %s", ErrInvariant, sum.Dec(), l.totalShares.Dec())
	}
	if l.totalShares.IsZero() && !(l.reserve0.IsZero() && l.reserve1.IsZero()) {
		return fmt.Errorf("%w: no shares outstanding but reserves are %s/%s",
			ErrInvariant, l.reserve0.Dec(), l.reserve1.Dec())
	}
	return nil
}
