// Package token defines the transfer capability a pool uses to move value
// in and out, and an in-memory implementation of it. The pool treats every
// non-nil error as a hard failure of the enclosing operation.
package token

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/holiman/uint256"
)

var (
	ErrInsufficientBalance = errors.New("token: insufficient balance")
	ErrInvalidAmount       = errors.New("token: invalid amount")
	ErrUnknownToken        = errors.New("token: unknown token")
)

// Token is the transfer capability for one asset. Holders are opaque
// account identifiers.
//
// A pool calls its tokens while holding its execution lock. An
// implementation that calls back into the pool must pass on the context it
// was given: with that context the pool rejects the call with
// pool.ErrReentrant, without it the call waits until its own context is
// done.
type Token interface {
	Symbol() string
	BalanceOf(ctx context.Context, holder string) (*uint256.Int, error)

	// TransferFrom pulls amount from an external holder into to.
	TransferFrom(ctx context.Context, from, to string, amount *uint256.Int) error

	// Transfer pays amount out of from, acting as from itself.
	Transfer(ctx context.Context, from, to string, amount *uint256.Int) error
}

// Memory is an in-memory Token. It is safe for concurrent use.
type Memory struct {
	symbol   string
	mu       sync.RWMutex
	balances map[string]*uint256.Int
	supply   *uint256.Int
}

// NewMemory creates an empty token.
func NewMemory(symbol string) *Memory {
	return &Memory{
		symbol:   symbol,
		balances: make(map[string]*uint256.Int),
		supply:   new(uint256.Int),
	}
}

func (m *Memory) Symbol() string { return m.symbol }

func (m *Memory) BalanceOf(_ context.Context, holder string) (*uint256.Int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if b, ok := m.balances[holder]; ok {
		return b.Clone(), nil
	}
	return new(uint256.Int), nil
}

func (m *Memory) TransferFrom(_ context.Context, from, to string, amount *uint256.Int) error {
	return m.move(from, to, amount)
}

func (m *Memory) Transfer(_ context.Context, from, to string, amount *uint256.Int) error {
	return m.move(from, to, amount)
}

// Mint creates amount new units for holder.
func (m *Memory) Mint(holder string, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return ErrInvalidAmount
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	supply, overflow := new(uint256.Int).AddOverflow(m.supply, amount)
	if overflow {
		return fmt.Errorf("%w: supply overflow", ErrInvalidAmount)
	}
	m.supply = supply
	m.credit(holder, amount)
	return nil
}

// TotalSupply returns the amount minted so far.
func (m *Memory) TotalSupply() *uint256.Int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.supply.Clone()
}

func (m *Memory) move(from, to string, amount *uint256.Int) error {
	if amount == nil {
		return ErrInvalidAmount
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	bal, ok := m.balances[from]
	if !ok || bal.Lt(amount) {
		have := new(uint256.Int)
		if ok {
			have = bal
		}
		return fmt.Errorf("%w: %s holds %s %s, needs %s",
			ErrInsufficientBalance, from, have.Dec(), m.symbol, amount.Dec())
	}
	if amount.IsZero() || from == to {
		return nil
	}
	bal.Sub(bal, amount)
	m.credit(to, amount)
	return nil
}

// credit adds amount to holder. Balances are bounded by supply, so the
// addition cannot overflow.
func (m *Memory) credit(holder string, amount *uint256.Int) {
	b, ok := m.balances[holder]
	if !ok {
		b = new(uint256.Int)
		m.balances[holder] = b
	}
	b.Add(b, amount)
}

// Bank is a registry of in-memory tokens keyed by symbol.
type Bank struct {
	mu     sync.RWMutex
	tokens map[string]*Memory
}

// NewBank creates an empty bank.
func NewBank() *Bank {
	return &Bank{tokens: make(map[string]*Memory)}
}

// Get returns the token for symbol.
func (b *Bank) Get(symbol string) (*Memory, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	t, ok := b.tokens[symbol]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownToken, symbol)
	}
	return t, nil
}

// Ensure returns the token for symbol, creating it if needed.
func (b *Bank) Ensure(symbol string) *Memory {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.tokens[symbol]
	if !ok {
		t = NewMemory(symbol)
		b.tokens[symbol] = t
	}
	return t
}
