package pool

import (
	"context"
	"fmt"
	"time"

	"github.com/holiman/uint256"

	"github.com/atmx/adaptive-amm/internal/fee"
	"github.com/atmx/adaptive-amm/internal/fixedpoint"
	"github.com/atmx/adaptive-amm/internal/ledger"
	"github.com/atmx/adaptive-amm/internal/oracle"
)

// Params is the admin-tunable control state of a pool.
type Params struct {
	Fee fee.Config
	// Alpha is the EMA smoothing weight in fixed point, (0, 1].
	Alpha *uint256.Int
	// BreakerThreshold is the volatility fraction above which swaps are
	// refused. It is unbounded; a huge value disables the breaker.
	BreakerThreshold *uint256.Int
}

// DefaultParams returns the default fee band, alpha = 0.05 and a 0.20
// breaker threshold.
func DefaultParams() Params {
	return Params{
		Fee:              fee.DefaultConfig(),
		Alpha:            uint256.NewInt(50_000_000_000_000_000),
		BreakerThreshold: uint256.NewInt(200_000_000_000_000_000),
	}
}

// Validate applies the same rules as the admin setters.
func (p Params) Validate() error {
	if err := p.Fee.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrBadFeeBounds, err)
	}
	if err := oracle.ValidateAlpha(p.Alpha); err != nil {
		return fmt.Errorf("%w: %w", ErrBadAlpha, err)
	}
	if p.BreakerThreshold == nil {
		return fmt.Errorf("%w: missing", ErrBadThreshold)
	}
	return nil
}

func (p Params) clone() Params {
	return Params{Fee: p.Fee, Alpha: p.Alpha.Clone(), BreakerThreshold: p.BreakerThreshold.Clone()}
}

// SwapResult describes an executed swap.
type SwapResult struct {
	TokenIn   string
	TokenOut  string
	AmountIn  *uint256.Int
	AmountOut *uint256.Int
	FeeBps    uint64

	Volatility *uint256.Int
	Slippage   *uint256.Int
	Shallow    *uint256.Int

	// Post-trade spot and reference prices.
	SpotPrice *uint256.Int
	EMAPrice  *uint256.Int
}

// MintResult describes a liquidity deposit.
type MintResult struct {
	Amount0 *uint256.Int
	Amount1 *uint256.Int
	Shares  *uint256.Int
	// OracleSeeded is set when this deposit bootstrapped the EMA.
	OracleSeeded bool
}

// BurnResult describes a liquidity withdrawal.
type BurnResult struct {
	Shares  *uint256.Int
	Amount0 *uint256.Int
	Amount1 *uint256.Int
}

// Trip describes a swap refused by the circuit breaker.
type Trip struct {
	TokenIn    string
	AmountIn   *uint256.Int
	Volatility *uint256.Int
	Threshold  *uint256.Int
}

// State is the observable pool state.
type State struct {
	// SpotPrice is nil while either reserve is empty.
	SpotPrice      *uint256.Int
	EMAPrice       *uint256.Int
	EMAInitialized bool
	Reserve0       *uint256.Int
	Reserve1       *uint256.Int
	TotalShares    *uint256.Int
	LastUpdate     time.Time
}

// Snapshot is everything needed to rebuild a pool with Restore.
type Snapshot struct {
	Ledger         ledger.Snapshot
	EMAPrice       *uint256.Int
	EMAInitialized bool
	LastUpdate     time.Time
	Params         Params
}

// EventKind names a pool notification.
type EventKind string

const (
	EventSwap           EventKind = "swap"
	EventMint           EventKind = "mint"
	EventBurn           EventKind = "burn"
	EventParamsUpdated  EventKind = "params_updated"
	EventBreakerTripped EventKind = "breaker_tripped"
)

// Event is a notification emitted after an operation completes. Exactly one
// of the payload pointers is set, matching Kind.
type Event struct {
	Kind    EventKind
	PoolID  string
	Account string
	At      time.Time

	Swap   *SwapResult
	Mint   *MintResult
	Burn   *BurnResult
	Params *Params
	Trip   *Trip
}

// Notifier receives pool events. Notify runs after the pool lock is
// released, in the goroutine that performed the operation.
type Notifier interface {
	Notify(ctx context.Context, e Event)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, e Event)

func (f NotifierFunc) Notify(ctx context.Context, e Event) { f(ctx, e) }

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, Event) {}

// AmountOut is the constant-product output for amountIn after the fee:
//
//	in' = amountIn * (BPSDenom - feeBps) / BPSDenom
//	out = reserveOut * in' / (reserveIn + in')
//
// The fee stays in the pool, so reserve0*reserve1 never decreases.
func AmountOut(amountIn, reserveIn, reserveOut *uint256.Int, feeBps uint64) (*uint256.Int, error) {
	if feeBps >= fixedpoint.BPSDenom.Uint64() {
		return new(uint256.Int), nil
	}
	keep := new(uint256.Int).Sub(fixedpoint.BPSDenom, uint256.NewInt(feeBps))
	afterFee, err := fixedpoint.MulDiv(amountIn, keep, fixedpoint.BPSDenom)
	if err != nil {
		return nil, err
	}
	denom, err := fixedpoint.Add(reserveIn, afterFee)
	if err != nil {
		return nil, err
	}
	if denom.IsZero() {
		return new(uint256.Int), nil
	}
	return fixedpoint.MulDiv(reserveOut, afterFee, denom)
}
