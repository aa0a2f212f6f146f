// Package pool is the constant-product engine for one trading pair. A Pool
// owns the ledger, the EMA oracle and the fee/breaker parameters, and runs
// swaps, deposits, withdrawals and admin updates as serialized
// transactions.
//
// Every operation validates and prices against current state before any
// transfer, pulls value in before mutating the ledger, and resynchronizes
// reserves from observed token balances afterwards. Token calls receive a
// context marked with the pool; a call back into the same pool with that
// context fails with ErrReentrant instead of deadlocking. A call that
// drops the marker waits for the pool like any other caller and fails
// with ErrBusy once its own context is done.
package pool

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/holiman/uint256"

	"github.com/atmx/adaptive-amm/internal/fee"
	"github.com/atmx/adaptive-amm/internal/ledger"
	"github.com/atmx/adaptive-amm/internal/oracle"
	"github.com/atmx/adaptive-amm/internal/token"
)

// Config identifies a pool and its collaborators.
type Config struct {
	ID string
	// Address is the account that holds the pool's token balances.
	Address string
	// Admin is the only caller allowed to change parameters.
	Admin  string
	Token0 token.Token
	Token1 token.Token
	Params Params
}

func (c Config) validate() error {
	if c.ID == "" || c.Address == "" {
		return fmt.Errorf("%w: id and address are required", ErrBadConfig)
	}
	if c.Token0 == nil || c.Token1 == nil {
		return fmt.Errorf("%w: both tokens are required", ErrBadConfig)
	}
	if c.Token0.Symbol() == c.Token1.Symbol() {
		return fmt.Errorf("%w: tokens must differ, got %s twice", ErrBadConfig, c.Token0.Symbol())
	}
	return nil
}

// Option customizes a Pool.
type Option func(*Pool)

// WithNotifier sets the event sink.
func WithNotifier(n Notifier) Option {
	return func(p *Pool) { p.notifier = n }
}

// WithClock overrides the time source used for oracle timestamps.
func WithClock(now func() time.Time) Option {
	return func(p *Pool) { p.now = now }
}

// Pool is safe for concurrent use; operations are serialized. Only methods
// taking a context may be called from inside a token callback.
type Pool struct {
	id      string
	address string
	admin   string
	token0  token.Token
	token1  token.Token

	notifier Notifier
	now      func() time.Time

	// sem is the execution lock. It is a channel so waiters can give up
	// when their context ends.
	sem       chan struct{}
	ledger    *ledger.Ledger
	oracle    *oracle.Tracker
	feeConfig fee.Config
	threshold *uint256.Int
	// stale is set when reserves could not be resynchronized after a
	// settled transfer; the next operation resyncs before doing anything.
	stale   bool
	pending []Event
}

// New creates an empty pool.
func New(cfg Config, opts ...Option) (*Pool, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if err := cfg.Params.Validate(); err != nil {
		return nil, err
	}
	tracker, err := oracle.NewTracker(cfg.Params.Alpha)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadAlpha, err)
	}
	return newPool(cfg, ledger.New(), tracker, cfg.Params, opts), nil
}

// Restore rebuilds a pool from a snapshot. cfg.Params is ignored in favour
// of snap.Params.
func Restore(cfg Config, snap Snapshot, opts ...Option) (*Pool, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if err := snap.Params.Validate(); err != nil {
		return nil, err
	}
	l, err := ledger.Restore(snap.Ledger)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadConfig, err)
	}
	ema := snap.EMAPrice
	if ema == nil {
		ema = new(uint256.Int)
	}
	tracker, err := oracle.Restore(snap.Params.Alpha, ema, snap.EMAInitialized, snap.LastUpdate)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadAlpha, err)
	}
	return newPool(cfg, l, tracker, snap.Params, opts), nil
}

func newPool(cfg Config, l *ledger.Ledger, tracker *oracle.Tracker, params Params, opts []Option) *Pool {
	p := &Pool{
		id:        cfg.ID,
		address:   cfg.Address,
		admin:     cfg.Admin,
		token0:    cfg.Token0,
		token1:    cfg.Token1,
		notifier:  nopNotifier{},
		now:       time.Now,
		sem:       make(chan struct{}, 1),
		ledger:    l,
		oracle:    tracker,
		feeConfig: params.Fee,
		threshold: params.BreakerThreshold.Clone(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ID returns the pool identifier.
func (p *Pool) ID() string { return p.id }

// Address returns the account holding the pool's balances.
func (p *Pool) Address() string { return p.address }

// Tokens returns the symbols of token0 and token1.
func (p *Pool) Tokens() (string, string) {
	return p.token0.Symbol(), p.token1.Symbol()
}

type enteredKey struct{ p *Pool }

// enter acquires the execution lock and returns the context to hand to
// token calls.
func (p *Pool) enter(ctx context.Context) (context.Context, error) {
	if ctx.Value(enteredKey{p}) != nil {
		return nil, ErrReentrant
	}
	select {
	case p.sem <- struct{}{}:
	default:
		select {
		case p.sem <- struct{}{}:
		case <-ctx.Done():
			return nil, fmt.Errorf("%w %s: %w", ErrBusy, p.id, ctx.Err())
		}
	}
	return context.WithValue(ctx, enteredKey{p}, struct{}{}), nil
}

// exit releases the lock, then delivers events queued by the operation.
func (p *Pool) exit(ctx context.Context) {
	events := p.pending
	p.pending = nil
	p.unlock()
	for _, e := range events {
		p.notifier.Notify(ctx, e)
	}
}

func (p *Pool) lock()   { p.sem <- struct{}{} }
func (p *Pool) unlock() { <-p.sem }

// checkCaller rejects empty callers and the pool's own address, which
// would turn a pull into a no-op self transfer.
func (p *Pool) checkCaller(caller string) error {
	switch caller {
	case "":
		return fmt.Errorf("%w: caller is required", ErrInvalidInput)
	case p.address:
		return fmt.Errorf("%w: %s", ErrPoolCaller, caller)
	}
	return nil
}

func (p *Pool) emit(e Event) {
	e.PoolID = p.id
	e.At = p.now().UTC()
	p.pending = append(p.pending, e)
}

// State returns reserves, prices and the oracle timestamp.
func (p *Pool) State(ctx context.Context) (State, error) {
	tctx, err := p.enter(ctx)
	if err != nil {
		return State{}, err
	}
	defer p.exit(ctx)

	if err := p.resyncIfStale(tctx); err != nil {
		return State{}, err
	}

	r0, r1 := p.ledger.Reserves()
	ema, ready := p.oracle.Price()
	st := State{
		EMAPrice:       ema,
		EMAInitialized: ready,
		Reserve0:       r0,
		Reserve1:       r1,
		TotalShares:    p.ledger.TotalShares(),
		LastUpdate:     p.oracle.LastUpdate(),
	}
	if spot, err := oracle.PriceOf(r0, r1); err == nil {
		st.SpotPrice = spot
	}
	return st, nil
}

// Params returns a copy of the current parameters.
func (p *Pool) Params() Params {
	p.lock()
	defer p.unlock()
	return p.paramsLocked()
}

func (p *Pool) paramsLocked() Params {
	return Params{Fee: p.feeConfig, Alpha: p.oracle.Alpha(), BreakerThreshold: p.threshold.Clone()}
}

// SharesOf returns owner's share balance.
func (p *Pool) SharesOf(owner string) *uint256.Int {
	p.lock()
	defer p.unlock()
	return p.ledger.SharesOf(owner)
}

// Snapshot captures the pool for persistence.
func (p *Pool) Snapshot() Snapshot {
	p.lock()
	defer p.unlock()

	ema, ready := p.oracle.Price()
	return Snapshot{
		Ledger:         p.ledger.Snapshot(),
		EMAPrice:       ema,
		EMAInitialized: ready,
		LastUpdate:     p.oracle.LastUpdate(),
		Params:         p.paramsLocked(),
	}
}

// balances reads the pool's actual token holdings.
func (p *Pool) balances(ctx context.Context) (*uint256.Int, *uint256.Int, error) {
	b0, err := p.token0.BalanceOf(ctx, p.address)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %s: %w", ErrBalanceUnavailable, p.token0.Symbol(), err)
	}
	b1, err := p.token1.BalanceOf(ctx, p.address)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %s: %w", ErrBalanceUnavailable, p.token1.Symbol(), err)
	}
	return b0, b1, nil
}

// sync resets reserves to observed balances. On failure the pool is marked
// stale and the ledger keeps its previous reserves.
func (p *Pool) sync(ctx context.Context) error {
	b0, b1, err := p.balances(ctx)
	if err != nil {
		p.stale = true
		return err
	}
	p.ledger.Sync(b0, b1)
	p.stale = false
	return nil
}

func (p *Pool) resyncIfStale(ctx context.Context) error {
	if !p.stale {
		return nil
	}
	return p.sync(ctx)
}

// refreshOracle feeds the current spot price to the EMA. It is a no-op
// while either reserve is empty.
func (p *Pool) refreshOracle() *uint256.Int {
	r0, r1 := p.ledger.Reserves()
	spot, err := oracle.PriceOf(r0, r1)
	if err != nil {
		return nil
	}
	p.oracle.Update(spot, p.now().UTC())
	return spot
}

// side resolves tokenIn to the (in, out) token pair.
func (p *Pool) side(tokenIn string) (zeroForOne bool, in, out token.Token, err error) {
	switch tokenIn {
	case p.token0.Symbol():
		return true, p.token0, p.token1, nil
	case p.token1.Symbol():
		return false, p.token1, p.token0, nil
	default:
		return false, nil, nil, fmt.Errorf("%w: %q (pool trades %s/%s)",
			ErrInvalidToken, tokenIn, p.token0.Symbol(), p.token1.Symbol())
	}
}

// quoteError maps fee model failures onto pool error categories.
func quoteError(err error) error {
	switch {
	case errors.Is(err, fee.ErrNoLiquidity):
		return ErrNoLiquidity
	case errors.Is(err, fee.ErrZeroAmount):
		return ErrZeroAmount
	default:
		return fmt.Errorf("%w: %w", ErrAmountTooLarge, err)
	}
}
