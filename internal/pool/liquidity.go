package pool

import (
	"context"
	"errors"
	"fmt"

	"github.com/holiman/uint256"

	"github.com/atmx/adaptive-amm/internal/fixedpoint"
	"github.com/atmx/adaptive-amm/internal/oracle"
	"github.com/atmx/adaptive-amm/internal/token"
)

// AddLiquidity deposits amount0 and amount1 from caller and mints shares.
//
// Into a pool with reserves the deposit must match the reserve ratio
// exactly. The first deposit mints isqrt(amount0*amount1) shares and, if
// the oracle has never been sampled, seeds it with amount1/amount0.
// Shares are minted only once the pool's observed balances have grown by
// the full deposit; a shortfall returns whatever did arrive.
func (p *Pool) AddLiquidity(ctx context.Context, caller string, amount0, amount1 *uint256.Int) (MintResult, error) {
	if err := p.checkCaller(caller); err != nil {
		return MintResult{}, err
	}
	tctx, err := p.enter(ctx)
	if err != nil {
		return MintResult{}, err
	}
	defer p.exit(ctx)

	if err := p.resyncIfStale(tctx); err != nil {
		return MintResult{}, err
	}
	if amount0 == nil || amount1 == nil || amount0.IsZero() || amount1.IsZero() {
		return MintResult{}, ErrZeroAmount
	}

	shares, seed, err := p.sharesFor(amount0, amount1)
	if err != nil {
		return MintResult{}, err
	}
	before0, before1, err := p.balances(tctx)
	if err != nil {
		return MintResult{}, err
	}

	if err := p.token0.TransferFrom(tctx, caller, p.address, amount0); err != nil {
		return MintResult{}, fmt.Errorf("%w: %s: %w", ErrTransferInFailed, p.token0.Symbol(), err)
	}
	if err := p.token1.TransferFrom(tctx, caller, p.address, amount1); err != nil {
		inErr := fmt.Errorf("%w: %s: %w", ErrTransferInFailed, p.token1.Symbol(), err)
		return MintResult{}, errors.Join(inErr, p.refund(tctx, p.token0, caller, amount0))
	}
	if err := p.sync(tctx); err != nil {
		return MintResult{}, errors.Join(err,
			p.refund(tctx, p.token0, caller, amount0),
			p.refund(tctx, p.token1, caller, amount1))
	}
	after0, after1 := p.ledger.Reserves()
	got0, got1 := received(before0, after0), received(before1, after1)
	if got0.Lt(amount0) || got1.Lt(amount1) {
		short := fmt.Errorf("%w: pool received %s/%s of a %s/%s deposit",
			ErrTransferInFailed, got0.Dec(), got1.Dec(), amount0.Dec(), amount1.Dec())
		return MintResult{}, errors.Join(short,
			p.pay(tctx, p.token0, caller, got0),
			p.pay(tctx, p.token1, caller, got1),
			p.sync(tctx))
	}
	if err := p.ledger.Mint(caller, shares); err != nil {
		return MintResult{}, errors.Join(fmt.Errorf("%w: %w", ErrAmountTooLarge, err),
			p.refund(tctx, p.token0, caller, amount0),
			p.refund(tctx, p.token1, caller, amount1),
			p.sync(tctx))
	}

	res := MintResult{Amount0: amount0.Clone(), Amount1: amount1.Clone(), Shares: shares}
	if seed != nil {
		p.oracle.Update(seed, p.now().UTC())
		res.OracleSeeded = true
	}
	p.refreshOracle()

	ev := res
	p.emit(Event{Kind: EventMint, Account: caller, Mint: &ev})
	return res, nil
}

// sharesFor validates the deposit ratio and computes the shares to mint.
// seed is non-nil when the deposit should bootstrap the oracle.
func (p *Pool) sharesFor(amount0, amount1 *uint256.Int) (shares, seed *uint256.Int, err error) {
	r0, r1 := p.ledger.Reserves()
	total := p.ledger.TotalShares()
	empty := p.ledger.Empty()

	if !r0.IsZero() && !r1.IsZero() && !fixedpoint.ProductsEqual(r0, amount1, r1, amount0) {
		return nil, nil, fmt.Errorf("%w: reserves %s/%s, deposit %s/%s",
			ErrRatioMismatch, r0.Dec(), r1.Dec(), amount0.Dec(), amount1.Dec())
	}

	if empty {
		product, err := fixedpoint.Mul(amount0, amount1)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %w", ErrAmountTooLarge, err)
		}
		shares = fixedpoint.Sqrt(product)
		if !p.oracle.Initialized() {
			if seed, err = oracle.PriceOf(amount0, amount1); err != nil {
				return nil, nil, fmt.Errorf("%w: %w", ErrAmountTooLarge, err)
			}
		}
	} else {
		if r0.IsZero() || r1.IsZero() {
			return nil, nil, fmt.Errorf("%w: %s shares outstanding against reserves %s/%s",
				ErrNoLiquidity, total.Dec(), r0.Dec(), r1.Dec())
		}
		s0, err := fixedpoint.MulDiv(amount0, total, r0)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %w", ErrAmountTooLarge, err)
		}
		s1, err := fixedpoint.MulDiv(amount1, total, r1)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %w", ErrAmountTooLarge, err)
		}
		shares = fixedpoint.Min(s0, s1)
	}

	if shares.IsZero() {
		return nil, nil, ErrZeroShares
	}
	if _, err := fixedpoint.Add(total, shares); err != nil {
		return nil, nil, fmt.Errorf("%w: total shares: %w", ErrAmountTooLarge, err)
	}
	return shares, seed, nil
}

// RemoveLiquidity burns shares held by caller and pays out the pro-rata
// portion of the pool's actual token balances. One side may round to zero;
// both rounding to zero is ErrZeroRedemption.
//
// If the first payout fails nothing changes. If the second fails the first
// is pulled back from caller and the shares restored; when that pull also
// fails the withdrawal stays partially settled and the error says what is
// unpaid.
func (p *Pool) RemoveLiquidity(ctx context.Context, caller string, shares *uint256.Int) (BurnResult, error) {
	if err := p.checkCaller(caller); err != nil {
		return BurnResult{}, err
	}
	tctx, err := p.enter(ctx)
	if err != nil {
		return BurnResult{}, err
	}
	defer p.exit(ctx)

	if err := p.resyncIfStale(tctx); err != nil {
		return BurnResult{}, err
	}
	if shares == nil || shares.IsZero() {
		return BurnResult{}, ErrZeroAmount
	}
	total := p.ledger.TotalShares()
	if total.IsZero() {
		return BurnResult{}, ErrNoLiquidity
	}
	if held := p.ledger.SharesOf(caller); held.Lt(shares) {
		return BurnResult{}, fmt.Errorf("%w: %s holds %s, redeeming %s",
			ErrInsufficientShares, caller, held.Dec(), shares.Dec())
	}

	b0, b1, err := p.balances(tctx)
	if err != nil {
		return BurnResult{}, err
	}
	// shares <= total, so neither quotient can overflow.
	amount0, err := fixedpoint.MulDiv(shares, b0, total)
	if err != nil {
		return BurnResult{}, fmt.Errorf("%w: %w", ErrAmountTooLarge, err)
	}
	amount1, err := fixedpoint.MulDiv(shares, b1, total)
	if err != nil {
		return BurnResult{}, fmt.Errorf("%w: %w", ErrAmountTooLarge, err)
	}
	if amount0.IsZero() && amount1.IsZero() {
		return BurnResult{}, fmt.Errorf("%w: %s of %s shares", ErrZeroRedemption, shares.Dec(), total.Dec())
	}

	if err := p.ledger.Burn(caller, shares); err != nil {
		return BurnResult{}, fmt.Errorf("%w: %w", ErrInsufficientShares, err)
	}

	if err := p.pay(tctx, p.token0, caller, amount0); err != nil {
		return BurnResult{}, errors.Join(err, p.restoreShares(caller, shares), p.sync(tctx))
	}
	if err := p.pay(tctx, p.token1, caller, amount1); err != nil {
		if amount0.IsZero() {
			return BurnResult{}, errors.Join(err, p.restoreShares(caller, shares), p.sync(tctx))
		}
		if cerr := p.token0.TransferFrom(tctx, caller, p.address, amount0); cerr != nil {
			partial := fmt.Errorf("claw back %s %s: %w; withdrawal partially settled, %s %s unpaid",
				amount0.Dec(), p.token0.Symbol(), cerr, amount1.Dec(), p.token1.Symbol())
			return BurnResult{}, errors.Join(err, partial, p.sync(tctx))
		}
		return BurnResult{}, errors.Join(err, p.restoreShares(caller, shares), p.sync(tctx))
	}

	res := BurnResult{Shares: shares.Clone(), Amount0: amount0, Amount1: amount1}
	if err := p.sync(tctx); err != nil {
		return res, err
	}
	p.refreshOracle()

	ev := res
	p.emit(Event{Kind: EventBurn, Account: caller, Burn: &ev})
	return res, nil
}

// pay transfers amount of t from the pool to holder. Zero is a no-op.
func (p *Pool) pay(ctx context.Context, t token.Token, holder string, amount *uint256.Int) error {
	if amount.IsZero() {
		return nil
	}
	if err := t.Transfer(ctx, p.address, holder, amount); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrTransferOutFailed, t.Symbol(), err)
	}
	return nil
}

// received is how much a balance grew from before to after.
func received(before, after *uint256.Int) *uint256.Int {
	if after.Lt(before) {
		return new(uint256.Int)
	}
	return new(uint256.Int).Sub(after, before)
}

// refund returns a pulled deposit.
func (p *Pool) refund(ctx context.Context, t token.Token, holder string, amount *uint256.Int) error {
	if err := t.Transfer(ctx, p.address, holder, amount); err != nil {
		return fmt.Errorf("refund %s %s: %w", amount.Dec(), t.Symbol(), err)
	}
	return nil
}

func (p *Pool) restoreShares(owner string, shares *uint256.Int) error {
	if err := p.ledger.Mint(owner, shares); err != nil {
		return fmt.Errorf("restore %s shares to %s: %w", shares.Dec(), owner, err)
	}
	return nil
}
