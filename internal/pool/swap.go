package pool

import (
	"context"
	"errors"
	"fmt"

	"github.com/holiman/uint256"

	"github.com/atmx/adaptive-amm/internal/breaker"
	"github.com/atmx/adaptive-amm/internal/fee"
)

// quote is the validated, priced form of a swap request.
type quote struct {
	zeroForOne bool
	in, out    string
	reserveIn  *uint256.Int
	reserveOut *uint256.Int
	fee        fee.Quote
	threshold  *uint256.Int
}

// quoteLocked reads fee and breaker config once and prices amountIn against
// the current reserves. Caller holds the execution lock.
func (p *Pool) quoteLocked(tokenIn string, amountIn *uint256.Int) (quote, error) {
	zeroForOne, in, out, err := p.side(tokenIn)
	if err != nil {
		return quote{}, err
	}
	if amountIn == nil || amountIn.IsZero() {
		return quote{}, ErrZeroAmount
	}

	cfg := p.feeConfig
	threshold := p.threshold.Clone()
	r0, r1 := p.ledger.Reserves()
	ema, ready := p.oracle.Price()

	fq, err := fee.Compute(fee.Input{
		ZeroForOne: zeroForOne,
		AmountIn:   amountIn,
		Reserve0:   r0,
		Reserve1:   r1,
		EMA:        ema,
		EMAReady:   ready,
	}, cfg)
	if err != nil {
		return quote{}, quoteError(err)
	}

	q := quote{
		zeroForOne: zeroForOne,
		in:         in.Symbol(),
		out:        out.Symbol(),
		reserveIn:  r0,
		reserveOut: r1,
		fee:        fq,
		threshold:  threshold,
	}
	if !zeroForOne {
		q.reserveIn, q.reserveOut = r1, r0
	}
	return q, nil
}

// DynamicFee previews the fee and proxies for a swap without changing
// state. The breaker is not consulted.
func (p *Pool) DynamicFee(ctx context.Context, tokenIn string, amountIn *uint256.Int) (fee.Quote, error) {
	tctx, err := p.enter(ctx)
	if err != nil {
		return fee.Quote{}, err
	}
	defer p.exit(ctx)

	if err := p.resyncIfStale(tctx); err != nil {
		return fee.Quote{}, err
	}
	q, err := p.quoteLocked(tokenIn, amountIn)
	if err != nil {
		return fee.Quote{}, err
	}
	return q.fee, nil
}

// Swap sells amountIn of tokenIn from caller for the other token.
//
// The fee, breaker decision and output are computed from pre-trade state.
// A rejected or failed swap leaves the ledger and oracle untouched. If both
// transfers settle but the pool balances cannot be read back, Swap returns
// the executed result together with an ErrBalanceUnavailable error and the
// pool resynchronizes at the start of its next operation.
func (p *Pool) Swap(ctx context.Context, caller, tokenIn string, amountIn *uint256.Int) (SwapResult, error) {
	if err := p.checkCaller(caller); err != nil {
		return SwapResult{}, err
	}
	tctx, err := p.enter(ctx)
	if err != nil {
		return SwapResult{}, err
	}
	defer p.exit(ctx)

	if err := p.resyncIfStale(tctx); err != nil {
		return SwapResult{}, err
	}
	q, err := p.quoteLocked(tokenIn, amountIn)
	if err != nil {
		return SwapResult{}, err
	}

	if breaker.Check(q.fee.Volatility, q.threshold) == breaker.Reject {
		p.emit(Event{
			Kind:    EventBreakerTripped,
			Account: caller,
			Trip: &Trip{
				TokenIn:    q.in,
				AmountIn:   amountIn.Clone(),
				Volatility: q.fee.Volatility,
				Threshold:  q.threshold,
			},
		})
		return SwapResult{}, fmt.Errorf("%w: volatility %s exceeds threshold %s",
			ErrCircuitBreakerTripped, q.fee.Volatility.Dec(), q.threshold.Dec())
	}

	amountOut, err := AmountOut(amountIn, q.reserveIn, q.reserveOut, q.fee.FeeBps)
	if err != nil {
		return SwapResult{}, fmt.Errorf("%w: %w", ErrAmountTooLarge, err)
	}
	if amountOut.IsZero() {
		return SwapResult{}, ErrZeroOutput
	}

	in, out := p.token0, p.token1
	if !q.zeroForOne {
		in, out = p.token1, p.token0
	}
	if err := in.TransferFrom(tctx, caller, p.address, amountIn); err != nil {
		return SwapResult{}, fmt.Errorf("%w: %s: %w", ErrTransferInFailed, q.in, err)
	}
	if err := out.Transfer(tctx, p.address, caller, amountOut); err != nil {
		outErr := fmt.Errorf("%w: %s: %w", ErrTransferOutFailed, q.out, err)
		var refundErr error
		if rerr := in.Transfer(tctx, p.address, caller, amountIn); rerr != nil {
			refundErr = fmt.Errorf("refund %s %s: %w", amountIn.Dec(), q.in, rerr)
		}
		return SwapResult{}, errors.Join(outErr, refundErr, p.sync(tctx))
	}

	res := SwapResult{
		TokenIn:    q.in,
		TokenOut:   q.out,
		AmountIn:   amountIn.Clone(),
		AmountOut:  amountOut,
		FeeBps:     q.fee.FeeBps,
		Volatility: q.fee.Volatility,
		Slippage:   q.fee.Slippage,
		Shallow:    q.fee.Shallow,
	}
	if err := p.sync(tctx); err != nil {
		return res, err
	}
	res.SpotPrice = p.refreshOracle()
	res.EMAPrice, _ = p.oracle.Price()

	ev := res
	p.emit(Event{Kind: EventSwap, Account: caller, Swap: &ev})
	return res, nil
}
