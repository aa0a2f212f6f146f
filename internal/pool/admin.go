package pool

import (
	"context"
	"fmt"

	"github.com/holiman/uint256"

	"github.com/atmx/adaptive-amm/internal/fee"
)

// authorize rejects callers other than the configured admin. A pool
// created without an admin rejects every update.
func (p *Pool) authorize(caller string) error {
	if p.admin == "" || caller != p.admin {
		return fmt.Errorf("%w: %q", ErrUnauthorized, caller)
	}
	return nil
}

// update runs fn under the execution lock for the admin and emits the
// resulting parameters.
func (p *Pool) update(ctx context.Context, caller string, fn func() error) (Params, error) {
	if _, err := p.enter(ctx); err != nil {
		return Params{}, err
	}
	defer p.exit(ctx)

	if err := p.authorize(caller); err != nil {
		return Params{}, err
	}
	if err := fn(); err != nil {
		return Params{}, err
	}
	params := p.paramsLocked()
	ev := params.clone()
	p.emit(Event{Kind: EventParamsUpdated, Account: caller, Params: &ev})
	return params, nil
}

// SetFeeBounds sets the fee band. Requires min <= max <= fee.HardCapBps.
func (p *Pool) SetFeeBounds(ctx context.Context, caller string, minBps, maxBps uint64) (Params, error) {
	return p.update(ctx, caller, func() error {
		if err := fee.ValidateBounds(minBps, maxBps); err != nil {
			return fmt.Errorf("%w: %w", ErrBadFeeBounds, err)
		}
		p.feeConfig.MinFeeBps = minBps
		p.feeConfig.MaxFeeBps = maxBps
		return nil
	})
}

// SetCoefficients sets the volatility, slippage and depth weights.
func (p *Pool) SetCoefficients(ctx context.Context, caller string, beta, gamma, delta uint64) (Params, error) {
	return p.update(ctx, caller, func() error {
		p.feeConfig.BetaVol = beta
		p.feeConfig.GammaSlip = gamma
		p.feeConfig.DeltaShallow = delta
		return nil
	})
}

// SetEMAConfig sets the smoothing weight, 0 < alpha <= Scale.
func (p *Pool) SetEMAConfig(ctx context.Context, caller string, alpha *uint256.Int) (Params, error) {
	return p.update(ctx, caller, func() error {
		if err := p.oracle.SetAlpha(alpha); err != nil {
			return fmt.Errorf("%w: %w", ErrBadAlpha, err)
		}
		return nil
	})
}

// SetBreaker sets the volatility threshold. Any value is accepted.
func (p *Pool) SetBreaker(ctx context.Context, caller string, threshold *uint256.Int) (Params, error) {
	return p.update(ctx, caller, func() error {
		if threshold == nil {
			return fmt.Errorf("%w: missing", ErrBadThreshold)
		}
		p.threshold = threshold.Clone()
		return nil
	})
}
