package pool

import (
	"errors"
	"fmt"
)

// Error categories. Every error returned by a Pool matches exactly one of
// these with errors.Is.
var (
	ErrInvalidInput           = errors.New("pool: invalid input")
	ErrInsufficientLiquidity  = errors.New("pool: insufficient liquidity")
	ErrRatioMismatch          = errors.New("pool: deposit ratio does not match reserves")
	ErrCircuitBreakerTripped  = errors.New("pool: circuit breaker tripped")
	ErrExternalTransferFailed = errors.New("pool: external transfer failed")
	ErrUnauthorized           = errors.New("pool: caller is not the pool admin")
	ErrReentrant              = errors.New("pool: reentrant call rejected")
	ErrBusy                   = errors.New("pool: gave up waiting for pool")
)

var (
	ErrInvalidToken       = fmt.Errorf("%w: token is not part of this pool", ErrInvalidInput)
	ErrZeroAmount         = fmt.Errorf("%w: amount must be positive", ErrInvalidInput)
	ErrAmountTooLarge     = fmt.Errorf("%w: amount too large", ErrInvalidInput)
	ErrInsufficientShares = fmt.Errorf("%w: insufficient shares", ErrInvalidInput)
	ErrBadFeeBounds       = fmt.Errorf("%w: fee bounds", ErrInvalidInput)
	ErrBadAlpha           = fmt.Errorf("%w: ema alpha", ErrInvalidInput)
	ErrBadThreshold       = fmt.Errorf("%w: breaker threshold", ErrInvalidInput)
	ErrBadConfig          = fmt.Errorf("%w: pool config", ErrInvalidInput)
	ErrPoolCaller         = fmt.Errorf("%w: caller is the pool itself", ErrInvalidInput)

	ErrNoLiquidity    = fmt.Errorf("%w: pool has no reserves", ErrInsufficientLiquidity)
	ErrZeroShares     = fmt.Errorf("%w: deposit mints zero shares", ErrInsufficientLiquidity)
	ErrZeroOutput     = fmt.Errorf("%w: output rounds to zero", ErrInsufficientLiquidity)
	ErrZeroRedemption = fmt.Errorf("%w: redemption rounds to zero", ErrInsufficientLiquidity)

	ErrTransferInFailed   = fmt.Errorf("%w: transfer in", ErrExternalTransferFailed)
	ErrTransferOutFailed  = fmt.Errorf("%w: transfer out", ErrExternalTransferFailed)
	ErrBalanceUnavailable = fmt.Errorf("%w: balance query", ErrExternalTransferFailed)
)
