// Package oracle tracks an exponential moving average of the pool's spot
// price. It needs no external feed: every swap and liquidity event pushes
// the current reserve ratio through Update.
package oracle

import (
	"errors"
	"time"

	"github.com/holiman/uint256"

	"github.com/atmx/adaptive-amm/internal/fixedpoint"
)

var (
	// ErrDivisionByZero is returned by PriceOf when either reserve is empty.
	ErrDivisionByZero = errors.New("oracle: price undefined for empty reserve")

	// ErrInvalidAlpha is returned when alpha is outside (0, Scale].
	ErrInvalidAlpha = errors.New("oracle: alpha must be in (0, 1]")
)

// PriceOf returns reserve1*Scale/reserve0: token0 priced in token1 units.
func PriceOf(reserve0, reserve1 *uint256.Int) (*uint256.Int, error) {
	if reserve0.IsZero() || reserve1.IsZero() {
		return nil, ErrDivisionByZero
	}
	return fixedpoint.MulDiv(reserve1, fixedpoint.Scale, reserve0)
}

// ValidateAlpha checks 0 < alpha <= Scale.
func ValidateAlpha(alpha *uint256.Int) error {
	if alpha == nil || alpha.IsZero() || alpha.Gt(fixedpoint.Scale) {
		return ErrInvalidAlpha
	}
	return nil
}

// Tracker holds the EMA reference price. The zero state is uninitialized;
// the first Update seeds the average without smoothing. Once initialized a
// Tracker never returns to the uninitialized state, even if the average
// itself reaches zero.
type Tracker struct {
	ema         *uint256.Int
	initialized bool
	alpha       *uint256.Int
	lastUpdate  time.Time
}

// NewTracker creates an uninitialized tracker with smoothing weight alpha.
func NewTracker(alpha *uint256.Int) (*Tracker, error) {
	if err := ValidateAlpha(alpha); err != nil {
		return nil, err
	}
	return &Tracker{ema: new(uint256.Int), alpha: alpha.Clone()}, nil
}

// Restore rebuilds a tracker from persisted state.
func Restore(alpha, ema *uint256.Int, initialized bool, lastUpdate time.Time) (*Tracker, error) {
	t, err := NewTracker(alpha)
	if err != nil {
		return nil, err
	}
	if initialized {
		t.ema.Set(ema)
		t.initialized = true
	}
	t.lastUpdate = lastUpdate
	return t, nil
}

// Initialized reports whether the tracker has seen a sample.
func (t *Tracker) Initialized() bool {
	return t.initialized
}

// Price returns the current EMA and whether it is initialized.
func (t *Tracker) Price() (*uint256.Int, bool) {
	return t.ema.Clone(), t.initialized
}

// Alpha returns the smoothing weight.
func (t *Tracker) Alpha() *uint256.Int {
	return t.alpha.Clone()
}

// LastUpdate returns the time of the most recent Update.
func (t *Tracker) LastUpdate() time.Time {
	return t.lastUpdate
}

// SetAlpha replaces the smoothing weight.
func (t *Tracker) SetAlpha(alpha *uint256.Int) error {
	if err := ValidateAlpha(alpha); err != nil {
		return err
	}
	t.alpha = alpha.Clone()
	return nil
}

// Update moves the EMA toward spot:
//
//	ema += sign(spot-ema) * |spot-ema| * alpha / Scale
//
// The step never exceeds |spot-ema| because alpha <= Scale, so the average
// cannot overshoot. The timestamp is refreshed on every call.
func (t *Tracker) Update(spot *uint256.Int, now time.Time) {
	t.lastUpdate = now
	if !t.initialized {
		t.ema.Set(spot)
		t.initialized = true
		return
	}

	diff, up := fixedpoint.AbsDiff(spot, t.ema)
	// alpha <= Scale keeps the quotient at or below diff, so the overflow
	// flag is always false.
	step, _ := new(uint256.Int).MulDivOverflow(diff, t.alpha, fixedpoint.Scale)
	if up {
		t.ema.Add(t.ema, step)
	} else {
		t.ema.Sub(t.ema, step)
	}
}
