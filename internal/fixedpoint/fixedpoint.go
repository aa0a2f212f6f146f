// Package fixedpoint implements the scaled integer arithmetic used by the
// pool engine. Ratios are 18-decimal fixed point (Scale), fees are basis
// points (BPSDenom). All values are 256-bit unsigned integers; products are
// carried at 512 bits so MulDiv never overflows in the intermediate step.
package fixedpoint

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// Decimals is the number of decimal places carried by Scale.
const Decimals = 18

var (
	// Scale is 1.0 in fixed point (10^18).
	Scale = uint256.NewInt(1_000_000_000_000_000_000)

	// BPSDenom is 100% in basis points.
	BPSDenom = uint256.NewInt(10_000)
)

var (
	ErrDivisionByZero = errors.New("fixedpoint: division by zero")
	ErrOverflow       = errors.New("fixedpoint: result overflows 256 bits")
	ErrInvalidAmount  = errors.New("fixedpoint: invalid amount")
	ErrPrecision      = errors.New("fixedpoint: value has more than 18 decimal places")
)

// MulDiv returns floor(a*b/c) computed with a 512-bit intermediate product.
func MulDiv(a, b, c *uint256.Int) (*uint256.Int, error) {
	if c.IsZero() {
		return nil, ErrDivisionByZero
	}
	z, overflow := new(uint256.Int).MulDivOverflow(a, b, c)
	if overflow {
		return nil, ErrOverflow
	}
	return z, nil
}

// Mul returns a*b, failing on overflow.
func Mul(a, b *uint256.Int) (*uint256.Int, error) {
	z, overflow := new(uint256.Int).MulOverflow(a, b)
	if overflow {
		return nil, ErrOverflow
	}
	return z, nil
}

// Add returns a+b, failing on overflow.
func Add(a, b *uint256.Int) (*uint256.Int, error) {
	z, overflow := new(uint256.Int).AddOverflow(a, b)
	if overflow {
		return nil, ErrOverflow
	}
	return z, nil
}

// SaturatingAdd returns a+b, or the maximum uint256 on overflow.
func SaturatingAdd(a, b *uint256.Int) *uint256.Int {
	z, overflow := new(uint256.Int).AddOverflow(a, b)
	if overflow {
		return new(uint256.Int).SetAllOne()
	}
	return z
}

// AbsDiff returns |a-b| and whether a >= b.
func AbsDiff(a, b *uint256.Int) (*uint256.Int, bool) {
	if a.Lt(b) {
		return new(uint256.Int).Sub(b, a), false
	}
	return new(uint256.Int).Sub(a, b), true
}

// Min returns a copy of the smaller of a and b.
func Min(a, b *uint256.Int) *uint256.Int {
	if a.Lt(b) {
		return a.Clone()
	}
	return b.Clone()
}

// Sqrt returns floor(sqrt(y)) using Babylonian iteration.
// Sqrt(0) == 0 and the result is exact for perfect squares.
func Sqrt(y *uint256.Int) *uint256.Int {
	z := new(uint256.Int)
	three := uint256.NewInt(3)
	if y.Gt(three) {
		z.Set(y)
		x := new(uint256.Int).Rsh(y, 1)
		x.AddUint64(x, 1)
		tmp := new(uint256.Int)
		for x.Lt(z) {
			z.Set(x)
			tmp.Div(y, x)
			x.Add(tmp, x)
			x.Rsh(x, 1)
		}
	} else if !y.IsZero() {
		z.SetOne()
	}
	return z
}

// ProductsEqual reports whether a*b == c*d. The products are compared at
// full width, so it is safe for any pair of reserves and amounts.
func ProductsEqual(a, b, c, d *uint256.Int) bool {
	lhs := new(big.Int).Mul(a.ToBig(), b.ToBig())
	rhs := new(big.Int).Mul(c.ToBig(), d.ToBig())
	return lhs.Cmp(rhs) == 0
}

// ToDecimal renders a fixed-point value with the given number of decimal
// places as an exact decimal.
func ToDecimal(x *uint256.Int, places int32) decimal.Decimal {
	if x == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(x.ToBig(), -places)
}

// FromDecimal converts a decimal such as 0.05 into 18-decimal fixed point.
func FromDecimal(d decimal.Decimal) (*uint256.Int, error) {
	if d.IsNegative() {
		return nil, fmt.Errorf("%w: negative value %s", ErrInvalidAmount, d)
	}
	shifted := d.Shift(Decimals)
	if !shifted.Equal(shifted.Truncate(0)) {
		return nil, fmt.Errorf("%w: %s", ErrPrecision, d)
	}
	z, overflow := uint256.FromBig(shifted.BigInt())
	if overflow {
		return nil, ErrOverflow
	}
	return z, nil
}

// ParseAmount parses a base-10 integer amount.
func ParseAmount(s string) (*uint256.Int, error) {
	if s == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidAmount)
	}
	z, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidAmount, s, err)
	}
	return z, nil
}
