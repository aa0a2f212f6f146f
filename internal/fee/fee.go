// Package fee implements the dynamic fee model. A trade's fee starts at the
// configured floor and grows linearly with three risk proxies, each an
// 18-decimal fraction:
//
//   - volatility: |spot - ema| / ema, zero until the oracle is initialized
//   - slippage:   amountIn / (reserveIn + amountIn)
//   - shallow:    1 - minReserve / (minReserve + K)
//
// The composite is clamped to [MinFeeBps, MaxFeeBps]. Clamping is silent;
// callers that need the raw composite can recompute it from the proxies.
package fee

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"

	"github.com/atmx/adaptive-amm/internal/fixedpoint"
)

// HardCapBps is the ceiling for MaxFeeBps (10%).
const HardCapBps uint64 = 1_000

// DepthScale is K in the shallow-depth proxy: 1000 * 10^18 token units.
var DepthScale = new(uint256.Int).Mul(uint256.NewInt(1_000), fixedpoint.Scale)

var (
	ErrNoLiquidity = errors.New("fee: pool has no liquidity")
	ErrZeroAmount  = errors.New("fee: amount in must be positive")
	ErrBadBounds   = errors.New("fee: bounds must satisfy min <= max <= hard cap")
)

// Config holds the fee bounds and per-proxy coefficients. Coefficients are
// basis points added per 1.0 of proxy.
type Config struct {
	MinFeeBps    uint64 `json:"min_fee_bps"`
	MaxFeeBps    uint64 `json:"max_fee_bps"`
	BetaVol      uint64 `json:"beta_vol"`
	GammaSlip    uint64 `json:"gamma_slip"`
	DeltaShallow uint64 `json:"delta_shallow"`
}

// DefaultConfig returns a 30-120 bps band with moderate coefficients.
func DefaultConfig() Config {
	return Config{
		MinFeeBps:    30,
		MaxFeeBps:    120,
		BetaVol:      50,
		GammaSlip:    100,
		DeltaShallow: 20,
	}
}

// ValidateBounds checks min <= max <= HardCapBps.
func ValidateBounds(min, max uint64) error {
	if min > max || max > HardCapBps {
		return fmt.Errorf("%w: min=%d max=%d cap=%d", ErrBadBounds, min, max, HardCapBps)
	}
	return nil
}

// Validate checks the bounds of c. Coefficients are unrestricted.
func (c Config) Validate() error {
	return ValidateBounds(c.MinFeeBps, c.MaxFeeBps)
}

// Input is the pre-trade state a quote is computed against.
type Input struct {
	ZeroForOne bool
	AmountIn   *uint256.Int
	Reserve0   *uint256.Int
	Reserve1   *uint256.Int
	// EMA is ignored unless EMAReady is set.
	EMA      *uint256.Int
	EMAReady bool
}

// Quote is the model's output: the clamped fee and the proxies behind it.
type Quote struct {
	FeeBps     uint64
	Volatility *uint256.Int
	Slippage   *uint256.Int
	Shallow    *uint256.Int
}

// Compute prices a trade. cfg is taken by value so a concurrent parameter
// update cannot mix old and new coefficients within one quote.
func Compute(in Input, cfg Config) (Quote, error) {
	if in.AmountIn == nil || in.AmountIn.IsZero() {
		return Quote{}, ErrZeroAmount
	}
	if in.Reserve0.IsZero() || in.Reserve1.IsZero() {
		return Quote{}, ErrNoLiquidity
	}

	reserveIn := in.Reserve0
	if !in.ZeroForOne {
		reserveIn = in.Reserve1
	}

	vol, err := volatility(in)
	if err != nil {
		return Quote{}, fmt.Errorf("fee: volatility proxy: %w", err)
	}
	slip, err := slippage(in.AmountIn, reserveIn)
	if err != nil {
		return Quote{}, fmt.Errorf("fee: slippage proxy: %w", err)
	}
	shallow, err := shallowDepth(fixedpoint.Min(in.Reserve0, in.Reserve1))
	if err != nil {
		return Quote{}, fmt.Errorf("fee: shallow proxy: %w", err)
	}

	return Quote{
		FeeBps:     clamp(Raw(cfg, vol, slip, shallow), cfg),
		Volatility: vol,
		Slippage:   slip,
		Shallow:    shallow,
	}, nil
}

// Raw returns the unclamped composite fee in bps:
//
//	min + beta*vol/Scale + gamma*slip/Scale + delta*shallow/Scale
//
// It saturates instead of overflowing.
func Raw(cfg Config, vol, slip, shallow *uint256.Int) *uint256.Int {
	raw := uint256.NewInt(cfg.MinFeeBps)
	raw = fixedpoint.SaturatingAdd(raw, weighted(cfg.BetaVol, vol))
	raw = fixedpoint.SaturatingAdd(raw, weighted(cfg.GammaSlip, slip))
	raw = fixedpoint.SaturatingAdd(raw, weighted(cfg.DeltaShallow, shallow))
	return raw
}

func weighted(coef uint64, proxy *uint256.Int) *uint256.Int {
	z, err := fixedpoint.MulDiv(uint256.NewInt(coef), proxy, fixedpoint.Scale)
	if err != nil {
		return new(uint256.Int).SetAllOne()
	}
	return z
}

func clamp(raw *uint256.Int, cfg Config) uint64 {
	if raw.Lt(uint256.NewInt(cfg.MinFeeBps)) {
		return cfg.MinFeeBps
	}
	if raw.Gt(uint256.NewInt(cfg.MaxFeeBps)) {
		return cfg.MaxFeeBps
	}
	return raw.Uint64()
}

func volatility(in Input) (*uint256.Int, error) {
	if !in.EMAReady || in.EMA == nil || in.EMA.IsZero() {
		return new(uint256.Int), nil
	}
	spot, err := fixedpoint.MulDiv(in.Reserve1, fixedpoint.Scale, in.Reserve0)
	if err != nil {
		return nil, err
	}
	diff, _ := fixedpoint.AbsDiff(spot, in.EMA)
	return fixedpoint.MulDiv(diff, fixedpoint.Scale, in.EMA)
}

func slippage(amountIn, reserveIn *uint256.Int) (*uint256.Int, error) {
	denom, err := fixedpoint.Add(reserveIn, amountIn)
	if err != nil {
		return nil, err
	}
	return fixedpoint.MulDiv(amountIn, fixedpoint.Scale, denom)
}

func shallowDepth(minReserve *uint256.Int) (*uint256.Int, error) {
	denom, err := fixedpoint.Add(minReserve, DepthScale)
	if err != nil {
		return nil, err
	}
	depth, err := fixedpoint.MulDiv(minReserve, fixedpoint.Scale, denom)
	if err != nil {
		return nil, err
	}
	return new(uint256.Int).Sub(fixedpoint.Scale, depth), nil
}
