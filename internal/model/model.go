// Package model defines the persisted and transport records of the AMM
// engine. Token amounts, shares and fixed-point prices are kept as base-10
// integer strings so no precision is lost between the engine's 256-bit
// values and storage; human-readable prices use shopspring/decimal, never
// float64.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Params is the admin-tunable configuration of one pool.
type Params struct {
	MinFeeBps    uint64 `json:"min_fee_bps"`
	MaxFeeBps    uint64 `json:"max_fee_bps"`
	BetaVol      uint64 `json:"beta_vol"`
	GammaSlip    uint64 `json:"gamma_slip"`
	DeltaShallow uint64 `json:"delta_shallow"`
	// Alpha and BreakerThreshold are 18-decimal fixed-point integers.
	Alpha            string `json:"alpha"`
	BreakerThreshold string `json:"breaker_threshold"`
}

// Pool is the snapshot of a pool written after every successful mutation.
type Pool struct {
	ID      string `json:"id" db:"id"`
	Symbol  string `json:"symbol" db:"symbol"` // "ETH-USDC"
	Token0  string `json:"token0" db:"token0"`
	Token1  string `json:"token1" db:"token1"`
	Address string `json:"address" db:"address"`

	Reserve0    string            `json:"reserve0" db:"reserve0"`
	Reserve1    string            `json:"reserve1" db:"reserve1"`
	TotalShares string            `json:"total_shares" db:"total_shares"`
	Shares      map[string]string `json:"shares" db:"shares"` // owner -> shares

	EMAPrice       string    `json:"ema_price" db:"ema_price"`
	EMAInitialized bool      `json:"ema_initialized" db:"ema_initialized"`
	LastUpdate     time.Time `json:"last_update" db:"last_update"`

	// SpotPrice is token1 per token0, zero while either reserve is empty.
	SpotPrice decimal.Decimal `json:"spot_price" db:"spot_price"`

	Params    Params    `json:"params" db:"params"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Event kinds.
const (
	EventSwap           = "swap"
	EventMint           = "mint"
	EventBurn           = "burn"
	EventParamsUpdated  = "params_updated"
	EventBreakerTripped = "breaker_tripped"
)

// Event is an immutable record of something a pool did or refused to do.
// Once created, these are never modified or deleted. Fields that do not
// apply to Kind are left empty.
type Event struct {
	ID      string `json:"id" db:"id"`
	PoolID  string `json:"pool_id" db:"pool_id"`
	Kind    string `json:"kind" db:"kind"`
	Account string `json:"account" db:"account"`

	TokenIn   string `json:"token_in,omitempty" db:"token_in"`
	TokenOut  string `json:"token_out,omitempty" db:"token_out"`
	AmountIn  string `json:"amount_in,omitempty" db:"amount_in"`
	AmountOut string `json:"amount_out,omitempty" db:"amount_out"`
	Amount0   string `json:"amount0,omitempty" db:"amount0"`
	Amount1   string `json:"amount1,omitempty" db:"amount1"`
	Shares    string `json:"shares,omitempty" db:"shares"`
	FeeBps    uint64 `json:"fee_bps,omitempty" db:"fee_bps"`

	// Proxies and prices as fractions, e.g. 0.3 for a 30% deviation.
	Volatility decimal.Decimal `json:"volatility" db:"volatility"`
	Slippage   decimal.Decimal `json:"slippage" db:"slippage"`
	Shallow    decimal.Decimal `json:"shallow" db:"shallow"`
	Threshold  decimal.Decimal `json:"threshold" db:"threshold"`
	SpotPrice  decimal.Decimal `json:"spot_price" db:"spot_price"`
	EMAPrice   decimal.Decimal `json:"ema_price" db:"ema_price"`

	Params *Params `json:"params,omitempty" db:"params"`

	Timestamp time.Time `json:"timestamp" db:"timestamp"`
}
