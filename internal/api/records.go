package api

import (
	"fmt"
	"time"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"

	"github.com/atmx/adaptive-amm/internal/fee"
	"github.com/atmx/adaptive-amm/internal/fixedpoint"
	"github.com/atmx/adaptive-amm/internal/ledger"
	"github.com/atmx/adaptive-amm/internal/model"
	"github.com/atmx/adaptive-amm/internal/pool"
)

// fraction renders an 18-decimal fixed-point value, e.g. 0.05.
func fraction(x *uint256.Int) decimal.Decimal {
	return fixedpoint.ToDecimal(x, fixedpoint.Decimals)
}

func amount(x *uint256.Int) string {
	if x == nil {
		return ""
	}
	return x.Dec()
}

func paramsRecord(p pool.Params) model.Params {
	return model.Params{
		MinFeeBps:        p.Fee.MinFeeBps,
		MaxFeeBps:        p.Fee.MaxFeeBps,
		BetaVol:          p.Fee.BetaVol,
		GammaSlip:        p.Fee.GammaSlip,
		DeltaShallow:     p.Fee.DeltaShallow,
		Alpha:            p.Alpha.Dec(),
		BreakerThreshold: p.BreakerThreshold.Dec(),
	}
}

func paramsFromRecord(r model.Params) (pool.Params, error) {
	alpha, err := fixedpoint.ParseAmount(r.Alpha)
	if err != nil {
		return pool.Params{}, fmt.Errorf("alpha: %w", err)
	}
	threshold, err := fixedpoint.ParseAmount(r.BreakerThreshold)
	if err != nil {
		return pool.Params{}, fmt.Errorf("breaker threshold: %w", err)
	}
	return pool.Params{
		Fee: fee.Config{
			MinFeeBps:    r.MinFeeBps,
			MaxFeeBps:    r.MaxFeeBps,
			BetaVol:      r.BetaVol,
			GammaSlip:    r.GammaSlip,
			DeltaShallow: r.DeltaShallow,
		},
		Alpha:            alpha,
		BreakerThreshold: threshold,
	}, nil
}

// poolRecord captures the persisted form of a registered pool.
func poolRecord(e *entry, now time.Time) *model.Pool {
	snap := e.pool.Snapshot()
	token0, token1 := e.pool.Tokens()

	shares := make(map[string]string, len(snap.Ledger.Holdings))
	for _, h := range snap.Ledger.Holdings {
		shares[h.Owner] = h.Shares.Dec()
	}

	rec := &model.Pool{
		ID:             e.pool.ID(),
		Symbol:         e.pair.Symbol,
		Token0:         token0,
		Token1:         token1,
		Address:        e.pool.Address(),
		Reserve0:       snap.Ledger.Reserve0.Dec(),
		Reserve1:       snap.Ledger.Reserve1.Dec(),
		TotalShares:    snap.Ledger.TotalShares.Dec(),
		Shares:         shares,
		EMAPrice:       snap.EMAPrice.Dec(),
		EMAInitialized: snap.EMAInitialized,
		LastUpdate:     snap.LastUpdate,
		Params:         paramsRecord(snap.Params),
		CreatedAt:      e.createdAt,
		UpdatedAt:      now,
	}
	if !snap.Ledger.Reserve0.IsZero() {
		rec.SpotPrice = decimal.NewFromBigInt(snap.Ledger.Reserve1.ToBig(), 0).
			DivRound(decimal.NewFromBigInt(snap.Ledger.Reserve0.ToBig(), 0), fixedpoint.Decimals)
	}
	return rec
}

// snapshotFromRecord parses a persisted pool back into engine types.
func snapshotFromRecord(r *model.Pool) (pool.Snapshot, error) {
	parse := func(name, s string) (*uint256.Int, error) {
		v, err := fixedpoint.ParseAmount(s)
		if err != nil {
			return nil, fmt.Errorf("pool %s %s: %w", r.ID, name, err)
		}
		return v, nil
	}

	var snap pool.Snapshot
	var err error
	if snap.Ledger.Reserve0, err = parse("reserve0", r.Reserve0); err != nil {
		return pool.Snapshot{}, err
	}
	if snap.Ledger.Reserve1, err = parse("reserve1", r.Reserve1); err != nil {
		return pool.Snapshot{}, err
	}
	if snap.Ledger.TotalShares, err = parse("total_shares", r.TotalShares); err != nil {
		return pool.Snapshot{}, err
	}
	for owner, s := range r.Shares {
		shares, err := parse("shares of "+owner, s)
		if err != nil {
			return pool.Snapshot{}, err
		}
		snap.Ledger.Holdings = append(snap.Ledger.Holdings, ledger.Holding{Owner: owner, Shares: shares})
	}
	if snap.EMAPrice, err = parse("ema_price", r.EMAPrice); err != nil {
		return pool.Snapshot{}, err
	}
	snap.EMAInitialized = r.EMAInitialized
	snap.LastUpdate = r.LastUpdate
	if snap.Params, err = paramsFromRecord(r.Params); err != nil {
		return pool.Snapshot{}, fmt.Errorf("pool %s: %w", r.ID, err)
	}
	return snap, nil
}

// eventRecord converts a pool notification into its log record.
func eventRecord(id string, e pool.Event) *model.Event {
	rec := &model.Event{
		ID:        id,
		PoolID:    e.PoolID,
		Kind:      string(e.Kind),
		Account:   e.Account,
		Timestamp: e.At,
	}
	switch {
	case e.Swap != nil:
		rec.TokenIn = e.Swap.TokenIn
		rec.TokenOut = e.Swap.TokenOut
		rec.AmountIn = amount(e.Swap.AmountIn)
		rec.AmountOut = amount(e.Swap.AmountOut)
		rec.FeeBps = e.Swap.FeeBps
		rec.Volatility = fraction(e.Swap.Volatility)
		rec.Slippage = fraction(e.Swap.Slippage)
		rec.Shallow = fraction(e.Swap.Shallow)
		rec.SpotPrice = fraction(e.Swap.SpotPrice)
		rec.EMAPrice = fraction(e.Swap.EMAPrice)
	case e.Mint != nil:
		rec.Amount0 = amount(e.Mint.Amount0)
		rec.Amount1 = amount(e.Mint.Amount1)
		rec.Shares = amount(e.Mint.Shares)
	case e.Burn != nil:
		rec.Amount0 = amount(e.Burn.Amount0)
		rec.Amount1 = amount(e.Burn.Amount1)
		rec.Shares = amount(e.Burn.Shares)
	case e.Params != nil:
		params := paramsRecord(*e.Params)
		rec.Params = &params
	case e.Trip != nil:
		rec.TokenIn = e.Trip.TokenIn
		rec.AmountIn = amount(e.Trip.AmountIn)
		rec.Volatility = fraction(e.Trip.Volatility)
		rec.Threshold = fraction(e.Trip.Threshold)
	}
	return rec
}
