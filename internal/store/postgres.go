package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/atmx/adaptive-amm/internal/model"
)

// Schema creates the tables used by PostgresStore. Token amounts are
// NUMERIC(78,0), wide enough for any 256-bit integer.
const Schema = `
CREATE TABLE IF NOT EXISTS pools (
	id              TEXT PRIMARY KEY,
	symbol          TEXT NOT NULL,
	token0          TEXT NOT NULL,
	token1          TEXT NOT NULL,
	address         TEXT NOT NULL,
	reserve0        NUMERIC(78,0) NOT NULL,
	reserve1        NUMERIC(78,0) NOT NULL,
	total_shares    NUMERIC(78,0) NOT NULL,
	shares          JSONB NOT NULL DEFAULT '{}',
	ema_price       NUMERIC(78,0) NOT NULL,
	ema_initialized BOOLEAN NOT NULL,
	last_update     TIMESTAMPTZ NOT NULL,
	spot_price      NUMERIC NOT NULL,
	params          JSONB NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL,
	updated_at      TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS pool_events (
	id          UUID PRIMARY KEY,
	seq         BIGSERIAL UNIQUE,
	pool_id     TEXT NOT NULL REFERENCES pools(id),
	kind        TEXT NOT NULL,
	account     TEXT NOT NULL,
	token_in    TEXT NOT NULL DEFAULT '',
	token_out   TEXT NOT NULL DEFAULT '',
	amount_in   NUMERIC(78,0),
	amount_out  NUMERIC(78,0),
	amount0     NUMERIC(78,0),
	amount1     NUMERIC(78,0),
	shares      NUMERIC(78,0),
	fee_bps     BIGINT NOT NULL DEFAULT 0,
	volatility  NUMERIC NOT NULL DEFAULT 0,
	slippage    NUMERIC NOT NULL DEFAULT 0,
	shallow     NUMERIC NOT NULL DEFAULT 0,
	threshold   NUMERIC NOT NULL DEFAULT 0,
	spot_price  NUMERIC NOT NULL DEFAULT 0,
	ema_price   NUMERIC NOT NULL DEFAULT 0,
	params      JSONB,
	timestamp   TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_pool_events_pool ON pool_events(pool_id, seq);
CREATE INDEX IF NOT EXISTS idx_pool_events_account ON pool_events(account, seq);
`

// PostgresStore implements Store using PostgreSQL as the source of truth.
// Amounts and prices are stored as NUMERIC for exact precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate applies Schema.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) SavePool(ctx context.Context, p *model.Pool) error {
	shares, err := json.Marshal(p.Shares)
	if err != nil {
		return fmt.Errorf("encode shares: %w", err)
	}
	params, err := json.Marshal(p.Params)
	if err != nil {
		return fmt.Errorf("encode params: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO pools (id, symbol, token0, token1, address,
		                    reserve0, reserve1, total_shares, shares,
		                    ema_price, ema_initialized, last_update, spot_price,
		                    params, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5,
		         $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9::JSONB,
		         $10::NUMERIC, $11, $12, $13::NUMERIC,
		         $14::JSONB, $15, $16)
		 ON CONFLICT (id) DO UPDATE SET
		     reserve0 = EXCLUDED.reserve0,
		     reserve1 = EXCLUDED.reserve1,
		     total_shares = EXCLUDED.total_shares,
		     shares = EXCLUDED.shares,
		     ema_price = EXCLUDED.ema_price,
		     ema_initialized = EXCLUDED.ema_initialized,
		     last_update = EXCLUDED.last_update,
		     spot_price = EXCLUDED.spot_price,
		     params = EXCLUDED.params,
		     updated_at = EXCLUDED.updated_at`,
		p.ID, p.Symbol, p.Token0, p.Token1, p.Address,
		p.Reserve0, p.Reserve1, p.TotalShares, string(shares),
		p.EMAPrice, p.EMAInitialized, p.LastUpdate, p.SpotPrice.String(),
		string(params), p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save pool %s: %w", p.ID, err)
	}
	return nil
}

const poolColumns = `id, symbol, token0, token1, address,
		        reserve0::TEXT, reserve1::TEXT, total_shares::TEXT, shares,
		        ema_price::TEXT, ema_initialized, last_update, spot_price::TEXT,
		        params, created_at, updated_at`

func (s *PostgresStore) GetPool(ctx context.Context, id string) (*model.Pool, error) {
	p, err := scanPool(s.pool.QueryRow(ctx,
		`SELECT `+poolColumns+` FROM pools WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("pool %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get pool %s: %w", id, err)
	}
	return p, nil
}

func (s *PostgresStore) ListPools(ctx context.Context) ([]model.Pool, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+poolColumns+` FROM pools ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pools []model.Pool
	for rows.Next() {
		p, err := scanPool(rows)
		if err != nil {
			return nil, err
		}
		pools = append(pools, *p)
	}
	return pools, rows.Err()
}

func (s *PostgresStore) InsertEvent(ctx context.Context, e *model.Event) error {
	var params []byte
	if e.Params != nil {
		var err error
		if params, err = json.Marshal(e.Params); err != nil {
			return fmt.Errorf("encode params: %w", err)
		}
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO pool_events (id, pool_id, kind, account, token_in, token_out,
		                          amount_in, amount_out, amount0, amount1, shares, fee_bps,
		                          volatility, slippage, shallow, threshold, spot_price, ema_price,
		                          params, timestamp)
		 VALUES ($1, $2, $3, $4, $5, $6,
		         NULLIF($7, '')::NUMERIC, NULLIF($8, '')::NUMERIC, NULLIF($9, '')::NUMERIC,
		         NULLIF($10, '')::NUMERIC, NULLIF($11, '')::NUMERIC, $12,
		         $13::NUMERIC, $14::NUMERIC, $15::NUMERIC, $16::NUMERIC, $17::NUMERIC, $18::NUMERIC,
		         $19::JSONB, $20)`,
		e.ID, e.PoolID, e.Kind, e.Account, e.TokenIn, e.TokenOut,
		e.AmountIn, e.AmountOut, e.Amount0, e.Amount1, e.Shares, int64(e.FeeBps),
		e.Volatility.String(), e.Slippage.String(), e.Shallow.String(),
		e.Threshold.String(), e.SpotPrice.String(), e.EMAPrice.String(),
		nullableJSON(params), e.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert event %s: %w", e.ID, err)
	}
	return nil
}

const eventColumns = `id::TEXT, pool_id, kind, account, token_in, token_out,
		        COALESCE(amount_in::TEXT, ''), COALESCE(amount_out::TEXT, ''),
		        COALESCE(amount0::TEXT, ''), COALESCE(amount1::TEXT, ''),
		        COALESCE(shares::TEXT, ''), fee_bps,
		        volatility::TEXT, slippage::TEXT, shallow::TEXT, threshold::TEXT,
		        spot_price::TEXT, ema_price::TEXT, params, timestamp, seq`

func (s *PostgresStore) ListEvents(ctx context.Context, poolID string, limit int) ([]model.Event, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if limit > 0 {
		rows, err = s.pool.Query(ctx,
			`SELECT * FROM (
			     SELECT `+eventColumns+` FROM pool_events
			     WHERE pool_id = $1 ORDER BY seq DESC LIMIT $2
			 ) recent ORDER BY seq`, poolID, limit)
	} else {
		rows, err = s.pool.Query(ctx,
			`SELECT `+eventColumns+` FROM pool_events WHERE pool_id = $1 ORDER BY seq`, poolID)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanEvents(rows)
}

func (s *PostgresStore) ListEventsByAccount(ctx context.Context, account string) ([]model.Event, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+eventColumns+` FROM pool_events WHERE account = $1 ORDER BY seq`, account)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanEvents(rows)
}

func nullableJSON(b []byte) any {
	if b == nil {
		return nil
	}
	return string(b)
}

func scanPool(row pgx.Row) (*model.Pool, error) {
	var p model.Pool
	var shares, params []byte
	var spot string

	if err := row.Scan(&p.ID, &p.Symbol, &p.Token0, &p.Token1, &p.Address,
		&p.Reserve0, &p.Reserve1, &p.TotalShares, &shares,
		&p.EMAPrice, &p.EMAInitialized, &p.LastUpdate, &spot,
		&params, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}

	if err := json.Unmarshal(shares, &p.Shares); err != nil {
		return nil, fmt.Errorf("decode shares of %s: %w", p.ID, err)
	}
	if err := json.Unmarshal(params, &p.Params); err != nil {
		return nil, fmt.Errorf("decode params of %s: %w", p.ID, err)
	}
	p.SpotPrice, _ = decimal.NewFromString(spot)
	return &p, nil
}

// scanEvents reads pgx rows into Event slices. The trailing seq column
// only orders the log.
func scanEvents(rows pgx.Rows) ([]model.Event, error) {
	var events []model.Event
	for rows.Next() {
		var e model.Event
		var fee, seq int64
		var vol, slip, shallow, threshold, spot, ema string
		var params []byte

		if err := rows.Scan(&e.ID, &e.PoolID, &e.Kind, &e.Account, &e.TokenIn, &e.TokenOut,
			&e.AmountIn, &e.AmountOut, &e.Amount0, &e.Amount1, &e.Shares, &fee,
			&vol, &slip, &shallow, &threshold, &spot, &ema,
			&params, &e.Timestamp, &seq); err != nil {
			return nil, err
		}

		e.FeeBps = uint64(fee)
		e.Volatility, _ = decimal.NewFromString(vol)
		e.Slippage, _ = decimal.NewFromString(slip)
		e.Shallow, _ = decimal.NewFromString(shallow)
		e.Threshold, _ = decimal.NewFromString(threshold)
		e.SpotPrice, _ = decimal.NewFromString(spot)
		e.EMAPrice, _ = decimal.NewFromString(ema)
		if params != nil {
			e.Params = new(model.Params)
			if err := json.Unmarshal(params, e.Params); err != nil {
				return nil, fmt.Errorf("decode params of event %s: %w", e.ID, err)
			}
		}

		events = append(events, e)
	}
	return events, rows.Err()
}
