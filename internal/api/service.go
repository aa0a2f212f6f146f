// Package api provides the HTTP handlers and pool registry for creating
// pools, swapping, providing liquidity, tuning pool parameters and
// querying state, plus the WebSocket feed of pool events.
//
// Token amounts and shares travel as base-10 integer strings; fractions
// (prices, proxies, alpha, breaker threshold) use shopspring/decimal.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"

	"github.com/atmx/adaptive-amm/internal/fixedpoint"
	"github.com/atmx/adaptive-amm/internal/metrics"
	"github.com/atmx/adaptive-amm/internal/model"
	"github.com/atmx/adaptive-amm/internal/pair"
	"github.com/atmx/adaptive-amm/internal/pool"
	"github.com/atmx/adaptive-amm/internal/store"
	"github.com/atmx/adaptive-amm/internal/token"
)

// AdminAccount is the caller identity granted to requests bearing the
// admin token. Every pool created by the service names it as admin.
const AdminAccount = "admin"

// Options configures a Service.
type Options struct {
	// AdminToken authorizes pool creation and parameter updates. Empty
	// disables both.
	AdminToken string
	// Defaults are the parameters of pools created without overrides.
	Defaults pool.Params
	// Clock overrides time.Now.
	Clock func() time.Time
}

type entry struct {
	pool      *pool.Pool
	pair      pair.Pair
	createdAt time.Time
	// persistMu orders snapshot writes so the last save is the newest.
	persistMu sync.Mutex
}

// Service owns the pool registry. Each pool serializes its own
// operations; the registry lock only guards the map.
type Service struct {
	store      store.Store
	bank       *token.Bank
	wsHub      *WSHub // optional WebSocket hub for real-time broadcasts
	adminToken string
	defaults   pool.Params
	now        func() time.Time

	mu    sync.RWMutex
	pools map[string]*entry
}

// NewService creates a new pool service.
// Pass nil for hub if WebSocket broadcasting is not needed.
func NewService(st store.Store, bank *token.Bank, hub *WSHub, opts Options) *Service {
	now := opts.Clock
	if now == nil {
		now = time.Now
	}
	defaults := opts.Defaults
	if defaults.Alpha == nil || defaults.BreakerThreshold == nil {
		defaults = pool.DefaultParams()
	}
	return &Service{
		store:      st,
		bank:       bank,
		wsHub:      hub,
		adminToken: opts.AdminToken,
		defaults:   defaults,
		now:        now,
		pools:      make(map[string]*entry),
	}
}

// Routes registers the service handlers on r.
func (s *Service) Routes(r chi.Router) {
	r.Get("/pools", s.ListPools)
	r.Post("/pools", s.CreatePool)
	r.Route("/pools/{poolID}", func(r chi.Router) {
		r.Get("/", s.GetPool)
		r.Get("/params", s.GetParams)
		r.Get("/fee", s.GetFee)
		r.Get("/events", s.GetEvents)
		r.Get("/shares/{account}", s.GetShares)

		r.Post("/swap", s.Swap)
		r.Post("/liquidity", s.AddLiquidity)
		r.Post("/liquidity/remove", s.RemoveLiquidity)

		r.Put("/fee-bounds", s.SetFeeBounds)
		r.Put("/coefficients", s.SetCoefficients)
		r.Put("/ema", s.SetEMAConfig)
		r.Put("/breaker", s.SetBreaker)
	})
	r.Get("/accounts/{account}/events", s.GetAccountEvents)
	r.Post("/tokens/{symbol}/mint", s.MintToken)
	r.Get("/tokens/{symbol}/balances/{account}", s.GetBalance)
}

// Load restores every persisted pool into the registry. In-memory token
// balances do not survive a restart, so each pool's reserves are credited
// back to its address before the pool is rebuilt.
func (s *Service) Load(ctx context.Context) error {
	records, err := s.store.ListPools(ctx)
	if err != nil {
		return fmt.Errorf("list pools: %w", err)
	}
	for i := range records {
		rec := &records[i]
		pr, err := pair.Parse(rec.Symbol)
		if err != nil {
			return fmt.Errorf("pool %s: %w", rec.ID, err)
		}
		snap, err := snapshotFromRecord(rec)
		if err != nil {
			return err
		}
		t0, t1 := s.bank.Ensure(rec.Token0), s.bank.Ensure(rec.Token1)
		if err := credit(t0, rec.Address, snap.Ledger.Reserve0); err != nil {
			return fmt.Errorf("pool %s: %w", rec.ID, err)
		}
		if err := credit(t1, rec.Address, snap.Ledger.Reserve1); err != nil {
			return fmt.Errorf("pool %s: %w", rec.ID, err)
		}

		p, err := pool.Restore(s.poolConfig(rec.ID, rec.Address, t0, t1, snap.Params), snap, s.poolOptions()...)
		if err != nil {
			return fmt.Errorf("restore pool %s: %w", rec.ID, err)
		}
		s.mu.Lock()
		s.pools[rec.ID] = &entry{pool: p, pair: pr, createdAt: rec.CreatedAt}
		s.mu.Unlock()
		slog.Info("pool restored", "pool", rec.ID, "reserve0", rec.Reserve0, "reserve1", rec.Reserve1)
	}
	s.updatePoolGauge()
	return nil
}

func credit(t *token.Memory, holder string, amount *uint256.Int) error {
	if amount.IsZero() {
		return nil
	}
	return t.Mint(holder, amount)
}

func (s *Service) poolConfig(id, address string, t0, t1 token.Token, params pool.Params) pool.Config {
	return pool.Config{
		ID:      id,
		Address: address,
		Admin:   AdminAccount,
		Token0:  t0,
		Token1:  t1,
		Params:  params,
	}
}

func (s *Service) poolOptions() []pool.Option {
	return []pool.Option{pool.WithNotifier(s), pool.WithClock(s.now)}
}

func (s *Service) lookup(id string) (*entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.pools[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPoolNotFound, id)
	}
	return e, nil
}

func (s *Service) updatePoolGauge() {
	s.mu.RLock()
	n := len(s.pools)
	s.mu.RUnlock()
	metrics.ActivePools.Set(float64(n))
}

// caller resolves the request's identity for admin operations.
func (s *Service) caller(r *http.Request) string {
	if s.adminToken == "" {
		return ""
	}
	given, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || subtle.ConstantTimeCompare([]byte(given), []byte(s.adminToken)) != 1 {
		return ""
	}
	return AdminAccount
}

// --- Notifications ---

// Notify records, persists and broadcasts a pool event. It runs after the
// pool has released its lock.
func (s *Service) Notify(ctx context.Context, e pool.Event) {
	rec := eventRecord(uuid.New().String(), e)
	if err := s.store.InsertEvent(ctx, rec); err != nil {
		slog.Error("failed to record pool event", "pool", e.PoolID, "kind", e.Kind, "err", err)
	}

	switch e.Kind {
	case pool.EventSwap:
		metrics.SwapsTotal.WithLabelValues(e.PoolID, e.Swap.TokenIn).Inc()
		metrics.SwapFeeBps.WithLabelValues(e.PoolID).Observe(float64(e.Swap.FeeBps))
		metrics.Volatility.WithLabelValues(e.PoolID).Set(rec.Volatility.InexactFloat64())
	case pool.EventBreakerTripped:
		metrics.BreakerTrips.WithLabelValues(e.PoolID).Inc()
		metrics.Volatility.WithLabelValues(e.PoolID).Set(rec.Volatility.InexactFloat64())
		slog.Warn("circuit breaker tripped",
			"pool", e.PoolID,
			"account", e.Account,
			"volatility", rec.Volatility.String(),
			"threshold", rec.Threshold.String(),
		)
	case pool.EventMint, pool.EventBurn:
		metrics.LiquidityEvents.WithLabelValues(e.PoolID, string(e.Kind)).Inc()
	}

	var view *PoolView
	if e.Kind != pool.EventBreakerTripped {
		view = s.persist(ctx, e.PoolID)
	}

	if s.wsHub != nil {
		msg := WSMessage{
			Type:      string(e.Kind),
			PoolID:    e.PoolID,
			Account:   e.Account,
			TokenIn:   rec.TokenIn,
			AmountIn:  rec.AmountIn,
			AmountOut: rec.AmountOut,
			FeeBps:    rec.FeeBps,
		}
		if view != nil {
			msg.Reserve0 = view.Reserve0
			msg.Reserve1 = view.Reserve1
			msg.EMAPrice = view.EMAPrice.String()
			if view.SpotPrice != nil {
				msg.SpotPrice = view.SpotPrice.String()
			}
		}
		s.wsHub.Broadcast(msg)
	}
}

// persist writes the pool's current snapshot and returns its view.
func (s *Service) persist(ctx context.Context, poolID string) *PoolView {
	e, err := s.lookup(poolID)
	if err != nil {
		return nil
	}
	e.persistMu.Lock()
	defer e.persistMu.Unlock()

	rec := poolRecord(e, s.now().UTC())
	if err := s.store.SavePool(ctx, rec); err != nil {
		slog.Error("failed to persist pool", "pool", poolID, "err", err)
	}
	view := poolViewFromRecord(rec)
	return &view
}

// --- Request/Response types ---

// ParamsRequest overrides pool parameters at creation. Nil fields keep
// the service defaults.
type ParamsRequest struct {
	MinFeeBps        *uint64          `json:"min_fee_bps"`
	MaxFeeBps        *uint64          `json:"max_fee_bps"`
	BetaVol          *uint64          `json:"beta_vol"`
	GammaSlip        *uint64          `json:"gamma_slip"`
	DeltaShallow     *uint64          `json:"delta_shallow"`
	Alpha            *decimal.Decimal `json:"alpha"`             // e.g. 0.05
	BreakerThreshold *decimal.Decimal `json:"breaker_threshold"` // e.g. 0.2
}

// CreatePoolRequest is the JSON body for POST /pools.
type CreatePoolRequest struct {
	Pair   string         `json:"pair"` // BASE-QUOTE, base is token0
	Params *ParamsRequest `json:"params,omitempty"`
}

// ParamsView is the JSON form of pool parameters.
type ParamsView struct {
	MinFeeBps        uint64          `json:"min_fee_bps"`
	MaxFeeBps        uint64          `json:"max_fee_bps"`
	BetaVol          uint64          `json:"beta_vol"`
	GammaSlip        uint64          `json:"gamma_slip"`
	DeltaShallow     uint64          `json:"delta_shallow"`
	Alpha            decimal.Decimal `json:"alpha"`
	BreakerThreshold decimal.Decimal `json:"breaker_threshold"`
}

// PoolView is the JSON form of a pool's state.
type PoolView struct {
	ID          string `json:"id"`
	Symbol      string `json:"symbol"`
	Token0      string `json:"token0"`
	Token1      string `json:"token1"`
	Address     string `json:"address"`
	Reserve0    string `json:"reserve0"`
	Reserve1    string `json:"reserve1"`
	TotalShares string `json:"total_shares"`
	// SpotPrice is null while either reserve is empty.
	SpotPrice      *decimal.Decimal `json:"spot_price"`
	EMAPrice       decimal.Decimal  `json:"ema_price"`
	EMAInitialized bool             `json:"ema_initialized"`
	LastUpdate     time.Time        `json:"last_update"`
	Params         ParamsView       `json:"params"`
}

// FeeView is the JSON body returned from GET /pools/{id}/fee.
type FeeView struct {
	FeeBps     uint64          `json:"fee_bps"`
	Volatility decimal.Decimal `json:"volatility"`
	Slippage   decimal.Decimal `json:"slippage"`
	Shallow    decimal.Decimal `json:"shallow"`
}

// SwapRequest is the JSON body for POST /pools/{id}/swap.
type SwapRequest struct {
	Account  string `json:"account"`
	TokenIn  string `json:"token_in"`
	AmountIn string `json:"amount_in"`
}

// SwapResponse is the JSON body returned from POST /pools/{id}/swap.
type SwapResponse struct {
	PoolID     string          `json:"pool_id"`
	Account    string          `json:"account"`
	TokenIn    string          `json:"token_in"`
	TokenOut   string          `json:"token_out"`
	AmountIn   string          `json:"amount_in"`
	AmountOut  string          `json:"amount_out"`
	FeeBps     uint64          `json:"fee_bps"`
	Volatility decimal.Decimal `json:"volatility"`
	Slippage   decimal.Decimal `json:"slippage"`
	Shallow    decimal.Decimal `json:"shallow"`
	SpotPrice  decimal.Decimal `json:"spot_price"`
	EMAPrice   decimal.Decimal `json:"ema_price"`
}

// AddLiquidityRequest is the JSON body for POST /pools/{id}/liquidity.
type AddLiquidityRequest struct {
	Account string `json:"account"`
	Amount0 string `json:"amount0"`
	Amount1 string `json:"amount1"`
}

// RemoveLiquidityRequest is the JSON body for POST /pools/{id}/liquidity/remove.
type RemoveLiquidityRequest struct {
	Account string `json:"account"`
	Shares  string `json:"shares"`
}

// LiquidityResponse describes a deposit or withdrawal.
type LiquidityResponse struct {
	PoolID       string `json:"pool_id"`
	Account      string `json:"account"`
	Amount0      string `json:"amount0"`
	Amount1      string `json:"amount1"`
	Shares       string `json:"shares"`
	OracleSeeded bool   `json:"oracle_seeded,omitempty"`
}

// FeeBoundsRequest is the JSON body for PUT /pools/{id}/fee-bounds.
type FeeBoundsRequest struct {
	MinFeeBps uint64 `json:"min_fee_bps"`
	MaxFeeBps uint64 `json:"max_fee_bps"`
}

// CoefficientsRequest is the JSON body for PUT /pools/{id}/coefficients.
type CoefficientsRequest struct {
	BetaVol      uint64 `json:"beta_vol"`
	GammaSlip    uint64 `json:"gamma_slip"`
	DeltaShallow uint64 `json:"delta_shallow"`
}

// EMARequest is the JSON body for PUT /pools/{id}/ema.
type EMARequest struct {
	Alpha decimal.Decimal `json:"alpha"`
}

// BreakerRequest is the JSON body for PUT /pools/{id}/breaker.
type BreakerRequest struct {
	Threshold decimal.Decimal `json:"threshold"`
}

// MintRequest is the JSON body for POST /tokens/{symbol}/mint.
type MintRequest struct {
	Account string `json:"account"`
	Amount  string `json:"amount"`
}

// BalanceView is the JSON body returned by the token endpoints.
type BalanceView struct {
	Token   string `json:"token"`
	Account string `json:"account"`
	Balance string `json:"balance"`
}

func paramsView(p pool.Params) ParamsView {
	return ParamsView{
		MinFeeBps:        p.Fee.MinFeeBps,
		MaxFeeBps:        p.Fee.MaxFeeBps,
		BetaVol:          p.Fee.BetaVol,
		GammaSlip:        p.Fee.GammaSlip,
		DeltaShallow:     p.Fee.DeltaShallow,
		Alpha:            fraction(p.Alpha),
		BreakerThreshold: fraction(p.BreakerThreshold),
	}
}

func poolViewFromRecord(rec *model.Pool) PoolView {
	v := PoolView{
		ID:             rec.ID,
		Symbol:         rec.Symbol,
		Token0:         rec.Token0,
		Token1:         rec.Token1,
		Address:        rec.Address,
		Reserve0:       rec.Reserve0,
		Reserve1:       rec.Reserve1,
		TotalShares:    rec.TotalShares,
		EMAInitialized: rec.EMAInitialized,
		LastUpdate:     rec.LastUpdate,
	}
	if rec.Reserve0 != "0" && rec.Reserve1 != "0" {
		spot := rec.SpotPrice
		v.SpotPrice = &spot
	}
	if ema, err := uint256.FromDecimal(rec.EMAPrice); err == nil {
		v.EMAPrice = fraction(ema)
	}
	if params, err := paramsFromRecord(rec.Params); err == nil {
		v.Params = paramsView(params)
	}
	return v
}

func (s *Service) poolView(ctx context.Context, e *entry) (PoolView, error) {
	st, err := e.pool.State(ctx)
	if err != nil {
		return PoolView{}, err
	}
	token0, token1 := e.pool.Tokens()
	v := PoolView{
		ID:             e.pool.ID(),
		Symbol:         e.pair.Symbol,
		Token0:         token0,
		Token1:         token1,
		Address:        e.pool.Address(),
		Reserve0:       st.Reserve0.Dec(),
		Reserve1:       st.Reserve1.Dec(),
		TotalShares:    st.TotalShares.Dec(),
		EMAPrice:       fraction(st.EMAPrice),
		EMAInitialized: st.EMAInitialized,
		LastUpdate:     st.LastUpdate,
		Params:         paramsView(e.pool.Params()),
	}
	if st.SpotPrice != nil {
		spot := fraction(st.SpotPrice)
		v.SpotPrice = &spot
	}
	return v, nil
}

func (req *ParamsRequest) apply(defaults pool.Params) (pool.Params, error) {
	p := pool.Params{
		Fee:              defaults.Fee,
		Alpha:            defaults.Alpha.Clone(),
		BreakerThreshold: defaults.BreakerThreshold.Clone(),
	}
	if req == nil {
		return p, nil
	}
	set := func(dst *uint64, v *uint64) {
		if v != nil {
			*dst = *v
		}
	}
	set(&p.Fee.MinFeeBps, req.MinFeeBps)
	set(&p.Fee.MaxFeeBps, req.MaxFeeBps)
	set(&p.Fee.BetaVol, req.BetaVol)
	set(&p.Fee.GammaSlip, req.GammaSlip)
	set(&p.Fee.DeltaShallow, req.DeltaShallow)

	var err error
	if req.Alpha != nil {
		if p.Alpha, err = parseFraction("alpha", *req.Alpha); err != nil {
			return pool.Params{}, err
		}
	}
	if req.BreakerThreshold != nil {
		if p.BreakerThreshold, err = parseFraction("breaker_threshold", *req.BreakerThreshold); err != nil {
			return pool.Params{}, err
		}
	}
	return p, nil
}

func parseAmount(field, s string) (*uint256.Int, error) {
	v, err := fixedpoint.ParseAmount(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrBadRequest, field, err)
	}
	return v, nil
}

func parseFraction(field string, d decimal.Decimal) (*uint256.Int, error) {
	v, err := fixedpoint.FromDecimal(d)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrBadRequest, field, err)
	}
	return v, nil
}

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: invalid request body", ErrBadRequest)
	}
	return nil
}

// fail writes err as a JSON error and counts the rejection.
func (s *Service) fail(w http.ResponseWriter, op string, err error) {
	status, reason := classify(err)
	metrics.Rejections.WithLabelValues(op, reason).Inc()
	if status >= http.StatusInternalServerError {
		slog.Error("operation failed", "op", op, "err", err)
	}
	writeError(w, err.Error(), status)
}

// --- HTTP Handlers ---

// CreatePool handles POST /api/v1/pools
func (s *Service) CreatePool(w http.ResponseWriter, r *http.Request) {
	if s.caller(r) != AdminAccount {
		s.fail(w, "create_pool", fmt.Errorf("%w: pool creation requires the admin token", pool.ErrUnauthorized))
		return
	}
	var req CreatePoolRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, "create_pool", err)
		return
	}
	pr, err := pair.Parse(req.Pair)
	if err != nil {
		s.fail(w, "create_pool", err)
		return
	}
	params, err := req.Params.apply(s.defaults)
	if err != nil {
		s.fail(w, "create_pool", err)
		return
	}

	t0, t1 := s.bank.Ensure(pr.Base), s.bank.Ensure(pr.Quote)
	p, err := pool.New(s.poolConfig(pr.PoolID(), pr.Address(), t0, t1, params), s.poolOptions()...)
	if err != nil {
		s.fail(w, "create_pool", err)
		return
	}

	e := &entry{pool: p, pair: pr, createdAt: s.now().UTC()}
	s.mu.Lock()
	for _, id := range []string{pr.PoolID(), pr.Inverse().PoolID()} {
		if existing, exists := s.pools[id]; exists {
			s.mu.Unlock()
			s.fail(w, "create_pool", fmt.Errorf("%w: %s trades as %s", ErrPoolExists, pr.Symbol, existing.pair.Symbol))
			return
		}
	}
	s.pools[pr.PoolID()] = e
	s.mu.Unlock()
	s.updatePoolGauge()

	view := s.persist(r.Context(), pr.PoolID())
	slog.Info("pool created",
		"pool", pr.PoolID(),
		"pair", pr.Symbol,
		"min_fee_bps", params.Fee.MinFeeBps,
		"max_fee_bps", params.Fee.MaxFeeBps,
		"alpha", fraction(params.Alpha).String(),
		"breaker_threshold", fraction(params.BreakerThreshold).String(),
	)
	writeJSON(w, http.StatusCreated, view)
}

// ListPools handles GET /api/v1/pools
func (s *Service) ListPools(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	entries := make([]*entry, 0, len(s.pools))
	for _, e := range s.pools {
		entries = append(entries, e)
	}
	s.mu.RUnlock()
	sort.Slice(entries, func(i, j int) bool { return entries[i].pool.ID() < entries[j].pool.ID() })

	views := make([]PoolView, 0, len(entries))
	for _, e := range entries {
		v, err := s.poolView(r.Context(), e)
		if err != nil {
			s.fail(w, "list_pools", err)
			return
		}
		views = append(views, v)
	}
	writeJSON(w, http.StatusOK, views)
}

// GetPool handles GET /api/v1/pools/{poolID}
func (s *Service) GetPool(w http.ResponseWriter, r *http.Request) {
	e, err := s.lookup(chi.URLParam(r, "poolID"))
	if err != nil {
		s.fail(w, "get_pool", err)
		return
	}
	v, err := s.poolView(r.Context(), e)
	if err != nil {
		s.fail(w, "get_pool", err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// GetParams handles GET /api/v1/pools/{poolID}/params
func (s *Service) GetParams(w http.ResponseWriter, r *http.Request) {
	e, err := s.lookup(chi.URLParam(r, "poolID"))
	if err != nil {
		s.fail(w, "get_params", err)
		return
	}
	writeJSON(w, http.StatusOK, paramsView(e.pool.Params()))
}

// GetFee handles GET /api/v1/pools/{poolID}/fee?token_in=ETH&amount_in=100
// Previews the dynamic fee without changing state.
func (s *Service) GetFee(w http.ResponseWriter, r *http.Request) {
	e, err := s.lookup(chi.URLParam(r, "poolID"))
	if err != nil {
		s.fail(w, "get_fee", err)
		return
	}
	q := r.URL.Query()
	amountIn, err := parseAmount("amount_in", q.Get("amount_in"))
	if err != nil {
		s.fail(w, "get_fee", err)
		return
	}
	quote, err := e.pool.DynamicFee(r.Context(), strings.ToUpper(q.Get("token_in")), amountIn)
	if err != nil {
		s.fail(w, "get_fee", err)
		return
	}
	writeJSON(w, http.StatusOK, FeeView{
		FeeBps:     quote.FeeBps,
		Volatility: fraction(quote.Volatility),
		Slippage:   fraction(quote.Slippage),
		Shallow:    fraction(quote.Shallow),
	})
}

// Swap handles POST /api/v1/pools/{poolID}/swap
func (s *Service) Swap(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	poolID := chi.URLParam(r, "poolID")
	e, err := s.lookup(poolID)
	if err != nil {
		s.fail(w, "swap", err)
		return
	}
	var req SwapRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, "swap", err)
		return
	}
	amountIn, err := parseAmount("amount_in", req.AmountIn)
	if err != nil {
		s.fail(w, "swap", err)
		return
	}

	res, err := e.pool.Swap(r.Context(), req.Account, strings.ToUpper(req.TokenIn), amountIn)
	if err != nil {
		if res.AmountOut == nil {
			s.fail(w, "swap", err)
			return
		}
		// Settled; only the post-trade resync failed.
		slog.Error("swap settled without reserve resync", "pool", poolID, "err", err)
	}
	metrics.SwapLatency.WithLabelValues(poolID).Observe(time.Since(start).Seconds())

	resp := SwapResponse{
		PoolID:     poolID,
		Account:    req.Account,
		TokenIn:    res.TokenIn,
		TokenOut:   res.TokenOut,
		AmountIn:   res.AmountIn.Dec(),
		AmountOut:  res.AmountOut.Dec(),
		FeeBps:     res.FeeBps,
		Volatility: fraction(res.Volatility),
		Slippage:   fraction(res.Slippage),
		Shallow:    fraction(res.Shallow),
		SpotPrice:  fraction(res.SpotPrice),
		EMAPrice:   fraction(res.EMAPrice),
	}

	slog.Info("swap executed",
		"pool", poolID,
		"account", req.Account,
		"token_in", res.TokenIn,
		"amount_in", resp.AmountIn,
		"amount_out", resp.AmountOut,
		"fee_bps", res.FeeBps,
		"volatility", resp.Volatility.String(),
		"spot_price", resp.SpotPrice.String(),
		"ema_price", resp.EMAPrice.String(),
	)
	writeJSON(w, http.StatusOK, resp)
}

// AddLiquidity handles POST /api/v1/pools/{poolID}/liquidity
func (s *Service) AddLiquidity(w http.ResponseWriter, r *http.Request) {
	poolID := chi.URLParam(r, "poolID")
	e, err := s.lookup(poolID)
	if err != nil {
		s.fail(w, "add_liquidity", err)
		return
	}
	var req AddLiquidityRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, "add_liquidity", err)
		return
	}
	amount0, err := parseAmount("amount0", req.Amount0)
	if err != nil {
		s.fail(w, "add_liquidity", err)
		return
	}
	amount1, err := parseAmount("amount1", req.Amount1)
	if err != nil {
		s.fail(w, "add_liquidity", err)
		return
	}

	res, err := e.pool.AddLiquidity(r.Context(), req.Account, amount0, amount1)
	if err != nil {
		s.fail(w, "add_liquidity", err)
		return
	}

	slog.Info("liquidity added",
		"pool", poolID,
		"account", req.Account,
		"amount0", res.Amount0.Dec(),
		"amount1", res.Amount1.Dec(),
		"shares", res.Shares.Dec(),
		"oracle_seeded", res.OracleSeeded,
	)
	writeJSON(w, http.StatusOK, LiquidityResponse{
		PoolID:       poolID,
		Account:      req.Account,
		Amount0:      res.Amount0.Dec(),
		Amount1:      res.Amount1.Dec(),
		Shares:       res.Shares.Dec(),
		OracleSeeded: res.OracleSeeded,
	})
}

// RemoveLiquidity handles POST /api/v1/pools/{poolID}/liquidity/remove
func (s *Service) RemoveLiquidity(w http.ResponseWriter, r *http.Request) {
	poolID := chi.URLParam(r, "poolID")
	e, err := s.lookup(poolID)
	if err != nil {
		s.fail(w, "remove_liquidity", err)
		return
	}
	var req RemoveLiquidityRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, "remove_liquidity", err)
		return
	}
	shares, err := parseAmount("shares", req.Shares)
	if err != nil {
		s.fail(w, "remove_liquidity", err)
		return
	}

	res, err := e.pool.RemoveLiquidity(r.Context(), req.Account, shares)
	if err != nil {
		if res.Shares == nil {
			s.fail(w, "remove_liquidity", err)
			return
		}
		slog.Error("withdrawal settled without reserve resync", "pool", poolID, "err", err)
	}

	slog.Info("liquidity removed",
		"pool", poolID,
		"account", req.Account,
		"shares", res.Shares.Dec(),
		"amount0", res.Amount0.Dec(),
		"amount1", res.Amount1.Dec(),
	)
	writeJSON(w, http.StatusOK, LiquidityResponse{
		PoolID:  poolID,
		Account: req.Account,
		Amount0: res.Amount0.Dec(),
		Amount1: res.Amount1.Dec(),
		Shares:  res.Shares.Dec(),
	})
}

// GetShares handles GET /api/v1/pools/{poolID}/shares/{account}
func (s *Service) GetShares(w http.ResponseWriter, r *http.Request) {
	e, err := s.lookup(chi.URLParam(r, "poolID"))
	if err != nil {
		s.fail(w, "get_shares", err)
		return
	}
	account := chi.URLParam(r, "account")
	writeJSON(w, http.StatusOK, map[string]string{
		"account": account,
		"shares":  e.pool.SharesOf(account).Dec(),
	})
}

// GetEvents handles GET /api/v1/pools/{poolID}/events?limit=N
func (s *Service) GetEvents(w http.ResponseWriter, r *http.Request) {
	poolID := chi.URLParam(r, "poolID")
	if _, err := s.lookup(poolID); err != nil {
		s.fail(w, "get_events", err)
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			s.fail(w, "get_events", fmt.Errorf("%w: limit must be a non-negative integer", ErrBadRequest))
			return
		}
		limit = n
	}

	events, err := s.store.ListEvents(r.Context(), poolID, limit)
	if err != nil {
		s.fail(w, "get_events", err)
		return
	}
	if events == nil {
		events = []model.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

// GetAccountEvents handles GET /api/v1/accounts/{account}/events
func (s *Service) GetAccountEvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.store.ListEventsByAccount(r.Context(), chi.URLParam(r, "account"))
	if err != nil {
		s.fail(w, "get_account_events", err)
		return
	}
	if events == nil {
		events = []model.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

// --- Admin handlers ---

func (s *Service) admin(w http.ResponseWriter, r *http.Request, op string, body any,
	apply func(ctx context.Context, p *pool.Pool, caller string) (pool.Params, error)) {
	poolID := chi.URLParam(r, "poolID")
	e, err := s.lookup(poolID)
	if err != nil {
		s.fail(w, op, err)
		return
	}
	if err := decode(r, body); err != nil {
		s.fail(w, op, err)
		return
	}
	params, err := apply(r.Context(), e.pool, s.caller(r))
	if err != nil {
		s.fail(w, op, err)
		return
	}
	view := paramsView(params)
	slog.Info("pool params updated",
		"pool", poolID,
		"op", op,
		"min_fee_bps", view.MinFeeBps,
		"max_fee_bps", view.MaxFeeBps,
		"alpha", view.Alpha.String(),
		"breaker_threshold", view.BreakerThreshold.String(),
	)
	writeJSON(w, http.StatusOK, view)
}

// SetFeeBounds handles PUT /api/v1/pools/{poolID}/fee-bounds
func (s *Service) SetFeeBounds(w http.ResponseWriter, r *http.Request) {
	var req FeeBoundsRequest
	s.admin(w, r, "set_fee_bounds", &req, func(ctx context.Context, p *pool.Pool, caller string) (pool.Params, error) {
		return p.SetFeeBounds(ctx, caller, req.MinFeeBps, req.MaxFeeBps)
	})
}

// SetCoefficients handles PUT /api/v1/pools/{poolID}/coefficients
func (s *Service) SetCoefficients(w http.ResponseWriter, r *http.Request) {
	var req CoefficientsRequest
	s.admin(w, r, "set_coefficients", &req, func(ctx context.Context, p *pool.Pool, caller string) (pool.Params, error) {
		return p.SetCoefficients(ctx, caller, req.BetaVol, req.GammaSlip, req.DeltaShallow)
	})
}

// SetEMAConfig handles PUT /api/v1/pools/{poolID}/ema
func (s *Service) SetEMAConfig(w http.ResponseWriter, r *http.Request) {
	var req EMARequest
	s.admin(w, r, "set_ema", &req, func(ctx context.Context, p *pool.Pool, caller string) (pool.Params, error) {
		alpha, err := parseFraction("alpha", req.Alpha)
		if err != nil {
			return pool.Params{}, err
		}
		return p.SetEMAConfig(ctx, caller, alpha)
	})
}

// SetBreaker handles PUT /api/v1/pools/{poolID}/breaker
func (s *Service) SetBreaker(w http.ResponseWriter, r *http.Request) {
	var req BreakerRequest
	s.admin(w, r, "set_breaker", &req, func(ctx context.Context, p *pool.Pool, caller string) (pool.Params, error) {
		threshold, err := parseFraction("threshold", req.Threshold)
		if err != nil {
			return pool.Params{}, err
		}
		return p.SetBreaker(ctx, caller, threshold)
	})
}

// --- Token faucet ---

// MintToken handles POST /api/v1/tokens/{symbol}/mint
// Credits an account on the in-memory token bank.
func (s *Service) MintToken(w http.ResponseWriter, r *http.Request) {
	tok, err := s.bank.Get(strings.ToUpper(chi.URLParam(r, "symbol")))
	if err != nil {
		s.fail(w, "mint_token", err)
		return
	}
	var req MintRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, "mint_token", err)
		return
	}
	if req.Account == "" {
		s.fail(w, "mint_token", fmt.Errorf("%w: account is required", ErrBadRequest))
		return
	}
	amt, err := parseAmount("amount", req.Amount)
	if err != nil {
		s.fail(w, "mint_token", err)
		return
	}
	if err := tok.Mint(req.Account, amt); err != nil {
		s.fail(w, "mint_token", err)
		return
	}
	bal, _ := tok.BalanceOf(r.Context(), req.Account)
	slog.Info("tokens minted", "token", tok.Symbol(), "account", req.Account, "amount", amt.Dec())
	writeJSON(w, http.StatusOK, BalanceView{Token: tok.Symbol(), Account: req.Account, Balance: bal.Dec()})
}

// GetBalance handles GET /api/v1/tokens/{symbol}/balances/{account}
func (s *Service) GetBalance(w http.ResponseWriter, r *http.Request) {
	tok, err := s.bank.Get(strings.ToUpper(chi.URLParam(r, "symbol")))
	if err != nil {
		s.fail(w, "get_balance", err)
		return
	}
	account := chi.URLParam(r, "account")
	bal, err := tok.BalanceOf(r.Context(), account)
	if err != nil {
		s.fail(w, "get_balance", err)
		return
	}
	writeJSON(w, http.StatusOK, BalanceView{Token: tok.Symbol(), Account: account, Balance: bal.Dec()})
}
