package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/atmx/adaptive-amm/internal/api"
	"github.com/atmx/adaptive-amm/internal/model"
	"github.com/atmx/adaptive-amm/internal/pool"
	"github.com/atmx/adaptive-amm/internal/store"
	"github.com/atmx/adaptive-amm/internal/token"
)

const adminToken = "s3cret"

var now = time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)

// newTestEnv creates a test Service with in-memory store, token bank and
// chi router.
func newTestEnv(t *testing.T) (*api.Service, *store.MemoryStore, *token.Bank, chi.Router) {
	t.Helper()
	ms := store.NewMemoryStore()
	bank := token.NewBank()
	svc := api.NewService(ms, bank, nil, api.Options{
		AdminToken: adminToken,
		Defaults:   pool.DefaultParams(),
		Clock:      func() time.Time { return now },
	})

	r := chi.NewRouter()
	r.Route("/api/v1", svc.Routes)
	return svc, ms, bank, r
}

func do(t *testing.T, router chi.Router, method, path string, body any, auth string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if auth != "" {
		req.Header.Set("Authorization", "Bearer "+auth)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeAs[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, w.Body.String())
	}
	return v
}

func expectStatus(t *testing.T, w *httptest.ResponseRecorder, want int) {
	t.Helper()
	if w.Code != want {
		t.Fatalf("expected %d, got %d: %s", want, w.Code, w.Body.String())
	}
}

func createPool(t *testing.T, router chi.Router) {
	t.Helper()
	w := do(t, router, "POST", "/api/v1/pools", api.CreatePoolRequest{Pair: "ETH-USDC"}, adminToken)
	expectStatus(t, w, http.StatusCreated)
}

func faucet(t *testing.T, router chi.Router, symbol, account, amount string) {
	t.Helper()
	w := do(t, router, "POST", "/api/v1/tokens/"+symbol+"/mint", api.MintRequest{Account: account, Amount: amount}, "")
	expectStatus(t, w, http.StatusOK)
}

// seededPool creates ETH-USDC and deposits 1000/1000 from "lp".
func seededPool(t *testing.T, router chi.Router) {
	t.Helper()
	createPool(t, router)
	faucet(t, router, "ETH", "lp", "1000")
	faucet(t, router, "USDC", "lp", "1000")
	w := do(t, router, "POST", "/api/v1/pools/eth-usdc/liquidity",
		api.AddLiquidityRequest{Account: "lp", Amount0: "1000", Amount1: "1000"}, "")
	expectStatus(t, w, http.StatusOK)
}

// --- Pool creation ---

func TestCreatePool(t *testing.T) {
	_, ms, _, router := newTestEnv(t)

	w := do(t, router, "POST", "/api/v1/pools", api.CreatePoolRequest{Pair: "eth-usdc"}, adminToken)
	expectStatus(t, w, http.StatusCreated)

	view := decodeAs[api.PoolView](t, w)
	if view.ID != "eth-usdc" || view.Symbol != "ETH-USDC" {
		t.Errorf("unexpected identity %q/%q", view.ID, view.Symbol)
	}
	if view.Token0 != "ETH" || view.Token1 != "USDC" {
		t.Errorf("expected tokens ETH/USDC, got %s/%s", view.Token0, view.Token1)
	}
	if view.Reserve0 != "0" || view.Reserve1 != "0" || view.TotalShares != "0" {
		t.Errorf("expected empty pool, got %s/%s shares %s", view.Reserve0, view.Reserve1, view.TotalShares)
	}
	if view.SpotPrice != nil {
		t.Errorf("expected undefined spot price, got %s", view.SpotPrice)
	}
	if view.Params.MinFeeBps != 30 || view.Params.MaxFeeBps != 120 {
		t.Errorf("expected default fee band 30/120, got %d/%d", view.Params.MinFeeBps, view.Params.MaxFeeBps)
	}
	if !view.Params.Alpha.Equal(decimal.RequireFromString("0.05")) {
		t.Errorf("expected alpha 0.05, got %s", view.Params.Alpha)
	}

	rec, err := ms.GetPool(context.Background(), "eth-usdc")
	if err != nil {
		t.Fatalf("pool not persisted: %v", err)
	}
	if !rec.CreatedAt.Equal(now) {
		t.Errorf("expected created_at %v, got %v", now, rec.CreatedAt)
	}
}

func TestCreatePool_Overrides(t *testing.T) {
	_, _, _, router := newTestEnv(t)

	maxFee := uint64(200)
	alpha := decimal.RequireFromString("0.1")
	w := do(t, router, "POST", "/api/v1/pools", api.CreatePoolRequest{
		Pair:   "ETH-USDC",
		Params: &api.ParamsRequest{MaxFeeBps: &maxFee, Alpha: &alpha},
	}, adminToken)
	expectStatus(t, w, http.StatusCreated)

	w = do(t, router, "GET", "/api/v1/pools/eth-usdc/params", nil, "")
	expectStatus(t, w, http.StatusOK)
	params := decodeAs[api.ParamsView](t, w)
	if params.MaxFeeBps != 200 || params.MinFeeBps != 30 {
		t.Errorf("expected fee band 30/200, got %d/%d", params.MinFeeBps, params.MaxFeeBps)
	}
	if !params.Alpha.Equal(alpha) {
		t.Errorf("expected alpha 0.1, got %s", params.Alpha)
	}
	if !params.BreakerThreshold.Equal(decimal.RequireFromString("0.2")) {
		t.Errorf("expected default threshold 0.2, got %s", params.BreakerThreshold)
	}
}

func TestCreatePool_Rejections(t *testing.T) {
	_, _, _, router := newTestEnv(t)
	createPool(t, router)

	zero := decimal.Zero
	minFee := uint64(500)
	tests := []struct {
		name string
		req  api.CreatePoolRequest
		auth string
		want int
	}{
		{"no token", api.CreatePoolRequest{Pair: "BTC-USDC"}, "", http.StatusForbidden},
		{"wrong token", api.CreatePoolRequest{Pair: "BTC-USDC"}, "nope", http.StatusForbidden},
		{"duplicate", api.CreatePoolRequest{Pair: "ETH-USDC"}, adminToken, http.StatusConflict},
		{"inverse of existing", api.CreatePoolRequest{Pair: "usdc-eth"}, adminToken, http.StatusConflict},
		{"bad pair", api.CreatePoolRequest{Pair: "ETHUSDC"}, adminToken, http.StatusBadRequest},
		{"same token", api.CreatePoolRequest{Pair: "ETH-ETH"}, adminToken, http.StatusBadRequest},
		{"zero alpha", api.CreatePoolRequest{Pair: "BTC-USDC", Params: &api.ParamsRequest{Alpha: &zero}}, adminToken, http.StatusBadRequest},
		{"inverted fee band", api.CreatePoolRequest{Pair: "BTC-USDC", Params: &api.ParamsRequest{MinFeeBps: &minFee}}, adminToken, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, router, "POST", "/api/v1/pools", tt.req, tt.auth)
			expectStatus(t, w, tt.want)
		})
	}
}

// --- Trading ---

func TestSwap_EndToEnd(t *testing.T) {
	_, ms, _, router := newTestEnv(t)
	seededPool(t, router)
	faucet(t, router, "ETH", "trader", "100")

	w := do(t, router, "GET", "/api/v1/pools/eth-usdc/fee?token_in=eth&amount_in=100", nil, "")
	expectStatus(t, w, http.StatusOK)
	if fee := decodeAs[api.FeeView](t, w); fee.FeeBps != 59 {
		t.Errorf("expected previewed fee 59, got %d", fee.FeeBps)
	}

	w = do(t, router, "POST", "/api/v1/pools/eth-usdc/swap",
		api.SwapRequest{Account: "trader", TokenIn: "ETH", AmountIn: "100"}, "")
	expectStatus(t, w, http.StatusOK)
	res := decodeAs[api.SwapResponse](t, w)
	if res.AmountOut != "90" || res.FeeBps != 59 || res.TokenOut != "USDC" {
		t.Errorf("expected 90 USDC at 59 bps, got %s %s at %d", res.AmountOut, res.TokenOut, res.FeeBps)
	}
	if !res.EMAPrice.Equal(decimal.RequireFromString("0.991363636363636364")) {
		t.Errorf("unexpected ema %s", res.EMAPrice)
	}

	w = do(t, router, "GET", "/api/v1/tokens/usdc/balances/trader", nil, "")
	expectStatus(t, w, http.StatusOK)
	if bal := decodeAs[api.BalanceView](t, w); bal.Balance != "90" {
		t.Errorf("expected trader to hold 90 USDC, got %s", bal.Balance)
	}

	w = do(t, router, "GET", "/api/v1/pools/eth-usdc", nil, "")
	expectStatus(t, w, http.StatusOK)
	view := decodeAs[api.PoolView](t, w)
	if view.Reserve0 != "1100" || view.Reserve1 != "910" {
		t.Errorf("expected reserves 1100/910, got %s/%s", view.Reserve0, view.Reserve1)
	}
	if view.SpotPrice == nil {
		t.Fatal("expected a spot price")
	}

	rec, err := ms.GetPool(context.Background(), "eth-usdc")
	if err != nil {
		t.Fatalf("get persisted pool: %v", err)
	}
	if rec.Reserve0 != "1100" || rec.Reserve1 != "910" || rec.EMAPrice != "991363636363636364" {
		t.Errorf("persisted state is stale: %s/%s ema %s", rec.Reserve0, rec.Reserve1, rec.EMAPrice)
	}

	w = do(t, router, "GET", "/api/v1/pools/eth-usdc/events", nil, "")
	expectStatus(t, w, http.StatusOK)
	events := decodeAs[[]model.Event](t, w)
	if len(events) != 2 || events[0].Kind != model.EventMint || events[1].Kind != model.EventSwap {
		t.Fatalf("expected mint then swap, got %+v", events)
	}

	w = do(t, router, "GET", "/api/v1/pools/eth-usdc/events?limit=1", nil, "")
	expectStatus(t, w, http.StatusOK)
	if events := decodeAs[[]model.Event](t, w); len(events) != 1 || events[0].Kind != model.EventSwap {
		t.Errorf("expected only the latest swap, got %+v", events)
	}

	w = do(t, router, "GET", "/api/v1/accounts/trader/events", nil, "")
	expectStatus(t, w, http.StatusOK)
	if events := decodeAs[[]model.Event](t, w); len(events) != 1 || events[0].AmountOut != "90" {
		t.Errorf("expected one trader swap, got %+v", events)
	}
}

func TestSwap_Rejections(t *testing.T) {
	_, _, _, router := newTestEnv(t)
	createPool(t, router)
	faucet(t, router, "ETH", "trader", "100")

	tests := []struct {
		name string
		path string
		req  api.SwapRequest
		want int
	}{
		{"empty pool", "/api/v1/pools/eth-usdc/swap", api.SwapRequest{Account: "trader", TokenIn: "ETH", AmountIn: "10"}, http.StatusUnprocessableEntity},
		{"unknown pool", "/api/v1/pools/btc-usdc/swap", api.SwapRequest{Account: "trader", TokenIn: "ETH", AmountIn: "10"}, http.StatusNotFound},
		{"bad amount", "/api/v1/pools/eth-usdc/swap", api.SwapRequest{Account: "trader", TokenIn: "ETH", AmountIn: "1.5"}, http.StatusBadRequest},
		{"zero amount", "/api/v1/pools/eth-usdc/swap", api.SwapRequest{Account: "trader", TokenIn: "ETH", AmountIn: "0"}, http.StatusBadRequest},
		{"foreign token", "/api/v1/pools/eth-usdc/swap", api.SwapRequest{Account: "trader", TokenIn: "BTC", AmountIn: "10"}, http.StatusBadRequest},
		{"no account", "/api/v1/pools/eth-usdc/swap", api.SwapRequest{TokenIn: "ETH", AmountIn: "10"}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, router, "POST", tt.path, tt.req, "")
			expectStatus(t, w, tt.want)
		})
	}
}

func TestSwap_InsufficientBalance(t *testing.T) {
	_, _, _, router := newTestEnv(t)
	seededPool(t, router)

	w := do(t, router, "POST", "/api/v1/pools/eth-usdc/swap",
		api.SwapRequest{Account: "broke", TokenIn: "ETH", AmountIn: "10"}, "")
	expectStatus(t, w, http.StatusBadGateway)

	w = do(t, router, "GET", "/api/v1/pools/eth-usdc", nil, "")
	view := decodeAs[api.PoolView](t, w)
	if view.Reserve0 != "1000" || view.Reserve1 != "1000" {
		t.Errorf("expected untouched reserves, got %s/%s", view.Reserve0, view.Reserve1)
	}
}

// --- Restore and circuit breaker ---

func TestLoad_RestoresPoolAndTripsBreaker(t *testing.T) {
	svc, ms, bank, router := newTestEnv(t)
	ctx := context.Background()

	err := ms.SavePool(ctx, &model.Pool{
		ID:             "eth-usdc",
		Symbol:         "ETH-USDC",
		Token0:         "ETH",
		Token1:         "USDC",
		Address:        "pool:eth-usdc",
		Reserve0:       "10",
		Reserve1:       "1300",
		TotalShares:    "114",
		Shares:         map[string]string{"lp": "114"},
		EMAPrice:       "100000000000000000000",
		EMAInitialized: true,
		LastUpdate:     now,
		Params: model.Params{
			MinFeeBps:        30,
			MaxFeeBps:        120,
			BetaVol:          50,
			GammaSlip:        100,
			DeltaShallow:     20,
			Alpha:            "50000000000000000",
			BreakerThreshold: "200000000000000000",
		},
		CreatedAt: now,
	})
	if err != nil {
		t.Fatalf("seed store: %v", err)
	}
	if err := svc.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}

	eth, err := bank.Get("ETH")
	if err != nil {
		t.Fatalf("token not restored: %v", err)
	}
	if bal, _ := eth.BalanceOf(ctx, "pool:eth-usdc"); bal.Dec() != "10" {
		t.Errorf("expected pool to hold 10 ETH, got %s", bal.Dec())
	}

	w := do(t, router, "GET", "/api/v1/pools/eth-usdc/shares/lp", nil, "")
	expectStatus(t, w, http.StatusOK)
	if shares := decodeAs[map[string]string](t, w); shares["shares"] != "114" {
		t.Errorf("expected 114 restored shares, got %s", shares["shares"])
	}

	faucet(t, router, "ETH", "trader", "5")
	w = do(t, router, "POST", "/api/v1/pools/eth-usdc/swap",
		api.SwapRequest{Account: "trader", TokenIn: "ETH", AmountIn: "5"}, "")
	expectStatus(t, w, http.StatusLocked)

	events, err := ms.ListEvents(ctx, "eth-usdc", 0)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 1 || events[0].Kind != model.EventBreakerTripped {
		t.Fatalf("expected one breaker event, got %+v", events)
	}
	if !events[0].Volatility.Equal(decimal.RequireFromString("0.3")) {
		t.Errorf("expected volatility 0.3, got %s", events[0].Volatility)
	}

	// Raising the threshold lets the same trade through.
	w = do(t, router, "PUT", "/api/v1/pools/eth-usdc/breaker",
		api.BreakerRequest{Threshold: decimal.RequireFromString("0.5")}, adminToken)
	expectStatus(t, w, http.StatusOK)
	w = do(t, router, "POST", "/api/v1/pools/eth-usdc/swap",
		api.SwapRequest{Account: "trader", TokenIn: "ETH", AmountIn: "5"}, "")
	expectStatus(t, w, http.StatusOK)
}

// --- Liquidity ---

func TestLiquidity_AddAndRemove(t *testing.T) {
	_, _, _, router := newTestEnv(t)
	createPool(t, router)
	faucet(t, router, "ETH", "lp", "400")
	faucet(t, router, "USDC", "lp", "900")

	w := do(t, router, "POST", "/api/v1/pools/eth-usdc/liquidity",
		api.AddLiquidityRequest{Account: "lp", Amount0: "400", Amount1: "900"}, "")
	expectStatus(t, w, http.StatusOK)
	minted := decodeAs[api.LiquidityResponse](t, w)
	if minted.Shares != "600" || !minted.OracleSeeded {
		t.Errorf("expected 600 shares seeding the oracle, got %s seeded=%v", minted.Shares, minted.OracleSeeded)
	}

	w = do(t, router, "POST", "/api/v1/pools/eth-usdc/liquidity/remove",
		api.RemoveLiquidityRequest{Account: "lp", Shares: "300"}, "")
	expectStatus(t, w, http.StatusOK)
	burned := decodeAs[api.LiquidityResponse](t, w)
	if burned.Amount0 != "200" || burned.Amount1 != "450" {
		t.Errorf("expected 200/450 back, got %s/%s", burned.Amount0, burned.Amount1)
	}

	w = do(t, router, "GET", "/api/v1/tokens/eth/balances/lp", nil, "")
	if bal := decodeAs[api.BalanceView](t, w); bal.Balance != "200" {
		t.Errorf("expected lp to hold 200 ETH, got %s", bal.Balance)
	}
}

func TestLiquidity_Rejections(t *testing.T) {
	_, _, _, router := newTestEnv(t)
	seededPool(t, router)
	faucet(t, router, "ETH", "lp2", "100")
	faucet(t, router, "USDC", "lp2", "100")

	w := do(t, router, "POST", "/api/v1/pools/eth-usdc/liquidity",
		api.AddLiquidityRequest{Account: "lp2", Amount0: "100", Amount1: "50"}, "")
	expectStatus(t, w, http.StatusConflict)

	w = do(t, router, "POST", "/api/v1/pools/eth-usdc/liquidity/remove",
		api.RemoveLiquidityRequest{Account: "lp", Shares: "1001"}, "")
	expectStatus(t, w, http.StatusBadRequest)

	w = do(t, router, "POST", "/api/v1/pools/eth-usdc/liquidity/remove",
		api.RemoveLiquidityRequest{Account: "lp", Shares: "0"}, "")
	expectStatus(t, w, http.StatusBadRequest)
}

// --- Admin ---

func TestAdmin_SetParams(t *testing.T) {
	_, ms, _, router := newTestEnv(t)
	createPool(t, router)

	w := do(t, router, "PUT", "/api/v1/pools/eth-usdc/fee-bounds",
		api.FeeBoundsRequest{MinFeeBps: 10, MaxFeeBps: 200}, "")
	expectStatus(t, w, http.StatusForbidden)

	w = do(t, router, "PUT", "/api/v1/pools/eth-usdc/fee-bounds",
		api.FeeBoundsRequest{MinFeeBps: 10, MaxFeeBps: 200}, adminToken)
	expectStatus(t, w, http.StatusOK)
	if p := decodeAs[api.ParamsView](t, w); p.MinFeeBps != 10 || p.MaxFeeBps != 200 {
		t.Errorf("expected 10/200, got %d/%d", p.MinFeeBps, p.MaxFeeBps)
	}

	w = do(t, router, "PUT", "/api/v1/pools/eth-usdc/fee-bounds",
		api.FeeBoundsRequest{MinFeeBps: 300, MaxFeeBps: 200}, adminToken)
	expectStatus(t, w, http.StatusBadRequest)

	w = do(t, router, "PUT", "/api/v1/pools/eth-usdc/coefficients",
		api.CoefficientsRequest{BetaVol: 70, GammaSlip: 80, DeltaShallow: 0}, adminToken)
	expectStatus(t, w, http.StatusOK)

	w = do(t, router, "PUT", "/api/v1/pools/eth-usdc/ema",
		api.EMARequest{Alpha: decimal.RequireFromString("0.25")}, adminToken)
	expectStatus(t, w, http.StatusOK)

	w = do(t, router, "PUT", "/api/v1/pools/eth-usdc/ema",
		api.EMARequest{Alpha: decimal.RequireFromString("1.5")}, adminToken)
	expectStatus(t, w, http.StatusBadRequest)

	w = do(t, router, "GET", "/api/v1/pools/eth-usdc/params", nil, "")
	p := decodeAs[api.ParamsView](t, w)
	if p.BetaVol != 70 || p.GammaSlip != 80 || p.DeltaShallow != 0 {
		t.Errorf("unexpected coefficients %+v", p)
	}
	if !p.Alpha.Equal(decimal.RequireFromString("0.25")) {
		t.Errorf("expected alpha 0.25, got %s", p.Alpha)
	}

	rec, err := ms.GetPool(context.Background(), "eth-usdc")
	if err != nil {
		t.Fatalf("get persisted pool: %v", err)
	}
	if rec.Params.Alpha != "250000000000000000" || rec.Params.MinFeeBps != 10 {
		t.Errorf("params not persisted: %+v", rec.Params)
	}
}

func TestAdmin_DisabledWithoutToken(t *testing.T) {
	svc := api.NewService(store.NewMemoryStore(), token.NewBank(), nil, api.Options{})
	r := chi.NewRouter()
	r.Route("/api/v1", svc.Routes)

	w := do(t, r, "POST", "/api/v1/pools", api.CreatePoolRequest{Pair: "ETH-USDC"}, "")
	expectStatus(t, w, http.StatusForbidden)
}

// --- Tokens ---

func TestFaucet_UnknownToken(t *testing.T) {
	_, _, _, router := newTestEnv(t)

	w := do(t, router, "POST", "/api/v1/tokens/DOGE/mint", api.MintRequest{Account: "a", Amount: "1"}, "")
	expectStatus(t, w, http.StatusNotFound)

	w = do(t, router, "GET", "/api/v1/tokens/DOGE/balances/a", nil, "")
	expectStatus(t, w, http.StatusNotFound)
}

func TestListPools(t *testing.T) {
	_, _, _, router := newTestEnv(t)
	for _, p := range []string{"ETH-USDC", "BTC-USDC"} {
		w := do(t, router, "POST", "/api/v1/pools", api.CreatePoolRequest{Pair: p}, adminToken)
		expectStatus(t, w, http.StatusCreated)
	}

	w := do(t, router, "GET", "/api/v1/pools", nil, "")
	expectStatus(t, w, http.StatusOK)
	pools := decodeAs[[]api.PoolView](t, w)
	if len(pools) != 2 || pools[0].ID != "btc-usdc" || pools[1].ID != "eth-usdc" {
		t.Errorf("expected btc-usdc, eth-usdc; got %+v", pools)
	}
}
