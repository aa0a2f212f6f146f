// Package metrics provides Prometheus instrumentation for the AMM engine.
package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// SwapsTotal counts executed swaps, partitioned by pool and input token.
	SwapsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "amm_swaps_total",
		Help: "Total number of swaps executed",
	}, []string{"pool", "token_in"})

	// SwapFeeBps records the dynamic fee charged per swap.
	SwapFeeBps = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "amm_swap_fee_bps",
		Help:    "Dynamic fee charged per swap in basis points",
		Buckets: []float64{10, 20, 30, 40, 50, 60, 80, 100, 120, 150, 200, 500, 1000},
	}, []string{"pool"})

	// SwapLatency tracks end-to-end swap execution time.
	SwapLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "amm_swap_latency_seconds",
		Help:    "Swap execution latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"pool"})

	// Volatility is the volatility proxy observed by the latest swap attempt.
	Volatility = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "amm_volatility_proxy",
		Help: "Spot/EMA deviation seen by the latest swap attempt, as a fraction",
	}, []string{"pool"})

	// BreakerTrips counts swaps refused by the circuit breaker.
	BreakerTrips = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "amm_breaker_trips_total",
		Help: "Swaps rejected by the volatility circuit breaker",
	}, []string{"pool"})

	// LiquidityEvents counts deposits and withdrawals.
	LiquidityEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "amm_liquidity_events_total",
		Help: "Liquidity deposits (mint) and withdrawals (burn)",
	}, []string{"pool", "kind"})

	// Rejections counts failed operations by error category.
	Rejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "amm_rejections_total",
		Help: "Operations rejected by the engine, by error category",
	}, []string{"op", "reason"})

	// ActivePools tracks the number of registered pools.
	ActivePools = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "amm_active_pools",
		Help: "Number of registered pools",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "amm_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, route, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "amm_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and route.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "amm_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		path := routePattern(r)
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// routePattern labels by chi route pattern so pool ids do not explode
// cardinality.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unmatched"
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Hijack lets WebSocket upgrades pass through the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("metrics: %T does not support hijacking", w.ResponseWriter)
	}
	w.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
