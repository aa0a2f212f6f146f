package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/atmx/adaptive-amm/internal/pair"
	"github.com/atmx/adaptive-amm/internal/pool"
	"github.com/atmx/adaptive-amm/internal/store"
	"github.com/atmx/adaptive-amm/internal/token"
)

var (
	ErrPoolExists   = errors.New("api: pool already exists")
	ErrPoolNotFound = errors.New("api: pool not found")
	ErrBadRequest   = errors.New("api: bad request")
)

// classify maps an error to its HTTP status and a short reason label used
// in metrics.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, pool.ErrUnauthorized):
		return http.StatusForbidden, "unauthorized"
	case errors.Is(err, pool.ErrCircuitBreakerTripped):
		return http.StatusLocked, "circuit_breaker"
	case errors.Is(err, pool.ErrExternalTransferFailed):
		return http.StatusBadGateway, "transfer_failed"
	case errors.Is(err, pool.ErrRatioMismatch):
		return http.StatusConflict, "ratio_mismatch"
	case errors.Is(err, pool.ErrReentrant), errors.Is(err, ErrPoolExists):
		return http.StatusConflict, "conflict"
	case errors.Is(err, pool.ErrBusy):
		return http.StatusServiceUnavailable, "busy"
	case errors.Is(err, pool.ErrInsufficientLiquidity):
		return http.StatusUnprocessableEntity, "insufficient_liquidity"
	case errors.Is(err, pool.ErrInvalidInput), errors.Is(err, ErrBadRequest),
		errors.Is(err, pair.ErrInvalidPair), errors.Is(err, pair.ErrSameToken),
		errors.Is(err, token.ErrInvalidAmount):
		return http.StatusBadRequest, "invalid_input"
	case errors.Is(err, ErrPoolNotFound), errors.Is(err, store.ErrNotFound),
		errors.Is(err, token.ErrUnknownToken):
		return http.StatusNotFound, "not_found"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
