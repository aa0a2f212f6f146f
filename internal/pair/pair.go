// Package pair handles trading-pair symbol parsing and validation, and
// derives the identifiers a pool is registered under.
package pair

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// pairRegex matches: {BASE}-{QUOTE}
// Example: ETH-USDC
var pairRegex = regexp.MustCompile(`^([A-Z0-9]{2,10})-([A-Z0-9]{2,10})$`)

var (
	ErrInvalidPair = errors.New("pair: invalid pair format")
	ErrSameToken   = errors.New("pair: base and quote must differ")
)

// Pair is a parsed trading pair. Base is token0, Quote is token1, so the
// pool price is quoted as Quote per Base.
type Pair struct {
	Symbol string `json:"symbol"`
	Base   string `json:"base"`
	Quote  string `json:"quote"`
}

// Parse parses and validates a pair symbol. Lower-case input is accepted
// and normalized.
// Format: {BASE}-{QUOTE}
func Parse(symbol string) (Pair, error) {
	normalized := strings.ToUpper(strings.TrimSpace(symbol))
	matches := pairRegex.FindStringSubmatch(normalized)
	if matches == nil {
		return Pair{}, fmt.Errorf("%w: %q (expected BASE-QUOTE, 2-10 alphanumerics each)",
			ErrInvalidPair, symbol)
	}
	if matches[1] == matches[2] {
		return Pair{}, fmt.Errorf("%w: %s", ErrSameToken, normalized)
	}
	return Pair{Symbol: normalized, Base: matches[1], Quote: matches[2]}, nil
}

// PoolID is the registry key for the pair's pool.
func (p Pair) PoolID() string {
	return strings.ToLower(p.Symbol)
}

// Address is the account that holds the pool's balances.
func (p Pair) Address() string {
	return "pool:" + p.PoolID()
}

// Inverse returns the pair with base and quote swapped.
func (p Pair) Inverse() Pair {
	return Pair{Symbol: p.Quote + "-" + p.Base, Base: p.Quote, Quote: p.Base}
}
