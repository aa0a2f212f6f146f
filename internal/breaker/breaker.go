// Package breaker implements the volatility circuit breaker. It is a pure
// comparison: a trade whose volatility proxy strictly exceeds the threshold
// is rejected. There is no history and no cool-down; the pool feeds it the
// proxy computed against pre-trade reserves.
package breaker

import "github.com/holiman/uint256"

// Decision is the outcome of a breaker check.
type Decision int

const (
	Allow Decision = iota
	Reject
)

func (d Decision) String() string {
	switch d {
	case Allow:
		return "allow"
	case Reject:
		return "reject"
	default:
		return "unknown"
	}
}

// Check returns Reject iff vol > threshold.
func Check(vol, threshold *uint256.Int) Decision {
	if vol.Gt(threshold) {
		return Reject
	}
	return Allow
}
