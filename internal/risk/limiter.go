// Package risk enforces exposure caps on opening trades.
//
// Limits are expressed in cost-basis dollars: the per-ticker cap bounds
// the value of any single position after the trade, and the total cap
// bounds the aggregate cost basis across all open positions. A zero cap
// means unlimited.
package risk

import (
	"errors"

	"github.com/shopspring/decimal"
)

var (
	// ErrPositionLimitExceeded is returned when a trade would push a single
	// position's value beyond the per-ticker maximum.
	ErrPositionLimitExceeded = errors.New("risk: position value limit exceeded")

	// ErrExposureLimitExceeded is returned when a trade would push the
	// aggregate exposure across all positions beyond the total maximum.
	ErrExposureLimitExceeded = errors.New("risk: total exposure limit exceeded")
)

// Limits caps position sizes. The zero value of either field disables
// that check.
type Limits struct {
	// MaxPositionValue is the maximum cost basis of any single position.
	MaxPositionValue decimal.Decimal

	// MaxTotalExposure is the maximum aggregate cost basis across all
	// open positions, longs and shorts counted at entry value.
	MaxTotalExposure decimal.Decimal
}

// NewLimits creates a limiter with the given caps. Negative caps are
// treated as zero (unlimited).
func NewLimits(maxPositionValue, maxTotalExposure decimal.Decimal) *Limits {
	if maxPositionValue.IsNegative() {
		maxPositionValue = decimal.Zero
	}
	if maxTotalExposure.IsNegative() {
		maxTotalExposure = decimal.Zero
	}
	return &Limits{
		MaxPositionValue: maxPositionValue,
		MaxTotalExposure: maxTotalExposure,
	}
}

// Check validates the post-trade position value and total exposure
// against the configured caps. Returns nil when the trade is within
// limits.
func (l *Limits) Check(positionValue, totalExposure decimal.Decimal) error {
	if l.MaxPositionValue.IsPositive() && positionValue.GreaterThan(l.MaxPositionValue) {
		return ErrPositionLimitExceeded
	}
	if l.MaxTotalExposure.IsPositive() && totalExposure.GreaterThan(l.MaxTotalExposure) {
		return ErrExposureLimitExceeded
	}
	return nil
}
