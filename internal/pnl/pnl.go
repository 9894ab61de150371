// Package pnl provides the pure profit-and-loss math used by the exit
// engine. All functions are deterministic and perform no I/O.
package pnl

import (
	"fmt"

	"perp-trader/internal/common"
)

// MetricsTracker lets callers observe calculation activity without this
// package importing the metrics implementation.
type MetricsTracker interface {
	PnLCalculationsInc()
	CalcErrorsInc()
}

// Percent returns the signed unrealized P&L percentage for a position.
// LONG: (mark-entry)/entry*100, SHORT: (entry-mark)/entry*100.
// A non-positive entry price is a caller bug and returns ErrInvalidInput.
func Percent(entry, mark float64, side string) (float64, error) {
	if entry <= 0 {
		return 0, fmt.Errorf("%w: entry price must be positive, got %f", common.ErrInvalidInput, entry)
	}
	if mark < 0 {
		return 0, fmt.Errorf("%w: mark price must be non-negative, got %f", common.ErrInvalidInput, mark)
	}
	switch side {
	case common.SideLong:
		return (mark - entry) / entry * 100, nil
	case common.SideShort:
		return (entry - mark) / entry * 100, nil
	default:
		return 0, fmt.Errorf("%w: unknown side %q", common.ErrInvalidInput, side)
	}
}

// PercentWithMetrics wraps Percent with counter updates.
func PercentWithMetrics(entry, mark float64, side string, m MetricsTracker) (float64, error) {
	v, err := Percent(entry, mark, side)
	if m != nil {
		if err != nil {
			m.CalcErrorsInc()
		} else {
			m.PnLCalculationsInc()
		}
	}
	return v, err
}

// StopPrice converts a protected gain level (in percent) into an absolute
// stop price. Level 0 is break-even: the stop sits exactly at entry.
func StopPrice(entry, level float64, side string) float64 {
	if side == common.SideShort {
		return entry * (1 - level/100)
	}
	return entry * (1 + level/100)
}
