// Package position holds the in-memory state the exit engine keeps for
// every open position it manages. The store is the single source of truth
// for stop-ratchet progress and executed take-profit tiers between polls.
package position

import (
	"fmt"
	"time"

	"perp-trader/internal/common"
)

// Position is the per-position record owned by the exit manager from fill
// confirmation until the position is retired.
type Position struct {
	Symbol       string
	Side         string // common.SideLong or common.SideShort
	EntryPrice   float64
	OriginalSize float64

	// RemainingSize only ever decreases; zero means the position is done.
	RemainingSize float64

	// StopLevel is the protected gain percentage the live stop encodes
	// (0, 20, 40, ...). Monotonically non-decreasing.
	StopLevel float64

	// ExecutedTiers lists staged take-profit tier indices (1-based) that
	// have already fired, in execution order. A tier never re-arms.
	ExecutedTiers []int

	// BreakevenSet records the one-time move of the stop to entry after
	// the first staged tier fires.
	BreakevenSet bool

	// TakeProfits carries the absolute tier prices proposed at entry, if
	// any. Empty means the staged policy derives default levels.
	TakeProfits []float64

	HighestPnL float64
	CreatedAt  time.Time
}

// Key identifies a position in the store by symbol and side, so long and
// short state for one symbol never collide. The exchange client itself
// runs in one-way position mode.
func Key(symbol, side string) string {
	return symbol + "_" + side
}

func (p Position) Key() string {
	return Key(p.Symbol, p.Side)
}

// TierExecuted reports whether tier index (1-based) has already fired.
func (p Position) TierExecuted(tier int) bool {
	for _, t := range p.ExecutedTiers {
		if t == tier {
			return true
		}
	}
	return false
}

// Closed reports whether the remaining size is exhausted.
func (p Position) Closed() bool {
	return p.RemainingSize <= common.SizeEpsilon
}

// Validate checks the creation-time invariants.
func (p Position) Validate() error {
	if p.Symbol == "" {
		return fmt.Errorf("%w: empty symbol", common.ErrInvalidInput)
	}
	if p.Side != common.SideLong && p.Side != common.SideShort {
		return fmt.Errorf("%w: unknown side %q", common.ErrInvalidInput, p.Side)
	}
	if p.EntryPrice <= 0 {
		return fmt.Errorf("%w: entry price must be positive", common.ErrInvalidInput)
	}
	if p.OriginalSize <= 0 {
		return fmt.Errorf("%w: original size must be positive", common.ErrInvalidInput)
	}
	return nil
}
