// Package exitpolicy decides how an open position should be de-risked.
// Policies are pure: they look at a position snapshot and the current
// mark price and return the ordered list of exchange mutations the
// manager must attempt. They never touch the exchange themselves.
package exitpolicy

import (
	"perp-trader/internal/position"
)

// ActionType enumerates the mutations a policy can request.
type ActionType int

const (
	// ActionSetStop moves the protective stop to Action.StopPrice.
	ActionSetStop ActionType = iota
	// ActionPartialClose releases Action.CloseSize of the position.
	ActionPartialClose
)

func (t ActionType) String() string {
	switch t {
	case ActionSetStop:
		return "set_stop"
	case ActionPartialClose:
		return "partial_close"
	default:
		return "unknown"
	}
}

// Action is one exchange mutation. Actions within a cycle must be applied
// in the order returned; each one succeeds or fails independently.
type Action struct {
	Type      ActionType
	StopPrice float64 // ActionSetStop: absolute trigger price
	Level     float64 // ActionSetStop: protected gain percent the stop encodes
	Breakeven bool    // ActionSetStop: stop sits exactly at entry
	Tier      int     // ActionPartialClose: 1-based tier index
	CloseSize float64 // ActionPartialClose: size to release
	Reason    string
}

// Policy computes the actions warranted for one position on one poll.
// pnlPercent is the precomputed signed unrealized P&L percentage.
type Policy interface {
	Name() string
	Evaluate(pos position.Position, mark, pnlPercent float64) []Action
}
