package exitpolicy

import (
	"fmt"
	"math"

	"perp-trader/internal/common"
	"perp-trader/internal/pnl"
	"perp-trader/internal/position"
)

// TrailingStep ratchets the stop upward in fixed percentage steps of
// unrealized gain. With a 20% step: crossing +20% pulls the stop to
// break-even and then to the +20% price, crossing +40% to the +40%
// price, and so on. The stop never moves backwards.
type TrailingStep struct {
	Step float64 // percent of gain per ratchet, e.g. 20
}

// NewTrailingStep validates the step size. A step of zero or less can
// never produce a forward ratchet and is a configuration bug.
func NewTrailingStep(step float64) (*TrailingStep, error) {
	if step <= 0 || step > common.MaxTrailingStep {
		return nil, fmt.Errorf("%w: trailing step must be in (0, %v], got %v",
			common.ErrConfiguration, common.MaxTrailingStep, step)
	}
	return &TrailingStep{Step: step}, nil
}

func (t *TrailingStep) Name() string { return common.StrategyTrailingStep }

// NextLevel returns the stop level warranted by the current P&L, never
// below the level already reached. Exposed for the replay tool.
func (t *TrailingStep) NextLevel(pnlPercent, currentLevel float64) float64 {
	candidate := math.Floor(pnlPercent/t.Step) * t.Step
	if candidate < 0 {
		candidate = 0
	}
	return math.Max(currentLevel, candidate)
}

// Evaluate implements Policy. The first ratchet away from level 0 always
// passes through an explicit break-even stop before the target level is
// set, even when the gain jumped several steps in one poll: with a 20%
// step a fresh position at +45% gets a stop at entry, then at +40%.
func (t *TrailingStep) Evaluate(pos position.Position, mark, pnlPercent float64) []Action {
	newLevel := t.NextLevel(pnlPercent, pos.StopLevel)
	if newLevel <= pos.StopLevel || pnlPercent < t.Step {
		// Below one full step of gain, or no forward movement: the stop
		// stays wherever it was last set.
		return nil
	}

	var actions []Action
	if pos.StopLevel == 0 {
		actions = append(actions, Action{
			Type:      ActionSetStop,
			StopPrice: pos.EntryPrice,
			Level:     0,
			Breakeven: true,
			Reason:    fmt.Sprintf("pnl %.2f%% reached first step, stop to break-even", pnlPercent),
		})
	}
	actions = append(actions, Action{
		Type:      ActionSetStop,
		StopPrice: pnl.StopPrice(pos.EntryPrice, newLevel, pos.Side),
		Level:     newLevel,
		Reason:    fmt.Sprintf("pnl %.2f%% ratchets stop %v%% -> %v%%", pnlPercent, pos.StopLevel, newLevel),
	})
	return actions
}
