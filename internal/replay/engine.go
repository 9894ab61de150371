// Package replay runs recorded price paths through an exit policy
// offline. It simulates the poll loop against historical data so a
// policy's behavior can be inspected without touching an exchange.
package replay

import (
	"fmt"
	"time"

	"perp-trader/internal/common"
	"perp-trader/internal/exitpolicy"
	"perp-trader/internal/pnl"
	"perp-trader/internal/position"
)

// PricePoint is one observation on the replayed path.
type PricePoint struct {
	Ts    time.Time
	Price float64
}

// Step records what the policy did at one point on the path.
type Step struct {
	Index      int
	Ts         time.Time
	Price      float64
	PnLPercent float64
	Action     exitpolicy.Action
}

// Result summarizes a full replay.
type Result struct {
	Steps              []Step
	FinalStopLevel     float64
	ExecutedTiers      []int
	RemainingSize      float64
	RealizedPnLPercent float64
	PeakPnLPercent     float64
	StoppedOut         bool
	StopPrice          float64
	ExitTs             time.Time
}

// Engine replays one position over a price path. Every mutation the
// policy requests is assumed to fill, so the result shows the policy's
// ideal behavior on that path.
type Engine struct {
	policy exitpolicy.Policy
}

func NewEngine(policy exitpolicy.Policy) *Engine {
	return &Engine{policy: policy}
}

// Run walks the path in order, applying policy actions and checking the
// protective stop at every point. The replay ends when the stop fills,
// the remaining size is exhausted, or the path runs out.
func (e *Engine) Run(pos position.Position, path []PricePoint) (Result, error) {
	if len(path) == 0 {
		return Result{}, fmt.Errorf("%w: empty price path", common.ErrInvalidInput)
	}
	store := position.NewStore()
	tracked, err := store.Track(pos)
	if err != nil {
		return Result{}, err
	}
	key := tracked.Key()

	var res Result
	var stopPrice float64
	last := tracked

	for i, pt := range path {
		current, ok := store.Get(key)
		if !ok {
			break
		}
		last = current

		pnlPercent, err := pnl.Percent(current.EntryPrice, pt.Price, current.Side)
		if err != nil {
			return Result{}, err
		}
		store.ObservePnL(key, pnlPercent)
		if pnlPercent > res.PeakPnLPercent {
			res.PeakPnLPercent = pnlPercent
		}

		if stopPrice > 0 && stopCrossed(current.Side, pt.Price, stopPrice) {
			stopPnL, _ := pnl.Percent(current.EntryPrice, stopPrice, current.Side)
			res.RealizedPnLPercent += stopPnL * current.RemainingSize / current.OriginalSize
			res.StoppedOut = true
			res.StopPrice = stopPrice
			res.ExitTs = pt.Ts
			last = current
			store.Retire(key)
			break
		}

		for _, a := range e.policy.Evaluate(current, pt.Price, pnlPercent) {
			res.Steps = append(res.Steps, Step{
				Index: i, Ts: pt.Ts, Price: pt.Price, PnLPercent: pnlPercent, Action: a,
			})
			switch a.Type {
			case exitpolicy.ActionSetStop:
				stopPrice = a.StopPrice
				if a.Breakeven {
					if err := store.CommitBreakeven(key); err != nil {
						return Result{}, err
					}
				} else if err := store.CommitStopLevel(key, a.Level); err != nil {
					return Result{}, err
				}
			case exitpolicy.ActionPartialClose:
				updated, err := store.CommitTier(key, a.Tier, a.CloseSize)
				if err != nil {
					return Result{}, err
				}
				res.RealizedPnLPercent += pnlPercent * a.CloseSize / updated.OriginalSize
			}
			current, _ = store.Get(key)
		}

		if current.Closed() {
			res.ExitTs = pt.Ts
			last = current
			store.Retire(key)
			break
		}
		last = current
	}

	if final, ok := store.Get(key); ok {
		last = final
	}
	res.FinalStopLevel = last.StopLevel
	res.ExecutedTiers = last.ExecutedTiers
	res.RemainingSize = last.RemainingSize
	if res.StoppedOut {
		res.RemainingSize = 0
	}
	return res, nil
}

func stopCrossed(side string, price, stop float64) bool {
	if side == common.SideLong {
		return price <= stop
	}
	return price >= stop
}
