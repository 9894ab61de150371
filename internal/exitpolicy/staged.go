package exitpolicy

import (
	"fmt"

	"perp-trader/internal/common"
	"perp-trader/internal/position"
)

// Tier is one staged take-profit milestone: when the mark crosses Price,
// Fraction of the original position size is released.
type Tier struct {
	Price    float64
	Fraction float64
}

// StagedTP releases fixed fractions of the original size at up to five
// price milestones. After the first tier fires the stop is pulled to
// break-even, once per position. Tiers fire at most once and in ascending
// order within a cycle; a price gap past several tiers fires each of them
// in the same poll.
type StagedTP struct {
	// Fractions of original size per tier, applied to proposed
	// take-profit prices or to the default offsets below.
	Fractions []float64

	// DefaultOffsets are the relative distances from entry used when a
	// position carries no proposed tier prices (2%, 4%, ... for longs).
	DefaultOffsets []float64
}

// NewStagedTP validates the fraction schedule. Fractions that sum past
// 100% of original size would eventually request a close larger than the
// position; that is rejected outright rather than clamped.
func NewStagedTP(fractions []float64) (*StagedTP, error) {
	if len(fractions) == 0 {
		return nil, fmt.Errorf("%w: at least one tier fraction required", common.ErrConfiguration)
	}
	var sum float64
	for i, f := range fractions {
		if f <= 0 || f > 1 {
			return nil, fmt.Errorf("%w: tier %d fraction must be in (0, 1], got %v",
				common.ErrConfiguration, i+1, f)
		}
		sum += f
	}
	if sum > 1+common.SizeEpsilon {
		return nil, fmt.Errorf("%w: tier fractions sum to %.4f, must not exceed 1.0",
			common.ErrConfiguration, sum)
	}
	return &StagedTP{
		Fractions:      fractions,
		DefaultOffsets: []float64{0.02, 0.04, 0.06, 0.08, 0.10},
	}, nil
}

func (s *StagedTP) Name() string { return common.StrategyStagedTP }

// TiersFor resolves the tier schedule for a position: proposed take-profit
// prices when the signal carried them, default entry offsets otherwise.
// Fractions beyond the available price list are dropped.
func (s *StagedTP) TiersFor(pos position.Position) []Tier {
	prices := pos.TakeProfits
	if len(prices) == 0 {
		prices = make([]float64, 0, len(s.DefaultOffsets))
		for _, off := range s.DefaultOffsets {
			if pos.Side == common.SideShort {
				prices = append(prices, pos.EntryPrice*(1-off))
			} else {
				prices = append(prices, pos.EntryPrice*(1+off))
			}
		}
	}
	n := len(prices)
	if len(s.Fractions) < n {
		n = len(s.Fractions)
	}
	tiers := make([]Tier, 0, n)
	for i := 0; i < n; i++ {
		tiers = append(tiers, Tier{Price: prices[i], Fraction: s.Fractions[i]})
	}
	return tiers
}

func crossed(side string, mark, threshold float64) bool {
	if side == common.SideShort {
		return mark <= threshold
	}
	return mark >= threshold
}

// Evaluate implements Policy.
func (s *StagedTP) Evaluate(pos position.Position, mark, pnlPercent float64) []Action {
	remaining := pos.RemainingSize
	breakevenPending := !pos.BreakevenSet

	var actions []Action
	// Tier 1 filled on an earlier cycle but the stop never moved: keep
	// issuing the break-even move until it commits.
	if breakevenPending && pos.TierExecuted(1) {
		breakevenPending = false
		actions = append(actions, breakevenAction(pos))
	}
	for i, tier := range s.TiersFor(pos) {
		idx := i + 1
		if pos.TierExecuted(idx) {
			continue
		}
		if !crossed(pos.Side, mark, tier.Price) {
			continue
		}
		// Sized against original size so prior partial closes do not
		// shrink later tiers; clamped so drift never overshoots what is
		// actually left.
		size := tier.Fraction * pos.OriginalSize
		if size > remaining {
			size = remaining
		}
		if size <= common.SizeEpsilon {
			continue
		}
		remaining -= size
		actions = append(actions, Action{
			Type:      ActionPartialClose,
			Tier:      idx,
			CloseSize: size,
			Reason:    fmt.Sprintf("mark %.6g crossed tier %d at %.6g", mark, idx, tier.Price),
		})
		if idx == 1 && breakevenPending {
			breakevenPending = false
			actions = append(actions, breakevenAction(pos))
		}
	}
	return actions
}

func breakevenAction(pos position.Position) Action {
	return Action{
		Type:      ActionSetStop,
		StopPrice: pos.EntryPrice,
		Breakeven: true,
		Reason:    "first take-profit tier filled, stop to break-even",
	}
}
