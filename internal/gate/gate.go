// Package gate admits or rejects trade proposals against the account's
// risk limits and sizes the approved ones. It is a pure decision
// function: no exchange I/O, only the state handed to it.
package gate

import (
	"fmt"
	"math"

	"perp-trader/internal/common"
	"perp-trader/internal/signal"
)

// RiskConfig carries the admission limits. Immutable after startup.
type RiskConfig struct {
	MaxOpenTrades          int
	MaxDailyLossPercent    float64 // positive number, e.g. 10 means -10% halts entries
	MinConfidence          float64 // [0, 1]
	MinRiskReward          float64
	SingleTradeRiskPercent float64 // percent of balance risked per trade
	MaxPositionFraction    float64 // hard ceiling as fraction of balance
}

// Validate rejects limits that would disable the gate or invert its
// meaning. Fatal at startup, never clamped.
func (c RiskConfig) Validate() error {
	if c.MaxOpenTrades <= 0 || c.MaxOpenTrades > common.MaxOpenTradesCap {
		return fmt.Errorf("%w: max open trades must be in [1, %d], got %d",
			common.ErrConfiguration, common.MaxOpenTradesCap, c.MaxOpenTrades)
	}
	if c.MaxDailyLossPercent <= 0 || c.MaxDailyLossPercent > common.MaxDailyLossLimit {
		return fmt.Errorf("%w: max daily loss percent must be in (0, %v], got %v",
			common.ErrConfiguration, common.MaxDailyLossLimit, c.MaxDailyLossPercent)
	}
	if c.MinConfidence < 0 || c.MinConfidence > 1 {
		return fmt.Errorf("%w: min confidence must be in [0, 1], got %v",
			common.ErrConfiguration, c.MinConfidence)
	}
	if c.MinRiskReward <= 0 {
		return fmt.Errorf("%w: min risk/reward must be positive, got %v",
			common.ErrConfiguration, c.MinRiskReward)
	}
	if c.SingleTradeRiskPercent <= 0 || c.SingleTradeRiskPercent > 100 {
		return fmt.Errorf("%w: single trade risk percent must be in (0, 100], got %v",
			common.ErrConfiguration, c.SingleTradeRiskPercent)
	}
	if c.MaxPositionFraction <= 0 || c.MaxPositionFraction > 1 {
		return fmt.Errorf("%w: max position fraction must be in (0, 1], got %v",
			common.ErrConfiguration, c.MaxPositionFraction)
	}
	return nil
}

// AccountState is the account view the gate decides against.
type AccountState struct {
	Balance         float64
	OpenPositions   int
	DailyPnLPercent float64 // realized, signed
}

// Decision is the gate's verdict on one proposal.
type Decision struct {
	Approved   bool
	Size       float64 // position notional in quote currency, when approved
	RiskReward float64
	Reason     string
}

func reject(reason string) Decision {
	return Decision{Approved: false, Reason: reason}
}

// Evaluate runs the admission checks in order and, when all pass, sizes
// the position: risk-based size capped by the absolute balance ceiling.
func Evaluate(p signal.Proposal, account AccountState, cfg RiskConfig) Decision {
	if account.OpenPositions >= cfg.MaxOpenTrades {
		return reject(fmt.Sprintf("max open trades reached (%d)", cfg.MaxOpenTrades))
	}
	if account.DailyPnLPercent <= -cfg.MaxDailyLossPercent {
		return reject(fmt.Sprintf("daily loss limit reached (%.2f%%)", account.DailyPnLPercent))
	}
	if p.Confidence < cfg.MinConfidence {
		return reject(fmt.Sprintf("confidence %.2f below minimum %.2f", p.Confidence, cfg.MinConfidence))
	}

	if p.Entry <= 0 || p.StopLoss <= 0 || len(p.TakeProfits) == 0 {
		return reject("proposal missing entry, stop or target")
	}

	risk, reward := riskReward(p)
	if risk <= 0 {
		return reject("stop loss on the wrong side of entry")
	}
	rr := reward / risk
	if rr < cfg.MinRiskReward {
		return Decision{
			Approved:   false,
			RiskReward: rr,
			Reason:     fmt.Sprintf("risk/reward %.2f below minimum %.2f", rr, cfg.MinRiskReward),
		}
	}

	size := positionSize(account.Balance, p, cfg)
	if size <= 0 {
		return reject("balance too small to size position")
	}
	return Decision{
		Approved:   true,
		Size:       size,
		RiskReward: rr,
		Reason:     fmt.Sprintf("approved: confidence %.2f, risk/reward %.2f", p.Confidence, rr),
	}
}

// riskReward measures distances against the first take-profit target.
func riskReward(p signal.Proposal) (risk, reward float64) {
	if p.Side == common.SideShort {
		risk = p.StopLoss - p.Entry
		reward = p.Entry - p.TakeProfits[0]
		return
	}
	risk = p.Entry - p.StopLoss
	reward = p.TakeProfits[0] - p.Entry
	return
}

// positionSize risks SingleTradeRiskPercent of balance over the stop
// distance and caps the result at MaxPositionFraction of balance.
func positionSize(balance float64, p signal.Proposal, cfg RiskConfig) float64 {
	stopDistancePct := math.Abs(p.Entry-p.StopLoss) / p.Entry * 100
	if stopDistancePct <= 0 {
		return 0
	}
	riskAmount := balance * cfg.SingleTradeRiskPercent / 100
	size := riskAmount / (stopDistancePct / 100)
	ceiling := balance * cfg.MaxPositionFraction
	return math.Min(size, ceiling)
}
