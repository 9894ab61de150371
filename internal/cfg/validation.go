package cfg

import (
	"fmt"
	"math"

	"perp-trader/internal/common"
)

func validateSettings(s *Settings) error {
	if s.Key == "" || s.Secret == "" {
		return fmt.Errorf("%w: API credentials are required", common.ErrConfiguration)
	}
	if len(s.Symbols) == 0 {
		return fmt.Errorf("%w: at least one trading symbol is required", common.ErrConfiguration)
	}
	for _, sym := range s.Symbols {
		if sym == "" {
			return fmt.Errorf("%w: empty symbol in symbol list", common.ErrConfiguration)
		}
	}

	switch s.ExitStrategy {
	case common.StrategyTrailingStep:
		if s.TrailingStepPercent <= 0 || s.TrailingStepPercent > common.MaxTrailingStep {
			return fmt.Errorf("%w: trailing step must be in (0, %.0f], got %.2f",
				common.ErrConfiguration, common.MaxTrailingStep, s.TrailingStepPercent)
		}
	case common.StrategyStagedTP:
		if len(s.TierFractions) == 0 {
			return fmt.Errorf("%w: staged take-profit requires at least one tier fraction", common.ErrConfiguration)
		}
		var sum float64
		for i, f := range s.TierFractions {
			if f <= 0 || f > 1 {
				return fmt.Errorf("%w: tier fraction %d must be in (0, 1], got %.4f",
					common.ErrConfiguration, i+1, f)
			}
			sum += f
		}
		if sum > 1.0+common.SizeEpsilon {
			return fmt.Errorf("%w: tier fractions sum to %.4f, must not exceed 1.0",
				common.ErrConfiguration, sum)
		}
	default:
		return fmt.Errorf("%w: unknown exit strategy %q", common.ErrConfiguration, s.ExitStrategy)
	}

	if s.PollInterval <= 0 {
		return fmt.Errorf("%w: poll interval must be positive, got %v", common.ErrConfiguration, s.PollInterval)
	}
	if s.PriceMaxAge <= 0 {
		return fmt.Errorf("%w: price max age must be positive, got %v", common.ErrConfiguration, s.PriceMaxAge)
	}
	if s.Leverage < 1 || s.Leverage > 125 {
		return fmt.Errorf("%w: leverage must be in [1, 125], got %d", common.ErrConfiguration, s.Leverage)
	}

	if s.MaxOpenTrades < 1 || s.MaxOpenTrades > common.MaxOpenTradesCap {
		return fmt.Errorf("%w: max open trades must be in [1, %d], got %d",
			common.ErrConfiguration, common.MaxOpenTradesCap, s.MaxOpenTrades)
	}
	if s.MaxDailyLossPercent <= 0 || s.MaxDailyLossPercent > common.MaxDailyLossLimit {
		return fmt.Errorf("%w: max daily loss must be in (0, %.0f], got %.2f",
			common.ErrConfiguration, common.MaxDailyLossLimit, s.MaxDailyLossPercent)
	}
	if s.MinConfidence < 0 || s.MinConfidence > 1 {
		return fmt.Errorf("%w: min confidence must be in [0, 1], got %.2f",
			common.ErrConfiguration, s.MinConfidence)
	}
	if s.MinRiskReward <= 0 {
		return fmt.Errorf("%w: min risk/reward must be positive, got %.2f",
			common.ErrConfiguration, s.MinRiskReward)
	}
	if s.SingleTradeRiskPercent <= 0 || s.SingleTradeRiskPercent > 100 {
		return fmt.Errorf("%w: single trade risk must be in (0, 100], got %.2f",
			common.ErrConfiguration, s.SingleTradeRiskPercent)
	}
	if s.MaxPositionFraction <= 0 || s.MaxPositionFraction > 1 {
		return fmt.Errorf("%w: max position fraction must be in (0, 1], got %.4f",
			common.ErrConfiguration, s.MaxPositionFraction)
	}
	if math.IsNaN(s.MaxPositionFraction) || math.IsInf(s.MaxPositionFraction, 0) {
		return fmt.Errorf("%w: max position fraction is not a finite number", common.ErrConfiguration)
	}

	if s.MetricsPort < common.MinMetricsPort || s.MetricsPort > common.MaxMetricsPort {
		return fmt.Errorf("%w: metrics port must be in [%d, %d], got %d",
			common.ErrConfiguration, common.MinMetricsPort, common.MaxMetricsPort, s.MetricsPort)
	}
	if s.RESTTimeout <= 0 {
		return fmt.Errorf("%w: REST timeout must be positive, got %v", common.ErrConfiguration, s.RESTTimeout)
	}
	if s.Ping <= 0 {
		return fmt.Errorf("%w: ping interval must be positive, got %v", common.ErrConfiguration, s.Ping)
	}
	return nil
}
