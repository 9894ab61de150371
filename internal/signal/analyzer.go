package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"

	"perp-trader/internal/common"
)

// MarketSnapshot is the condensed per-symbol state handed to the analyzer.
type MarketSnapshot struct {
	Symbol         string  `json:"symbol"`
	Price          float64 `json:"price"`
	Change24hPct   float64 `json:"change24hPct"`
	High24h        float64 `json:"high24h"`
	Low24h         float64 `json:"low24h"`
	Volume24h      float64 `json:"volume24h"`
}

// AnalyzerInterface produces candidate proposals from market snapshots.
type AnalyzerInterface interface {
	Analyze(ctx context.Context, snapshots []MarketSnapshot) ([]Proposal, error)
}

// AnalyzerConfig configures the LLM analyzer client.
type AnalyzerConfig struct {
	URL     string
	APIKey  string
	Timeout time.Duration
}

// Analyzer asks an LLM endpoint for trade verdicts over a batch of market
// snapshots. The model answers with JSON, often wrapped in a markdown
// fence, scoring confidence on a 1-10 scale; both quirks are absorbed
// here so the rest of the system only ever sees normalized proposals.
type Analyzer struct {
	cfg  AnalyzerConfig
	rest *resty.Client
}

func NewAnalyzer(cfg AnalyzerConfig) *Analyzer {
	r := resty.New()
	if cfg.Timeout > 0 {
		r.SetTimeout(cfg.Timeout)
	} else {
		r.SetTimeout(30 * time.Second)
	}
	return &Analyzer{cfg: cfg, rest: r}
}

type analyzerRequest struct {
	Snapshots []MarketSnapshot `json:"snapshots"`
}

// Verdict is the decoded analyzer response.
type Verdict struct {
	Signals []struct {
		Symbol            string  `json:"symbol"`
		Side              string  `json:"side"`
		Confidence        float64 `json:"confidence"` // 1-10
		StopLossPercent   float64 `json:"stop_loss_percent"`
		TakeProfitPercent float64 `json:"take_profit_percent"`
		Reason            string  `json:"reason"`
	} `json:"signals"`
	MarketSentiment string `json:"market_sentiment"`
	AnalysisSummary string `json:"analysis_summary"`
}

// Analyze implements AnalyzerInterface.
func (a *Analyzer) Analyze(ctx context.Context, snapshots []MarketSnapshot) ([]Proposal, error) {
	if len(snapshots) == 0 {
		return nil, nil
	}

	resp, err := a.rest.R().
		SetContext(ctx).
		SetHeader("Authorization", "Bearer "+a.cfg.APIKey).
		SetBody(analyzerRequest{Snapshots: snapshots}).
		Post(a.cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: analyzer request: %v", common.ErrNetworkError, err)
	}
	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("%w: analyzer status %d", common.ErrNetworkError, resp.StatusCode())
	}

	verdict, err := ParseVerdict(resp.String())
	if err != nil {
		return nil, err
	}

	prices := make(map[string]float64, len(snapshots))
	for _, s := range snapshots {
		prices[NormalizeSymbol(s.Symbol)] = s.Price
	}

	var proposals []Proposal
	for _, sig := range verdict.Signals {
		symbol := NormalizeSymbol(sig.Symbol)
		price, ok := prices[symbol]
		if !ok || price <= 0 {
			log.Warn().Str("symbol", symbol).Msg("analyzer returned signal for unknown symbol")
			continue
		}
		side := strings.ToUpper(sig.Side)
		if side != common.SideLong && side != common.SideShort {
			continue
		}

		slPct := sig.StopLossPercent
		tpPct := sig.TakeProfitPercent
		if slPct <= 0 {
			slPct = 2
		}
		if tpPct <= 0 {
			tpPct = 4
		}

		p := NewProposal("analyzer")
		p.Symbol = symbol
		p.Side = side
		p.Confidence = clamp01(sig.Confidence / 10)
		p.Entry = price
		if side == common.SideLong {
			p.StopLoss = price * (1 - slPct/100)
			p.TakeProfits = []float64{price * (1 + tpPct/100)}
		} else {
			p.StopLoss = price * (1 + slPct/100)
			p.TakeProfits = []float64{price * (1 - tpPct/100)}
		}
		p.Raw = sig.Reason
		proposals = append(proposals, p)
	}
	return proposals, nil
}

// ParseVerdict decodes the analyzer response, stripping a ```json fence
// when present.
func ParseVerdict(body string) (Verdict, error) {
	text := strings.TrimSpace(body)
	if i := strings.Index(text, "```json"); i >= 0 {
		text = text[i+len("```json"):]
		if j := strings.Index(text, "```"); j >= 0 {
			text = text[:j]
		}
	} else if i := strings.Index(text, "```"); i >= 0 {
		text = text[i+3:]
		if j := strings.Index(text, "```"); j >= 0 {
			text = text[:j]
		}
	}

	var verdict Verdict
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &verdict); err != nil {
		return Verdict{}, fmt.Errorf("%w: analyzer verdict: %v", common.ErrInvalidInput, err)
	}
	return verdict, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
