// Package signal produces candidate trade proposals from outside sources:
// free-text broadcast messages and an LLM market analyzer. Both are thin
// boundary adapters; whether a proposal becomes a position is decided by
// the entry gate, never here.
package signal

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Proposal is one candidate trade, consumed at most once by the gate.
type Proposal struct {
	ID          string    `json:"id"`
	Symbol      string    `json:"symbol"`
	Side        string    `json:"side"` // common.SideLong / common.SideShort
	Confidence  float64   `json:"confidence"` // normalized to [0, 1]
	Entry       float64   `json:"entry"`
	StopLoss    float64   `json:"stopLoss"`
	TakeProfits []float64 `json:"takeProfits"`
	Leverage    int       `json:"leverage,omitempty"`
	Source      string    `json:"source"`
	Raw         string    `json:"raw,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// NewProposal stamps identity and creation time.
func NewProposal(source string) Proposal {
	return Proposal{
		ID:        uuid.NewString(),
		Source:    source,
		CreatedAt: time.Now().UTC(),
	}
}

// NormalizeSymbol upper-cases and ensures the USDT-perp suffix, so "btc",
// "BTC/USDT" and "BTCUSDT" all map to the same instrument.
func NormalizeSymbol(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	s = strings.NewReplacer("/", "", "-", "", "_", "").Replace(s)
	if s == "" {
		return ""
	}
	if !strings.HasSuffix(s, "USDT") {
		s += "USDT"
	}
	return s
}
