package signal

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"perp-trader/internal/common"
)

// Parser extracts trade proposals from free-text broadcast messages.
// Channel posts vary wildly in formatting; the parser is deliberately
// permissive about decoration and strict about the numbers it keeps.
type Parser struct {
	// DefaultConfidence is assigned to parsed broadcasts, which carry no
	// confidence of their own. The gate filters against its own minimum.
	DefaultConfidence float64
}

var (
	symbolRe   = regexp.MustCompile(`(?i)[#$]?([A-Z0-9]{2,12})\s*[/_-]?\s*USDT`)
	longRe     = regexp.MustCompile(`(?i)\b(long|buy)\b`)
	shortRe    = regexp.MustCompile(`(?i)\b(short|sell)\b`)
	entryRe    = regexp.MustCompile(`(?i)entr(?:y|ies)\s*(?:zone|price)?\s*[:=]?\s*([0-9.,]+)(?:\s*[-–]\s*([0-9.,]+))?`)
	stopRe     = regexp.MustCompile(`(?i)(?:stop\s*loss|stoploss|\bsl\b)\s*[:=]?\s*([0-9.,]+)`)
	targetRe   = regexp.MustCompile(`(?i)(?:take\s*profit|target|\btp\s*\d*\b)\s*[:=]?\s*([0-9.,]+)`)
	leverageRe = regexp.MustCompile(`(?i)(?:lev(?:erage)?|cross|isolated)\s*[:=]?\s*x?\s*([0-9]+)\s*x?`)
)

// Parse returns the proposal found in the message, or an error when the
// text does not describe a usable trade (no symbol, no direction, or stop
// on the wrong side of entry is left for the gate to reject).
func (p *Parser) Parse(text string) (Proposal, error) {
	prop := NewProposal("broadcast")
	prop.Raw = text
	prop.Confidence = p.DefaultConfidence

	sym := symbolRe.FindStringSubmatch(text)
	if sym == nil {
		return Proposal{}, fmt.Errorf("%w: no symbol in message", common.ErrInvalidInput)
	}
	prop.Symbol = NormalizeSymbol(sym[1])

	hasLong := longRe.MatchString(text)
	hasShort := shortRe.MatchString(text)
	switch {
	case hasLong && !hasShort:
		prop.Side = common.SideLong
	case hasShort && !hasLong:
		prop.Side = common.SideShort
	default:
		return Proposal{}, fmt.Errorf("%w: ambiguous or missing direction", common.ErrInvalidInput)
	}

	if m := entryRe.FindStringSubmatch(text); m != nil {
		lo := parseNumber(m[1])
		if m[2] != "" {
			// Entry zones average to a single hint.
			hi := parseNumber(m[2])
			if lo > 0 && hi > 0 {
				prop.Entry = (lo + hi) / 2
			}
		} else {
			prop.Entry = lo
		}
	}
	if m := stopRe.FindStringSubmatch(text); m != nil {
		prop.StopLoss = parseNumber(m[1])
	}
	for _, m := range targetRe.FindAllStringSubmatch(text, 5) {
		if v := parseNumber(m[1]); v > 0 {
			prop.TakeProfits = append(prop.TakeProfits, v)
		}
	}
	if m := leverageRe.FindStringSubmatch(text); m != nil {
		if lev, err := strconv.Atoi(m[1]); err == nil && lev > 0 {
			prop.Leverage = lev
		}
	}

	if prop.Entry <= 0 {
		return Proposal{}, fmt.Errorf("%w: no entry price in message", common.ErrInvalidInput)
	}
	return prop, nil
}

// parseNumber tolerates thousands separators in either convention:
// "42,000.50" and "42000,5" both parse.
func parseNumber(s string) float64 {
	s = strings.TrimSpace(s)
	if strings.Contains(s, ".") {
		s = strings.ReplaceAll(s, ",", "")
	} else if strings.Count(s, ",") == 1 {
		s = strings.ReplaceAll(s, ",", ".")
	} else {
		s = strings.ReplaceAll(s, ",", "")
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}
