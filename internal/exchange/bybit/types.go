package bybit

import "time"

// Ticker is the validated market snapshot for one symbol.
type Ticker struct {
	Symbol       string
	LastPrice    float64
	MarkPrice    float64
	Change24hPct float64
	High24h      float64
	Low24h       float64
	Volume24h    float64
}

// PositionInfo is the exchange's view of one open position, already
// converted to engine conventions (side LONG/SHORT, numeric fields).
type PositionInfo struct {
	Symbol        string
	Side          string
	Size          float64
	EntryPrice    float64
	MarkPrice     float64
	StopLoss      float64
	UnrealizedPnL float64
}

// Tick is one streamed ticker update.
type Tick struct {
	Symbol    string
	MarkPrice float64
	LastPrice float64
	Ts        time.Time
}
