package bybit

import (
	"sync"
	"time"
)

// PriceCache holds the freshest tick per symbol from the WebSocket feed.
type PriceCache struct {
	mu    sync.RWMutex
	ticks map[string]Tick
}

func NewPriceCache() *PriceCache {
	return &PriceCache{ticks: make(map[string]Tick)}
}

func (c *PriceCache) Update(t Tick) {
	c.mu.Lock()
	c.ticks[t.Symbol] = t
	c.mu.Unlock()
}

// MarkPrice returns the cached mark price when it is younger than maxAge.
// A stale or missing entry returns false and the caller falls back to REST.
func (c *PriceCache) MarkPrice(symbol string, maxAge time.Duration) (float64, bool) {
	c.mu.RLock()
	t, ok := c.ticks[symbol]
	c.mu.RUnlock()
	if !ok || t.MarkPrice <= 0 || time.Since(t.Ts) > maxAge {
		return 0, false
	}
	return t.MarkPrice, true
}
