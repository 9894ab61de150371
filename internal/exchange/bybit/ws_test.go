package bybit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPriceCache(t *testing.T) {
	t.Parallel()

	c := NewPriceCache()

	_, ok := c.MarkPrice("BTCUSDT", time.Second)
	assert.False(t, ok)

	c.Update(Tick{Symbol: "BTCUSDT", MarkPrice: 42000, Ts: time.Now()})
	px, ok := c.MarkPrice("BTCUSDT", 5*time.Second)
	require.True(t, ok)
	assert.InDelta(t, 42000.0, px, 1e-9)

	// Stale entries miss.
	c.Update(Tick{Symbol: "ETHUSDT", MarkPrice: 2500, Ts: time.Now().Add(-time.Minute)})
	_, ok = c.MarkPrice("ETHUSDT", 5*time.Second)
	assert.False(t, ok)

	// Later updates supersede.
	c.Update(Tick{Symbol: "BTCUSDT", MarkPrice: 42100, Ts: time.Now()})
	px, _ = c.MarkPrice("BTCUSDT", 5*time.Second)
	assert.InDelta(t, 42100.0, px, 1e-9)
}

// wsTestServer upgrades one connection, confirms the subscription, sends
// the scripted frames, then keeps the connection open until the client
// drops it.
func wsTestServer(t *testing.T, frames []string) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// Consume the subscribe request.
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		if err := conn.WriteMessage(websocket.TextMessage,
			[]byte(`{"op":"subscribe","success":true}`)); err != nil {
			return
		}
		for _, f := range frames {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
				return
			}
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
}

func TestStreamDeltaFramesCarryMarkPriceForward(t *testing.T) {
	t.Parallel()

	srv := wsTestServer(t, []string{
		`{"topic":"tickers.BTCUSDT","data":{"symbol":"BTCUSDT","markPrice":"42000.5","lastPrice":"42001"}}`,
		// Delta frame without a mark price: last seen value carries forward.
		`{"topic":"tickers.BTCUSDT","data":{"symbol":"BTCUSDT","lastPrice":"42002"}}`,
	})
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ws := NewWS("ws" + strings.TrimPrefix(srv.URL, "http"))
	ticks := make(chan Tick, 8)
	errs := make(chan error, 8)
	go ws.Stream(ctx, []string{"BTCUSDT"}, ticks, errs, time.Minute)

	first := <-ticks
	assert.Equal(t, "BTCUSDT", first.Symbol)
	assert.InDelta(t, 42000.5, first.MarkPrice, 1e-9)
	assert.InDelta(t, 42001.0, first.LastPrice, 1e-9)

	second := <-ticks
	assert.InDelta(t, 42000.5, second.MarkPrice, 1e-9)
	assert.InDelta(t, 42002.0, second.LastPrice, 1e-9)

	cancel()
}

func TestStreamStopsOnContextCancel(t *testing.T) {
	t.Parallel()

	srv := wsTestServer(t, nil)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ws := NewWS("ws" + strings.TrimPrefix(srv.URL, "http"))
	ticks := make(chan Tick, 1)
	errs := make(chan error, 1)

	done := make(chan error, 1)
	go func() { done <- ws.Stream(ctx, []string{"BTCUSDT"}, ticks, errs, time.Minute) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("stream did not stop after cancel")
	}
}
