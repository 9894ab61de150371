package bybit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// WS streams public ticker updates. Mark prices arrive here far more
// often than the REST poll interval; the manager reads them from a cache
// fed by this stream and only falls back to REST when the feed is stale.
type WS struct{ url string }

func NewWS(u string) WS { return WS{u} }

// Stream keeps a subscription to the tickers channel alive until the
// context is cancelled, reconnecting with exponential backoff.
func (w WS) Stream(ctx context.Context, symbols []string, ticks chan<- Tick, errs chan<- error, ping time.Duration) error {
	backoff := time.Second
	maxBackoff := 30 * time.Second

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			if err := w.streamOnce(ctx, symbols, ticks, ping); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				log.Warn().Err(err).Dur("backoff", backoff).Msg("ticker stream failed, reconnecting")
				select {
				case errs <- fmt.Errorf("ws reconnect: %w", err):
				default:
				}

				select {
				case <-time.After(backoff):
				case <-ctx.Done():
					return ctx.Err()
				}

				backoff *= 2
				if backoff > maxBackoff {
					backoff = maxBackoff
				}
				continue
			}
			backoff = time.Second
		}
	}
}

type wsMessage struct {
	Topic   string `json:"topic"`
	Op      string `json:"op"`
	Success bool   `json:"success"`
	RetMsg  string `json:"ret_msg"`
	Data    struct {
		Symbol    string `json:"symbol"`
		MarkPrice string `json:"markPrice"`
		LastPrice string `json:"lastPrice"`
	} `json:"data"`
}

func (w WS) streamOnce(ctx context.Context, symbols []string, ticks chan<- Tick, ping time.Duration) error {
	log.Info().Str("url", w.url).Int("symbols", len(symbols)).Msg("connecting ticker stream")

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, w.url, nil)
	if err != nil {
		return fmt.Errorf("dial failed: %w", err)
	}
	defer conn.Close()

	conn.SetReadLimit(512 * 1024)

	args := make([]string, 0, len(symbols))
	for _, s := range symbols {
		args = append(args, "tickers."+s)
	}
	if err := conn.WriteJSON(map[string]any{"op": "subscribe", "args": args}); err != nil {
		return fmt.Errorf("subscribe failed: %w", err)
	}

	pingTicker := time.NewTicker(ping)
	defer pingTicker.Stop()

	// Close the connection when the context ends so the blocked read
	// returns promptly.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	// The mark price arrives in delta frames that omit unchanged fields;
	// carry the last seen value per symbol forward.
	lastMark := make(map[string]float64, len(symbols))
	lastTrade := make(map[string]float64, len(symbols))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-pingTicker.C:
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(map[string]any{"op": "ping"}); err != nil {
				return fmt.Errorf("ping failed: %w", err)
			}
		default:
			conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, raw, err := conn.ReadMessage()
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return fmt.Errorf("read failed: %w", err)
			}

			var msg wsMessage
			if err := json.Unmarshal(raw, &msg); err != nil {
				log.Debug().Err(err).Msg("unparseable ws frame")
				continue
			}

			if msg.Op == "subscribe" {
				if !msg.Success {
					return fmt.Errorf("subscription rejected: %s", msg.RetMsg)
				}
				log.Info().Msg("ticker subscription confirmed")
				continue
			}
			if msg.Data.Symbol == "" {
				continue
			}

			if v := parseFloat(msg.Data.MarkPrice); v > 0 {
				lastMark[msg.Data.Symbol] = v
			}
			if v := parseFloat(msg.Data.LastPrice); v > 0 {
				lastTrade[msg.Data.Symbol] = v
			}
			mark := lastMark[msg.Data.Symbol]
			if mark <= 0 {
				continue
			}

			tick := Tick{
				Symbol:    msg.Data.Symbol,
				MarkPrice: mark,
				LastPrice: lastTrade[msg.Data.Symbol],
				Ts:        time.Now(),
			}
			select {
			case ticks <- tick:
			default:
				// Slow consumer: drop the tick, the next one supersedes it.
			}
		}
	}
}
