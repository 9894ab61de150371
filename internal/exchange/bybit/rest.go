// Package bybit is the REST and WebSocket client for Bybit v5 linear
// perpetuals. Responses are decoded into explicit typed results and
// validated at this boundary: absent or zero prices surface as
// ErrPriceUnavailable, declined mutations as ErrOrderRejected, transport
// failures as ErrNetworkError. Nothing above this package sees raw wire
// shapes.
package bybit

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"perp-trader/internal/common"
)

const (
	recvWindow = "5000"
	category   = "linear"

	// The account is expected to run in one-way position mode; hedge-mode
	// accounts (positionIdx 1/2) reject mutations sent with idx 0.
	onewayPositionIdx = 0
)

type Client struct {
	key, secret, base string
	rest              *resty.Client
}

func NewREST(key, secret, base string, timeout time.Duration) *Client {
	r := resty.New()
	if timeout > 0 {
		r.SetTimeout(timeout)
	} else {
		r.SetTimeout(5 * time.Second)
	}
	return &Client{key: key, secret: secret, base: base, rest: r}
}

func (c *Client) signedHeaders(payload string) map[string]string {
	ts := strconv.FormatInt(time.Now().UnixMilli(), 10)
	return map[string]string{
		"X-BAPI-API-KEY":     c.key,
		"X-BAPI-TIMESTAMP":   ts,
		"X-BAPI-RECV-WINDOW": recvWindow,
		"X-BAPI-SIGN":        Sign(c.secret, ts, c.key, recvWindow, payload),
	}
}

// getSigned performs an authenticated GET. Query params must already be
// encoded in canonical key=value&... order because they are signed.
func (c *Client) getSigned(ctx context.Context, path, query string, out any) error {
	resp, err := c.rest.R().
		SetContext(ctx).
		SetHeaders(c.signedHeaders(query)).
		SetResult(out).
		Get(c.base + path + "?" + query)
	if err != nil {
		return fmt.Errorf("%w: GET %s: %v", common.ErrNetworkError, path, err)
	}
	if resp.StatusCode() != 200 {
		return fmt.Errorf("%w: GET %s: status %d", common.ErrNetworkError, path, resp.StatusCode())
	}
	return nil
}

func (c *Client) postSigned(ctx context.Context, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("%w: marshal body: %v", common.ErrInvalidInput, err)
	}
	resp, err := c.rest.R().
		SetContext(ctx).
		SetHeaders(c.signedHeaders(string(payload))).
		SetHeader("Content-Type", "application/json").
		SetBody(payload).
		SetResult(out).
		Post(c.base + path)
	if err != nil {
		return fmt.Errorf("%w: POST %s: %v", common.ErrNetworkError, path, err)
	}
	if resp.StatusCode() != 200 {
		return fmt.Errorf("%w: POST %s: status %d", common.ErrNetworkError, path, resp.StatusCode())
	}
	return nil
}

type tickersResp struct {
	RetCode int    `json:"retCode"`
	RetMsg  string `json:"retMsg"`
	Result  struct {
		List []struct {
			Symbol       string `json:"symbol"`
			LastPrice    string `json:"lastPrice"`
			MarkPrice    string `json:"markPrice"`
			Price24hPcnt string `json:"price24hPcnt"`
			HighPrice24h string `json:"highPrice24h"`
			LowPrice24h  string `json:"lowPrice24h"`
			Volume24h    string `json:"volume24h"`
		} `json:"list"`
	} `json:"result"`
}

// Ticker fetches the current market snapshot for a symbol. The tickers
// endpoint is public; no signature required.
func (c *Client) Ticker(ctx context.Context, symbol string) (Ticker, error) {
	var out tickersResp
	resp, err := c.rest.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{"category": category, "symbol": symbol}).
		SetResult(&out).
		Get(c.base + "/v5/market/tickers")
	if err != nil {
		return Ticker{}, fmt.Errorf("%w: tickers %s: %v", common.ErrNetworkError, symbol, err)
	}
	if resp.StatusCode() != 200 || out.RetCode != 0 || len(out.Result.List) == 0 {
		return Ticker{}, fmt.Errorf("%w: tickers %s: retCode %d %s",
			common.ErrPriceUnavailable, symbol, out.RetCode, out.RetMsg)
	}

	raw := out.Result.List[0]
	t := Ticker{
		Symbol:       raw.Symbol,
		LastPrice:    parseFloat(raw.LastPrice),
		MarkPrice:    parseFloat(raw.MarkPrice),
		Change24hPct: parseFloat(raw.Price24hPcnt) * 100,
		High24h:      parseFloat(raw.HighPrice24h),
		Low24h:       parseFloat(raw.LowPrice24h),
		Volume24h:    parseFloat(raw.Volume24h),
	}
	if t.MarkPrice <= 0 {
		return Ticker{}, fmt.Errorf("%w: tickers %s: no mark price in response",
			common.ErrPriceUnavailable, symbol)
	}
	return t, nil
}

// MarkPrice is the Ticker call reduced to the one number the exit engine
// needs every cycle.
func (c *Client) MarkPrice(ctx context.Context, symbol string) (float64, error) {
	t, err := c.Ticker(ctx, symbol)
	if err != nil {
		return 0, err
	}
	return t.MarkPrice, nil
}

type positionsResp struct {
	RetCode int    `json:"retCode"`
	RetMsg  string `json:"retMsg"`
	Result  struct {
		List []struct {
			Symbol        string `json:"symbol"`
			Side          string `json:"side"` // Buy / Sell
			Size          string `json:"size"`
			AvgPrice      string `json:"avgPrice"`
			MarkPrice     string `json:"markPrice"`
			StopLoss      string `json:"stopLoss"`
			UnrealisedPnl string `json:"unrealisedPnl"`
		} `json:"list"`
	} `json:"result"`
}

// OpenPositions lists the account's open linear positions. Zero-size
// entries the exchange sometimes reports are filtered out here.
func (c *Client) OpenPositions(ctx context.Context) ([]PositionInfo, error) {
	var out positionsResp
	query := "category=" + category + "&settleCoin=USDT"
	if err := c.getSigned(ctx, "/v5/position/list", query, &out); err != nil {
		return nil, err
	}
	if out.RetCode != 0 {
		return nil, fmt.Errorf("%w: position list: retCode %d %s",
			common.ErrNetworkError, out.RetCode, out.RetMsg)
	}

	positions := make([]PositionInfo, 0, len(out.Result.List))
	for _, raw := range out.Result.List {
		size := parseFloat(raw.Size)
		entry := parseFloat(raw.AvgPrice)
		if size == 0 || entry <= 0 {
			continue
		}
		positions = append(positions, PositionInfo{
			Symbol:        raw.Symbol,
			Side:          sideFromOrder(raw.Side),
			Size:          size,
			EntryPrice:    entry,
			MarkPrice:     parseFloat(raw.MarkPrice),
			StopLoss:      parseFloat(raw.StopLoss),
			UnrealizedPnL: parseFloat(raw.UnrealisedPnl),
		})
	}
	return positions, nil
}

type mutationResp struct {
	RetCode int    `json:"retCode"`
	RetMsg  string `json:"retMsg"`
}

// SetStopLoss moves the position's protective stop to the given trigger
// price. Bybit replaces the whole stop, so this is idempotent: re-sending
// the current price is a no-op on the exchange side. In one-way mode the
// symbol alone addresses the position; side only qualifies errors.
func (c *Client) SetStopLoss(ctx context.Context, symbol, side string, price float64) error {
	body := map[string]any{
		"category":    category,
		"symbol":      symbol,
		"stopLoss":    formatPrice(price),
		"positionIdx": onewayPositionIdx,
	}
	var out mutationResp
	if err := c.postSigned(ctx, "/v5/position/trading-stop", body, &out); err != nil {
		return err
	}
	if out.RetCode != 0 {
		return fmt.Errorf("%w: trading-stop %s %s: retCode %d %s",
			common.ErrOrderRejected, symbol, side, out.RetCode, out.RetMsg)
	}
	return nil
}

// ClosePartial releases size from an open position with a reduce-only
// market order on the opposite side.
func (c *Client) ClosePartial(ctx context.Context, symbol, side string, size float64) error {
	body := map[string]any{
		"category":    category,
		"symbol":      symbol,
		"side":        closingOrderSide(side),
		"orderType":   "Market",
		"qty":         strconv.FormatFloat(size, 'f', -1, 64),
		"reduceOnly":  true,
		"positionIdx": onewayPositionIdx,
	}
	var out mutationResp
	if err := c.postSigned(ctx, "/v5/order/create", body, &out); err != nil {
		return err
	}
	if out.RetCode != 0 {
		return fmt.Errorf("%w: close %s: retCode %d %s",
			common.ErrOrderRejected, symbol, out.RetCode, out.RetMsg)
	}
	return nil
}

// PlaceMarketOrder opens a position with optional protective stop and
// first take-profit attached at entry.
func (c *Client) PlaceMarketOrder(ctx context.Context, symbol, side string, qty, stopLoss, takeProfit float64) error {
	body := map[string]any{
		"category":    category,
		"symbol":      symbol,
		"side":        openingOrderSide(side),
		"orderType":   "Market",
		"qty":         strconv.FormatFloat(qty, 'f', -1, 64),
		"positionIdx": onewayPositionIdx,
	}
	if stopLoss > 0 {
		body["stopLoss"] = formatPrice(stopLoss)
	}
	if takeProfit > 0 {
		body["takeProfit"] = formatPrice(takeProfit)
	}
	var out mutationResp
	if err := c.postSigned(ctx, "/v5/order/create", body, &out); err != nil {
		return err
	}
	if out.RetCode != 0 {
		return fmt.Errorf("%w: place %s: retCode %d %s",
			common.ErrOrderRejected, symbol, out.RetCode, out.RetMsg)
	}
	return nil
}

type balanceResp struct {
	RetCode int    `json:"retCode"`
	RetMsg  string `json:"retMsg"`
	Result  struct {
		List []struct {
			Coin []struct {
				Coin             string `json:"coin"`
				WalletBalance    string `json:"walletBalance"`
				AvailableBalance string `json:"availableToWithdraw"`
			} `json:"coin"`
		} `json:"list"`
	} `json:"result"`
}

// AvailableBalance returns the account's free USDT.
func (c *Client) AvailableBalance(ctx context.Context) (float64, error) {
	var out balanceResp
	query := "accountType=UNIFIED&coin=USDT"
	if err := c.getSigned(ctx, "/v5/account/wallet-balance", query, &out); err != nil {
		return 0, err
	}
	if out.RetCode != 0 || len(out.Result.List) == 0 {
		return 0, fmt.Errorf("%w: wallet balance: retCode %d %s",
			common.ErrNetworkError, out.RetCode, out.RetMsg)
	}
	for _, coin := range out.Result.List[0].Coin {
		if coin.Coin == "USDT" {
			if v := parseFloat(coin.AvailableBalance); v > 0 {
				return v, nil
			}
			return parseFloat(coin.WalletBalance), nil
		}
	}
	return 0, nil
}

// sideFromOrder maps the exchange's Buy/Sell position side to engine
// conventions.
func sideFromOrder(side string) string {
	if strings.EqualFold(side, "Sell") {
		return common.SideShort
	}
	return common.SideLong
}

func openingOrderSide(side string) string {
	if side == common.SideShort {
		return "Sell"
	}
	return "Buy"
}

func closingOrderSide(side string) string {
	if side == common.SideShort {
		return "Buy"
	}
	return "Sell"
}

func parseFloat(s string) float64 {
	if s == "" {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

// formatPrice rounds to a tick-friendly number of decimals based on the
// price's magnitude, matching how the exchange quotes small-cap perps.
func formatPrice(price float64) string {
	decimals := 2
	switch {
	case price < 1:
		decimals = 5
	case price < 10:
		decimals = 4
	case price < 100:
		decimals = 3
	}
	return strconv.FormatFloat(price, 'f', decimals, 64)
}
