// Package binance adapts the REST clients under pkg/exchanges/binance to
// the decimal-based exchange.Adapter capability set.
package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"signalpipeline/internal/exchange"
	futures "signalpipeline/pkg/exchanges/binance/futures_usdt"
	common "signalpipeline/pkg/exchanges/common"
)

// USDTFuturesAdapter wraps futures_usdt.Client to satisfy exchange.Adapter.
// Decimal values are converted to float64 only at this boundary, where the
// underlying REST client itself expects floats — the one exception the
// decimal mandate allows.
type USDTFuturesAdapter struct {
	client     *futures.Client
	baseURL    string
	httpClient *http.Client
}

func newUSDTFuturesAdapter(apiKey, apiSecret string, testnet bool) *USDTFuturesAdapter {
	client := futures.NewClient(futures.Config{
		APIKey:    apiKey,
		APISecret: apiSecret,
		Testnet:   testnet,
	})
	base := "https://fapi.binance.com"
	if testnet {
		base = "https://testnet.binancefuture.com"
	}
	return &USDTFuturesAdapter{
		client:     client,
		baseURL:    base,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// NewUSDTFuturesAdapter connects a USDT-M futures adapter for one user's
// credentials. Matches the exchange.Factory signature for registration.
func NewUSDTFuturesAdapter(ctx context.Context, apiKey, apiSecret, _ string) (exchange.Adapter, error) {
	return newUSDTFuturesAdapter(apiKey, apiSecret, false), nil
}

// NewUSDTFuturesTestnetAdapter is the testnet-pinned variant for the registry.
func NewUSDTFuturesTestnetAdapter(ctx context.Context, apiKey, apiSecret, _ string) (exchange.Adapter, error) {
	return newUSDTFuturesAdapter(apiKey, apiSecret, true), nil
}

func (a *USDTFuturesAdapter) Name() string         { return "binance-usdtfut" }
func (a *USDTFuturesAdapter) SupportsFutures() bool { return true }

func (a *USDTFuturesAdapter) Connect(ctx context.Context) error    { return nil }
func (a *USDTFuturesAdapter) Disconnect(ctx context.Context) error { return nil }

func (a *USDTFuturesAdapter) ValidateCredentials(ctx context.Context) (bool, error) {
	_, err := a.client.GetAccountInfo(ctx)
	if err != nil {
		return false, exchange.NewAuthenticationError(a.Name(), "credential check failed", err)
	}
	return true, nil
}

func (a *USDTFuturesAdapter) GetTicker(ctx context.Context, symbol string) (exchange.Ticker, error) {
	sym := exchange.NormalizeSymbol(symbol)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/fapi/v1/ticker/price?symbol="+sym, nil)
	if err != nil {
		return exchange.Ticker{}, exchange.NewExchangeError(a.Name(), "build ticker request", err)
	}
	res, err := a.httpClient.Do(req)
	if err != nil {
		return exchange.Ticker{}, exchange.NewExchangeError(a.Name(), "get ticker", err)
	}
	defer res.Body.Close()
	body, _ := io.ReadAll(res.Body)
	if res.StatusCode >= 300 {
		return exchange.Ticker{}, exchange.NewInvalidOrderError(a.Name(), fmt.Sprintf("ticker status %d: %s", res.StatusCode, string(body)), nil)
	}
	var out struct {
		Symbol string `json:"symbol"`
		Price  string `json:"price"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return exchange.Ticker{}, exchange.NewExchangeError(a.Name(), "decode ticker", err)
	}
	price, err := decimal.NewFromString(out.Price)
	if err != nil {
		return exchange.Ticker{}, exchange.NewExchangeError(a.Name(), "parse ticker price", err)
	}
	return exchange.Ticker{Symbol: sym, LastPrice: price, Timestamp: time.Now()}, nil
}

func (a *USDTFuturesAdapter) GetBalance(ctx context.Context, asset string) ([]exchange.Balance, error) {
	raw, err := a.client.GetBalance(ctx)
	if err != nil {
		return nil, exchange.NewExchangeError(a.Name(), "get balance", err)
	}
	out := make([]exchange.Balance, 0, len(raw))
	for _, b := range raw {
		if asset != "" && b.Asset != asset {
			continue
		}
		total, _ := decimal.NewFromString(b.Balance)
		avail, _ := decimal.NewFromString(b.AvailableBalance)
		out = append(out, exchange.Balance{
			Asset:     b.Asset,
			Total:     total,
			Available: avail,
			Locked:    total.Sub(avail),
		})
	}
	return out, nil
}

func (a *USDTFuturesAdapter) PlaceOrder(ctx context.Context, req exchange.OrderRequest) (exchange.OrderResult, error) {
	if req.Leverage > 1 {
		if _, err := a.SetLeverage(ctx, req.Symbol, req.Leverage); err != nil {
			// best-effort: logged here, not fatal; the order carries the
			// venue's existing leverage
			log.Printf("binance-usdtfut: set leverage failed symbol=%s leverage=%d error=%v", req.Symbol, req.Leverage, err)
		}
	}

	side := common.SideBuy
	if req.Side == exchange.SideSell {
		side = common.SideSell
	}

	orderType := common.OrderTypeMarket
	switch req.Type {
	case exchange.OrderTypeLimit:
		orderType = common.OrderTypeLimit
	case exchange.OrderTypeStopMarket:
		orderType = common.OrderTypeStopLoss
	case exchange.OrderTypeStopLimit:
		orderType = common.OrderTypeStopLossLimit
	}

	creq := common.OrderRequest{
		Symbol:      exchange.NormalizeSymbol(req.Symbol),
		Side:        side,
		Type:        orderType,
		Qty:         toFloat(req.Quantity),
		Price:       toFloat(req.Price),
		StopPrice:   toFloat(req.StopPrice),
		TimeInForce: common.TIFGTC,
		ClientID:    req.ClientID,
		ReduceOnly:  req.ReduceOnly,
	}

	res, err := a.client.SubmitOrder(ctx, creq)
	if err != nil {
		return exchange.OrderResult{}, mapSubmitError(a.Name(), err)
	}

	return exchange.OrderResult{
		OrderID:  res.ExchangeOrderID,
		Status:   mapOrderStatus(res.Status),
		ClientID: res.ClientID,
	}, nil
}

func (a *USDTFuturesAdapter) CancelOrder(ctx context.Context, orderID, symbol string) (bool, error) {
	if err := a.client.CancelOrder(ctx, exchange.NormalizeSymbol(symbol), orderID); err != nil {
		return false, exchange.NewExchangeError(a.Name(), "cancel order", err)
	}
	return true, nil
}

func (a *USDTFuturesAdapter) GetOrder(ctx context.Context, orderID, symbol string) (exchange.OrderResult, error) {
	orders, err := a.client.GetOpenOrders(ctx, exchange.NormalizeSymbol(symbol))
	if err != nil {
		return exchange.OrderResult{}, exchange.NewExchangeError(a.Name(), "get order", err)
	}
	for _, o := range orders {
		if strconv.FormatInt(o.OrderID, 10) == orderID {
			filled, _ := decimal.NewFromString(o.ExecQty)
			price, _ := decimal.NewFromString(o.Price)
			return exchange.OrderResult{
				OrderID:      orderID,
				Status:       mapOrderStatusString(o.Status),
				FilledQty:    filled,
				AvgFillPrice: price,
				ClientID:     o.ClientOrderID,
			}, nil
		}
	}
	return exchange.OrderResult{}, exchange.NewExchangeError(a.Name(), fmt.Sprintf("order %s not found", orderID), nil)
}

func (a *USDTFuturesAdapter) GetOpenOrders(ctx context.Context, symbol string) ([]exchange.OrderResult, error) {
	orders, err := a.client.GetOpenOrders(ctx, exchange.NormalizeSymbol(symbol))
	if err != nil {
		return nil, exchange.NewExchangeError(a.Name(), "get open orders", err)
	}
	out := make([]exchange.OrderResult, 0, len(orders))
	for _, o := range orders {
		filled, _ := decimal.NewFromString(o.ExecQty)
		price, _ := decimal.NewFromString(o.Price)
		out = append(out, exchange.OrderResult{
			OrderID:      strconv.FormatInt(o.OrderID, 10),
			Status:       mapOrderStatusString(o.Status),
			FilledQty:    filled,
			AvgFillPrice: price,
			ClientID:     o.ClientOrderID,
		})
	}
	return out, nil
}

func (a *USDTFuturesAdapter) GetPositions(ctx context.Context, symbol string) ([]exchange.Position, error) {
	positions, err := a.client.GetPositions(ctx, exchange.NormalizeSymbol(symbol))
	if err != nil {
		return nil, exchange.NewExchangeError(a.Name(), "get positions", err)
	}
	out := make([]exchange.Position, 0, len(positions))
	for _, p := range positions {
		amt, _ := decimal.NewFromString(p.PositionAmt)
		if amt.IsZero() {
			continue
		}
		entry, _ := decimal.NewFromString(p.EntryPrice)
		pnl, _ := decimal.NewFromString(p.UnRealizedProfit)
		side := "long"
		if amt.IsNegative() {
			side = "short"
			amt = amt.Abs()
		}
		out = append(out, exchange.Position{
			Symbol:        p.Symbol,
			Side:          side,
			EntryPrice:    entry,
			Quantity:      amt,
			UnrealizedPnL: pnl,
		})
	}
	return out, nil
}

func (a *USDTFuturesAdapter) SetLeverage(ctx context.Context, symbol string, leverage int) (bool, error) {
	if err := a.client.SetLeverage(ctx, exchange.NormalizeSymbol(symbol), leverage); err != nil {
		return false, exchange.NewExchangeError(a.Name(), "set leverage", err)
	}
	return true, nil
}

func toFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}

func mapOrderStatus(s common.OrderStatus) exchange.OrderStatus {
	switch s {
	case common.StatusNew:
		return exchange.StatusOpen
	case common.StatusPartial:
		return exchange.StatusPartiallyFilled
	case common.StatusFilled:
		return exchange.StatusFilled
	case common.StatusCanceled:
		return exchange.StatusCanceled
	default:
		return exchange.StatusFailed
	}
}

func mapOrderStatusString(s string) exchange.OrderStatus {
	switch s {
	case "NEW":
		return exchange.StatusOpen
	case "PARTIALLY_FILLED":
		return exchange.StatusPartiallyFilled
	case "FILLED":
		return exchange.StatusFilled
	case "CANCELED", "EXPIRED":
		return exchange.StatusCanceled
	default:
		return exchange.StatusFailed
	}
}

func mapSubmitError(venue string, err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "-2019") || strings.Contains(msg, "Margin is insufficient"):
		return exchange.NewInsufficientFundsError(venue, "insufficient margin", err)
	case strings.Contains(msg, "-1121") || strings.Contains(msg, "Invalid symbol"):
		return exchange.NewInvalidOrderError(venue, "invalid symbol", err)
	case strings.Contains(msg, "-1013") || strings.Contains(msg, "LOT_SIZE") || strings.Contains(msg, "MIN_NOTIONAL"):
		return exchange.NewInvalidOrderError(venue, "order filter violation", err)
	case strings.Contains(msg, "429") || strings.Contains(msg, "-1003") || strings.Contains(msg, "Too many requests"):
		return exchange.NewRateLimitError(venue, "rate limited", err)
	case strings.Contains(msg, "401") || strings.Contains(msg, "-2014") || strings.Contains(msg, "Signature"):
		return exchange.NewAuthenticationError(venue, "authentication failed", err)
	default:
		return exchange.NewExchangeError(venue, "submit order failed", err)
	}
}
