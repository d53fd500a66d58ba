// Package dryrun simulates an exchange.Adapter in-memory so the worker
// pool and demo composition root can run end to end without live venue
// credentials. Adapted from the teacher's internal/order/dry_run.go
// MockExecutor: the same cash-accounting/position-averaging model,
// generalized from float64 to decimal.Decimal and from the teacher's
// single-symbol Order type to exchange.OrderRequest.
package dryrun

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"signalpipeline/internal/exchange"
)

// Config tunes the simulated venue's fee and slippage behavior.
type Config struct {
	FeeRate     decimal.Decimal // e.g. 0.0004 = 4 bps
	SlippageBps decimal.Decimal // basis points of adverse slippage applied on fill
}

// DefaultConfig mirrors the teacher's dry-run defaults (4bps fee, 2bps slippage).
func DefaultConfig() Config {
	return Config{
		FeeRate:     decimal.NewFromFloat(0.0004),
		SlippageBps: decimal.NewFromFloat(2),
	}
}

type position struct {
	side       string
	quantity   decimal.Decimal
	entryPrice decimal.Decimal
}

// Adapter is an in-memory simulated exchange.Adapter. Not safe for use as
// a shared singleton across unrelated test cases — one instance per
// simulated account.
type Adapter struct {
	mu         sync.RWMutex
	cfg        Config
	rng        *rand.Rand
	balanceUSD decimal.Decimal
	positions  map[string]*position
	orders     map[string]exchange.OrderResult
	tickers    map[string]decimal.Decimal
}

// New creates a simulated adapter seeded with an initial USD balance.
func New(initialBalanceUSD decimal.Decimal, cfg Config) *Adapter {
	return &Adapter{
		cfg:        cfg,
		rng:        rand.New(rand.NewSource(1)),
		balanceUSD: initialBalanceUSD,
		positions:  make(map[string]*position),
		orders:     make(map[string]exchange.OrderResult),
		tickers:    make(map[string]decimal.Decimal),
	}
}

func (a *Adapter) Name() string          { return "dryrun" }
func (a *Adapter) SupportsFutures() bool { return true }

func (a *Adapter) Connect(ctx context.Context) error    { return nil }
func (a *Adapter) Disconnect(ctx context.Context) error { return nil }

func (a *Adapter) ValidateCredentials(ctx context.Context) (bool, error) { return true, nil }

// SetTicker seeds the simulated last-traded price for a symbol, used by
// callers (demo seeding, tests) that need GetTicker to return something
// other than zero before the first fill.
func (a *Adapter) SetTicker(symbol string, price decimal.Decimal) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.tickers[exchange.NormalizeSymbol(symbol)] = price
}

func (a *Adapter) GetTicker(ctx context.Context, symbol string) (exchange.Ticker, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	price := a.tickers[exchange.NormalizeSymbol(symbol)]
	return exchange.Ticker{Symbol: symbol, LastPrice: price, Timestamp: time.Now()}, nil
}

func (a *Adapter) GetBalance(ctx context.Context, asset string) ([]exchange.Balance, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return []exchange.Balance{{
		Asset:     asset,
		Total:     a.balanceUSD,
		Available: a.balanceUSD,
		Locked:    decimal.Zero,
	}}, nil
}

// PlaceOrder simulates a fill with configured fee and slippage, mirroring
// the teacher's MockExecutor.Execute cash-accounting model generalized to
// decimals and to reduce-only position closes.
func (a *Adapter) PlaceOrder(ctx context.Context, req exchange.OrderRequest) (exchange.OrderResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	symbol := exchange.NormalizeSymbol(req.Symbol)
	price := req.Price
	if price.IsZero() {
		price = a.tickers[symbol]
	}
	if price.IsZero() {
		return exchange.OrderResult{}, exchange.NewInvalidOrderError("dryrun", "no price available to simulate fill", nil)
	}

	price = a.applySlippage(price, req.Side)
	orderValue := req.Quantity.Mul(price)

	if req.Side == exchange.SideBuy && !req.ReduceOnly && orderValue.GreaterThan(a.balanceUSD) {
		return exchange.OrderResult{}, exchange.NewInsufficientFundsError("dryrun",
			fmt.Sprintf("need %s, have %s", orderValue, a.balanceUSD), nil)
	}

	fee := orderValue.Mul(a.cfg.FeeRate).Abs()
	side := "long"
	if req.Side == exchange.SideSell {
		side = "short"
	}
	a.applyFill(symbol, side, req.Quantity, price)
	if req.Side == exchange.SideBuy {
		a.balanceUSD = a.balanceUSD.Sub(orderValue).Sub(fee)
	} else {
		a.balanceUSD = a.balanceUSD.Add(orderValue).Sub(fee)
	}

	result := exchange.OrderResult{
		OrderID:      uuid.NewString(),
		Status:       exchange.StatusFilled,
		FilledQty:    req.Quantity,
		AvgFillPrice: price,
		ClientID:     req.ClientID,
	}
	a.orders[result.OrderID] = result
	a.tickers[symbol] = price
	return result, nil
}

func (a *Adapter) applySlippage(price decimal.Decimal, side exchange.Side) decimal.Decimal {
	if a.cfg.SlippageBps.IsZero() {
		return price
	}
	noise := decimal.NewFromFloat(a.rng.Float64()).Mul(a.cfg.SlippageBps).Div(decimal.NewFromInt(10000))
	if side == exchange.SideBuy {
		return price.Mul(decimal.NewFromInt(1).Add(noise))
	}
	return price.Mul(decimal.NewFromInt(1).Sub(noise))
}

// applyFill updates the simulated position book the same way the
// teacher's MockExecutor.updatePosition does: same-side fills average the
// entry price, opposite-side fills reduce quantity. A reducing fill that
// reaches or passes zero closes the position; any excess quantity does
// not open a position on the other side.
func (a *Adapter) applyFill(symbol, side string, qty, price decimal.Decimal) {
	pos, exists := a.positions[symbol]
	if !exists {
		a.positions[symbol] = &position{side: side, quantity: qty, entryPrice: price}
		return
	}

	if pos.side == side {
		totalValue := pos.quantity.Mul(pos.entryPrice).Add(qty.Mul(price))
		pos.quantity = pos.quantity.Add(qty)
		if !pos.quantity.IsZero() {
			pos.entryPrice = totalValue.Div(pos.quantity)
		}
		return
	}

	pos.quantity = pos.quantity.Sub(qty)
	if pos.quantity.LessThanOrEqual(decimal.Zero) {
		delete(a.positions, symbol)
	}
}

func (a *Adapter) CancelOrder(ctx context.Context, orderID, symbol string) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.orders[orderID]; !ok {
		return false, nil
	}
	delete(a.orders, orderID)
	return true, nil
}

func (a *Adapter) GetOrder(ctx context.Context, orderID, symbol string) (exchange.OrderResult, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	res, ok := a.orders[orderID]
	if !ok {
		return exchange.OrderResult{}, exchange.NewInvalidOrderError("dryrun", "unknown order id", nil)
	}
	return res, nil
}

func (a *Adapter) GetOpenOrders(ctx context.Context, symbol string) ([]exchange.OrderResult, error) {
	return nil, nil // every simulated order fills immediately
}

func (a *Adapter) GetPositions(ctx context.Context, symbol string) ([]exchange.Position, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	var out []exchange.Position
	for sym, pos := range a.positions {
		if symbol != "" && exchange.NormalizeSymbol(symbol) != sym {
			continue
		}
		if pos.quantity.IsZero() {
			continue
		}
		lastPrice := a.tickers[sym]
		unrealized := lastPrice.Sub(pos.entryPrice).Mul(pos.quantity)
		if pos.side == "short" {
			unrealized = unrealized.Neg()
		}
		out = append(out, exchange.Position{
			Symbol:        sym,
			Side:          pos.side,
			EntryPrice:    pos.entryPrice,
			Quantity:      pos.quantity,
			UnrealizedPnL: unrealized,
		})
	}
	return out, nil
}

func (a *Adapter) SetLeverage(ctx context.Context, symbol string, leverage int) (bool, error) {
	return true, nil
}
