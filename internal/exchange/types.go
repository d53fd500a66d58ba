// Package exchange defines the venue-agnostic capability set the Signal
// Pipeline drives orders through, and an adapter registry that pools
// connected instances per user.
package exchange

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Side of an order.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// OrderType enumerates the order types the pipeline ever submits.
type OrderType string

const (
	OrderTypeMarket     OrderType = "market"
	OrderTypeLimit      OrderType = "limit"
	OrderTypeStopMarket OrderType = "stop_market"
	OrderTypeStopLimit  OrderType = "stop_limit"
)

// OrderStatus is the adapter's normalized view of an order's lifecycle.
type OrderStatus string

const (
	StatusPending         OrderStatus = "pending"
	StatusOpen            OrderStatus = "open"
	StatusFilled          OrderStatus = "filled"
	StatusPartiallyFilled OrderStatus = "partially_filled"
	StatusCanceled        OrderStatus = "canceled"
	StatusFailed          OrderStatus = "failed"
)

// OrderRequest is a venue-agnostic order intent. All monetary fields are
// decimal; the adapter converts to whatever wire format its venue expects
// at its own boundary.
type OrderRequest struct {
	Symbol       string
	Side         Side
	Type         OrderType
	Quantity     decimal.Decimal
	Price        decimal.Decimal // required for limit/stop_limit
	StopPrice    decimal.Decimal // required for stop_market/stop_limit
	ReduceOnly   bool
	Leverage     int
	ClientID     string
	PositionSide string
}

// OrderResult is the venue's ack/terminal state for a submitted order.
type OrderResult struct {
	OrderID      string
	Status       OrderStatus
	FilledQty    decimal.Decimal
	AvgFillPrice decimal.Decimal
	ClientID     string
}

// Position is an open position on the venue.
type Position struct {
	Symbol        string
	Side          string // long or short
	EntryPrice    decimal.Decimal
	Quantity      decimal.Decimal
	UnrealizedPnL decimal.Decimal
}

// Balance is a single-asset balance.
type Balance struct {
	Asset     string
	Total     decimal.Decimal
	Available decimal.Decimal
	Locked    decimal.Decimal
}

// Ticker is the latest price view for a symbol.
type Ticker struct {
	Symbol    string
	LastPrice decimal.Decimal
	Timestamp time.Time
}

// Adapter is the capability set every venue implementation must satisfy.
// All methods take a context carrying the caller's deadline; every call
// is a suspension point per the concurrency model.
type Adapter interface {
	Name() string
	SupportsFutures() bool

	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	ValidateCredentials(ctx context.Context) (bool, error)

	GetTicker(ctx context.Context, symbol string) (Ticker, error)
	GetBalance(ctx context.Context, asset string) ([]Balance, error)

	PlaceOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
	CancelOrder(ctx context.Context, orderID, symbol string) (bool, error)
	GetOrder(ctx context.Context, orderID, symbol string) (OrderResult, error)
	GetOpenOrders(ctx context.Context, symbol string) ([]OrderResult, error)
	GetPositions(ctx context.Context, symbol string) ([]Position, error)

	SetLeverage(ctx context.Context, symbol string, leverage int) (bool, error)
}

// NormalizeSymbol upper-cases and strips the common pair separators, the
// shared normalization every adapter applies before talking to its venue.
func NormalizeSymbol(symbol string) string {
	out := make([]byte, 0, len(symbol))
	for i := 0; i < len(symbol); i++ {
		c := symbol[i]
		if c == '/' || c == '-' {
			continue
		}
		if c >= 'a' && c <= 'z' {
			c -= 'a' - 'A'
		}
		out = append(out, c)
	}
	return string(out)
}
