package executor

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"

	"signalpipeline/internal/exchange"
	"signalpipeline/internal/queue"
	"signalpipeline/internal/risk"
)

// fakeAdapter is a minimal in-memory exchange.Adapter stand-in for
// exercising TradeExecutor without a real venue connection.
type fakeAdapter struct {
	ticker       exchange.Ticker
	positions    []exchange.Position
	placeErr     error
	ordersPlaced []exchange.OrderRequest
	fillStatus   exchange.OrderStatus
	fillPrice    decimal.Decimal
}

func (f *fakeAdapter) Name() string                                      { return "fake" }
func (f *fakeAdapter) SupportsFutures() bool                             { return true }
func (f *fakeAdapter) Connect(ctx context.Context) error                 { return nil }
func (f *fakeAdapter) Disconnect(ctx context.Context) error              { return nil }
func (f *fakeAdapter) ValidateCredentials(ctx context.Context) (bool, error) { return true, nil }

func (f *fakeAdapter) GetTicker(ctx context.Context, symbol string) (exchange.Ticker, error) {
	return f.ticker, nil
}

func (f *fakeAdapter) GetBalance(ctx context.Context, asset string) ([]exchange.Balance, error) {
	return nil, nil
}

func (f *fakeAdapter) PlaceOrder(ctx context.Context, req exchange.OrderRequest) (exchange.OrderResult, error) {
	f.ordersPlaced = append(f.ordersPlaced, req)
	if f.placeErr != nil {
		return exchange.OrderResult{}, f.placeErr
	}
	status := f.fillStatus
	if status == "" {
		status = exchange.StatusFilled
	}
	return exchange.OrderResult{
		OrderID:      "ord-1",
		Status:       status,
		FilledQty:    req.Quantity,
		AvgFillPrice: f.fillPrice,
	}, nil
}

func (f *fakeAdapter) CancelOrder(ctx context.Context, orderID, symbol string) (bool, error) {
	return true, nil
}

func (f *fakeAdapter) GetOrder(ctx context.Context, orderID, symbol string) (exchange.OrderResult, error) {
	return exchange.OrderResult{}, nil
}

func (f *fakeAdapter) GetOpenOrders(ctx context.Context, symbol string) ([]exchange.OrderResult, error) {
	return nil, nil
}

func (f *fakeAdapter) GetPositions(ctx context.Context, symbol string) ([]exchange.Position, error) {
	return f.positions, nil
}

func (f *fakeAdapter) SetLeverage(ctx context.Context, symbol string, leverage int) (bool, error) {
	return true, nil
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestExecuteSignal_EntryHappyPath(t *testing.T) {
	adapter := &fakeAdapter{
		fillStatus: exchange.StatusFilled,
		fillPrice:  dec("2000"),
	}
	exec := New(adapter, risk.NewManager(risk.DefaultSettings()))

	signal := &queue.Signal{
		SignalID:   "sig-1",
		UserID:     "u1",
		StrategyID: "strat-1",
		Symbol:     "ETHUSDT",
		Action:     "long_entry",
		Price:      dec("2000"),
		StopLoss:   dec("1960"),
		TakeProfit: dec("2080"),
		Leverage:   3,
	}
	portfolio := risk.PortfolioState{
		TotalBalanceUSD:       dec("10000"),
		OpenPositionsCount:    0,
		OpenPositionsValueUSD: decimal.Zero,
	}

	result, err := exec.ExecuteSignal(context.Background(), signal, portfolio)
	if err != nil {
		t.Fatalf("ExecuteSignal: %v", err)
	}
	if result.Status != StatusFilled {
		t.Fatalf("expected filled, got %s (error=%s)", result.Status, result.Error)
	}
	// risk_amount = 10000*2% = 200; stop_distance = 40; qty = 5, capped at 1000/2000 = 0.5
	if len(adapter.ordersPlaced) != 3 {
		t.Fatalf("expected entry + stop-loss + take-profit orders, got %d", len(adapter.ordersPlaced))
	}
	entryOrder := adapter.ordersPlaced[0]
	if !entryOrder.Quantity.Equal(dec("0.5")) {
		t.Fatalf("expected entry quantity 0.5, got %s", entryOrder.Quantity)
	}
	if entryOrder.Side != exchange.SideBuy {
		t.Fatalf("expected buy side for long entry, got %s", entryOrder.Side)
	}
}

func TestExecuteSignal_RiskCheckFailure(t *testing.T) {
	adapter := &fakeAdapter{fillStatus: exchange.StatusFilled}
	exec := New(adapter, risk.NewManager(risk.DefaultSettings()))

	signal := &queue.Signal{
		SignalID: "sig-2",
		UserID:   "u1",
		Symbol:   "ETHUSDT",
		Action:   "long_entry",
		Price:    dec("2000"),
		Quantity: dec("0.3"), // explicit size under the position cap, no stop loss -> stop-loss-required check fails
		Leverage: 1,
	}
	portfolio := risk.PortfolioState{TotalBalanceUSD: dec("10000")}

	result, err := exec.ExecuteSignal(context.Background(), signal, portfolio)
	if err != nil {
		t.Fatalf("ExecuteSignal: %v", err)
	}
	if result.Status != StatusRiskCheckFailed {
		t.Fatalf("expected risk_check_failed, got %s", result.Status)
	}
	if len(adapter.ordersPlaced) != 0 {
		t.Fatalf("expected no orders placed after risk rejection, got %d", len(adapter.ordersPlaced))
	}
}

func TestExecuteSignal_ExitNoPosition(t *testing.T) {
	adapter := &fakeAdapter{positions: nil}
	exec := New(adapter, risk.NewManager(risk.DefaultSettings()))

	signal := &queue.Signal{
		SignalID: "sig-3",
		UserID:   "u1",
		Symbol:   "ETHUSDT",
		Action:   "long_exit",
	}

	result, err := exec.ExecuteSignal(context.Background(), signal, risk.PortfolioState{})
	if err != nil {
		t.Fatalf("ExecuteSignal: %v", err)
	}
	if result.Status != StatusFailed {
		t.Fatalf("expected failed, got %s", result.Status)
	}
}

func TestExecuteSignal_ExitClosesMatchingPosition(t *testing.T) {
	adapter := &fakeAdapter{
		positions: []exchange.Position{
			{Symbol: "ETHUSDT", Side: "long", EntryPrice: dec("2000"), Quantity: dec("1")},
		},
		fillStatus: exchange.StatusFilled,
		fillPrice:  dec("2100"),
	}
	exec := New(adapter, risk.NewManager(risk.DefaultSettings()))

	signal := &queue.Signal{
		SignalID: "sig-4",
		UserID:   "u1",
		Symbol:   "ETHUSDT",
		Action:   "long_exit",
	}

	result, err := exec.ExecuteSignal(context.Background(), signal, risk.PortfolioState{})
	if err != nil {
		t.Fatalf("ExecuteSignal: %v", err)
	}
	if result.Status != StatusFilled {
		t.Fatalf("expected filled, got %s (error=%s)", result.Status, result.Error)
	}
	if len(adapter.ordersPlaced) != 1 {
		t.Fatalf("expected exactly one close order, got %d", len(adapter.ordersPlaced))
	}
	closeOrder := adapter.ordersPlaced[0]
	if closeOrder.Side != exchange.SideSell || !closeOrder.ReduceOnly {
		t.Fatalf("expected reduce-only sell to close long position, got %+v", closeOrder)
	}
	if result.RealizedPnL == nil {
		t.Fatalf("expected realized pnl to be computed")
	}
	wantPnL := dec("100") // (2100-2000)*1
	if !result.RealizedPnL.Equal(wantPnL) {
		t.Fatalf("expected pnl %s, got %s", wantPnL, result.RealizedPnL)
	}
}

func TestExecuteSignal_InsufficientFunds(t *testing.T) {
	adapter := &fakeAdapter{
		placeErr: exchange.NewInsufficientFundsError("fake", "not enough margin", nil),
	}
	exec := New(adapter, risk.NewManager(risk.DefaultSettings()))

	signal := &queue.Signal{
		SignalID: "sig-5",
		UserID:   "u1",
		Symbol:   "ETHUSDT",
		Action:   "short_entry",
		Price:    dec("2000"),
		StopLoss: dec("2040"),
		Leverage: 1,
	}
	portfolio := risk.PortfolioState{TotalBalanceUSD: dec("10000")}

	result, err := exec.ExecuteSignal(context.Background(), signal, portfolio)
	if err != nil {
		t.Fatalf("ExecuteSignal: %v", err)
	}
	if result.Status != StatusFailed {
		t.Fatalf("expected failed, got %s", result.Status)
	}
}
