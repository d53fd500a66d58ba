// Package executor orchestrates trade execution: risk checks, order
// placement, and stop-loss/take-profit follow-up.
package executor

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"signalpipeline/internal/exchange"
	"signalpipeline/internal/queue"
	"signalpipeline/internal/risk"
)

// Status is the outcome of ExecuteSignal, independent of the venue's
// own order-status vocabulary.
type Status string

const (
	StatusPending         Status = "pending"
	StatusRiskCheckFailed Status = "risk_check_failed"
	StatusExecuting       Status = "executing"
	StatusFilled          Status = "filled"
	StatusPartiallyFilled Status = "partially_filled"
	StatusFailed          Status = "failed"
	StatusCanceled        Status = "canceled"
)

// Result is what ExecuteSignal reports back to the Worker.
type Result struct {
	SignalID       string
	Status         Status
	OrderID        string
	FilledQuantity decimal.Decimal
	AvgPrice       decimal.Decimal
	RiskCheck      *risk.CheckResult
	RealizedPnL    *decimal.Decimal
	Error          string
	Warnings       []string
	ExecutedAt     time.Time
}

// TradeExecutor orchestrates one signal's worth of risk checks, order
// submission, and SL/TP placement against a single venue adapter.
// Grounded on the teacher's internal/order/executor.go for the
// "build request, submit, log, report" shape.
type TradeExecutor struct {
	Adapter exchange.Adapter
	Risk    *risk.Manager
}

// New builds a TradeExecutor for one signal. Both collaborators are
// stateless/pooled, so a fresh TradeExecutor per signal is cheap.
func New(adapter exchange.Adapter, riskMgr *risk.Manager) *TradeExecutor {
	return &TradeExecutor{Adapter: adapter, Risk: riskMgr}
}

// ExecuteSignal dispatches on the "entry"/"exit" and "long"/"short"
// substrings of signal.Action, per the original service's convention
// (action values like "long_entry", "short_exit").
func (e *TradeExecutor) ExecuteSignal(ctx context.Context, signal *queue.Signal, portfolio risk.PortfolioState) (Result, error) {
	isEntry := strings.Contains(signal.Action, "entry")
	isLong := strings.Contains(signal.Action, "long")

	log.Printf("executor: executing signal_id=%s action=%s symbol=%s", signal.SignalID, signal.Action, signal.Symbol)

	if isEntry {
		return e.executeEntry(ctx, signal, portfolio, isLong)
	}
	return e.executeExit(ctx, signal, isLong)
}

func (e *TradeExecutor) executeEntry(ctx context.Context, signal *queue.Signal, portfolio risk.PortfolioState, isLong bool) (Result, error) {
	entryPrice := signal.Price
	if entryPrice.IsZero() {
		ticker, err := e.Adapter.GetTicker(ctx, signal.Symbol)
		if err != nil {
			return Result{SignalID: signal.SignalID, Status: StatusFailed, Error: fmt.Sprintf("fetch ticker: %v", err)}, nil
		}
		entryPrice = ticker.LastPrice
	}

	hasExplicitStop := !signal.StopLoss.IsZero()

	quantity := signal.Quantity
	switch {
	case !quantity.IsZero():
		// signal supplied its own size; nothing to derive
	case hasExplicitStop:
		quantity = e.Risk.CalculatePositionSize(portfolio.TotalBalanceUSD, entryPrice, signal.StopLoss, nil)
	default:
		stopDistance := entryPrice.Mul(decimal.NewFromFloat(0.02))
		var hypotheticalStop decimal.Decimal
		if isLong {
			hypotheticalStop = entryPrice.Sub(stopDistance)
		} else {
			hypotheticalStop = entryPrice.Add(stopDistance)
		}
		quantity = e.Risk.CalculatePositionSize(portfolio.TotalBalanceUSD, entryPrice, hypotheticalStop, nil)
	}

	if quantity.IsZero() {
		log.Printf("executor: zero position size rejected signal_id=%s", signal.SignalID)
		return Result{
			SignalID: signal.SignalID,
			Status:   StatusRiskCheckFailed,
			Error:    "calculated position size is zero",
		}, nil
	}

	side := "long"
	if !isLong {
		side = "short"
	}

	var stopLossPtr, takeProfitPtr *decimal.Decimal
	if hasExplicitStop {
		stopLossPtr = &signal.StopLoss
	}
	if !signal.TakeProfit.IsZero() {
		takeProfitPtr = &signal.TakeProfit
	}

	tradeReq := risk.TradeRequest{
		UserID:     signal.UserID,
		Symbol:     signal.Symbol,
		Side:       side,
		Quantity:   quantity,
		EntryPrice: entryPrice,
		StopLoss:   stopLossPtr,
		TakeProfit: takeProfitPtr,
		Leverage:   signal.Leverage,
	}

	riskResult := e.Risk.CheckTrade(tradeReq, portfolio)
	if !riskResult.Passed {
		log.Printf("executor: risk check failed signal_id=%s reason=%s", signal.SignalID, riskResult.Reason)
		return Result{
			SignalID:  signal.SignalID,
			Status:    StatusRiskCheckFailed,
			RiskCheck: &riskResult,
			Error:     riskResult.Reason,
		}, nil
	}

	if riskResult.AdjustedQuantity != nil {
		quantity = *riskResult.AdjustedQuantity
		log.Printf("executor: using adjusted quantity signal_id=%s qty=%s", signal.SignalID, quantity)
	}

	orderSide := exchange.SideBuy
	if !isLong {
		orderSide = exchange.SideSell
	}

	orderResult, err := e.Adapter.PlaceOrder(ctx, exchange.OrderRequest{
		Symbol:   signal.Symbol,
		Side:     orderSide,
		Type:     exchange.OrderTypeMarket,
		Quantity: quantity,
		Leverage: signal.Leverage,
		ClientID: signal.SignalID,
	})
	if err != nil {
		if exchange.IsInsufficientFunds(err) {
			log.Printf("executor: insufficient funds signal_id=%s: %v", signal.SignalID, err)
		} else {
			log.Printf("executor: exchange error signal_id=%s: %v", signal.SignalID, err)
		}
		return Result{
			SignalID:  signal.SignalID,
			Status:    StatusFailed,
			RiskCheck: &riskResult,
			Error:     err.Error(),
		}, nil
	}

	if orderResult.Status == exchange.StatusFilled {
		if hasExplicitStop {
			e.placeStopLoss(ctx, signal, orderResult.FilledQty, isLong)
		}
		if takeProfitPtr != nil {
			e.placeTakeProfit(ctx, signal, orderResult.FilledQty, isLong)
		}
	}

	status := mapOrderStatus(orderResult.Status)
	now := time.Now().UTC()

	log.Printf("executor: entry executed signal_id=%s status=%s order_id=%s filled=%s",
		signal.SignalID, status, orderResult.OrderID, orderResult.FilledQty)

	return Result{
		SignalID:       signal.SignalID,
		Status:         status,
		OrderID:        orderResult.OrderID,
		FilledQuantity: orderResult.FilledQty,
		AvgPrice:       orderResult.AvgFillPrice,
		RiskCheck:      &riskResult,
		Warnings:       riskResult.Warnings,
		ExecutedAt:     now,
	}, nil
}

func (e *TradeExecutor) executeExit(ctx context.Context, signal *queue.Signal, isLong bool) (Result, error) {
	positions, err := e.Adapter.GetPositions(ctx, signal.Symbol)
	if err != nil {
		return Result{SignalID: signal.SignalID, Status: StatusFailed, Error: fmt.Sprintf("fetch positions: %v", err)}, nil
	}

	targetSide := "long"
	if !isLong {
		targetSide = "short"
	}

	var position *exchange.Position
	for i := range positions {
		if positions[i].Side == targetSide {
			position = &positions[i]
			break
		}
	}

	if position == nil {
		log.Printf("executor: no %s position found for %s signal_id=%s", targetSide, signal.Symbol, signal.SignalID)
		return Result{
			SignalID: signal.SignalID,
			Status:   StatusFailed,
			Error:    fmt.Sprintf("No %s position for %s", targetSide, signal.Symbol),
		}, nil
	}

	quantity := position.Quantity
	if !signal.Quantity.IsZero() {
		quantity = signal.Quantity
	}

	orderSide := exchange.SideSell
	if !isLong {
		orderSide = exchange.SideBuy
	}

	log.Printf("executor: closing %s position signal_id=%s qty=%s entry=%s", targetSide, signal.SignalID, quantity, position.EntryPrice)

	orderResult, err := e.Adapter.PlaceOrder(ctx, exchange.OrderRequest{
		Symbol:     signal.Symbol,
		Side:       orderSide,
		Type:       exchange.OrderTypeMarket,
		Quantity:   quantity,
		ReduceOnly: true,
		ClientID:   signal.SignalID,
	})
	if err != nil {
		log.Printf("executor: exit order failed signal_id=%s: %v", signal.SignalID, err)
		return Result{SignalID: signal.SignalID, Status: StatusFailed, Error: err.Error()}, nil
	}

	status := mapOrderStatus(orderResult.Status)

	var realizedPnL *decimal.Decimal
	if !orderResult.AvgFillPrice.IsZero() && !position.EntryPrice.IsZero() {
		priceDiff := orderResult.AvgFillPrice.Sub(position.EntryPrice)
		if !isLong {
			priceDiff = priceDiff.Neg()
		}
		pnl := priceDiff.Mul(orderResult.FilledQty)
		realizedPnL = &pnl
	}

	log.Printf("executor: exit executed signal_id=%s status=%s order_id=%s filled=%s", signal.SignalID, status, orderResult.OrderID, orderResult.FilledQty)

	return Result{
		SignalID:       signal.SignalID,
		Status:         status,
		OrderID:        orderResult.OrderID,
		FilledQuantity: orderResult.FilledQty,
		AvgPrice:       orderResult.AvgFillPrice,
		RealizedPnL:    realizedPnL,
		ExecutedAt:     time.Now().UTC(),
	}, nil
}

func (e *TradeExecutor) placeStopLoss(ctx context.Context, signal *queue.Signal, quantity decimal.Decimal, isLong bool) {
	side := exchange.SideSell
	if !isLong {
		side = exchange.SideBuy
	}
	result, err := e.Adapter.PlaceOrder(ctx, exchange.OrderRequest{
		Symbol:     signal.Symbol,
		Side:       side,
		Type:       exchange.OrderTypeStopMarket,
		Quantity:   quantity,
		StopPrice:  signal.StopLoss,
		ReduceOnly: true,
		ClientID:   signal.SignalID + ":sl",
	})
	if err != nil {
		log.Printf("executor: failed to place stop loss signal_id=%s: %v", signal.SignalID, err)
		return
	}
	log.Printf("executor: stop loss placed signal_id=%s order_id=%s stop_price=%s", signal.SignalID, result.OrderID, signal.StopLoss)
}

func (e *TradeExecutor) placeTakeProfit(ctx context.Context, signal *queue.Signal, quantity decimal.Decimal, isLong bool) {
	side := exchange.SideSell
	if !isLong {
		side = exchange.SideBuy
	}
	result, err := e.Adapter.PlaceOrder(ctx, exchange.OrderRequest{
		Symbol:     signal.Symbol,
		Side:       side,
		Type:       exchange.OrderTypeLimit,
		Quantity:   quantity,
		Price:      signal.TakeProfit,
		ReduceOnly: true,
		ClientID:   signal.SignalID + ":tp",
	})
	if err != nil {
		log.Printf("executor: failed to place take profit signal_id=%s: %v", signal.SignalID, err)
		return
	}
	log.Printf("executor: take profit placed signal_id=%s order_id=%s take_profit=%s", signal.SignalID, result.OrderID, signal.TakeProfit)
}

func mapOrderStatus(s exchange.OrderStatus) Status {
	switch s {
	case exchange.StatusPending:
		return StatusPending
	case exchange.StatusOpen:
		return StatusExecuting
	case exchange.StatusFilled:
		return StatusFilled
	case exchange.StatusPartiallyFilled:
		return StatusPartiallyFilled
	case exchange.StatusCanceled:
		return StatusCanceled
	default:
		return StatusFailed
	}
}
