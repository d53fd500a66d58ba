package dryrun

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"

	"signalpipeline/internal/exchange"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestPlaceOrder_BuyDebitsBalanceAndOpensPosition(t *testing.T) {
	a := New(dec("10000"), Config{FeeRate: decimal.Zero, SlippageBps: decimal.Zero})

	result, err := a.PlaceOrder(context.Background(), exchange.OrderRequest{
		Symbol:   "ETHUSDT",
		Side:     exchange.SideBuy,
		Type:     exchange.OrderTypeMarket,
		Quantity: dec("1"),
		Price:    dec("2000"),
	})
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if result.Status != exchange.StatusFilled {
		t.Fatalf("expected filled, got %s", result.Status)
	}

	balances, _ := a.GetBalance(context.Background(), "USD")
	if !balances[0].Total.Equal(dec("8000")) {
		t.Fatalf("expected balance 8000 after buying 1 ETH @ 2000, got %s", balances[0].Total)
	}

	positions, err := a.GetPositions(context.Background(), "ETHUSDT")
	if err != nil || len(positions) != 1 {
		t.Fatalf("expected one open position, err=%v positions=%v", err, positions)
	}
	if positions[0].Side != "long" || !positions[0].Quantity.Equal(dec("1")) {
		t.Fatalf("unexpected position: %+v", positions[0])
	}
}

func TestPlaceOrder_InsufficientFunds(t *testing.T) {
	a := New(dec("100"), Config{FeeRate: decimal.Zero, SlippageBps: decimal.Zero})

	_, err := a.PlaceOrder(context.Background(), exchange.OrderRequest{
		Symbol:   "ETHUSDT",
		Side:     exchange.SideBuy,
		Quantity: dec("1"),
		Price:    dec("2000"),
	})
	if !exchange.IsInsufficientFunds(err) {
		t.Fatalf("expected InsufficientFundsError, got %v", err)
	}
}

func TestPlaceOrder_ReduceOnlyClosesPosition(t *testing.T) {
	a := New(dec("10000"), Config{FeeRate: decimal.Zero, SlippageBps: decimal.Zero})
	ctx := context.Background()

	if _, err := a.PlaceOrder(ctx, exchange.OrderRequest{
		Symbol: "ETHUSDT", Side: exchange.SideBuy, Quantity: dec("1"), Price: dec("2000"),
	}); err != nil {
		t.Fatalf("open: %v", err)
	}

	if _, err := a.PlaceOrder(ctx, exchange.OrderRequest{
		Symbol: "ETHUSDT", Side: exchange.SideSell, Quantity: dec("1"), Price: dec("2100"), ReduceOnly: true,
	}); err != nil {
		t.Fatalf("close: %v", err)
	}

	positions, err := a.GetPositions(ctx, "ETHUSDT")
	if err != nil {
		t.Fatalf("GetPositions: %v", err)
	}
	if len(positions) != 0 {
		t.Fatalf("expected position fully closed, got %+v", positions)
	}
}

func TestPlaceOrder_NoPriceAvailableIsInvalidOrder(t *testing.T) {
	a := New(dec("1000"), DefaultConfig())
	_, err := a.PlaceOrder(context.Background(), exchange.OrderRequest{
		Symbol: "ETHUSDT", Side: exchange.SideBuy, Quantity: dec("1"),
	})
	if !exchange.IsInvalidOrder(err) {
		t.Fatalf("expected InvalidOrderError when no price is known, got %v", err)
	}
}
