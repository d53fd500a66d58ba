package worker

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"signalpipeline/internal/exchange"
	"signalpipeline/internal/exchange/dryrun"
	"signalpipeline/internal/ingress"
	"signalpipeline/internal/notify"
	"signalpipeline/internal/store"
	"signalpipeline/pkg/crypto"
)

// TestEndToEnd_WebhookToFill drives a signal through every live
// collaborator a webhook actually touches: Ingress validates and
// enqueues it, the Worker pool dequeues, risk-checks, and fills it
// against the dry-run adapter, and the strategy store's audit trail
// and portfolio stats reflect the fill — without any of the
// package-local fakes the narrower unit tests use.
func TestEndToEnd_WebhookToFill(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	t.Setenv("MASTER_ENCRYPTION_KEY", key)
	km, err := crypto.NewKeyManager()
	if err != nil {
		t.Fatalf("new key manager: %v", err)
	}

	st, err := store.Open(":memory:", km)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	const webhookSecret = "T0123456789abcdef"
	if _, err := st.DB.Exec(`
		INSERT INTO strategies (id, name, webhook_token, exchange, is_active)
		VALUES ('strat-1', 'e2e', ?, 'binance_usdt_futures', 1)
	`, webhookSecret); err != nil {
		t.Fatalf("seed strategy: %v", err)
	}
	if _, err := st.DB.Exec(`
		INSERT INTO subscriptions (id, strategy_id, user_id, auto_trade, is_active)
		VALUES ('u1-sub', 'strat-1', 'u1', 1, 1)
	`); err != nil {
		t.Fatalf("seed subscription: %v", err)
	}
	if _, err := st.Keys.StoreCredentials(context.Background(), "u1", "binance_usdt_futures", "ak", "as", ""); err != nil {
		t.Fatalf("store credentials: %v", err)
	}

	adapter := dryrun.New(dec("10000"), dryrun.Config{FeeRate: decimal.Zero, SlippageBps: decimal.Zero})
	adapter.SetTicker("ETHUSDT", dec("2000"))

	registry := exchange.NewRegistry(exchange.DefaultRegistryConfig())
	registry.RegisterFactory("binance_usdt_futures", func(ctx context.Context, apiKey, apiSecret, passphrase string) (exchange.Adapter, error) {
		return adapter, nil
	})

	q := newTestQueue(t)
	ing := ingress.New(st.Strategy, q)
	bus := notify.NewBus()
	events, unsub := bus.Subscribe("u1", 8)
	defer unsub()

	poolCfg := DefaultConfig()
	poolCfg.DequeueTimeout = 200 * time.Millisecond
	poolCfg.ExecutionTimeout = time.Second
	pool := New(q, registry, st.Keys, st.Strategy, bus, poolCfg)

	result, err := ing.Ingest(context.Background(), ingress.Request{
		StrategyID: "strat-1",
		Secret:     webhookSecret,
		Symbol:     "ETH/USDT",
		Action:     "long_entry",
		Price:      "2000",
		StopLoss:   "1960",
		Leverage:   1,
	}, "127.0.0.1")
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if result.Queued != 1 || result.Skipped {
		t.Fatalf("expected exactly 1 queued auto-trade subscriber, got %+v", result)
	}

	runCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	pool.Start(runCtx, 1)

	select {
	case msg := <-events:
		if msg.EventType != notify.EventTradeExecuted {
			t.Fatalf("expected trade_executed, got %s", msg.EventType)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for the fill notification")
	}

	stats, err := st.Strategy.PortfolioStats(context.Background(), "u1")
	if err != nil {
		t.Fatalf("PortfolioStats: %v", err)
	}
	if stats.DailyTradesCount != 1 {
		t.Fatalf("expected the fill to be recorded in daily stats, got %+v", stats)
	}
}
