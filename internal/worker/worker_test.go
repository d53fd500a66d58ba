package worker

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"signalpipeline/internal/exchange"
	"signalpipeline/internal/exchange/dryrun"
	"signalpipeline/internal/notify"
	"signalpipeline/internal/queue"
	"signalpipeline/internal/risk"
	"signalpipeline/internal/store"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func newTestQueue(t *testing.T) *queue.PriorityQueue {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return queue.New(rdb)
}

func newTestRegistry(t *testing.T, adapter *dryrun.Adapter) *exchange.Registry {
	t.Helper()
	reg := exchange.NewRegistry(exchange.DefaultRegistryConfig())
	reg.RegisterFactory("binance_usdt_futures", func(ctx context.Context, apiKey, apiSecret, passphrase string) (exchange.Adapter, error) {
		return adapter, nil
	})
	return reg
}

// fakeKeyStore is a minimal in-memory worker.KeyStore stand-in.
type fakeKeyStore struct {
	creds     store.Credentials
	invalided []string
}

func (f *fakeKeyStore) Credentials(ctx context.Context, userID, exch string) (store.Credentials, error) {
	return f.creds, nil
}

func (f *fakeKeyStore) MarkInvalid(ctx context.Context, keyID string) error {
	f.invalided = append(f.invalided, keyID)
	return nil
}

// fakeStrategyStore is a minimal in-memory worker.StrategyStore stand-in.
type fakeStrategyStore struct {
	strategy      store.Strategy
	settings      risk.Settings
	stats         store.PortfolioStats
	fills         int
	lastStatus    string
	lastResult    string
	updatedSignal string
}

func (f *fakeStrategyStore) Get(ctx context.Context, id string) (store.Strategy, error) {
	return f.strategy, nil
}

func (f *fakeStrategyStore) RiskSettings(ctx context.Context, strategyID string) (risk.Settings, error) {
	return f.settings, nil
}

func (f *fakeStrategyStore) PortfolioStats(ctx context.Context, userID string) (store.PortfolioStats, error) {
	return f.stats, nil
}

func (f *fakeStrategyStore) RecordFill(ctx context.Context, userID string, realizedPnL, accountBalanceUSD float64) error {
	f.fills++
	return nil
}

func (f *fakeStrategyStore) UpdateSignalStatus(ctx context.Context, id, status, result string) error {
	f.updatedSignal = id
	f.lastStatus = status
	f.lastResult = result
	return nil
}

func newTestPool(t *testing.T, q *queue.PriorityQueue, reg *exchange.Registry, keys *fakeKeyStore, strategies *fakeStrategyStore, sink notify.Sink) *Pool {
	t.Helper()
	cfg := DefaultConfig()
	cfg.DequeueTimeout = 200 * time.Millisecond
	cfg.ExecutionTimeout = time.Second
	return New(q, reg, keys, strategies, sink, cfg)
}

func TestPool_ProcessesFillAndCompletesSignal(t *testing.T) {
	adapter := dryrun.New(dec("10000"), dryrun.Config{FeeRate: decimal.Zero, SlippageBps: decimal.Zero})
	adapter.SetTicker("ETHUSDT", dec("2000"))

	q := newTestQueue(t)
	reg := newTestRegistry(t, adapter)
	keys := &fakeKeyStore{creds: store.Credentials{KeyID: "key-1", APIKey: "ak", APISecret: "as"}}
	strategies := &fakeStrategyStore{
		strategy: store.Strategy{ID: "strat-1", Exchange: "binance_usdt_futures", IsActive: true},
		settings: risk.DefaultSettings(),
	}
	sink := notify.NewBus()
	events, unsub := sink.Subscribe("u1", 8)
	defer unsub()

	pool := newTestPool(t, q, reg, keys, strategies, sink)

	ctx := context.Background()
	signal := &queue.Signal{
		SignalID:   "sig-1",
		UserID:     "u1",
		StrategyID: "strat-1",
		Symbol:     "ETHUSDT",
		Action:     "long_entry",
		Price:      dec("2000"),
		StopLoss:   dec("1960"),
		Leverage:   1,
		MaxRetries: 3,
	}
	if ok, err := q.Enqueue(ctx, signal, "", 0); err != nil || !ok {
		t.Fatalf("enqueue: ok=%v err=%v", ok, err)
	}

	runCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	pool.Start(runCtx, 1)

	deadline := time.After(1500 * time.Millisecond)
	for strategies.lastStatus != store.SignalStatusCompleted {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for signal to complete, last status=%q", strategies.lastStatus)
		case <-time.After(20 * time.Millisecond):
		}
	}

	if strategies.updatedSignal != "sig-1" {
		t.Fatalf("expected status update for sig-1, got %q", strategies.updatedSignal)
	}

	select {
	case msg := <-events:
		if msg.EventType != notify.EventTradeExecuted {
			t.Fatalf("expected trade_executed event, got %s", msg.EventType)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected a notification to be published on fill")
	}

	stats, err := q.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Queued != 0 || stats.Processing != 0 {
		t.Fatalf("expected queue drained, got %+v", stats)
	}
}

func TestPool_RiskCheckFailureDoesNotRetry(t *testing.T) {
	adapter := dryrun.New(dec("10000"), dryrun.DefaultConfig())
	adapter.SetTicker("ETHUSDT", dec("2000"))

	q := newTestQueue(t)
	reg := newTestRegistry(t, adapter)
	keys := &fakeKeyStore{creds: store.Credentials{KeyID: "key-1", APIKey: "ak", APISecret: "as"}}
	strategies := &fakeStrategyStore{
		strategy: store.Strategy{ID: "strat-1", Exchange: "binance_usdt_futures", IsActive: true},
		settings: risk.DefaultSettings(),
	}
	sink := notify.NewBus()
	pool := newTestPool(t, q, reg, keys, strategies, sink)

	ctx := context.Background()
	signal := &queue.Signal{
		SignalID:   "sig-2",
		UserID:     "u1",
		StrategyID: "strat-1",
		Symbol:     "ETHUSDT",
		Action:     "long_entry",
		Price:      dec("2000"),
		Quantity:   dec("0.1"), // explicit size, no stop loss -> risk check rejects
		Leverage:   1,
		MaxRetries: 3,
	}
	if ok, err := q.Enqueue(ctx, signal, "", 0); err != nil || !ok {
		t.Fatalf("enqueue: ok=%v err=%v", ok, err)
	}

	runCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	pool.Start(runCtx, 1)

	deadline := time.After(1500 * time.Millisecond)
	for strategies.lastStatus != store.SignalStatusFailed {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for signal to fail, last status=%q", strategies.lastStatus)
		case <-time.After(20 * time.Millisecond):
		}
	}

	stats, err := q.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.DeadLetter != 1 {
		t.Fatalf("expected risk rejection to land in the dead letter list without retry, got %+v", stats)
	}
}

func TestPool_DequeueTimeoutLoopsWithoutError(t *testing.T) {
	q := newTestQueue(t)
	reg := exchange.NewRegistry(exchange.DefaultRegistryConfig())
	keys := &fakeKeyStore{}
	strategies := &fakeStrategyStore{}
	sink := notify.NewBus()
	pool := newTestPool(t, q, reg, keys, strategies, sink)

	runCtx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	pool.Start(runCtx, 2)
	pool.Wait()

	if strategies.updatedSignal != "" {
		t.Fatalf("expected no signal processed on an empty queue, got %q", strategies.updatedSignal)
	}
}
