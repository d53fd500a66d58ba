// Package worker runs the §4.F worker pool: N goroutines independently
// dequeuing signals, loading the caller's exchange adapter and risk
// context, executing the trade, and reporting the outcome back to the
// queue and notification sink. Grounded in the original service's
// app/workers/signal_processor.py SignalProcessor (dequeue → load
// context → execute → complete/fail shape) translated from asyncio
// tasks to goroutines, and in the teacher's internal/order/async_executor.go
// for the Go worker-pool/retry idiom (generalized: retry ownership moves
// to PriorityQueue.Fail, so the pool itself never sleeps-and-retries).
package worker

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"signalpipeline/internal/exchange"
	"signalpipeline/internal/executor"
	"signalpipeline/internal/logging"
	"signalpipeline/internal/monitor"
	"signalpipeline/internal/notify"
	"signalpipeline/internal/queue"
	"signalpipeline/internal/risk"
	"signalpipeline/internal/store"
)

// KeyStore is the capability the Pool needs to resolve a user's exchange
// credentials. Declared here, alongside its consumer, per the spec's
// cross-component abstraction rule; store.SQLiteKeyStore is the
// reference implementation.
type KeyStore interface {
	Credentials(ctx context.Context, userID, exchange string) (store.Credentials, error)
	MarkInvalid(ctx context.Context, keyID string) error
}

// StrategyStore is the capability the Pool needs to load a strategy's
// venue, risk overrides, and trading-day stats, and to report signal
// outcomes back to the audit trail Ingress started.
type StrategyStore interface {
	Get(ctx context.Context, id string) (store.Strategy, error)
	RiskSettings(ctx context.Context, strategyID string) (risk.Settings, error)
	PortfolioStats(ctx context.Context, userID string) (store.PortfolioStats, error)
	RecordFill(ctx context.Context, userID string, realizedPnL, accountBalanceUSD float64) error
	UpdateSignalStatus(ctx context.Context, id, status, result string) error
}

// Config tunes the pool's timeouts.
type Config struct {
	DequeueTimeout   time.Duration // default 5s, per §5
	ExecutionTimeout time.Duration // default 5s ceiling, per §5 (MAX_EXECUTION_TIME_MS)
	RecoverMaxAge    time.Duration // orphan-recovery threshold for PriorityQueue.RecoverProcessing
}

// DefaultConfig mirrors the spec's recommended ceilings.
func DefaultConfig() Config {
	return Config{
		DequeueTimeout:   5 * time.Second,
		ExecutionTimeout: 5 * time.Second,
		RecoverMaxAge:    300 * time.Second,
	}
}

// Pool runs N worker goroutines against a shared PriorityQueue.
type Pool struct {
	Queue      *queue.PriorityQueue
	Registry   *exchange.Registry
	Keys       KeyStore
	Strategies StrategyStore
	Sink       notify.Sink
	Metrics    *monitor.SystemMetrics // optional; nil is a valid no-op
	Log        *logging.Logger
	Config     Config

	wg sync.WaitGroup
}

// New wires a worker pool from its collaborators.
func New(q *queue.PriorityQueue, registry *exchange.Registry, keys KeyStore, strategies StrategyStore, sink notify.Sink, cfg Config) *Pool {
	return &Pool{
		Queue:      q,
		Registry:   registry,
		Keys:       keys,
		Strategies: strategies,
		Sink:       sink,
		Log:        logging.New("worker"),
		Config:     cfg,
	}
}

// Start spawns n worker goroutines plus one orphan-recovery ticker, all
// bound to ctx. It returns immediately; call Wait to block until every
// goroutine has exited after ctx is canceled.
func (p *Pool) Start(ctx context.Context, n int) {
	if n <= 0 {
		n = 1
	}
	for i := 0; i < n; i++ {
		p.wg.Add(1)
		go p.loop(ctx, i)
	}

	p.wg.Add(1)
	go p.recoveryLoop(ctx)
}

// Wait blocks until every worker and the recovery loop have exited.
func (p *Pool) Wait() {
	p.wg.Wait()
}

func (p *Pool) loop(ctx context.Context, workerID int) {
	defer p.wg.Done()
	p.Log.Info("worker started", logging.Fields{"worker_id": workerID})

	for {
		select {
		case <-ctx.Done():
			p.Log.Info("worker stopped", logging.Fields{"worker_id": workerID})
			return
		default:
		}

		signal, err := p.Queue.Dequeue(ctx, p.Config.DequeueTimeout)
		if err != nil {
			if ctx.Err() != nil {
				continue // shutting down, loop will exit on next select
			}
			p.Log.Error("dequeue failed", logging.Fields{"worker_id": workerID, "error": err.Error()})
			continue
		}
		if signal == nil {
			continue // timed out with nothing queued
		}

		p.process(ctx, signal, workerID)
	}
}

func (p *Pool) recoveryLoop(ctx context.Context) {
	defer p.wg.Done()
	interval := p.Config.RecoverMaxAge / 2
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	p.runRecovery(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.runRecovery(ctx)
		}
	}
}

// runRecovery reclaims orphaned processing-set entries. Called once at
// startup (crash recovery from a prior run) and then on every tick.
func (p *Pool) runRecovery(ctx context.Context) {
	n, err := p.Queue.RecoverProcessing(ctx, p.Config.RecoverMaxAge)
	if err != nil {
		p.Log.Error("orphan recovery failed", logging.Fields{"error": err.Error()})
		return
	}
	if n > 0 {
		p.Log.Warn("recovered orphaned signals", logging.Fields{"count": n})
	}
}

func (p *Pool) process(ctx context.Context, signal *queue.Signal, workerID int) {
	log := p.Log
	fields := logging.Fields{"signal_id": signal.SignalID, "user_id": signal.UserID, "worker_id": workerID}
	log.Info("processing signal", fields)

	strategy, err := p.Strategies.Get(ctx, signal.StrategyID)
	if err != nil {
		p.fail(ctx, signal, "load strategy: "+err.Error(), false)
		return
	}

	creds, err := p.Keys.Credentials(ctx, signal.UserID, strategy.Exchange)
	if err != nil {
		p.fail(ctx, signal, "load credentials: "+err.Error(), false)
		return
	}

	adapter, err := p.Registry.Get(ctx, signal.UserID, strategy.Exchange, creds.APIKey, creds.APISecret, creds.Passphrase)
	if err != nil {
		if exchange.IsAuthentication(err) {
			_ = p.Keys.MarkInvalid(ctx, creds.KeyID)
		}
		p.fail(ctx, signal, "load adapter: "+err.Error(), false)
		return
	}

	riskSettings, err := p.Strategies.RiskSettings(ctx, signal.StrategyID)
	if err != nil {
		p.fail(ctx, signal, "load risk settings: "+err.Error(), true)
		return
	}

	portfolio, err := p.buildPortfolio(ctx, adapter, signal.UserID)
	if err != nil {
		p.fail(ctx, signal, "load portfolio state: "+err.Error(), true)
		return
	}

	execCtx, cancel := context.WithTimeout(ctx, p.Config.ExecutionTimeout)
	exec := executor.New(adapter, risk.NewManager(riskSettings))
	result, err := exec.ExecuteSignal(execCtx, signal, portfolio)
	cancel()

	if err != nil {
		p.Registry.RecordFailure(signal.UserID, strategy.Exchange, creds.APIKey)
		p.fail(ctx, signal, err.Error(), true)
		return
	}
	p.Registry.RecordSuccess(signal.UserID, strategy.Exchange, creds.APIKey)

	switch result.Status {
	case executor.StatusFilled, executor.StatusPartiallyFilled:
		p.complete(ctx, signal, result, portfolio.TotalBalanceUSD)
	case executor.StatusRiskCheckFailed:
		if p.Metrics != nil {
			p.Metrics.IncrementRiskRejected()
		}
		p.fail(ctx, signal, result.Error, false)
	default:
		p.fail(ctx, signal, result.Error, true)
	}
}

func (p *Pool) buildPortfolio(ctx context.Context, adapter exchange.Adapter, userID string) (risk.PortfolioState, error) {
	balances, err := adapter.GetBalance(ctx, "USDT")
	if err != nil {
		return risk.PortfolioState{}, err
	}
	positions, err := adapter.GetPositions(ctx, "")
	if err != nil {
		return risk.PortfolioState{}, err
	}
	stats, err := p.Strategies.PortfolioStats(ctx, userID)
	if err != nil {
		return risk.PortfolioState{}, err
	}

	totalBalance := decimal.Zero
	if len(balances) > 0 {
		totalBalance = balances[0].Total
	}
	openValue := decimal.Zero
	for _, pos := range positions {
		openValue = openValue.Add(pos.Quantity.Mul(pos.EntryPrice))
	}

	dailyPnLPercent := decimal.NewFromFloat(stats.DailyPnLPercent)
	dailyLossPercent := dailyPnLPercent.Neg()
	if dailyLossPercent.IsNegative() {
		dailyLossPercent = decimal.Zero
	}

	return risk.PortfolioState{
		TotalBalanceUSD:       totalBalance,
		OpenPositionsCount:    len(positions),
		OpenPositionsValueUSD: openValue,
		DailyTradesCount:      stats.DailyTradesCount,
		DailyPnLPercent:       dailyPnLPercent,
		DailyLossPercent:      dailyLossPercent,
	}, nil
}

func (p *Pool) complete(ctx context.Context, signal *queue.Signal, result executor.Result, balanceUSD decimal.Decimal) {
	if err := p.Queue.Complete(ctx, signal.SignalID); err != nil {
		p.Log.Error("queue complete failed", logging.Fields{"signal_id": signal.SignalID, "error": err.Error()})
	}
	_ = p.Strategies.UpdateSignalStatus(ctx, signal.SignalID, store.SignalStatusCompleted, result.OrderID)

	bal, _ := balanceUSD.Float64()
	pnl := 0.0
	if result.RealizedPnL != nil {
		pnl, _ = result.RealizedPnL.Float64()
	}
	_ = p.Strategies.RecordFill(ctx, signal.UserID, pnl, bal)

	if p.Metrics != nil {
		p.Metrics.IncrementCompleted()
	}

	p.Sink.Publish(signal.UserID, notify.EventTradeExecuted, result)
	p.Sink.Publish(signal.UserID, notify.EventPositionUpdate, map[string]string{"symbol": signal.Symbol})
	p.Log.Info("signal executed", logging.Fields{"signal_id": signal.SignalID, "status": result.Status, "order_id": result.OrderID})
}

func (p *Pool) fail(ctx context.Context, signal *queue.Signal, reason string, retry bool) {
	requeued, err := p.Queue.Fail(ctx, signal.SignalID, reason, retry)
	if err != nil {
		p.Log.Error("queue fail failed", logging.Fields{"signal_id": signal.SignalID, "error": err.Error()})
	}
	status := store.SignalStatusFailed
	_ = p.Strategies.UpdateSignalStatus(ctx, signal.SignalID, status, reason)

	if !requeued {
		p.Sink.Publish(signal.UserID, notify.EventOrderUpdate, map[string]string{"signal_id": signal.SignalID, "error": reason})
		p.Sink.Publish(notify.SystemUserID, notify.EventOrderUpdate, map[string]string{"signal_id": signal.SignalID, "user_id": signal.UserID, "error": reason})
		if p.Metrics != nil {
			p.Metrics.IncrementDeadLettered()
		}
	}
	p.Log.Warn("signal failed", logging.Fields{"signal_id": signal.SignalID, "reason": reason, "retry": retry})
}
