package store

import (
	"context"
	"crypto/subtle"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"signalpipeline/internal/risk"
)

var (
	// ErrStrategyNotFound mirrors pkg/db's ErrNotFound for the strategy lookup path.
	ErrStrategyNotFound = fmt.Errorf("strategy not found")
)

// SQLiteStrategyStore is the reference StrategyStore backing, grounded in
// the teacher's pkg/db package (schema.go/queries.go), generalized from
// trading-core's strategy-instance/connection tables to this pipeline's
// Strategy/Subscription/SignalRecord model.
type SQLiteStrategyStore struct {
	db *sql.DB
}

// NewSQLiteStrategyStore wraps an already-open *sql.DB (migrations applied by Open).
func NewSQLiteStrategyStore(db *sql.DB) *SQLiteStrategyStore {
	return &SQLiteStrategyStore{db: db}
}

// Get looks up a strategy by id.
func (s *SQLiteStrategyStore) Get(ctx context.Context, id string) (Strategy, error) {
	var st Strategy
	var isActive int
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, webhook_token, exchange, is_active, created_at
		FROM strategies WHERE id = ?
	`, id).Scan(&st.ID, &st.Name, &st.WebhookToken, &st.Exchange, &isActive, &st.CreatedAt)
	if err == sql.ErrNoRows {
		return Strategy{}, ErrStrategyNotFound
	}
	if err != nil {
		return Strategy{}, fmt.Errorf("get strategy: %w", err)
	}
	st.IsActive = isActive != 0
	return st, nil
}

// VerifySecret compares secret against the strategy's webhook token in
// constant time, matching the original's hmac.compare_digest intent.
func (s *SQLiteStrategyStore) VerifySecret(ctx context.Context, id, secret string) (bool, error) {
	st, err := s.Get(ctx, id)
	if err != nil {
		return false, err
	}
	return subtle.ConstantTimeCompare([]byte(st.WebhookToken), []byte(secret)) == 1, nil
}

// Subscribers returns a strategy's active subscriptions, optionally
// restricted to auto-trade-enabled ones.
func (s *SQLiteStrategyStore) Subscribers(ctx context.Context, strategyID string, autoOnly bool) ([]Subscription, error) {
	query := `
		SELECT id, strategy_id, user_id, auto_trade, COALESCE(exchange_key_id, ''), is_active
		FROM subscriptions
		WHERE strategy_id = ? AND is_active = 1
	`
	if autoOnly {
		query += " AND auto_trade = 1"
	}

	rows, err := s.db.QueryContext(ctx, query, strategyID)
	if err != nil {
		return nil, fmt.Errorf("query subscribers: %w", err)
	}
	defer rows.Close()

	var subs []Subscription
	for rows.Next() {
		var sub Subscription
		var autoTrade, isActive int
		if err := rows.Scan(&sub.ID, &sub.StrategyID, &sub.UserID, &autoTrade, &sub.ExchangeKeyID, &isActive); err != nil {
			return nil, fmt.Errorf("scan subscriber: %w", err)
		}
		sub.AutoTrade = autoTrade != 0
		sub.IsActive = isActive != 0
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// RecordSignal persists a per-user signal audit row before it is enqueued
// and returns its id.
func (s *SQLiteStrategyStore) RecordSignal(ctx context.Context, strategyID, userID, symbol, action, status string) (string, error) {
	id := uuid.NewString()
	// An empty userID means "no subscriber" (§4.E step 5) and is stored
	// as NULL rather than an empty-string row.
	var userIDArg any
	if userID != "" {
		userIDArg = userID
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO signal_records (id, strategy_id, user_id, symbol, action, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
	`, id, strategyID, userIDArg, symbol, action, status)
	if err != nil {
		return "", fmt.Errorf("record signal: %w", err)
	}
	return id, nil
}

// UpdateSignalStatus updates a signal record's terminal status and optional
// free-form result (e.g. order id, error message, realized pnl).
func (s *SQLiteStrategyStore) UpdateSignalStatus(ctx context.Context, id, status, result string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE signal_records SET status = ?, result = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, status, result, id)
	if err != nil {
		return fmt.Errorf("update signal status: %w", err)
	}
	return nil
}

// RiskSettings returns the strategy's risk override row if present, else
// risk.DefaultSettings(). Grounded in the teacher's StrategyRiskConfig /
// SetStrategyConfig pattern (internal/risk/manager.go), generalized to
// decimal types and this spec's field set.
func (s *SQLiteStrategyStore) RiskSettings(ctx context.Context, strategyID string) (risk.Settings, error) {
	var (
		maxPositionSizeUSD, maxDailyLossPercent, maxExposurePercent, defaultRiskPercent float64
		maxLeverage, maxOpenPositions, maxDailyTrades                                  int
		requireStopLoss                                                                int
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT max_position_size_usd, max_leverage, max_open_positions, max_daily_trades,
		       max_daily_loss_percent, max_portfolio_exposure_percent,
		       default_risk_per_trade_percent, require_stop_loss
		FROM strategy_risk_settings WHERE strategy_id = ?
	`, strategyID).Scan(&maxPositionSizeUSD, &maxLeverage, &maxOpenPositions, &maxDailyTrades,
		&maxDailyLossPercent, &maxExposurePercent, &defaultRiskPercent, &requireStopLoss)
	if err == sql.ErrNoRows {
		return risk.DefaultSettings(), nil
	}
	if err != nil {
		return risk.Settings{}, fmt.Errorf("get risk settings: %w", err)
	}

	return risk.Settings{
		MaxPositionSizeUSD:          decimal.NewFromFloat(maxPositionSizeUSD),
		MaxLeverage:                 maxLeverage,
		MaxOpenPositions:            maxOpenPositions,
		MaxDailyTrades:              maxDailyTrades,
		MaxDailyLossPercent:         decimal.NewFromFloat(maxDailyLossPercent),
		MaxPortfolioExposurePercent: decimal.NewFromFloat(maxExposurePercent),
		DefaultRiskPerTradePercent:  decimal.NewFromFloat(defaultRiskPercent),
		RequireStopLoss:             requireStopLoss != 0,
	}, nil
}

// SetRiskSettings upserts a per-strategy risk override row.
func (s *SQLiteStrategyStore) SetRiskSettings(ctx context.Context, strategyID string, settings risk.Settings) error {
	requireStopLoss := 0
	if settings.RequireStopLoss {
		requireStopLoss = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO strategy_risk_settings (
			strategy_id, max_position_size_usd, max_leverage, max_open_positions, max_daily_trades,
			max_daily_loss_percent, max_portfolio_exposure_percent, default_risk_per_trade_percent, require_stop_loss
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(strategy_id) DO UPDATE SET
			max_position_size_usd = excluded.max_position_size_usd,
			max_leverage = excluded.max_leverage,
			max_open_positions = excluded.max_open_positions,
			max_daily_trades = excluded.max_daily_trades,
			max_daily_loss_percent = excluded.max_daily_loss_percent,
			max_portfolio_exposure_percent = excluded.max_portfolio_exposure_percent,
			default_risk_per_trade_percent = excluded.default_risk_per_trade_percent,
			require_stop_loss = excluded.require_stop_loss
	`, strategyID, floatOf(settings.MaxPositionSizeUSD), settings.MaxLeverage, settings.MaxOpenPositions,
		settings.MaxDailyTrades, floatOf(settings.MaxDailyLossPercent), floatOf(settings.MaxPortfolioExposurePercent),
		floatOf(settings.DefaultRiskPerTradePercent), requireStopLoss)
	return err
}

// PortfolioStats returns today's trade count and realized PnL percent for a
// user, folded by the Worker into risk.PortfolioState alongside the
// adapter's live balance and position snapshot.
func (s *SQLiteStrategyStore) PortfolioStats(ctx context.Context, userID string) (PortfolioStats, error) {
	date := time.Now().UTC().Format("2006-01-02")

	var tradesCount int
	var pnl, startingBalance float64
	err := s.db.QueryRowContext(ctx, `
		SELECT trades_count, realized_pnl_usd, starting_balance_usd
		FROM daily_user_stats WHERE user_id = ? AND date = ?
	`, userID, date).Scan(&tradesCount, &pnl, &startingBalance)
	if err == sql.ErrNoRows {
		return PortfolioStats{}, nil
	}
	if err != nil {
		return PortfolioStats{}, fmt.Errorf("get portfolio stats: %w", err)
	}

	pnlPercent := 0.0
	if startingBalance != 0 {
		pnlPercent = pnl / startingBalance * 100
	}
	return PortfolioStats{DailyTradesCount: tradesCount, DailyPnLPercent: pnlPercent}, nil
}

// RecordFill increments today's trade count and realized pnl for a user,
// called by the Worker after a fill so subsequent signals see up-to-date
// daily-loss/daily-trade limits.
func (s *SQLiteStrategyStore) RecordFill(ctx context.Context, userID string, realizedPnL, accountBalance float64) error {
	date := time.Now().UTC().Format("2006-01-02")
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO daily_user_stats (user_id, date, trades_count, realized_pnl_usd, starting_balance_usd)
		VALUES (?, ?, 1, ?, ?)
		ON CONFLICT(user_id, date) DO UPDATE SET
			trades_count = trades_count + 1,
			realized_pnl_usd = realized_pnl_usd + excluded.realized_pnl_usd
	`, userID, date, realizedPnL, accountBalance)
	return err
}

func floatOf(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}
