package store

import (
	"database/sql"
	"fmt"
)

const schema = `
PRAGMA journal_mode=WAL;

CREATE TABLE IF NOT EXISTS strategies (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    webhook_token TEXT NOT NULL,
    exchange TEXT NOT NULL,
    is_active INTEGER DEFAULT 1,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS subscriptions (
    id TEXT PRIMARY KEY,
    strategy_id TEXT NOT NULL,
    user_id TEXT NOT NULL,
    auto_trade INTEGER DEFAULT 0,
    exchange_key_id TEXT,
    is_active INTEGER DEFAULT 1,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY(strategy_id) REFERENCES strategies(id),
    UNIQUE(strategy_id, user_id)
);

CREATE TABLE IF NOT EXISTS exchange_keys (
    key_id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    exchange TEXT NOT NULL,
    api_key_encrypted TEXT NOT NULL,
    api_secret_encrypted TEXT NOT NULL,
    passphrase_encrypted TEXT,
    key_version INTEGER DEFAULT 1,
    is_active INTEGER DEFAULT 1,
    last_used_at DATETIME,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS signal_records (
    id TEXT PRIMARY KEY,
    strategy_id TEXT NOT NULL,
    user_id TEXT,
    symbol TEXT NOT NULL,
    action TEXT NOT NULL,
    status TEXT NOT NULL,
    result TEXT,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS strategy_risk_settings (
    strategy_id TEXT PRIMARY KEY,
    max_position_size_usd REAL,
    max_leverage INTEGER,
    max_open_positions INTEGER,
    max_daily_trades INTEGER,
    max_daily_loss_percent REAL,
    max_portfolio_exposure_percent REAL,
    default_risk_per_trade_percent REAL,
    require_stop_loss INTEGER DEFAULT 1,
    FOREIGN KEY(strategy_id) REFERENCES strategies(id)
);

CREATE TABLE IF NOT EXISTS daily_user_stats (
    user_id TEXT NOT NULL,
    date TEXT NOT NULL,
    trades_count INTEGER DEFAULT 0,
    realized_pnl_usd REAL DEFAULT 0,
    starting_balance_usd REAL DEFAULT 0,
    PRIMARY KEY(user_id, date)
);
`

// applyMigrations bootstraps the signal-pipeline schema, grounded in
// pkg/db's ApplyMigrations shape: run the idempotent base schema
// (CREATE TABLE IF NOT EXISTS). Columns are not added to tables that
// already exist in an older DB file.
func applyMigrations(db *sql.DB) error {
	if db == nil {
		return fmt.Errorf("database is not initialized")
	}
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
