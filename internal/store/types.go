package store

import "time"

// Strategy is a webhook-bound strategy record, consumed by Ingress.
type Strategy struct {
	ID           string
	Name         string
	WebhookToken string
	Exchange     string
	IsActive     bool
	CreatedAt    time.Time
}

// Subscription binds a user to a strategy's signals.
type Subscription struct {
	ID            string
	StrategyID    string
	UserID        string
	AutoTrade     bool
	ExchangeKeyID string
	IsActive      bool
}

// Credentials are decrypted exchange API credentials for one user/exchange pair.
type Credentials struct {
	KeyID      string
	APIKey     string
	APISecret  string
	Passphrase string
}

// SignalRecord is the per-user audit row Ingress writes before enqueueing
// and the Worker updates on outcome.
type SignalRecord struct {
	ID         string
	StrategyID string
	UserID     string
	Symbol     string
	Action     string
	Status     string
	Result     string
	CreatedAt  time.Time
}

// Signal status values for signal_records.status.
const (
	SignalStatusQueued    = "queued"
	SignalStatusSkipped   = "skipped"
	SignalStatusCompleted = "completed"
	SignalStatusFailed    = "failed"
)

// PortfolioStats is the per-user trading-day aggregate the Worker folds
// into risk.PortfolioState alongside the adapter's live balance/positions.
type PortfolioStats struct {
	DailyTradesCount int
	DailyPnLPercent  float64
}
