// Package risk gates candidate trades against tier/portfolio/per-trade
// rules. RiskManager is a stateless value type: no DB handle, no mutex
// — one is instantiated fresh per signal by the Worker, which owns
// loading Settings and computing PortfolioState beforehand.
package risk

import "github.com/shopspring/decimal"

// Settings is a user's (or strategy's) risk configuration.
type Settings struct {
	MaxPositionSizeUSD          decimal.Decimal
	MaxLeverage                 int
	MaxOpenPositions            int
	MaxDailyTrades              int
	MaxDailyLossPercent         decimal.Decimal
	MaxPortfolioExposurePercent decimal.Decimal
	DefaultRiskPerTradePercent  decimal.Decimal
	RequireStopLoss             bool
}

// DefaultSettings mirrors the original service's RiskSettings defaults.
func DefaultSettings() Settings {
	return Settings{
		MaxPositionSizeUSD:          decimal.NewFromInt(1000),
		MaxLeverage:                 10,
		MaxOpenPositions:            5,
		MaxDailyTrades:              50,
		MaxDailyLossPercent:         decimal.NewFromInt(10),
		MaxPortfolioExposurePercent: decimal.NewFromInt(80),
		DefaultRiskPerTradePercent:  decimal.NewFromInt(2),
		RequireStopLoss:             true,
	}
}

// TradeRequest is the candidate trade the Executor asks RiskManager to
// approve before it ever reaches an ExchangeAdapter.
type TradeRequest struct {
	UserID     string
	Symbol     string
	Side       string // "long" or "short"
	Quantity   decimal.Decimal
	EntryPrice decimal.Decimal
	StopLoss   *decimal.Decimal
	TakeProfit *decimal.Decimal
	Leverage   int
}

// PortfolioState is the user's account snapshot at the moment of the check.
type PortfolioState struct {
	TotalBalanceUSD       decimal.Decimal
	OpenPositionsCount    int
	OpenPositionsValueUSD decimal.Decimal
	DailyTradesCount      int
	DailyPnLPercent       decimal.Decimal
	DailyLossPercent      decimal.Decimal // non-negative; |DailyPnLPercent| when negative
}

// CheckResult is the outcome of CheckTrade or ValidateStopLoss.
type CheckResult struct {
	Passed           bool
	Reason           string
	AdjustedQuantity *decimal.Decimal
	Warnings         []string
}
