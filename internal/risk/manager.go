package risk

import (
	"log"

	"github.com/shopspring/decimal"
)

// Manager runs the fixed-order risk checks against a candidate trade.
// It holds no state beyond its Settings; callers construct one per
// signal rather than sharing a long-lived instance.
type Manager struct {
	settings Settings
}

// NewManager builds a RiskManager for one signal's worth of checks.
func NewManager(settings Settings) *Manager {
	return &Manager{settings: settings}
}

// CheckTrade runs the checks in fixed order and returns the first
// rejection, except for the position-size check, which adjusts the
// quantity and accepts immediately rather than continuing — this
// matches the original risk manager's check_trade exactly, where the
// size-adjustment branch returns directly instead of falling through
// to the exposure and stop-loss checks.
func (m *Manager) CheckTrade(trade TradeRequest, portfolio PortfolioState) CheckResult {
	s := m.settings

	if portfolio.DailyLossPercent.GreaterThanOrEqual(s.MaxDailyLossPercent) {
		log.Printf("risk: trade rejected user=%s reason=daily_loss_limit daily_loss=%s limit=%s",
			trade.UserID, portfolio.DailyLossPercent, s.MaxDailyLossPercent)
		return CheckResult{
			Passed: false,
			Reason: "daily loss limit reached (" + portfolio.DailyLossPercent.String() + "% >= " + s.MaxDailyLossPercent.String() + "%)",
		}
	}

	if portfolio.DailyTradesCount >= s.MaxDailyTrades {
		log.Printf("risk: trade rejected user=%s reason=daily_trade_limit trades_today=%d limit=%d",
			trade.UserID, portfolio.DailyTradesCount, s.MaxDailyTrades)
		return CheckResult{
			Passed: false,
			Reason: "daily trade limit reached",
		}
	}

	if portfolio.OpenPositionsCount >= s.MaxOpenPositions {
		log.Printf("risk: trade rejected user=%s reason=max_open_positions open=%d limit=%d",
			trade.UserID, portfolio.OpenPositionsCount, s.MaxOpenPositions)
		return CheckResult{
			Passed: false,
			Reason: "max open positions reached",
		}
	}

	if trade.Leverage > s.MaxLeverage {
		log.Printf("risk: trade rejected user=%s reason=leverage_too_high requested=%d max=%d",
			trade.UserID, trade.Leverage, s.MaxLeverage)
		return CheckResult{
			Passed: false,
			Reason: "leverage exceeds maximum allowed",
		}
	}

	positionValue := trade.Quantity.Mul(trade.EntryPrice)
	if positionValue.GreaterThan(s.MaxPositionSizeUSD) {
		adjustedQty := s.MaxPositionSizeUSD.Div(trade.EntryPrice)
		warning := "position size reduced from $" + positionValue.String() + " to $" + s.MaxPositionSizeUSD.String()
		log.Printf("risk: position size adjusted user=%s original_qty=%s adjusted_qty=%s",
			trade.UserID, trade.Quantity, adjustedQty)
		return CheckResult{
			Passed:           true,
			AdjustedQuantity: &adjustedQty,
			Warnings:         []string{warning},
		}
	}

	var exposurePercent decimal.Decimal
	if portfolio.TotalBalanceUSD.IsPositive() {
		newExposure := portfolio.OpenPositionsValueUSD.Add(positionValue)
		exposurePercent = newExposure.Div(portfolio.TotalBalanceUSD).Mul(decimal.NewFromInt(100))
	} else {
		exposurePercent = decimal.NewFromInt(100)
	}

	if exposurePercent.GreaterThan(s.MaxPortfolioExposurePercent) {
		log.Printf("risk: trade rejected user=%s reason=exposure_too_high exposure=%s limit=%s",
			trade.UserID, exposurePercent.StringFixed(1), s.MaxPortfolioExposurePercent)
		return CheckResult{
			Passed: false,
			Reason: "portfolio exposure exceeds maximum allowed",
		}
	}

	if s.RequireStopLoss && trade.StopLoss == nil {
		log.Printf("risk: trade rejected user=%s symbol=%s reason=stop_loss_required", trade.UserID, trade.Symbol)
		return CheckResult{
			Passed: false,
			Reason: "stop loss is required but not provided",
		}
	}

	log.Printf("risk: trade accepted user=%s symbol=%s side=%s qty=%s position_value=%s",
		trade.UserID, trade.Symbol, trade.Side, trade.Quantity, positionValue)
	return CheckResult{Passed: true}
}

// CalculatePositionSize sizes a position from a risk percentage of
// balance and the distance to a stop loss, capped by MaxPositionSizeUSD.
// Returns zero when the stop distance is zero; callers must reject the
// resulting zero-size trade rather than submit it.
func (m *Manager) CalculatePositionSize(balanceUSD, entryPrice, stopLoss decimal.Decimal, riskPercent *decimal.Decimal) decimal.Decimal {
	risk := m.settings.DefaultRiskPerTradePercent
	if riskPercent != nil {
		risk = *riskPercent
	}
	riskAmount := balanceUSD.Mul(risk.Div(decimal.NewFromInt(100)))

	stopDistance := entryPrice.Sub(stopLoss).Abs()
	if stopDistance.IsZero() {
		return decimal.Zero
	}

	positionSize := riskAmount.Div(stopDistance)

	maxQty := m.settings.MaxPositionSizeUSD.Div(entryPrice)
	if positionSize.GreaterThan(maxQty) {
		positionSize = maxQty
	}

	return positionSize
}

// ValidateStopLoss checks that a stop loss sits on the correct side of
// entry for the trade direction and isn't further than maxLossPercent
// away. maxLossPercent defaults to 5 when zero.
func ValidateStopLoss(side string, entryPrice, stopLoss decimal.Decimal, maxLossPercent decimal.Decimal) CheckResult {
	if maxLossPercent.IsZero() {
		maxLossPercent = decimal.NewFromInt(5)
	}

	var lossPercent decimal.Decimal
	if side == "long" {
		if stopLoss.GreaterThanOrEqual(entryPrice) {
			return CheckResult{Passed: false, Reason: "stop loss must be below entry price for long positions"}
		}
		lossPercent = entryPrice.Sub(stopLoss).Div(entryPrice).Mul(decimal.NewFromInt(100))
	} else {
		if stopLoss.LessThanOrEqual(entryPrice) {
			return CheckResult{Passed: false, Reason: "stop loss must be above entry price for short positions"}
		}
		lossPercent = stopLoss.Sub(entryPrice).Div(entryPrice).Mul(decimal.NewFromInt(100))
	}

	if lossPercent.GreaterThan(maxLossPercent) {
		return CheckResult{Passed: false, Reason: "stop loss too far from entry price"}
	}

	return CheckResult{Passed: true}
}
