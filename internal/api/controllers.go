package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"signalpipeline/internal/risk"
	"signalpipeline/internal/store"
)

// getMetrics exposes the running counters from internal/monitor.
func (s *Server) getMetrics(c *gin.Context) {
	if s.Metrics == nil {
		c.JSON(http.StatusOK, gin.H{})
		return
	}
	c.JSON(http.StatusOK, s.Metrics.GetSnapshot())
}

// getStrategy looks up a webhook strategy's public configuration.
func (s *Server) getStrategy(c *gin.Context) {
	st, err := s.Store.Strategy.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, store.ErrStrategyNotFound) {
			respondError(c, http.StatusNotFound, "not_found", "strategy not found")
			return
		}
		respondError(c, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"id":       st.ID,
		"name":     st.Name,
		"exchange": st.Exchange,
		"active":   st.IsActive,
	})
}

// getPortfolio returns the calling user's trading-day stats, the same
// figures the Worker folds into risk.PortfolioState before each signal.
func (s *Server) getPortfolio(c *gin.Context) {
	userID := CurrentUserID(c)
	stats, err := s.Store.Strategy.PortfolioStats(c.Request.Context(), userID)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	c.JSON(http.StatusOK, stats)
}

// getRiskSettings returns a strategy's effective risk override, or the
// pipeline defaults if none has been set.
func (s *Server) getRiskSettings(c *gin.Context) {
	settings, err := s.Store.Strategy.RiskSettings(c.Request.Context(), c.Param("strategy_id"))
	if err != nil {
		respondError(c, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	c.JSON(http.StatusOK, settings)
}

// updateRiskSettingsRequest mirrors risk.Settings for JSON binding.
type updateRiskSettingsRequest struct {
	MaxPositionSizeUSD          string `json:"max_position_size_usd" binding:"required"`
	MaxLeverage                 int    `json:"max_leverage" binding:"required,min=1"`
	MaxOpenPositions            int    `json:"max_open_positions" binding:"required,min=1"`
	MaxDailyTrades              int    `json:"max_daily_trades" binding:"required,min=1"`
	MaxDailyLossPercent         string `json:"max_daily_loss_percent" binding:"required"`
	MaxPortfolioExposurePercent string `json:"max_portfolio_exposure_percent" binding:"required"`
	DefaultRiskPerTradePercent  string `json:"default_risk_per_trade_percent" binding:"required"`
	RequireStopLoss             bool   `json:"require_stop_loss"`
}

// updateRiskSettings upserts a per-strategy risk override.
func (s *Server) updateRiskSettings(c *gin.Context) {
	var req updateRiskSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusUnprocessableEntity, "invalid_payload", err.Error())
		return
	}

	settings, err := parseRiskSettings(req)
	if err != nil {
		respondError(c, http.StatusBadRequest, "invalid_decimal", err.Error())
		return
	}

	if err := s.Store.Strategy.SetRiskSettings(c.Request.Context(), c.Param("strategy_id"), settings); err != nil {
		respondError(c, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	c.JSON(http.StatusOK, settings)
}

// registerExchangeKeyRequest is the payload for binding a user's API
// credentials to an exchange, grounded on the teacher's createConnection
// handler but trimmed to what internal/store.KeyStore actually needs.
type registerExchangeKeyRequest struct {
	Exchange   string `json:"exchange" binding:"required"`
	APIKey     string `json:"api_key" binding:"required"`
	APISecret  string `json:"api_secret" binding:"required"`
	Passphrase string `json:"passphrase"`
}

func (s *Server) registerExchangeKey(c *gin.Context) {
	var req registerExchangeKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusUnprocessableEntity, "invalid_payload", err.Error())
		return
	}

	userID := CurrentUserID(c)
	keyID, err := s.Store.Keys.StoreCredentials(c.Request.Context(), userID, req.Exchange, req.APIKey, req.APISecret, req.Passphrase)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	c.JSON(http.StatusCreated, gin.H{"key_id": keyID})
}

func parseRiskSettings(req updateRiskSettingsRequest) (risk.Settings, error) {
	maxPositionSizeUSD, err := decimalOrErr(req.MaxPositionSizeUSD)
	if err != nil {
		return risk.Settings{}, err
	}
	maxDailyLossPercent, err := decimalOrErr(req.MaxDailyLossPercent)
	if err != nil {
		return risk.Settings{}, err
	}
	maxPortfolioExposurePercent, err := decimalOrErr(req.MaxPortfolioExposurePercent)
	if err != nil {
		return risk.Settings{}, err
	}
	defaultRiskPerTradePercent, err := decimalOrErr(req.DefaultRiskPerTradePercent)
	if err != nil {
		return risk.Settings{}, err
	}

	return risk.Settings{
		MaxPositionSizeUSD:          maxPositionSizeUSD,
		MaxLeverage:                 req.MaxLeverage,
		MaxOpenPositions:            req.MaxOpenPositions,
		MaxDailyTrades:              req.MaxDailyTrades,
		MaxDailyLossPercent:         maxDailyLossPercent,
		MaxPortfolioExposurePercent: maxPortfolioExposurePercent,
		DefaultRiskPerTradePercent:  defaultRiskPerTradePercent,
		RequireStopLoss:             req.RequireStopLoss,
	}, nil
}

func decimalOrErr(s string) (decimal.Decimal, error) {
	return decimal.NewFromString(s)
}

func respondError(c *gin.Context, status int, code, msg string) {
	c.JSON(status, gin.H{"code": code, "error": msg})
}
