package ingress

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
)

const webhookVersion = "1.0.0"

// RegisterRoutes mounts the webhook surface the way the teacher's
// internal/api/handler.go groups routes under a prefix.
func (i *Ingress) RegisterRoutes(r *gin.Engine) {
	webhooks := r.Group("/webhooks")
	{
		webhooks.GET("/health", i.health)
		webhooks.GET("/queue/stats", i.queueStats)
		webhooks.POST("/tradingview", i.receiveTradingView)
	}
}

func (i *Ingress) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"version":   webhookVersion,
	})
}

func (i *Ingress) queueStats(c *gin.Context) {
	stats, err := i.QueueStats(c.Request.Context())
	if err != nil {
		respondError(c, http.StatusInternalServerError, "queue_unavailable", err.Error())
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (i *Ingress) receiveTradingView(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		respondError(c, http.StatusBadRequest, "invalid_payload", err.Error())
		return
	}

	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		respondError(c, http.StatusUnprocessableEntity, "invalid_payload", err.Error())
		return
	}
	if err := binding.Validator.ValidateStruct(&req); err != nil {
		respondError(c, http.StatusUnprocessableEntity, "invalid_payload", err.Error())
		return
	}

	if sig := c.GetHeader("X-Signature"); sig != "" {
		req = req.WithSignature(body, sig)
	}

	result, err := i.Ingest(c.Request.Context(), req, c.ClientIP())
	if err != nil {
		status, code := statusForError(err)
		respondError(c, status, code, err.Error())
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"signal_id":    result.SignalID,
		"queued":       result.Queued > 0,
		"deduplicated": result.Deduplicated,
		"message":      summaryMessage(result),
	})
}

func statusForError(err error) (int, string) {
	switch {
	case errors.Is(err, ErrInvalidSecret), errors.Is(err, ErrSecretMismatch), errors.Is(err, ErrSignatureMismatch):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, ErrStrategyNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, ErrStrategyInactive):
		return http.StatusBadRequest, "strategy_inactive"
	case errors.Is(err, ErrInvalidAction), errors.Is(err, ErrInvalidLeverage):
		return http.StatusUnprocessableEntity, "invalid_payload"
	case errors.Is(err, ErrInvalidDecimal):
		return http.StatusBadRequest, "invalid_signal"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func summaryMessage(r Result) string {
	if r.Skipped {
		return "strategy has no auto-trade subscribers, signal not queued"
	}
	if r.Queued == 0 && r.Deduplicated > 0 {
		return "signal deduplicated (duplicate within 30 seconds)"
	}
	return "signal queued for processing"
}

func respondError(c *gin.Context, status int, code, msg string) {
	c.JSON(status, gin.H{
		"code":  code,
		"error": msg,
	})
}
