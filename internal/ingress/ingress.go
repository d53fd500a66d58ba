// Package ingress implements the §4.E webhook flow: it authenticates an
// incoming TradingView-style signal payload, resolves the owning
// strategy and its auto-trade subscribers, and fans the signal out to
// the priority queue with per-subscriber dedup. Grounded in
// original_source/bot-engine/app/api/webhooks.py's receive_tradingview_signal
// handler, translated from FastAPI/pydantic to gin/struct-tag binding
// the way the teacher's internal/api/controllers.go does it.
package ingress

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"signalpipeline/internal/logging"
	"signalpipeline/internal/monitor"
	"signalpipeline/internal/queue"
	"signalpipeline/internal/store"
)

// DedupTTL is the window within which an identical (user, symbol, action)
// signal is treated as a duplicate of one already queued.
const DedupTTL = 30 * time.Second

const minSecretLength = 16

var validActions = map[string]bool{
	"long_entry":  true,
	"long_exit":   true,
	"short_entry": true,
	"short_exit":  true,
}

// Sentinel errors the HTTP layer maps to status codes.
var (
	ErrInvalidSecret     = errors.New("ingress: missing or too-short secret")
	ErrStrategyNotFound  = errors.New("ingress: unknown strategy")
	ErrStrategyInactive  = errors.New("ingress: strategy is not active")
	ErrSecretMismatch    = errors.New("ingress: secret does not match strategy")
	ErrInvalidAction     = errors.New("ingress: action must be one of long_entry, long_exit, short_entry, short_exit")
	ErrInvalidLeverage   = errors.New("ingress: leverage must be between 1 and 125")
	ErrInvalidDecimal    = errors.New("ingress: price, stop_loss, and take_profit must be valid decimal strings")
	ErrSignatureMismatch = errors.New("ingress: X-Signature does not match request body")
)

// Request is the webhook payload shape, matching TradingViewSignal in
// the original service field-for-field.
type Request struct {
	StrategyID string `json:"strategy_id" binding:"required"`
	Secret     string `json:"secret"`
	Symbol     string `json:"symbol" binding:"required"`
	Action     string `json:"action" binding:"required"`
	Price      string `json:"price"`
	StopLoss   string `json:"stop_loss"`
	TakeProfit string `json:"take_profit"`
	Quantity   string `json:"quantity"`
	Leverage   int    `json:"leverage"`

	// signature and rawBody carry the optional X-Signature auth path in
	// from the HTTP layer; never populated from the JSON body itself.
	signature string
	rawBody   []byte
}

// WithSignature attaches the raw request body and X-Signature header
// value Ingest should verify against the strategy's webhook_token
// instead of the in-payload secret.
func (r Request) WithSignature(rawBody []byte, signature string) Request {
	r.rawBody = rawBody
	r.signature = signature
	return r
}

// Result summarizes the fan-out outcome for the HTTP response.
type Result struct {
	SignalID     string `json:"signal_id"`
	Queued       int    `json:"queued"`
	Deduplicated int    `json:"deduplicated"`
	Skipped      bool   `json:"skipped"` // true when the strategy had no auto-trade subscribers
}

// StrategyStore is the capability Ingress needs from the strategy/
// subscriber/audit-trail store. Declared here per the spec's
// cross-component abstraction rule; store.SQLiteStrategyStore is the
// reference implementation.
type StrategyStore interface {
	Get(ctx context.Context, id string) (store.Strategy, error)
	VerifySecret(ctx context.Context, id, secret string) (bool, error)
	Subscribers(ctx context.Context, strategyID string, autoOnly bool) ([]store.Subscription, error)
	RecordSignal(ctx context.Context, strategyID, userID, symbol, action, status string) (string, error)
	UpdateSignalStatus(ctx context.Context, id, status, result string) error
}

// Ingress authenticates, validates, and fans webhook signals out to the
// priority queue.
type Ingress struct {
	Strategies StrategyStore
	Queue      *queue.PriorityQueue
	Metrics    *monitor.SystemMetrics // optional; nil is a valid no-op
	Log        *logging.Logger
}

// New wires an Ingress from its collaborators.
func New(strategies StrategyStore, q *queue.PriorityQueue) *Ingress {
	return &Ingress{Strategies: strategies, Queue: q, Log: logging.New("ingress")}
}

// NormalizeSymbol upper-cases and strips the pair separators TradingView
// alerts commonly include, matching TradingViewSignal.validate_symbol.
func NormalizeSymbol(symbol string) string {
	s := strings.ToUpper(symbol)
	s = strings.ReplaceAll(s, "/", "")
	s = strings.ReplaceAll(s, "-", "")
	return s
}

// Ingest runs the full §4.E flow for one incoming webhook call.
func (i *Ingress) Ingest(ctx context.Context, req Request, clientIP string) (Result, error) {
	requestID := uuid.NewString()
	symbol := NormalizeSymbol(req.Symbol)
	action := strings.ToLower(req.Action)
	if !validActions[action] {
		return Result{}, ErrInvalidAction
	}
	if req.Leverage == 0 {
		req.Leverage = 1
	}
	if req.Leverage < 1 || req.Leverage > 125 {
		return Result{}, ErrInvalidLeverage
	}

	// A signature presented via X-Signature takes over authentication
	// entirely; only the in-payload secret needs this cheap length
	// check before the strategy lookup it would otherwise require.
	if req.signature == "" && len(req.Secret) < minSecretLength {
		i.Log.Warn("invalid webhook secret", logging.Fields{"client_ip": clientIP})
		return Result{}, ErrInvalidSecret
	}

	strategy, err := i.Strategies.Get(ctx, req.StrategyID)
	if err != nil {
		if errors.Is(err, store.ErrStrategyNotFound) {
			return Result{}, ErrStrategyNotFound
		}
		return Result{}, err
	}
	if !strategy.IsActive {
		return Result{}, ErrStrategyInactive
	}

	// Authentication methods, in order of preference per the original
	// webhook handler: X-Signature first, in-payload secret otherwise.
	// The two are mutually exclusive — a valid signature never also
	// requires the payload secret to match the strategy's own token.
	if req.signature != "" {
		if !VerifySignature(req.rawBody, req.signature, strategy.WebhookToken) {
			i.Log.Warn("signature mismatch", logging.Fields{"strategy_id": strategy.ID, "client_ip": clientIP})
			return Result{}, ErrSignatureMismatch
		}
	} else {
		ok, err := i.Strategies.VerifySecret(ctx, strategy.ID, req.Secret)
		if err != nil {
			return Result{}, err
		}
		if !ok {
			i.Log.Warn("webhook secret mismatch", logging.Fields{"strategy_id": strategy.ID, "client_ip": clientIP})
			return Result{}, ErrSecretMismatch
		}
	}

	price, stopLoss, takeProfit, quantity, err := parseDecimals(req)
	if err != nil {
		return Result{}, err
	}

	subscribers, err := i.Strategies.Subscribers(ctx, strategy.ID, true)
	if err != nil {
		return Result{}, err
	}

	i.Log.Info("received signal", logging.Fields{
		"request_id": requestID, "strategy_id": strategy.ID, "symbol": symbol, "action": action, "client_ip": clientIP,
	})

	if len(subscribers) == 0 {
		i.Log.Info("no auto-trade subscribers, signal not queued", logging.Fields{"strategy_id": strategy.ID})
		if _, err := i.Strategies.RecordSignal(ctx, strategy.ID, "", symbol, action, store.SignalStatusSkipped); err != nil {
			i.Log.Error("record skipped signal failed", logging.Fields{"strategy_id": strategy.ID, "error": err.Error()})
		}
		return Result{SignalID: requestID, Skipped: true}, nil
	}

	priority := queue.PriorityNormal
	if strings.Contains(action, "exit") {
		priority = queue.PriorityHigh
	}

	result := Result{SignalID: requestID}
	for _, sub := range subscribers {
		recordID, err := i.Strategies.RecordSignal(ctx, strategy.ID, sub.UserID, symbol, action, store.SignalStatusQueued)
		if err != nil {
			i.Log.Error("record signal failed", logging.Fields{"user_id": sub.UserID, "error": err.Error()})
			continue
		}

		signal := &queue.Signal{
			SignalID:   recordID,
			UserID:     sub.UserID,
			StrategyID: strategy.ID,
			Symbol:     symbol,
			Action:     action,
			Quantity:   quantity,
			Price:      price,
			StopLoss:   stopLoss,
			TakeProfit: takeProfit,
			Leverage:   req.Leverage,
			Priority:   priority,
			MaxRetries: 3,
			CreatedAt:  time.Now().UTC(),
		}

		dedupKey := sub.UserID + ":" + symbol + ":" + action
		queued, err := i.Queue.Enqueue(ctx, signal, dedupKey, DedupTTL)
		if err != nil {
			i.Log.Error("enqueue failed", logging.Fields{"user_id": sub.UserID, "error": err.Error()})
			continue
		}

		if queued {
			result.Queued++
			if i.Metrics != nil {
				i.Metrics.IncrementQueued()
			}
			_ = i.Strategies.UpdateSignalStatus(ctx, recordID, store.SignalStatusQueued, "")
		} else {
			result.Deduplicated++
			_ = i.Strategies.UpdateSignalStatus(ctx, recordID, store.SignalStatusSkipped, "deduplicated")
		}
	}

	return result, nil
}

func parseDecimals(req Request) (price, stopLoss, takeProfit, quantity decimal.Decimal, err error) {
	parse := func(s string) (decimal.Decimal, error) {
		if s == "" {
			return decimal.Zero, nil
		}
		return decimal.NewFromString(s)
	}
	if price, err = parse(req.Price); err != nil {
		return decimal.Zero, decimal.Zero, decimal.Zero, decimal.Zero, ErrInvalidDecimal
	}
	if stopLoss, err = parse(req.StopLoss); err != nil {
		return decimal.Zero, decimal.Zero, decimal.Zero, decimal.Zero, ErrInvalidDecimal
	}
	if takeProfit, err = parse(req.TakeProfit); err != nil {
		return decimal.Zero, decimal.Zero, decimal.Zero, decimal.Zero, ErrInvalidDecimal
	}
	if quantity, err = parse(req.Quantity); err != nil {
		return decimal.Zero, decimal.Zero, decimal.Zero, decimal.Zero, ErrInvalidDecimal
	}
	return price, stopLoss, takeProfit, quantity, nil
}

// VerifySignature checks an X-Signature header against the raw request
// body using HMAC-SHA256, the alternative authentication path from
// verify_webhook_signature in the original service. Mutually exclusive
// with the in-payload secret check performed by Ingest.
func VerifySignature(body []byte, signatureHex, secret string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signatureHex))
}

// QueueStats mirrors GET /webhooks/queue/stats.
func (i *Ingress) QueueStats(ctx context.Context) (queue.QueueStats, error) {
	return i.Queue.Stats(ctx)
}
