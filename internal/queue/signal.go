// Package queue implements the Redis-backed priority queue that sits
// between Ingress and the Worker pool.
package queue

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Priority determines dequeue order: lower values are drained first.
type Priority int

const (
	PriorityHigh   Priority = 0
	PriorityNormal Priority = 1
	PriorityLow    Priority = 2
)

// Status mirrors a signal's lifecycle state; primarily used by callers
// that want to log or report on a signal outside the queue's own keyspace.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusRetrying   Status = "retrying"
)

// Signal is the unit of work carried through the queue. Immutable after
// enqueue except for RetryCount, which Fail and RecoverProcessing bump.
type Signal struct {
	SignalID    string          `json:"signal_id"`
	UserID      string          `json:"user_id"`
	StrategyID  string          `json:"strategy_id"`
	Symbol      string          `json:"symbol"`
	Action      string          `json:"action"`
	Quantity    decimal.Decimal `json:"quantity,omitempty"`
	Price       decimal.Decimal `json:"price,omitempty"`
	StopLoss    decimal.Decimal `json:"stop_loss,omitempty"`
	TakeProfit  decimal.Decimal `json:"take_profit,omitempty"`
	Leverage    int             `json:"leverage"`
	Priority    Priority        `json:"priority"`
	RetryCount  int             `json:"retry_count"`
	MaxRetries  int             `json:"max_retries"`
	CreatedAt   time.Time       `json:"created_at"`
	ScheduledAt time.Time       `json:"scheduled_at,omitempty"`
}

func (s *Signal) toJSON() ([]byte, error) {
	return json.Marshal(s)
}

func signalFromJSON(data []byte) (*Signal, error) {
	var s Signal
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// QueueStats summarizes the three keyspace regions for /webhooks/queue/stats.
type QueueStats struct {
	Queued     int64 `json:"queued"`
	Processing int64 `json:"processing"`
	DeadLetter int64 `json:"dead_letter"`
}
