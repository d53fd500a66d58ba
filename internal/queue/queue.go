package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis keyspace. Mirrors the original SignalQueue's key layout so an
// operator inspecting Redis directly sees the same shape documented
// upstream.
const (
	keyQueue      = "signals:queue"
	keyProcessing = "signals:processing"
	keyDeadLetter = "signals:dead_letter"
	prefixSignal  = "signal:"
	prefixDedup   = "dedup:"
)

const priorityScale = 1e12

// ErrSignalNotFound is returned by Fail when the signal body is already
// gone (expired or completed by a racing worker).
var ErrSignalNotFound = errors.New("queue: signal not found")

// PriorityQueue is a Redis-backed sorted-set queue with dedup, retry
// backoff, a dead-letter sink, and orphan recovery for signals stuck in
// the processing set. Adapted from the teacher's PersistentQueue
// (internal/order/persistent_queue.go): the WAL-recovery shape becomes
// Redis durability, but the Enqueue/Drain-style consumption contract is
// kept.
type PriorityQueue struct {
	rdb *redis.Client
}

// New wraps an already-connected redis.Client.
func New(rdb *redis.Client) *PriorityQueue {
	return &PriorityQueue{rdb: rdb}
}

// Enqueue adds a signal to the queue, optionally deduplicating by
// dedupKey within dedupTTL. Returns false without touching any other
// key if the dedup key is already set.
func (q *PriorityQueue) Enqueue(ctx context.Context, signal *Signal, dedupKey string, dedupTTL time.Duration) (bool, error) {
	if dedupKey != "" {
		fullKey := prefixDedup + dedupKey
		exists, err := q.rdb.Exists(ctx, fullKey).Result()
		if err != nil {
			return false, fmt.Errorf("queue: dedup check: %w", err)
		}
		if exists > 0 {
			log.Printf("queue: signal %s deduplicated on key %s", signal.SignalID, dedupKey)
			return false, nil
		}
		if err := q.rdb.SetEx(ctx, fullKey, signal.SignalID, dedupTTL).Err(); err != nil {
			return false, fmt.Errorf("queue: set dedup key: %w", err)
		}
	}

	if signal.CreatedAt.IsZero() {
		signal.CreatedAt = time.Now().UTC()
	}

	body, err := signal.toJSON()
	if err != nil {
		return false, fmt.Errorf("queue: marshal signal: %w", err)
	}
	signalKey := prefixSignal + signal.SignalID
	if err := q.rdb.Set(ctx, signalKey, body, 0).Err(); err != nil {
		return false, fmt.Errorf("queue: store signal body: %w", err)
	}

	// Fractional epoch seconds, so signals enqueued within the same second
	// still dequeue in enqueue order within their priority.
	score := float64(signal.Priority)*priorityScale + float64(time.Now().UnixNano())/1e9
	if err := q.rdb.ZAdd(ctx, keyQueue, redis.Z{Score: score, Member: signal.SignalID}).Err(); err != nil {
		return false, fmt.Errorf("queue: zadd: %w", err)
	}

	log.Printf("queue: enqueued signal_id=%s priority=%d symbol=%s action=%s", signal.SignalID, signal.Priority, signal.Symbol, signal.Action)
	return true, nil
}

// Dequeue pops the lowest-score signal. With timeout > 0 it blocks up to
// timeout waiting for work (BZPOPMIN); with timeout == 0 it is
// non-blocking and returns (nil, nil) on an empty queue.
func (q *PriorityQueue) Dequeue(ctx context.Context, timeout time.Duration) (*Signal, error) {
	var signalID string

	if timeout > 0 {
		result, err := q.rdb.BZPopMin(ctx, timeout, keyQueue).Result()
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("queue: bzpopmin: %w", err)
		}
		signalID, _ = result.Member.(string)
	} else {
		results, err := q.rdb.ZPopMin(ctx, keyQueue, 1).Result()
		if err != nil {
			return nil, fmt.Errorf("queue: zpopmin: %w", err)
		}
		if len(results) == 0 {
			return nil, nil
		}
		signalID, _ = results[0].Member.(string)
	}

	if signalID == "" {
		return nil, nil
	}

	body, err := q.rdb.Get(ctx, prefixSignal+signalID).Bytes()
	if errors.Is(err, redis.Nil) {
		log.Printf("queue: signal_id=%s popped with no body, operator attention required", signalID)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("queue: get signal body: %w", err)
	}

	signal, err := signalFromJSON(body)
	if err != nil {
		return nil, fmt.Errorf("queue: unmarshal signal %s: %w", signalID, err)
	}

	if err := q.rdb.SAdd(ctx, keyProcessing, signalID).Err(); err != nil {
		return nil, fmt.Errorf("queue: mark processing: %w", err)
	}

	return signal, nil
}

// Complete removes a signal from processing and deletes its body.
func (q *PriorityQueue) Complete(ctx context.Context, id string) error {
	if err := q.rdb.SRem(ctx, keyProcessing, id).Err(); err != nil {
		return fmt.Errorf("queue: srem processing: %w", err)
	}
	if err := q.rdb.Del(ctx, prefixSignal+id).Err(); err != nil {
		return fmt.Errorf("queue: delete body: %w", err)
	}
	log.Printf("queue: completed signal_id=%s", id)
	return nil
}

// Fail marks a signal as failed. When retry is true and the signal has
// retries remaining it is rescheduled at LOW priority with exponential
// backoff (capped at 60s) and true is returned. Otherwise the signal is
// pushed onto the dead-letter list and false is returned.
func (q *PriorityQueue) Fail(ctx context.Context, id string, errMsg string, retry bool) (bool, error) {
	if err := q.rdb.SRem(ctx, keyProcessing, id).Err(); err != nil {
		return false, fmt.Errorf("queue: srem processing: %w", err)
	}

	body, err := q.rdb.Get(ctx, prefixSignal+id).Bytes()
	if errors.Is(err, redis.Nil) {
		log.Printf("queue: signal_id=%s not found for failure", id)
		return false, ErrSignalNotFound
	}
	if err != nil {
		return false, fmt.Errorf("queue: get signal body: %w", err)
	}

	signal, err := signalFromJSON(body)
	if err != nil {
		return false, fmt.Errorf("queue: unmarshal signal %s: %w", id, err)
	}

	if retry && signal.RetryCount < signal.MaxRetries {
		signal.RetryCount++
		delay := time.Duration(math.Min(math.Pow(2, float64(signal.RetryCount)), 60)) * time.Second

		newBody, err := signal.toJSON()
		if err != nil {
			return false, fmt.Errorf("queue: marshal signal: %w", err)
		}
		if err := q.rdb.Set(ctx, prefixSignal+id, newBody, 0).Err(); err != nil {
			return false, fmt.Errorf("queue: rewrite body: %w", err)
		}

		score := float64(PriorityLow)*priorityScale + float64(time.Now().Add(delay).Unix())
		if err := q.rdb.ZAdd(ctx, keyQueue, redis.Z{Score: score, Member: id}).Err(); err != nil {
			return false, fmt.Errorf("queue: re-zadd: %w", err)
		}

		log.Printf("queue: signal_id=%s scheduled for retry %d/%d in %s: %s", id, signal.RetryCount, signal.MaxRetries, delay, errMsg)
		return true, nil
	}

	deadLetter := struct {
		Signal   json.RawMessage `json:"signal"`
		Error    string          `json:"error"`
		FailedAt time.Time       `json:"failed_at"`
	}{
		Signal:   json.RawMessage(body),
		Error:    errMsg,
		FailedAt: time.Now().UTC(),
	}
	dlBody, err := json.Marshal(deadLetter)
	if err != nil {
		return false, fmt.Errorf("queue: marshal dead letter: %w", err)
	}
	if err := q.rdb.LPush(ctx, keyDeadLetter, dlBody).Err(); err != nil {
		return false, fmt.Errorf("queue: lpush dead letter: %w", err)
	}
	if err := q.rdb.Del(ctx, prefixSignal+id).Err(); err != nil {
		return false, fmt.Errorf("queue: delete body: %w", err)
	}

	log.Printf("queue: signal_id=%s moved to dead letter after %d retries: %s", id, signal.RetryCount, errMsg)
	return false, nil
}

// Stats reports the current size of each keyspace region.
func (q *PriorityQueue) Stats(ctx context.Context) (QueueStats, error) {
	queued, err := q.rdb.ZCard(ctx, keyQueue).Result()
	if err != nil {
		return QueueStats{}, fmt.Errorf("queue: zcard: %w", err)
	}
	processing, err := q.rdb.SCard(ctx, keyProcessing).Result()
	if err != nil {
		return QueueStats{}, fmt.Errorf("queue: scard: %w", err)
	}
	deadLetter, err := q.rdb.LLen(ctx, keyDeadLetter).Result()
	if err != nil {
		return QueueStats{}, fmt.Errorf("queue: llen: %w", err)
	}
	return QueueStats{Queued: queued, Processing: processing, DeadLetter: deadLetter}, nil
}

// RecoverProcessing re-queues signals that have sat in the processing
// set longer than maxAge, at HIGH priority, so a crashed worker's work
// isn't lost. Returns the number of signals recovered. Signals whose
// body has vanished are simply dropped from processing.
func (q *PriorityQueue) RecoverProcessing(ctx context.Context, maxAge time.Duration) (int, error) {
	ids, err := q.rdb.SMembers(ctx, keyProcessing).Result()
	if err != nil {
		return 0, fmt.Errorf("queue: smembers processing: %w", err)
	}

	recovered := 0
	for _, id := range ids {
		body, err := q.rdb.Get(ctx, prefixSignal+id).Bytes()
		if errors.Is(err, redis.Nil) {
			q.rdb.SRem(ctx, keyProcessing, id)
			continue
		}
		if err != nil {
			return recovered, fmt.Errorf("queue: get signal body %s: %w", id, err)
		}

		signal, err := signalFromJSON(body)
		if err != nil {
			return recovered, fmt.Errorf("queue: unmarshal signal %s: %w", id, err)
		}

		age := time.Since(signal.CreatedAt)
		if age <= maxAge {
			continue
		}

		signal.RetryCount++
		newBody, err := signal.toJSON()
		if err != nil {
			return recovered, fmt.Errorf("queue: marshal signal: %w", err)
		}
		if err := q.rdb.Set(ctx, prefixSignal+id, newBody, 0).Err(); err != nil {
			return recovered, fmt.Errorf("queue: rewrite body: %w", err)
		}

		score := float64(PriorityHigh)*priorityScale + float64(time.Now().Unix())
		if err := q.rdb.ZAdd(ctx, keyQueue, redis.Z{Score: score, Member: id}).Err(); err != nil {
			return recovered, fmt.Errorf("queue: re-zadd: %w", err)
		}
		if err := q.rdb.SRem(ctx, keyProcessing, id).Err(); err != nil {
			return recovered, fmt.Errorf("queue: srem processing: %w", err)
		}

		recovered++
		log.Printf("queue: recovered stuck signal_id=%s age=%s", id, age)
	}

	return recovered, nil
}
