package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/google/uuid"
)

func newTestQueue(t *testing.T) *PriorityQueue {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return New(rdb)
}

func newSignal(symbol, action string, priority Priority) *Signal {
	return &Signal{
		SignalID:   uuid.NewString(),
		UserID:     "u1",
		StrategyID: "s1",
		Symbol:     symbol,
		Action:     action,
		Priority:   priority,
		MaxRetries: 3,
	}
}

func TestEnqueueDequeue_PriorityDominance(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	low := newSignal("BTCUSDT", "long_entry", PriorityLow)
	high := newSignal("ETHUSDT", "long_exit", PriorityHigh)

	if ok, err := q.Enqueue(ctx, low, "", 0); err != nil || !ok {
		t.Fatalf("enqueue low: ok=%v err=%v", ok, err)
	}
	if ok, err := q.Enqueue(ctx, high, "", 0); err != nil || !ok {
		t.Fatalf("enqueue high: ok=%v err=%v", ok, err)
	}

	got, err := q.Dequeue(ctx, 0)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if got == nil || got.SignalID != high.SignalID {
		t.Fatalf("expected high-priority signal first, got %+v", got)
	}
}

func TestEnqueueDequeue_FIFOWithinPriority(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	first := newSignal("BTCUSDT", "long_entry", PriorityNormal)
	if _, err := q.Enqueue(ctx, first, "", 0); err != nil {
		t.Fatalf("enqueue first: %v", err)
	}
	second := newSignal("ETHUSDT", "long_entry", PriorityNormal)
	if _, err := q.Enqueue(ctx, second, "", 0); err != nil {
		t.Fatalf("enqueue second: %v", err)
	}

	got, err := q.Dequeue(ctx, 0)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if got == nil || got.SignalID != first.SignalID {
		t.Fatalf("expected FIFO order, got %+v want %s", got, first.SignalID)
	}
}

func TestEnqueue_Dedup(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	s1 := newSignal("BTCUSDT", "long_entry", PriorityNormal)
	s2 := newSignal("BTCUSDT", "long_entry", PriorityNormal)

	ok, err := q.Enqueue(ctx, s1, "u1:BTCUSDT:long_entry", 30*time.Second)
	if err != nil || !ok {
		t.Fatalf("first enqueue: ok=%v err=%v", ok, err)
	}
	ok, err = q.Enqueue(ctx, s2, "u1:BTCUSDT:long_entry", 30*time.Second)
	if err != nil {
		t.Fatalf("second enqueue: %v", err)
	}
	if ok {
		t.Fatalf("expected second enqueue to be deduplicated")
	}

	stats, err := q.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Queued != 1 {
		t.Fatalf("expected 1 queued signal after dedup, got %d", stats.Queued)
	}
}

func TestFail_RetriesThenDeadLetters(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	s := newSignal("BTCUSDT", "long_entry", PriorityNormal)
	s.MaxRetries = 1
	if _, err := q.Enqueue(ctx, s, "", 0); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	got, err := q.Dequeue(ctx, 0)
	if err != nil || got == nil {
		t.Fatalf("dequeue: got=%v err=%v", got, err)
	}

	willRetry, err := q.Fail(ctx, got.SignalID, "exchange timeout", true)
	if err != nil {
		t.Fatalf("fail (retry 1): %v", err)
	}
	if !willRetry {
		t.Fatalf("expected first failure to be retried")
	}

	got2, err := q.Dequeue(ctx, 0)
	if err != nil || got2 == nil {
		t.Fatalf("dequeue after retry: got=%v err=%v", got2, err)
	}
	if got2.RetryCount != 1 {
		t.Fatalf("expected retry_count=1, got %d", got2.RetryCount)
	}

	willRetry, err = q.Fail(ctx, got2.SignalID, "exchange timeout again", true)
	if err != nil {
		t.Fatalf("fail (retry 2): %v", err)
	}
	if willRetry {
		t.Fatalf("expected retries exhausted, signal should dead-letter")
	}

	stats, err := q.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.DeadLetter != 1 {
		t.Fatalf("expected 1 dead-lettered signal, got %d", stats.DeadLetter)
	}
	if stats.Queued != 0 || stats.Processing != 0 {
		t.Fatalf("expected empty queue/processing after dead-letter, got %+v", stats)
	}
}

func TestComplete_ClearsProcessingAndBody(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	s := newSignal("BTCUSDT", "long_entry", PriorityNormal)
	if _, err := q.Enqueue(ctx, s, "", 0); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	got, err := q.Dequeue(ctx, 0)
	if err != nil || got == nil {
		t.Fatalf("dequeue: got=%v err=%v", got, err)
	}

	if err := q.Complete(ctx, got.SignalID); err != nil {
		t.Fatalf("complete: %v", err)
	}

	stats, err := q.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Queued != 0 || stats.Processing != 0 {
		t.Fatalf("expected empty queue and processing after complete, got %+v", stats)
	}
}

func TestRecoverProcessing_RequeuesStuckSignals(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	s := newSignal("BTCUSDT", "long_entry", PriorityNormal)
	s.CreatedAt = time.Now().Add(-10 * time.Minute)
	if _, err := q.Enqueue(ctx, s, "", 0); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := q.Dequeue(ctx, 0); err != nil {
		t.Fatalf("dequeue: %v", err)
	}

	recovered, err := q.RecoverProcessing(ctx, 5*time.Minute)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if recovered != 1 {
		t.Fatalf("expected 1 recovered signal, got %d", recovered)
	}

	stats, err := q.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Processing != 0 || stats.Queued != 1 {
		t.Fatalf("expected signal moved back to queue, got %+v", stats)
	}
}
