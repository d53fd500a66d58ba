package monitor

import (
	"context"
	"testing"
	"time"

	"signalpipeline/internal/notify"
)

func TestMonitorForwardsSystemAlerts(t *testing.T) {
	bus := notify.NewBus()
	received := make(chan string, 1)

	mon := &Monitor{
		Bus: bus,
		AlertFn: func(msg string) {
			received <- msg
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mon.Start(ctx)

	// Give Subscribe a moment to register before publishing.
	time.Sleep(10 * time.Millisecond)
	bus.Publish(notify.SystemUserID, notify.EventOrderUpdate, map[string]string{"error": "dead lettered"})

	select {
	case msg := <-received:
		if msg == "" {
			t.Fatal("expected a non-empty alert message")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for alert")
	}
}

func TestMonitorSkipsWhenUnconfigured(t *testing.T) {
	mon := &Monitor{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Must not panic when Bus/AlertFn are unset.
	mon.Start(ctx)
}

func TestFormatAlertHandlesKnownPayloadShapes(t *testing.T) {
	str := formatAlert(notify.Message{EventType: "x", Payload: "plain text"})
	if str == "" {
		t.Fatal("expected formatted alert for string payload")
	}

	mapped := formatAlert(notify.Message{EventType: "x", Payload: map[string]string{"error": "boom"}})
	if mapped == "" {
		t.Fatal("expected formatted alert for map payload")
	}
}
