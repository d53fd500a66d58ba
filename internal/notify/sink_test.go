package notify

import "testing"

func TestBus_PublishDeliversToSubscriber(t *testing.T) {
	bus := NewBus()
	stream, unsub := bus.Subscribe("u1", 4)
	defer unsub()

	bus.Publish("u1", EventTradeExecuted, map[string]string{"symbol": "ETHUSDT"})

	select {
	case msg := <-stream:
		if msg.EventType != EventTradeExecuted {
			t.Fatalf("expected %s, got %s", EventTradeExecuted, msg.EventType)
		}
	default:
		t.Fatalf("expected message to be delivered synchronously to buffered channel")
	}
}

func TestBus_PublishIsolatedPerUser(t *testing.T) {
	bus := NewBus()
	streamU1, unsub1 := bus.Subscribe("u1", 4)
	defer unsub1()
	streamU2, unsub2 := bus.Subscribe("u2", 4)
	defer unsub2()

	bus.Publish("u1", EventTradeExecuted, nil)

	select {
	case <-streamU1:
	default:
		t.Fatalf("expected u1 to receive its own event")
	}
	select {
	case <-streamU2:
		t.Fatalf("expected u2 to receive nothing")
	default:
	}
}

func TestBus_PublishWithNoSubscriberDoesNotBlock(t *testing.T) {
	bus := NewBus()
	bus.Publish("ghost", EventSignalReceived, nil)
}

func TestBus_PublishDropsWhenSubscriberFull(t *testing.T) {
	bus := NewBus()
	stream, unsub := bus.Subscribe("u1", 1)
	defer unsub()

	bus.Publish("u1", EventOrderUpdate, 1)
	bus.Publish("u1", EventOrderUpdate, 2) // buffer full, must be dropped not block

	msg := <-stream
	if msg.Payload != 1 {
		t.Fatalf("expected first message to survive, got %v", msg.Payload)
	}
}
