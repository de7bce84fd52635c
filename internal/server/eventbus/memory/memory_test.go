package memory

import (
	"context"
	"errors"
	"testing"
)

func TestPublishFansOutAndDropsWhenFull(t *testing.T) {
	bus := New()
	ctx := context.Background()

	ready := make(chan any, 1)
	full := make(chan any)
	unsubReady, err := bus.Subscribe("t", ready)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer unsubReady()
	unsubFull, err := bus.Subscribe("t", full)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer unsubFull()

	if err := bus.Publish(ctx, "t", "hello"); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if got := <-ready; got != "hello" {
		t.Fatalf("unexpected payload %v", got)
	}
	if bus.Dropped() != 1 {
		t.Fatalf("expected 1 dropped delivery, got %d", bus.Dropped())
	}
}

func TestUnsubscribeRemovesChannel(t *testing.T) {
	bus := New()
	ch := make(chan any, 1)
	unsub, err := bus.Subscribe("t", ch)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if bus.Subscribers("t") != 1 {
		t.Fatalf("expected 1 subscriber")
	}
	unsub()
	unsub()
	if bus.Subscribers("t") != 0 {
		t.Fatalf("expected no subscribers after unsubscribe")
	}
	if err := bus.Publish(context.Background(), "t", 1); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(ch) != 0 {
		t.Fatalf("unsubscribed channel received payload")
	}
}

func TestSubscribeRejectsNilAndPublishHonoursCancel(t *testing.T) {
	bus := New()
	if _, err := bus.Subscribe("t", nil); !errors.Is(err, ErrNilChannel) {
		t.Fatalf("expected ErrNilChannel, got %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := bus.Publish(ctx, "t", 1); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
