package events

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestPublishDeliversInSubscriptionOrder(t *testing.T) {
	bus := NewBus(nil)

	var order []int
	for i := 1; i <= 3; i++ {
		i := i
		bus.Subscribe(TypeExecutionCompleted, func(ctx context.Context, event Event) error {
			order = append(order, i)
			return nil
		})
	}

	bus.Publish(context.Background(), NewExecutionCompleted("exec-1", "BTC", "hyperliquid", "bybit", 1000, 4, time.Second))

	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Errorf("delivery order = %v, want [1 2 3]", order)
	}
}

func TestPublishOnlyMatchingType(t *testing.T) {
	bus := NewBus(nil)

	calls := 0
	bus.Subscribe(TypeSingleLegDetected, func(ctx context.Context, event Event) error {
		calls++
		return nil
	})

	bus.Publish(context.Background(), NewKeeperResumed())
	if calls != 0 {
		t.Errorf("handler for unrelated type called %d times", calls)
	}

	bus.Publish(context.Background(), NewSingleLegDetected("exec-1", "ETH", "bybit", "long", 500, "execution"))
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestPublishSurvivesHandlerError(t *testing.T) {
	bus := NewBus(nil)

	var delivered []string
	bus.Subscribe(TypeExecutionAborted, func(ctx context.Context, event Event) error {
		delivered = append(delivered, "first")
		return errors.New("handler failure")
	})
	bus.Subscribe(TypeExecutionAborted, func(ctx context.Context, event Event) error {
		delivered = append(delivered, "second")
		return nil
	})

	bus.Publish(context.Background(), NewExecutionAborted("exec-1", "BTC", "timeout", 2))

	if len(delivered) != 2 {
		t.Errorf("delivered = %v, want both handlers called", delivered)
	}
}

func TestPublishSurvivesHandlerPanic(t *testing.T) {
	bus := NewBus(nil)

	secondCalled := false
	bus.Subscribe(TypeKeeperPaused, func(ctx context.Context, event Event) error {
		panic("boom")
	})
	bus.Subscribe(TypeKeeperPaused, func(ctx context.Context, event Event) error {
		secondCalled = true
		return nil
	})

	bus.Publish(context.Background(), NewKeeperPaused("manual"))

	if !secondCalled {
		t.Error("panic in first handler aborted dispatch")
	}
}

func TestUnsubscribe(t *testing.T) {
	bus := NewBus(nil)

	calls := 0
	sub := bus.Subscribe(TypeKeeperResumed, func(ctx context.Context, event Event) error {
		calls++
		return nil
	})

	bus.Publish(context.Background(), NewKeeperResumed())
	bus.Unsubscribe(sub)
	bus.Publish(context.Background(), NewKeeperResumed())

	if calls != 1 {
		t.Errorf("calls = %d, want 1 (second publish after unsubscribe)", calls)
	}

	// Повторный Unsubscribe безопасен
	bus.Unsubscribe(sub)

	if got := bus.SubscriberCount(TypeKeeperResumed); got != 0 {
		t.Errorf("SubscriberCount = %d, want 0", got)
	}
}

func TestEventFields(t *testing.T) {
	ev := NewSingleLegDetected("exec-7", "SOL", "bitget", "short", 1500, "reconcile")

	if ev.Type() != TypeSingleLegDetected {
		t.Errorf("Type = %s", ev.Type())
	}
	if ev.ID() == "" {
		t.Error("event ID is empty")
	}
	if ev.Severity() != SeverityCritical {
		t.Errorf("Severity = %s, want critical", ev.Severity())
	}
	if ev.Symbol() != "SOL" {
		t.Errorf("Symbol = %s, want SOL", ev.Symbol())
	}
	if ev.Message() == "" {
		t.Error("Message is empty")
	}
	if ev.At().IsZero() {
		t.Error("timestamp is zero")
	}

	// ID уникальны между событиями
	other := NewKeeperResumed()
	if ev.ID() == other.ID() {
		t.Error("two events share an ID")
	}
}
