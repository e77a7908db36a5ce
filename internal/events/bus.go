// Package events - внутрипроцессный типизированный pub/sub
// доменных событий.
package events

import (
	"context"
	"fmt"
	"sync"

	"fundarb/internal/metrics"
	"fundarb/pkg/utils"
)

// Handler обрабатывает событие. Ошибка логируется, но не прерывает
// доставку остальным подписчикам.
type Handler func(ctx context.Context, event Event) error

// Subscription - дескриптор подписки для Unsubscribe
type Subscription struct {
	eventType string
	id        uint64
}

// Bus доставляет события подписчикам последовательно, в порядке
// подписки. Без персистентности и повторов: журналирование делает
// отдельный подписчик репозитория.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]busEntry
	nextID   uint64
	logger   *utils.Logger
}

type busEntry struct {
	id      uint64
	handler Handler
}

// NewBus создает пустую шину
func NewBus(logger *utils.Logger) *Bus {
	return &Bus{
		handlers: make(map[string][]busEntry),
		logger:   utils.EnsureLogger(logger).WithComponent("events"),
	}
}

// Subscribe регистрирует handler на тип события
func (b *Bus) Subscribe(eventType string, handler Handler) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := Subscription{eventType: eventType, id: b.nextID}
	b.handlers[eventType] = append(b.handlers[eventType], busEntry{id: sub.id, handler: handler})
	return sub
}

// Unsubscribe снимает подписку. Повторный вызов безопасен.
func (b *Bus) Unsubscribe(sub Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	entries := b.handlers[sub.eventType]
	for i, e := range entries {
		if e.id == sub.id {
			b.handlers[sub.eventType] = append(entries[:i], entries[i+1:]...)
			return
		}
	}
}

// Publish доставляет событие всем подписчикам его типа, последовательно.
// Паника или ошибка одного подписчика не прерывает цикл доставки.
func (b *Bus) Publish(ctx context.Context, event Event) {
	b.mu.RLock()
	entries := append([]busEntry(nil), b.handlers[event.Type()]...)
	b.mu.RUnlock()

	metrics.RecordEvent(event.Type())

	for _, e := range entries {
		if err := b.dispatch(ctx, e.handler, event); err != nil {
			b.logger.Error("event handler failed",
				utils.String("event_type", event.Type()),
				utils.String("event_id", event.ID()),
				utils.Err(err),
			)
		}
	}
}

// dispatch вызывает handler, превращая панику в ошибку
func (b *Bus) dispatch(ctx context.Context, handler Handler, event Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler(ctx, event)
}

// SubscriberCount возвращает число подписчиков типа (для тестов и
// диагностики)
func (b *Bus) SubscriberCount(eventType string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[eventType])
}
