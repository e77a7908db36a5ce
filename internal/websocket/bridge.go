package websocket

import (
	"context"

	"fundarb/internal/events"
)

// Bridge подписывает hub на все доменные события шины: каждое
// событие уходит подключенным UI-клиентам. Возвращает подписки
// для снятия при остановке.
func (h *Hub) Bridge(bus *events.Bus) []events.Subscription {
	types := events.AllTypes()
	subs := make([]events.Subscription, 0, len(types))
	for _, eventType := range types {
		subs = append(subs, bus.Subscribe(eventType, h.handleEvent))
	}
	return subs
}

func (h *Hub) handleEvent(ctx context.Context, ev events.Event) error {
	h.BroadcastEvent(ev)
	return nil
}
