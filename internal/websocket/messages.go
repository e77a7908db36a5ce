package websocket

import (
	"time"

	"fundarb/internal/events"
	"fundarb/internal/executor"
)

// MessageType определяет тип WebSocket сообщения
type MessageType string

// Типы WebSocket сообщений
const (
	// MessageTypeExecutionUpdate - прогресс исполнения по слайсам
	MessageTypeExecutionUpdate MessageType = "executionUpdate"

	// MessageTypeEvent - доменное событие (исполнения, одиночные
	// ноги, ребалансы, пауза)
	MessageTypeEvent MessageType = "event"

	// MessageTypeEquityUpdate - обновление equity по площадкам
	MessageTypeEquityUpdate MessageType = "equityUpdate"
)

// BaseMessage - общая часть всех WebSocket сообщений
type BaseMessage struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
}

// ExecutionUpdateMessage - завершился очередной слайс исполнения
type ExecutionUpdateMessage struct {
	BaseMessage
	ExecutionID string  `json:"executionId"`
	Symbol      string  `json:"symbol"`
	LongVenue   string  `json:"longVenue"`
	ShortVenue  string  `json:"shortVenue"`
	SliceIndex  int     `json:"sliceIndex"`
	TotalSlices int     `json:"totalSlices"`
	SliceSize   float64 `json:"sliceSize"`
	LongFilled  float64 `json:"longFilled"`
	ShortFilled float64 `json:"shortFilled"`
	RolledBack  bool    `json:"rolledBack"`
	Error       string  `json:"error,omitempty"`
}

// EventMessage - доменное событие для UI
type EventMessage struct {
	BaseMessage
	EventType string      `json:"eventType"`
	Severity  string      `json:"severity"`
	Symbol    string      `json:"symbol,omitempty"`
	Message   string      `json:"message"`
	Data      interface{} `json:"data"`
}

// EquityUpdateMessage - снимок equity по площадкам
type EquityUpdateMessage struct {
	BaseMessage
	TotalUsd float64            `json:"totalUsd"`
	Venues   map[string]float64 `json:"venues"`
}

// BroadcastExecutionUpdate отправляет прогресс слайса.
// Подключается к движку через executor.Engine.OnSliceProgress.
func (h *Hub) BroadcastExecutionUpdate(req *executor.Request, slice executor.SliceResult, totalSlices int) {
	h.Broadcast(&ExecutionUpdateMessage{
		BaseMessage: BaseMessage{
			Type:      MessageTypeExecutionUpdate,
			Timestamp: time.Now(),
		},
		ExecutionID: req.ExecutionID,
		Symbol:      req.Symbol,
		LongVenue:   req.LongVenue.Name(),
		ShortVenue:  req.ShortVenue.Name(),
		SliceIndex:  slice.Index,
		TotalSlices: totalSlices,
		SliceSize:   slice.Size,
		LongFilled:  slice.LongFilled,
		ShortFilled: slice.ShortFilled,
		RolledBack:  slice.RolledBack,
		Error:       slice.Error,
	})
}

// BroadcastEvent отправляет доменное событие
func (h *Hub) BroadcastEvent(ev events.Event) {
	h.Broadcast(&EventMessage{
		BaseMessage: BaseMessage{
			Type:      MessageTypeEvent,
			Timestamp: ev.At(),
		},
		EventType: ev.Type(),
		Severity:  string(ev.Severity()),
		Symbol:    ev.Symbol(),
		Message:   ev.Message(),
		Data:      ev,
	})
}

// BroadcastEquityUpdate отправляет снимок equity
func (h *Hub) BroadcastEquityUpdate(totalUsd float64, venues map[string]float64) {
	h.Broadcast(&EquityUpdateMessage{
		BaseMessage: BaseMessage{
			Type:      MessageTypeEquityUpdate,
			Timestamp: time.Now(),
		},
		TotalUsd: totalUsd,
		Venues:   venues,
	})
}
