package models

import "time"

// EventRow - строка таблицы event_log: журнал доменных событий,
// только append
type EventRow struct {
	ID        int64     `json:"id"`
	EventID   string    `json:"eventId"`
	Type      string    `json:"type"`
	Severity  string    `json:"severity"`
	Symbol    string    `json:"symbol"`
	Message   string    `json:"message"`
	Meta      string    `json:"meta"` // полное событие как JSON
	CreatedAt time.Time `json:"createdAt"`
}
