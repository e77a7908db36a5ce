package handlers

import (
	"net/http"

	"fundarb/internal/models"
)

// EventStore - журнал доменных событий (nil при работе без БД)
type EventStore interface {
	GetRecent(limit int) ([]*models.EventRow, error)
	GetBySeverity(severity string, limit int) ([]*models.EventRow, error)
}

// EventHandler отвечает на GET /api/v1/events
type EventHandler struct {
	store EventStore
}

// NewEventHandler создает EventHandler. store может быть nil.
func NewEventHandler(store EventStore) *EventHandler {
	return &EventHandler{store: store}
}

// GetEvents возвращает последние доменные события.
//
// GET /api/v1/events?severity=critical&limit=50
//
// Query Parameters:
// - severity (optional): info | warning | critical
// - limit (optional): количество записей (по умолчанию 50, максимум 500)
//
// Response 503 Service Unavailable - если БД не настроена.
func (h *EventHandler) GetEvents(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeError(w, http.StatusServiceUnavailable, "persistence not configured", "")
		return
	}

	limit := parseLimit(r, 50, 500)

	var (
		rows []*models.EventRow
		err  error
	)
	if severity := r.URL.Query().Get("severity"); severity != "" {
		rows, err = h.store.GetBySeverity(severity, limit)
	} else {
		rows, err = h.store.GetRecent(limit)
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get events", err.Error())
		return
	}

	if rows == nil {
		rows = []*models.EventRow{}
	}
	writeJSON(w, http.StatusOK, rows)
}
