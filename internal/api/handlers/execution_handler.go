package handlers

import (
	"net/http"
	"strconv"

	"fundarb/internal/models"
)

// ExecutionStore - хранилище исполнений (nil при работе без БД)
type ExecutionStore interface {
	GetRecent(limit int) ([]*models.Execution, error)
	GetBySymbol(symbol string, limit int) ([]*models.Execution, error)
}

// ExecutionHandler отвечает на GET /api/v1/executions
type ExecutionHandler struct {
	store ExecutionStore
}

// NewExecutionHandler создает ExecutionHandler. store может быть nil.
func NewExecutionHandler(store ExecutionStore) *ExecutionHandler {
	return &ExecutionHandler{store: store}
}

// GetExecutions возвращает последние исполнения.
//
// GET /api/v1/executions?symbol=ETH&limit=20
//
// Query Parameters:
// - symbol (optional): фильтр по символу
// - limit (optional): количество записей (по умолчанию 20, максимум 200)
//
// Response 503 Service Unavailable - если БД не настроена.
func (h *ExecutionHandler) GetExecutions(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeError(w, http.StatusServiceUnavailable, "persistence not configured", "")
		return
	}

	limit := parseLimit(r, 20, 200)

	var (
		executions []*models.Execution
		err        error
	)
	if symbol := r.URL.Query().Get("symbol"); symbol != "" {
		executions, err = h.store.GetBySymbol(symbol, limit)
	} else {
		executions, err = h.store.GetRecent(limit)
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get executions", err.Error())
		return
	}

	if executions == nil {
		executions = []*models.Execution{}
	}
	writeJSON(w, http.StatusOK, executions)
}

// parseLimit читает limit из query string с верхней границей
func parseLimit(r *http.Request, def, max int) int {
	limit := def
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
			if limit > max {
				limit = max
			}
		}
	}
	return limit
}
