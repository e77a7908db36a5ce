package handlers

import (
	"net/http"
	"time"

	"fundarb/pkg/ratelimit"
)

// LimiterReporter - аналитика rate limiter'а
type LimiterReporter interface {
	Report(window time.Duration) ratelimit.Report
}

// RatelimitHandler отвечает на GET /api/v1/ratelimit
type RatelimitHandler struct {
	limiter LimiterReporter
}

// NewRatelimitHandler создает RatelimitHandler
func NewRatelimitHandler(limiter LimiterReporter) *RatelimitHandler {
	return &RatelimitHandler{limiter: limiter}
}

// RatelimitResponse - сводки limiter'а за час и за сутки
type RatelimitResponse struct {
	Hour ratelimit.Report `json:"hour"`
	Day  ratelimit.Report `json:"day"`
}

// GetReport возвращает аналитику limiter'а: запросы, веса, очереди
// и внешние rate limit'ы по площадкам.
//
// GET /api/v1/ratelimit
func (h *RatelimitHandler) GetReport(w http.ResponseWriter, r *http.Request) {
	if h.limiter == nil {
		writeError(w, http.StatusServiceUnavailable, "limiter not initialized", "")
		return
	}

	writeJSON(w, http.StatusOK, RatelimitResponse{
		Hour: h.limiter.Report(time.Hour),
		Day:  h.limiter.Report(24 * time.Hour),
	})
}
