package handlers

import (
	"context"
	"net/http"
	"time"

	"fundarb/internal/keeper"
)

// KeeperControl - поверхность keeper'а, нужная API
type KeeperControl interface {
	Pause(ctx context.Context, reason string)
	Resume(ctx context.Context)
	Paused() bool
	ActivePosition() *keeper.PairPosition
	HourlyRate(symbol, venue string) (float64, bool)
}

// PortfolioView - снимок портфеля по площадкам
type PortfolioView interface {
	Total() float64
	Equities() map[string]float64
	UpdatedAt() time.Time
}

// StatusHandler отвечает на GET /api/v1/status
type StatusHandler struct {
	keeper    KeeperControl
	portfolio PortfolioView
	startedAt time.Time
}

// NewStatusHandler создает StatusHandler
func NewStatusHandler(k KeeperControl, portfolio PortfolioView) *StatusHandler {
	return &StatusHandler{
		keeper:    k,
		portfolio: portfolio,
		startedAt: time.Now(),
	}
}

// StatusResponse - состояние keeper'а и портфеля
type StatusResponse struct {
	Paused          bool                 `json:"paused"`
	UptimeSeconds   float64              `json:"uptimeSeconds"`
	TotalEquityUsd  float64              `json:"totalEquityUsd"`
	VenueEquities   map[string]float64   `json:"venueEquities"`
	EquityUpdatedAt time.Time            `json:"equityUpdatedAt"`
	ActivePosition  *keeper.PairPosition `json:"activePosition"`
}

// GetStatus возвращает состояние keeper'а, подключенных площадок и
// портфеля.
//
// GET /api/v1/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	if h.keeper == nil || h.portfolio == nil {
		writeError(w, http.StatusServiceUnavailable, "keeper not initialized", "")
		return
	}

	equities := h.portfolio.Equities()
	if equities == nil {
		equities = map[string]float64{}
	}

	writeJSON(w, http.StatusOK, StatusResponse{
		Paused:          h.keeper.Paused(),
		UptimeSeconds:   time.Since(h.startedAt).Seconds(),
		TotalEquityUsd:  h.portfolio.Total(),
		VenueEquities:   equities,
		EquityUpdatedAt: h.portfolio.UpdatedAt(),
		ActivePosition:  h.keeper.ActivePosition(),
	})
}
