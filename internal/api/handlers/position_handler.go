package handlers

import (
	"net/http"

	"fundarb/internal/keeper"
	"fundarb/internal/losstrack"
	"fundarb/internal/registry"
)

// PositionHandler отвечает на GET /api/v1/positions
type PositionHandler struct {
	keeper  KeeperControl
	tracker *losstrack.Tracker
	orders  *registry.OrderRegistry
}

// NewPositionHandler создает PositionHandler
func NewPositionHandler(k KeeperControl, tracker *losstrack.Tracker, orders *registry.OrderRegistry) *PositionHandler {
	return &PositionHandler{keeper: k, tracker: tracker, orders: orders}
}

// BreakEvenView - окупаемость активной пары
type BreakEvenView struct {
	Reachable        bool    `json:"reachable"`
	AlreadyBreakEven bool    `json:"alreadyBreakEven"`
	HourlyReturnUsd  float64 `json:"hourlyReturnUsd"`
	FeesEarnedUsd    float64 `json:"feesEarnedUsd"`
	RemainingCostUsd float64 `json:"remainingCostUsd"`
	RemainingHours   float64 `json:"remainingHours"`
}

// PositionsResponse - позиции, окупаемость и накопленный убыток
type PositionsResponse struct {
	ActivePosition    *keeper.PairPosition       `json:"activePosition"`
	BreakEven         *BreakEvenView             `json:"breakEven,omitempty"`
	TrackedPositions  []losstrack.PositionEntry  `json:"trackedPositions"`
	CumulativeLossUsd float64                    `json:"cumulativeLossUsd"`
	SingleLegs        []registry.SingleLegRecord `json:"singleLegs"`
}

// GetPositions возвращает активную пару с расчётом окупаемости,
// все отслеживаемые позиции, накопленный убыток и одиночные ноги.
//
// GET /api/v1/positions
func (h *PositionHandler) GetPositions(w http.ResponseWriter, r *http.Request) {
	if h.keeper == nil || h.tracker == nil || h.orders == nil {
		writeError(w, http.StatusServiceUnavailable, "keeper not initialized", "")
		return
	}

	resp := PositionsResponse{
		ActivePosition:    h.keeper.ActivePosition(),
		CumulativeLossUsd: h.tracker.CumulativeLoss(),
	}

	if active := resp.ActivePosition; active != nil {
		resp.BreakEven = h.breakEven(active)
	}

	resp.TrackedPositions = h.tracker.CurrentPositions()
	if resp.TrackedPositions == nil {
		resp.TrackedPositions = []losstrack.PositionEntry{}
	}
	resp.SingleLegs = h.orders.SingleLegs()
	if resp.SingleLegs == nil {
		resp.SingleLegs = []registry.SingleLegRecord{}
	}

	writeJSON(w, http.StatusOK, resp)
}

// breakEven считает окупаемость активной пары по текущему спреду.
// nil, если ставки ещё не наблюдались или позиция не отслеживается.
func (h *PositionHandler) breakEven(active *keeper.PairPosition) *BreakEvenView {
	longRate, okLong := h.keeper.HourlyRate(active.Symbol, active.LongVenue)
	shortRate, okShort := h.keeper.HourlyRate(active.Symbol, active.ShortVenue)
	if !okLong || !okShort {
		return nil
	}

	be, err := h.tracker.ComputeBreakEven(active.Symbol, active.ShortVenue, true, shortRate-longRate, active.SizeUsd)
	if err != nil {
		return nil
	}
	return &BreakEvenView{
		Reachable:        be.Reachable,
		AlreadyBreakEven: be.AlreadyBreakEven,
		HourlyReturnUsd:  be.HourlyReturn,
		FeesEarnedUsd:    be.FeesEarnedSoFar,
		RemainingCostUsd: be.RemainingCost,
		RemainingHours:   be.RemainingHours,
	}
}
