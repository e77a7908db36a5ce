package handlers

import "net/http"

// KeeperHandler управляет паузой стратегии.
//
// Endpoints:
// - POST /api/v1/keeper/pause - приостановить открытие и ребаланс
// - POST /api/v1/keeper/resume - возобновить
//
// Пауза не трогает открытые позиции и не останавливает сверку:
// аварийное закрытие одиночных ног продолжает работать.
type KeeperHandler struct {
	keeper KeeperControl
}

// NewKeeperHandler создает KeeperHandler
func NewKeeperHandler(k KeeperControl) *KeeperHandler {
	return &KeeperHandler{keeper: k}
}

// Pause приостанавливает цикл оценки
//
// POST /api/v1/keeper/pause
//
// Response 200 OK: {"paused": true}
func (h *KeeperHandler) Pause(w http.ResponseWriter, r *http.Request) {
	if h.keeper == nil {
		writeError(w, http.StatusServiceUnavailable, "keeper not initialized", "")
		return
	}

	h.keeper.Pause(r.Context(), "operator request")
	writeJSON(w, http.StatusOK, map[string]bool{"paused": true})
}

// Resume возобновляет цикл оценки
//
// POST /api/v1/keeper/resume
//
// Response 200 OK: {"paused": false}
func (h *KeeperHandler) Resume(w http.ResponseWriter, r *http.Request) {
	if h.keeper == nil {
		writeError(w, http.StatusServiceUnavailable, "keeper not initialized", "")
		return
	}

	h.keeper.Resume(r.Context())
	writeJSON(w, http.StatusOK, map[string]bool{"paused": false})
}
