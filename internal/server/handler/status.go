package handler

import (
	"net/http"
	"time"

	"github.com/arbiterlabs/dexarbiter/internal/domain"
	"github.com/arbiterlabs/dexarbiter/internal/engine"
)

// EngineStatus is the view of the dispatcher the status endpoint needs.
type EngineStatus interface {
	Status() engine.Status
	ActiveTrades() []domain.Trade
}

// StatusHandler serves a point-in-time snapshot of the engine.
type StatusHandler struct {
	engine    EngineStatus
	mode      string
	startedAt time.Time
}

// NewStatusHandler creates a StatusHandler. eng may be nil in monitor-only
// deployments, in which case only mode and uptime are reported.
func NewStatusHandler(eng EngineStatus, mode string, startedAt time.Time) *StatusHandler {
	return &StatusHandler{engine: eng, mode: mode, startedAt: startedAt}
}

// GetStatus responds with engine counters and the in-flight trade set.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"mode":           h.mode,
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
	}
	if h.engine != nil {
		body["engine"] = h.engine.Status()
		body["active_trades"] = h.engine.ActiveTrades()
	}
	writeJSON(w, http.StatusOK, body)
}
