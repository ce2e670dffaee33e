package handler

import (
	"net/http"
	"time"
)

// StatusHandler serves the backend status (mode, network) for dashboards.
type StatusHandler struct {
	Mode      string
	Network   string
	ChainID   int
	StartedAt time.Time
}

// NewStatusHandler creates a StatusHandler for the given runtime metadata.
func NewStatusHandler(mode, network string, chainID int, startedAt time.Time) *StatusHandler {
	return &StatusHandler{Mode: mode, Network: network, ChainID: chainID, StartedAt: startedAt}
}

// GetStatus responds with the current backend mode, network, and uptime.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	uptime := int64(time.Since(h.StartedAt).Seconds())
	if uptime < 0 {
		uptime = 0
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"mode":           h.Mode,
		"network":        h.Network,
		"chain_id":       h.ChainID,
		"uptime_seconds": uptime,
	})
}
