package handler

import (
	"net/http"

	"github.com/alanyoungcy/execsync/internal/service"
)

// CycleStatusSource reports the cycles run so far. *service.ReconcileService
// satisfies it.
type CycleStatusSource interface {
	Status() service.CycleStatus
}

// StatusHandler serves the run mode and the cycle counters.
type StatusHandler struct {
	mode   string
	cycles CycleStatusSource
}

// NewStatusHandler creates a StatusHandler.
func NewStatusHandler(mode string, cycles CycleStatusSource) *StatusHandler {
	return &StatusHandler{mode: mode, cycles: cycles}
}

type statusResponse struct {
	Mode   string              `json:"mode"`
	Cycles service.CycleStatus `json:"cycles"`
}

// GetStatus responds with the mode and the latest cycle outcome.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{
		Mode:   h.mode,
		Cycles: h.cycles.Status(),
	})
}
