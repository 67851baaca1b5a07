package handler

import (
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/execsync/internal/domain"
)

// AnomalyHandler serves the anomalies a cycle recorded.
type AnomalyHandler struct {
	anomalies domain.AnomalyStore
	logger    *slog.Logger
}

// NewAnomalyHandler creates an AnomalyHandler.
func NewAnomalyHandler(anomalies domain.AnomalyStore, logger *slog.Logger) *AnomalyHandler {
	return &AnomalyHandler{anomalies: anomalies, logger: logger}
}

// ListByCycle returns the anomalies of one cycle in detection order.
// GET /api/cycles/{cycle_id}/anomalies
func (h *AnomalyHandler) ListByCycle(w http.ResponseWriter, r *http.Request) {
	cycleID := r.PathValue("cycle_id")
	if cycleID == "" {
		writeError(w, http.StatusBadRequest, "missing cycle id")
		return
	}

	anomalies, err := h.anomalies.ListByCycle(r.Context(), cycleID)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list anomalies failed",
			slog.String("cycle_id", cycleID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list anomalies")
		return
	}
	if anomalies == nil {
		anomalies = []domain.AnomalyRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"cycle_id":  cycleID,
		"anomalies": anomalies,
	})
}
