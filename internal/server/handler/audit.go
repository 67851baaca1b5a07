package handler

import (
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/execsync/internal/domain"
)

// AuditHandler serves the audit log written by cycles and placed orders.
type AuditHandler struct {
	audit  domain.AuditStore
	logger *slog.Logger
}

// NewAuditHandler creates an AuditHandler.
func NewAuditHandler(audit domain.AuditStore, logger *slog.Logger) *AuditHandler {
	return &AuditHandler{audit: audit, logger: logger}
}

// ListAudit returns audit entries newest first, optionally of one event.
// GET /api/audit?event=cycle_failed&limit=20
func (h *AuditHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)

	var (
		entries []domain.AuditEntry
		err     error
	)
	if event := r.URL.Query().Get("event"); event != "" {
		entries, err = h.audit.ListByEvent(r.Context(), event, opts)
	} else {
		entries, err = h.audit.List(r.Context(), opts)
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list audit failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list audit entries")
		return
	}
	if entries == nil {
		entries = []domain.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}
