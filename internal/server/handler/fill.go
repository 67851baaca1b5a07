package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/execsync/internal/domain"
)

// FillHandler serves stored correlated fills.
type FillHandler struct {
	fills  domain.FillStore
	logger *slog.Logger
}

// NewFillHandler creates a FillHandler with the given store and logger.
func NewFillHandler(fills domain.FillStore, logger *slog.Logger) *FillHandler {
	return &FillHandler{
		fills:  fills,
		logger: logger,
	}
}

type listFillsResponse struct {
	Fills  []domain.FillRecord `json:"fills"`
	Limit  int                 `json:"limit"`
	Offset int                 `json:"offset"`
}

// ListFills returns fills for one account or one symbol, newest first.
// GET /api/fills?account=DU1&limit=50&offset=0&since=2026-01-02T00:00:00Z
// GET /api/fills?symbol=AAPL
func (h *FillHandler) ListFills(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)
	q := r.URL.Query()

	var (
		fills []domain.FillRecord
		err   error
	)
	switch {
	case q.Get("account") != "":
		fills, err = h.fills.ListByAccount(r.Context(), q.Get("account"), opts)
	case q.Get("symbol") != "":
		fills, err = h.fills.ListBySymbol(r.Context(), q.Get("symbol"), opts)
	default:
		writeError(w, http.StatusBadRequest, "account or symbol is required")
		return
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list fills failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list fills")
		return
	}
	if fills == nil {
		fills = []domain.FillRecord{}
	}

	writeJSON(w, http.StatusOK, listFillsResponse{
		Fills:  fills,
		Limit:  opts.Limit,
		Offset: opts.Offset,
	})
}

// GetFill returns a single fill by exec id.
// GET /api/fills/{exec_id}
func (h *FillHandler) GetFill(w http.ResponseWriter, r *http.Request) {
	execID := r.PathValue("exec_id")
	if execID == "" {
		writeError(w, http.StatusBadRequest, "missing exec id")
		return
	}

	fill, err := h.fills.GetByExecID(r.Context(), execID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "fill not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: get fill failed",
			slog.String("exec_id", execID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get fill")
		return
	}

	writeJSON(w, http.StatusOK, fill)
}
