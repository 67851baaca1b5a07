package handler

import (
	"net/http"
	"time"
)

// ConnectionChecker reports whether the venue session holds a connection.
type ConnectionChecker interface {
	Connected() bool
}

// HealthHandler serves the health-check endpoint.
type HealthHandler struct {
	venue ConnectionChecker
	now   func() time.Time
}

// NewHealthHandler creates a HealthHandler for the given session.
func NewHealthHandler(venue ConnectionChecker) *HealthHandler {
	return &HealthHandler{venue: venue, now: time.Now}
}

// HealthCheck responds 200 while the venue is connected and 503 otherwise.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	status, code := "ok", http.StatusOK
	connected := h.venue.Connected()
	if !connected {
		status, code = "degraded", http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status":          status,
		"venue_connected": connected,
		"timestamp":       h.now().UTC().Format(time.RFC3339),
	})
}
