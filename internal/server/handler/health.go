package handler

import (
	"context"
	"net/http"
	"time"
)

// HealthCheckFunc probes one backing dependency.
type HealthCheckFunc func(ctx context.Context) error

// HealthHandler serves the health-check endpoint. Each registered check is
// probed on every request; the endpoint reports 503 when any check fails.
type HealthHandler struct {
	checks map[string]HealthCheckFunc
}

// NewHealthHandler creates a HealthHandler. checks may be nil or empty, in
// which case the endpoint always reports healthy.
func NewHealthHandler(checks map[string]HealthCheckFunc) *HealthHandler {
	return &HealthHandler{checks: checks}
}

// HealthCheck responds with overall status plus a per-dependency breakdown.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := http.StatusOK
	overall := "ok"
	deps := make(map[string]string, len(h.checks))
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			deps[name] = err.Error()
			overall = "degraded"
			status = http.StatusServiceUnavailable
		} else {
			deps[name] = "ok"
		}
	}

	writeJSON(w, status, map[string]any{
		"status":       overall,
		"dependencies": deps,
		"timestamp":    time.Now().UTC().Format(time.RFC3339),
	})
}
