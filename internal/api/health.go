package api

import (
	"context"
	"net/http"
	"time"
)

// Pinger probes one backing dependency.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthChecks maps component names to their probes.
type HealthChecks map[string]Pinger

// Health reports process liveness plus per-dependency status. The endpoint
// stays 200 while any degraded dependency is listed, since the subsystem
// keeps serving in degraded modes.
func (h *Handler) HealthHandler(checks HealthChecks) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		components := make(map[string]string, len(checks))
		for name, pinger := range checks {
			if pinger == nil {
				components[name] = "disabled"
				continue
			}
			if err := pinger.Ping(ctx); err != nil {
				components[name] = "unavailable"
				continue
			}
			components[name] = "ok"
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":     "ok",
			"components": components,
		})
	}
}
