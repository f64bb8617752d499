package handler

import (
	"context"
	"net/http"
	"sort"

	"github.com/kiranshivaraju/castkeeper/internal/api/response"
)

// Pinger is any dependency with a connectivity check.
type Pinger interface {
	Ping(ctx context.Context) error
}

// NewHealthHandler returns GET /api/v1/health. Each named dependency is
// pinged; any failure reports 503 with per-service status.
func NewHealthHandler(services map[string]Pinger) http.HandlerFunc {
	names := make([]string, 0, len(services))
	for name := range services {
		names = append(names, name)
	}
	sort.Strings(names)

	return func(w http.ResponseWriter, r *http.Request) {
		checks := make(map[string]string, len(names))
		degraded := false
		for _, name := range names {
			checks[name] = "ok"
			if err := services[name].Ping(r.Context()); err != nil {
				checks[name] = "degraded"
				degraded = true
			}
		}

		if degraded {
			response.Error(w, http.StatusServiceUnavailable, "DEGRADED",
				"One or more services degraded", checks)
			return
		}

		response.JSON(w, map[string]any{
			"status":   "ok",
			"services": checks,
		})
	}
}
