package app

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/danmu-hub/console/internal/platform/httpx"
)

// HealthCheck probes one backing service.
type HealthCheck func(ctx context.Context) error

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func healthHandler(checks map[string]HealthCheck, logger *slog.Logger) http.HandlerFunc {
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		resp := healthResponse{Status: "ok"}
		if len(names) > 0 {
			resp.Checks = make(map[string]string, len(names))
		}
		for _, name := range names {
			if err := checks[name](ctx); err != nil {
				if logger != nil {
					logger.Warn("health check failed", slog.String("check", name), slog.Any("error", err))
				}
				resp.Status = "degraded"
				resp.Checks[name] = "down"
				continue
			}
			resp.Checks[name] = "up"
		}
		status := http.StatusOK
		if resp.Status != "ok" {
			status = http.StatusServiceUnavailable
		}
		httpx.JSON(w, status, resp)
	}
}
