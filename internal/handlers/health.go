package handlers

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"tasklist-api/internal/respond"
	"tasklist-api/pkg/logging/logging"
)

// Healthz reports that the process is serving.
func Healthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Readyz reports 503 until ping succeeds.
func Readyz(ping func(ctx context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := ping(ctx); err != nil {
			logging.L(ctx).Warn("readiness check failed", zap.Error(err))
			respond.Error(w, http.StatusServiceUnavailable, "not ready")
			return
		}
		respond.JSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}
