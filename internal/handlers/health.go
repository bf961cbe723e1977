package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog/hlog"
)

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type HealthResponse struct {
	Status string `json:"status"`
}

// Healthz reports 200 when the store answers a ping and 503 otherwise.
func Healthz(store Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := store.Ping(ctx); err != nil {
			hlog.FromRequest(r).Warn().Err(err).Msg("health check failed")
			writeJSON(w, http.StatusServiceUnavailable, HealthResponse{Status: "unavailable"})
			return
		}
		writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
	}
}
