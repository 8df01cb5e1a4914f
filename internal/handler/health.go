package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"worktracker/internal/logfields"
)

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type HealthHandler struct {
	store   Pinger
	metrics http.Handler
}

// NewHealthHandler serves liveness, readiness and, when metrics is non-nil,
// the Prometheus scrape endpoint.
func NewHealthHandler(store Pinger, metrics http.Handler) *HealthHandler {
	return &HealthHandler{store: store, metrics: metrics}
}

func (h *HealthHandler) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

func (h *HealthHandler) HandleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := h.store.Ping(ctx); err != nil {
		slog.Warn("Readiness check failed", logfields.Error(err))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		writeJSON(w, map[string]string{"status": "unavailable", "error": err.Error()})
		return
	}
	writeJSON(w, map[string]string{"status": "ready"})
}

func (h *HealthHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.HandleHealth)
	mux.HandleFunc("GET /ready", h.HandleReady)
	if h.metrics != nil {
		mux.Handle("GET /metrics", h.metrics)
	}
}
