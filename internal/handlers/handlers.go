// Package handlers provides the HTTP observability surface for the pool.
package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/snapdeck/snapdeck-go/internal/browser"
	"github.com/snapdeck/snapdeck-go/internal/config"
	"github.com/snapdeck/snapdeck-go/internal/types"
	"github.com/snapdeck/snapdeck-go/pkg/version"
)

// PoolView is the read-only slice of the pool the handlers need.
type PoolView interface {
	Stats() types.PoolSnapshot
	CheckHealth() browser.Health
	StartedAt() time.Time
}

// Handler serves the health and stats endpoints.
type Handler struct {
	pool PoolView
	cfg  *config.Config
}

// New creates a Handler backed by the given pool view.
func New(pool PoolView, cfg *config.Config) *Handler {
	return &Handler{
		pool: pool,
		cfg:  cfg,
	}
}

// ServeHTTP routes requests to the read-only endpoints.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	switch r.URL.Path {
	case "/health", "/":
		h.HandleHealth(w, r)
	case "/v1/stats":
		h.HandleStats(w, r)
	default:
		h.writeError(w, http.StatusNotFound, "Not found")
	}
}

// HandleHealth handles the /health endpoint.
func (h *Handler) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	health := h.pool.CheckHealth()

	status := "ok"
	code := http.StatusOK
	if !health.Healthy {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	h.writeJSON(w, code, types.HealthResponse{
		Status:    status,
		Version:   version.Full(),
		GoVersion: version.GoVersion(),
		Healthy:   health.Healthy,
		Issues:    health.Issues,
		Pool:      health.Stats,
	})
}

// HandleStats handles the /v1/stats endpoint.
func (h *Handler) HandleStats(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, types.StatsResponse{
		Status:        "ok",
		Version:       version.Full(),
		UptimeSeconds: int64(time.Since(h.pool.StartedAt()).Seconds()),
		Pool:          h.pool.Stats(),
	})
}

func (h *Handler) writeError(w http.ResponseWriter, code int, message string) {
	h.writeJSON(w, code, types.ErrorResponse{
		Status:  "error",
		Message: message,
		Version: version.Full(),
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}
