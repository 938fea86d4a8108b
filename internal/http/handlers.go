package http

import (
	"context"
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/parsascontentcorner/discordliteclient/internal/gateway"
)

// StateSource exposes the gateway session snapshot
type StateSource interface {
	State() gateway.State
}

// Pinger checks a dependency
type Pinger interface {
	Health(ctx context.Context) error
}

// Handlers serves the ops endpoints
type Handlers struct {
	gateway  StateSource
	metrics  http.Handler
	database Pinger
	logger   *zap.Logger
}

// NewHandlers creates the ops handlers. A nil metrics handler disables
// /metrics.
func NewHandlers(gw StateSource, metrics http.Handler, logger *zap.Logger) *Handlers {
	return &Handlers{
		gateway: gw,
		metrics: metrics,
		logger:  logger,
	}
}

// SetDatabase adds a database check to /health
func (h *Handlers) SetDatabase(db Pinger) {
	h.database = db
}

type healthResponse struct {
	Status    string         `json:"status"`
	Gateway   gateway.Status `json:"gateway"`
	Ready     bool           `json:"ready"`
	HasFailed bool           `json:"hasFailed"`
	Database  string         `json:"database,omitempty"`
}

// HealthHandler reports process liveness and the gateway status. It answers
// 503 only when the database check fails.
func (h *Handlers) HealthHandler(w http.ResponseWriter, r *http.Request) {
	state := h.gateway.State()
	resp := healthResponse{
		Status:    "ok",
		Gateway:   state.Status,
		Ready:     state.Status == gateway.StatusAuthenticated,
		HasFailed: state.HasFailed,
	}

	status := http.StatusOK
	if h.database != nil {
		resp.Database = "ok"
		if err := h.database.Health(r.Context()); err != nil {
			h.logger.Warn("database health check failed", zap.Error(err))
			resp.Status = "degraded"
			resp.Database = "unavailable"
			status = http.StatusServiceUnavailable
		}
	}
	h.writeJSON(w, status, resp)
}

// DebugHandler returns the session snapshot including the trace
func (h *Handlers) DebugHandler(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, h.gateway.State())
}

// MetricsHandler serves Prometheus metrics
func (h *Handlers) MetricsHandler(w http.ResponseWriter, r *http.Request) {
	if h.metrics == nil {
		http.NotFound(w, r)
		return
	}
	h.metrics.ServeHTTP(w, r)
}

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode response", zap.Error(err))
	}
}
