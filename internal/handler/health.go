// Package handler implements the operator HTTP API.
package handler

import (
	"net/http"

	natsclient "github.com/nextnest/broker-pipeline/internal/nats"
	"github.com/nextnest/broker-pipeline/internal/worker"
)

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	natsClient *natsclient.Client
	pool       *worker.Pool
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(natsClient *natsclient.Client, pool *worker.Pool) *HealthHandler {
	return &HealthHandler{
		natsClient: natsClient,
		pool:       pool,
	}
}

// Health handles GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
	})
}

// Ready handles GET /ready
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.natsClient == nil || !h.natsClient.IsConnected() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"reason": "NATS not connected",
		})
		return
	}

	if h.pool != nil {
		status := h.pool.Status()
		if status.Initialized && !status.Running {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "not ready",
				"reason": "worker pool stopped",
			})
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ready",
	})
}
