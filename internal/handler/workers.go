package handler

import (
	"net/http"

	"github.com/nextnest/broker-pipeline/internal/worker"
)

// WorkerHandler exposes worker pool status and throughput.
type WorkerHandler struct {
	pool *worker.Pool
}

// NewWorkerHandler creates a new worker handler.
func NewWorkerHandler(pool *worker.Pool) *WorkerHandler {
	return &WorkerHandler{pool: pool}
}

// Status handles GET /api/v1/workers/status
func (h *WorkerHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.pool.Status())
}

// Performance handles GET /api/v1/workers/performance
func (h *WorkerHandler) Performance(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.pool.Performance())
}

// Pause handles POST /api/v1/workers/pause
func (h *WorkerHandler) Pause(w http.ResponseWriter, r *http.Request) {
	h.pool.Pause()
	writeJSON(w, http.StatusOK, h.pool.Status())
}

// Resume handles POST /api/v1/workers/resume
func (h *WorkerHandler) Resume(w http.ResponseWriter, r *http.Request) {
	h.pool.Resume()
	writeJSON(w, http.StatusOK, h.pool.Status())
}
