package handler

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/nextnest/broker-pipeline/internal/queue"
	"github.com/nextnest/broker-pipeline/pkg/logger"
)

// QueueHandler exposes queue metrics and pause/resume controls.
type QueueHandler struct {
	queue  *queue.Queue
	logger *logger.Logger
}

// NewQueueHandler creates a new queue handler.
func NewQueueHandler(q *queue.Queue, log *logger.Logger) *QueueHandler {
	return &QueueHandler{queue: q, logger: log}
}

// Metrics handles GET /api/v1/queue/metrics. A snapshot failure degrades to
// queue:null rather than an error; this is a monitoring surface.
func (h *QueueHandler) Metrics(w http.ResponseWriter, r *http.Request) {
	m, err := h.queue.Snapshot(r.Context())
	if err != nil {
		h.logger.Warn("queue metrics unavailable", zap.Error(err))
		writeJSON(w, http.StatusOK, map[string]any{
			"queue": nil,
			"error": "queue metrics unavailable",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"queue":  m,
		"paused": h.queue.IsPaused(),
	})
}

// Pause handles POST /api/v1/queue/pause.
func (h *QueueHandler) Pause(w http.ResponseWriter, r *http.Request) {
	h.queue.Pause()
	h.logger.Info("queue paused via admin API")
	writeJSON(w, http.StatusOK, map[string]any{"paused": true})
}

// Resume handles POST /api/v1/queue/resume.
func (h *QueueHandler) Resume(w http.ResponseWriter, r *http.Request) {
	h.queue.Resume()
	h.logger.Info("queue resumed via admin API")
	writeJSON(w, http.StatusOK, map[string]any{"paused": false})
}
