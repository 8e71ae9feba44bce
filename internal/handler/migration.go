package handler

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/nextnest/broker-pipeline/internal/alert"
	"github.com/nextnest/broker-pipeline/internal/migration"
	"github.com/nextnest/broker-pipeline/internal/queue"
	"github.com/nextnest/broker-pipeline/internal/worker"
	"github.com/nextnest/broker-pipeline/pkg/logger"
)

// MigrationHandler exposes rollout status and the emergency rollback control.
type MigrationHandler struct {
	controller   *migration.Controller
	queue        *queue.Queue
	pool         *worker.Pool
	drainTimeout time.Duration
	logger       *logger.Logger
}

// NewMigrationHandler creates a new migration handler.
func NewMigrationHandler(controller *migration.Controller, q *queue.Queue, pool *worker.Pool, drainTimeout time.Duration, log *logger.Logger) *MigrationHandler {
	return &MigrationHandler{
		controller:   controller,
		queue:        q,
		pool:         pool,
		drainTimeout: drainTimeout,
		logger:       log,
	}
}

// Status handles GET /api/v1/migration/status. Queue metrics degrade to null
// when the store is unreachable; the endpoint itself never fails.
func (h *MigrationHandler) Status(w http.ResponseWriter, r *http.Request) {
	status := h.controller.Status()
	workerStatus := h.pool.Status()

	var qm *queue.Metrics
	if m, err := h.queue.Snapshot(r.Context()); err != nil {
		h.logger.Warn("migration status: queue metrics unavailable", zap.Error(err))
	} else {
		qm = m
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"migration":                      status,
		"queue":                          qm,
		"worker":                         workerStatus,
		"health_score":                   alert.HealthScore(qm, workerStatus),
		"recommendations":                h.controller.Recommendations(qm),
		"estimated_distribution_per_100": h.controller.EstimateDistribution(100),
	})
}

// Pause handles POST /api/v1/migration/pause: suspends the whole pipeline
// side of the migration by pausing both queue intake dequeues and the worker
// pool. In-flight jobs finish.
func (h *MigrationHandler) Pause(w http.ResponseWriter, r *http.Request) {
	h.logger.Info("migration pause requested via admin API")

	h.queue.Pause()
	h.pool.Pause()

	writeJSON(w, http.StatusOK, map[string]any{
		"paused": true,
		"queue":  h.queue.IsPaused(),
		"worker": h.pool.Status(),
	})
}

// Resume handles POST /api/v1/migration/resume: re-enables dequeues and
// worker processing.
func (h *MigrationHandler) Resume(w http.ResponseWriter, r *http.Request) {
	h.logger.Info("migration resume requested via admin API")

	h.queue.Resume()
	h.pool.Resume()

	writeJSON(w, http.StatusOK, map[string]any{
		"paused": false,
		"queue":  h.queue.IsPaused(),
		"worker": h.pool.Status(),
	})
}

// Rollback handles POST /api/v1/migration/rollback: pauses intake, drains
// in-flight work, and returns the operator steps to complete the cutback.
// Routing itself is configuration, so the response spells out the env change.
func (h *MigrationHandler) Rollback(w http.ResponseWriter, r *http.Request) {
	h.logger.Warn("emergency rollback initiated via admin API")

	h.queue.Pause()
	h.pool.Pause()

	remaining, err := h.queue.Drain(r.Context(), h.drainTimeout)
	if err != nil {
		h.logger.Error("rollback drain failed", zap.Error(err))
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "rolled_back",
		"remaining_jobs": remaining,
		"instructions": []string{
			"Set ENABLE_PIPELINE=false and PIPELINE_ROLLOUT_PERCENTAGE=0",
			"Verify ENABLE_LEGACY_BROKER=true so the legacy system takes all traffic",
			"Restart or redeploy the worker to pick up the configuration",
			"Inspect failed jobs before re-enabling the pipeline",
		},
	})
}
