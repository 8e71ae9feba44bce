// Package alert evaluates queue and worker health against configurable
// thresholds and notifies operators of violations.
package alert

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/nextnest/broker-pipeline/internal/model"
	"github.com/nextnest/broker-pipeline/internal/queue"
	"github.com/nextnest/broker-pipeline/internal/worker"
	"github.com/nextnest/broker-pipeline/pkg/logger"
	"github.com/nextnest/broker-pipeline/pkg/metrics"
)

// Thresholds are the tunable limits the evaluator checks against.
type Thresholds struct {
	MaxFailedJobs  int64 `json:"max_failed_jobs"`
	MaxWaitingJobs int64 `json:"max_waiting_jobs"`
	MaxActiveJobs  int64 `json:"max_active_jobs"`
	MinHealthScore int   `json:"min_health_score"`
}

// DefaultThresholds are sane production defaults.
var DefaultThresholds = Thresholds{
	MaxFailedJobs:  10,
	MaxWaitingJobs: 50,
	MaxActiveJobs:  20,
	MinHealthScore: 70,
}

// QueueMetricsFunc supplies a point-in-time queue snapshot.
type QueueMetricsFunc func(ctx context.Context) (*queue.Metrics, error)

// WorkerStatusFunc supplies the worker pool lifecycle state.
type WorkerStatusFunc func() worker.Status

// Evaluator performs read-only health passes. It never returns an error;
// inability to read metrics is itself reported as a critical alert.
type Evaluator struct {
	thresholds      Thresholds
	queueMetrics    QueueMetricsFunc
	workerStatus    WorkerStatusFunc
	pipelineEnabled func() bool
	logger          *logger.Logger
}

func NewEvaluator(thresholds Thresholds, queueMetrics QueueMetricsFunc, workerStatus WorkerStatusFunc, pipelineEnabled func() bool, log *logger.Logger) *Evaluator {
	return &Evaluator{
		thresholds:      thresholds,
		queueMetrics:    queueMetrics,
		workerStatus:    workerStatus,
		pipelineEnabled: pipelineEnabled,
		logger:          log,
	}
}

// Evaluate checks all rules and returns the alerts raised. An empty slice
// means the system is healthy.
func (e *Evaluator) Evaluate(ctx context.Context) []model.Alert {
	now := time.Now()

	qm, err := e.queueMetrics(ctx)
	if err != nil {
		e.logger.Error("alert evaluation could not read queue metrics", zap.Error(err))
		a := model.Alert{
			Severity:  model.SeverityCritical,
			Category:  model.AlertCategorySystem,
			Message:   fmt.Sprintf("Alert monitoring failed: %v", err),
			Metric:    "monitoring_status",
			Value:     0,
			Threshold: 1,
			Timestamp: now,
		}
		metrics.AlertsEmitted.WithLabelValues(string(a.Severity), string(a.Category)).Inc()
		return []model.Alert{a}
	}

	status := e.workerStatus()
	alerts := e.checkQueue(qm, now)
	alerts = append(alerts, e.checkWorker(status, now)...)

	score := HealthScore(qm, status)
	if score < e.thresholds.MinHealthScore {
		severity := model.SeverityWarning
		if score < 50 {
			severity = model.SeverityCritical
		}
		alerts = append(alerts, model.Alert{
			Severity:  severity,
			Category:  model.AlertCategorySystem,
			Message:   fmt.Sprintf("System health score: %d", score),
			Details:   fmt.Sprintf("Below threshold of %d", e.thresholds.MinHealthScore),
			Metric:    "health_score",
			Value:     float64(score),
			Threshold: float64(e.thresholds.MinHealthScore),
			Timestamp: now,
		})
	}

	for _, a := range alerts {
		metrics.AlertsEmitted.WithLabelValues(string(a.Severity), string(a.Category)).Inc()
	}
	return alerts
}

func (e *Evaluator) checkQueue(qm *queue.Metrics, now time.Time) []model.Alert {
	var alerts []model.Alert

	switch {
	case qm.Failed > e.thresholds.MaxFailedJobs:
		alerts = append(alerts, model.Alert{
			Severity:  model.SeverityCritical,
			Category:  model.AlertCategoryQueue,
			Message:   fmt.Sprintf("High failure rate: %d failed jobs", qm.Failed),
			Details:   fmt.Sprintf("Threshold: %d jobs", e.thresholds.MaxFailedJobs),
			Metric:    "failed_jobs",
			Value:     float64(qm.Failed),
			Threshold: float64(e.thresholds.MaxFailedJobs),
			Timestamp: now,
		})
	case qm.Failed > e.thresholds.MaxFailedJobs/2:
		alerts = append(alerts, model.Alert{
			Severity:  model.SeverityWarning,
			Category:  model.AlertCategoryQueue,
			Message:   fmt.Sprintf("Moderate failure rate: %d failed jobs approaching threshold", qm.Failed),
			Metric:    "failed_jobs",
			Value:     float64(qm.Failed),
			Threshold: float64(e.thresholds.MaxFailedJobs),
			Timestamp: now,
		})
	}

	switch {
	case qm.Waiting > e.thresholds.MaxWaitingJobs:
		alerts = append(alerts, model.Alert{
			Severity:  model.SeverityCritical,
			Category:  model.AlertCategoryQueue,
			Message:   fmt.Sprintf("Queue backup: %d jobs waiting", qm.Waiting),
			Details:   fmt.Sprintf("Threshold: %d jobs", e.thresholds.MaxWaitingJobs),
			Metric:    "waiting_jobs",
			Value:     float64(qm.Waiting),
			Threshold: float64(e.thresholds.MaxWaitingJobs),
			Timestamp: now,
		})
	case qm.Waiting > e.thresholds.MaxWaitingJobs/2:
		alerts = append(alerts, model.Alert{
			Severity:  model.SeverityWarning,
			Category:  model.AlertCategoryQueue,
			Message:   fmt.Sprintf("Queue growing: %d jobs waiting", qm.Waiting),
			Metric:    "waiting_jobs",
			Value:     float64(qm.Waiting),
			Threshold: float64(e.thresholds.MaxWaitingJobs),
			Timestamp: now,
		})
	}

	if qm.Active > e.thresholds.MaxActiveJobs {
		alerts = append(alerts, model.Alert{
			Severity:  model.SeverityWarning,
			Category:  model.AlertCategoryPerformance,
			Message:   fmt.Sprintf("High concurrency: %d active jobs exceeds threshold of %d", qm.Active, e.thresholds.MaxActiveJobs),
			Metric:    "active_jobs",
			Value:     float64(qm.Active),
			Threshold: float64(e.thresholds.MaxActiveJobs),
			Timestamp: now,
		})
	}

	return alerts
}

// checkWorker raises worker alerts only while the new pipeline is enabled;
// a stopped pool is expected when traffic still routes to the legacy system.
func (e *Evaluator) checkWorker(status worker.Status, now time.Time) []model.Alert {
	if !e.pipelineEnabled() {
		return nil
	}

	if !status.Initialized {
		return []model.Alert{{
			Severity:  model.SeverityCritical,
			Category:  model.AlertCategoryWorker,
			Message:   "Worker not initialized",
			Details:   "Jobs will not be processed",
			Metric:    "worker_initialized",
			Value:     0,
			Threshold: 1,
			Timestamp: now,
		}}
	}
	if !status.Running {
		return []model.Alert{{
			Severity:  model.SeverityCritical,
			Category:  model.AlertCategoryWorker,
			Message:   "Worker not running",
			Details:   "Jobs will not be processed",
			Metric:    "worker_running",
			Value:     0,
			Threshold: 1,
			Timestamp: now,
		}}
	}
	return nil
}

// HealthScore computes the composite health score: 100 minus a deduction
// per violated rule, floored at 0.
func HealthScore(qm *queue.Metrics, status worker.Status) int {
	score := 100

	if qm != nil {
		switch {
		case qm.Failed > 10:
			score -= 30
		case qm.Failed > 5:
			score -= 15
		}
		switch {
		case qm.Waiting > 20:
			score -= 25
		case qm.Waiting > 10:
			score -= 10
		}
	}

	if !status.Initialized {
		score -= 30
	}
	if status.Initialized && !status.Running {
		score -= 30
	}

	if score < 0 {
		score = 0
	}
	return score
}
