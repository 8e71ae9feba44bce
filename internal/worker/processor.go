package worker

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/nextnest/broker-pipeline/internal/collaborator"
	"github.com/nextnest/broker-pipeline/internal/model"
	"github.com/nextnest/broker-pipeline/internal/orchestrator"
	"github.com/nextnest/broker-pipeline/internal/state"
	"github.com/nextnest/broker-pipeline/internal/timing"
	"github.com/nextnest/broker-pipeline/pkg/logger"
	"github.com/nextnest/broker-pipeline/pkg/metrics"
)

// Processor handles one job end to end: stamp worker start, run the
// orchestrator, deliver the reply, stamp completion and delivery. Timing
// stamps are best-effort; only orchestration and delivery failures make the
// job retryable.
type Processor struct {
	orch    *orchestrator.Orchestrator
	timings *timing.Store
	states  *state.Manager
	sink    collaborator.Sink
	timeout time.Duration
	logger  *logger.Logger
}

// NewProcessor creates a job processor. The timeout bounds each job's
// orchestration plus delivery.
func NewProcessor(orch *orchestrator.Orchestrator, timings *timing.Store, states *state.Manager, sink collaborator.Sink, timeout time.Duration, log *logger.Logger) *Processor {
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	return &Processor{
		orch:    orch,
		timings: timings,
		states:  states,
		sink:    sink,
		timeout: timeout,
		logger:  log,
	}
}

// Process runs one job. A returned error means the job should be retried or,
// on the final attempt, terminally failed.
func (p *Processor) Process(ctx context.Context, job *model.Job) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	log := p.logger.WithJob(job.ID, job.ConversationID)
	started := time.Now()

	if err := p.timings.StampWorkerStart(ctx, job.ConversationID, job.ID, started); err != nil {
		log.Warn("failed to stamp worker start", zap.Error(err))
	}

	result, err := p.orch.ProcessMessage(ctx, job)
	if err != nil {
		return fmt.Errorf("process message: %w", err)
	}

	done := time.Now()
	if err := p.timings.StampWorkerDone(ctx, job.ConversationID, job.ID, done); err != nil {
		log.Warn("failed to stamp worker done", zap.Error(err))
	}
	if err := p.timings.RecordSegment(ctx, job.ConversationID, job.ID, model.ModelSegment{
		Model:         result.ModelUsed,
		PromptChars:   len(job.Message),
		ResponseChars: len(result.Content),
		ProcessingMs:  done.Sub(started).Milliseconds(),
	}); err != nil {
		log.Warn("failed to record model segment", zap.Error(err))
	}

	if err := p.sink.Deliver(ctx, job, result); err != nil {
		return fmt.Errorf("deliver reply: %w", err)
	}

	if err := p.timings.StampDelivery(ctx, job.ConversationID, job.ID, time.Now()); err != nil {
		log.Warn("failed to stamp delivery", zap.Error(err))
	}

	if result.NextPhase != "" {
		if err := p.states.UpdatePhase(ctx, job.ConversationID, result.NextPhase); err != nil {
			log.Warn("failed to update conversation phase",
				zap.String("phase", string(result.NextPhase)),
				zap.Error(err))
		}
	}

	metrics.JobDuration.WithLabelValues(string(job.Kind)).Observe(time.Since(started).Seconds())

	log.Info("job processed",
		zap.String("intent", result.Intent),
		zap.String("model", result.ModelUsed),
		zap.Int("tokens_used", result.TokensUsed),
		zap.Bool("should_handoff", result.ShouldHandoff),
		zap.Duration("duration", time.Since(started)))

	return nil
}
