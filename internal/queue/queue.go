// Package queue provides the durable job queue backing the broker pipeline.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/nextnest/broker-pipeline/internal/model"
	natsclient "github.com/nextnest/broker-pipeline/internal/nats"
	"github.com/nextnest/broker-pipeline/internal/timing"
	"github.com/nextnest/broker-pipeline/pkg/logger"
	"github.com/nextnest/broker-pipeline/pkg/metrics"
)

// ConsumerName is the durable consumer shared by all worker processes.
const ConsumerName = "broker-workers"

// consumer is the slice of jetstream.Consumer the queue relies on, narrowed
// so tests can substitute a fake without a live server.
type consumer interface {
	Fetch(batch int, opts ...jetstream.FetchOpt) (jetstream.MessageBatch, error)
	Info(ctx context.Context) (*jetstream.ConsumerInfo, error)
}

var (
	// ErrUnavailable signals the backing store is unreachable. Callers on
	// monitoring paths degrade to null metrics instead of failing.
	ErrUnavailable = errors.New("queue unavailable")

	// ErrDraining signals intake has stopped for an emergency rollback.
	ErrDraining = errors.New("queue draining")
)

// Metrics is a point-in-time snapshot of queue counters.
type Metrics struct {
	Waiting   int64 `json:"waiting"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Delayed   int64 `json:"delayed"`
	Total     int64 `json:"total"`
}

// Queue is a durable job list over a JetStream work queue. Add stamps the
// enqueue timestamp into the timing store; consumers claim jobs one at a time
// with explicit acks, bounded redelivery, and exponential nak backoff.
type Queue struct {
	client  *natsclient.Client
	timings *timing.Store
	logger  *logger.Logger

	maxAttempts int
	ackWait     time.Duration

	consumer consumer

	paused   atomic.Bool
	draining atomic.Bool

	counters struct {
		completed atomic.Int64
		failed    atomic.Int64
		delayed   atomic.Int64
	}

	inflight sync.WaitGroup
}

// New creates a Queue. Call Init before consuming.
func New(client *natsclient.Client, timings *timing.Store, maxAttempts int, ackWait time.Duration, log *logger.Logger) *Queue {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Queue{
		client:      client,
		timings:     timings,
		logger:      log,
		maxAttempts: maxAttempts,
		ackWait:     ackWait,
	}
}

// Init provisions the durable consumer for the jobs stream.
func (q *Queue) Init(ctx context.Context) error {
	consumer, err := q.client.JetStream().CreateOrUpdateConsumer(ctx, natsclient.JobStreamName, jetstream.ConsumerConfig{
		Durable:   ConsumerName,
		AckPolicy: jetstream.AckExplicitPolicy,
		AckWait:   q.ackWait,
		// MaxDeliver bounds total attempts; exhausted jobs stay queryable in
		// the stream rather than being silently dropped.
		MaxDeliver: q.maxAttempts,
		FilterSubjects: []string{
			natsclient.SubjectPriority(),
			natsclient.SubjectStandard(),
		},
		Description: "Broker pipeline worker consumer",
	})
	if err != nil {
		return fmt.Errorf("%w: failed to create consumer: %v", ErrUnavailable, err)
	}
	q.consumer = consumer
	return nil
}

// Add enqueues a job. High-value leads go to the priority subject. The job ID
// doubles as the stream message ID for deduplication.
func (q *Queue) Add(ctx context.Context, job *model.Job) (*model.Job, error) {
	if q.draining.Load() {
		return nil, ErrDraining
	}

	if job.ID == "" {
		job.ID = uuid.Must(uuid.NewV7()).String()
	}
	job.EnqueuedAt = time.Now()

	subject := natsclient.SubjectStandard()
	priority := "standard"
	if job.HighValue() {
		subject = natsclient.SubjectPriority()
		priority = "priority"
	}

	data, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job: %w", err)
	}

	_, err = q.client.JetStream().Publish(ctx, subject, data, jetstream.WithMsgID(job.ID))
	if err != nil {
		return nil, fmt.Errorf("%w: publish failed: %v", ErrUnavailable, err)
	}

	if err := q.timings.StampQueueAdd(ctx, job.ConversationID, job.ID, job.EnqueuedAt); err != nil {
		q.logger.Warn("failed to stamp enqueue time",
			zap.String("job_id", job.ID),
			zap.Error(err),
		)
	}

	metrics.JobsEnqueued.WithLabelValues(string(job.Kind), priority).Inc()

	q.logger.Info("job enqueued",
		zap.String("job_id", job.ID),
		zap.String("kind", string(job.Kind)),
		zap.String("conversation_id", job.ConversationID),
		zap.Int("lead_score", job.Lead.LeadScore),
		zap.String("priority", priority),
	)

	return job, nil
}

// Fetch claims at most one job. It returns (nil, nil) when the queue is
// paused, draining, or simply empty; pausing takes effect on the next fetch
// while in-flight jobs are unaffected.
func (q *Queue) Fetch(ctx context.Context) (*Delivery, error) {
	if q.paused.Load() || q.draining.Load() {
		return nil, nil
	}
	if q.consumer == nil {
		return nil, ErrUnavailable
	}

	batch, err := q.consumer.Fetch(1, jetstream.FetchMaxWait(2*time.Second))
	if err != nil {
		return nil, fmt.Errorf("%w: fetch failed: %v", ErrUnavailable, err)
	}

	for msg := range batch.Messages() {
		var job model.Job
		if err := json.Unmarshal(msg.Data(), &job); err != nil {
			q.logger.Error("discarding malformed job payload", zap.Error(err))
			_ = msg.TermWithReason("malformed payload")
			q.counters.failed.Add(1)
			metrics.JobsProcessed.WithLabelValues("failed").Inc()
			continue
		}

		attempt := 1
		if meta, err := msg.Metadata(); err == nil {
			attempt = int(meta.NumDelivered)
		}
		// A redelivered job is no longer delayed; it is counted as active
		// from here until settled.
		if attempt > 1 {
			q.decrementDelayed()
		}

		q.inflight.Add(1)
		return &Delivery{queue: q, msg: msg, job: &job, attempt: attempt}, nil
	}

	if err := batch.Error(); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return nil, fmt.Errorf("%w: batch error: %v", ErrUnavailable, err)
	}

	return nil, nil
}

// decrementDelayed floors at zero: a redelivery may belong to a retry
// scheduled by a previous process whose counter did not survive the restart.
func (q *Queue) decrementDelayed() {
	for {
		v := q.counters.delayed.Load()
		if v <= 0 {
			return
		}
		if q.counters.delayed.CompareAndSwap(v, v-1) {
			return
		}
	}
}

// Pause stops dequeues at the next fetch. In-flight jobs continue.
func (q *Queue) Pause() {
	q.paused.Store(true)
	q.logger.Info("queue paused")
}

// Resume re-enables dequeues.
func (q *Queue) Resume() {
	q.paused.Store(false)
	q.logger.Info("queue resumed")
}

// IsPaused reports whether dequeues are currently suspended.
func (q *Queue) IsPaused() bool {
	return q.paused.Load()
}

// Drain stops intake and new dequeues, waits up to the deadline for in-flight
// jobs to finish, then reports the number of jobs still waiting. In-flight
// jobs are never force-killed.
func (q *Queue) Drain(ctx context.Context, deadline time.Duration) (int64, error) {
	q.draining.Store(true)
	q.logger.Info("queue draining", zap.Duration("deadline", deadline))

	done := make(chan struct{})
	go func() {
		q.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(deadline):
		q.logger.Warn("drain deadline elapsed with jobs still in flight")
	case <-ctx.Done():
		return 0, ctx.Err()
	}

	m, err := q.Snapshot(ctx)
	if err != nil {
		return 0, err
	}
	return m.Waiting, nil
}

// Snapshot returns current queue metrics. Waiting and active counts come from
// the consumer's own counters, so the call never walks the job list. Store
// errors surface as ErrUnavailable so status endpoints can degrade to a null
// queue section rather than crash.
func (q *Queue) Snapshot(ctx context.Context) (*Metrics, error) {
	if q.consumer == nil {
		return nil, ErrUnavailable
	}

	info, err := q.consumer.Info(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: consumer info failed: %v", ErrUnavailable, err)
	}

	m := &Metrics{
		Waiting:   int64(info.NumPending),
		Active:    int64(info.NumAckPending),
		Completed: q.counters.completed.Load(),
		Failed:    q.counters.failed.Load(),
		Delayed:   q.counters.delayed.Load(),
	}
	m.Total = m.Waiting + m.Active + m.Delayed

	metrics.QueueDepth.WithLabelValues("waiting").Set(float64(m.Waiting))
	metrics.QueueDepth.WithLabelValues("active").Set(float64(m.Active))
	metrics.QueueDepth.WithLabelValues("delayed").Set(float64(m.Delayed))

	return m, nil
}
