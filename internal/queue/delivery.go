package queue

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/nextnest/broker-pipeline/internal/model"
	"github.com/nextnest/broker-pipeline/pkg/metrics"
)

// Delivery is one claimed job. The worker owns it until exactly one of Ack,
// Retry, or Fail is called.
type Delivery struct {
	queue   *Queue
	msg     jetstream.Msg
	job     *model.Job
	attempt int
	settled bool
}

// Job returns the claimed job.
func (d *Delivery) Job() *model.Job {
	return d.job
}

// Attempt returns the 1-based delivery attempt.
func (d *Delivery) Attempt() int {
	return d.attempt
}

// Final reports whether this is the last allowed attempt.
func (d *Delivery) Final() bool {
	return d.attempt >= d.queue.maxAttempts
}

// Ack marks the job completed.
func (d *Delivery) Ack(ctx context.Context) error {
	defer d.settle()

	if err := d.msg.Ack(); err != nil {
		return err
	}
	d.queue.counters.completed.Add(1)
	metrics.JobsProcessed.WithLabelValues("completed").Inc()
	return nil
}

// Retry schedules redelivery after an exponential backoff delay.
func (d *Delivery) Retry(ctx context.Context) error {
	defer d.settle()

	delay := RetryDelay(d.attempt)
	if err := d.msg.NakWithDelay(delay); err != nil {
		return err
	}
	d.queue.counters.delayed.Add(1)
	metrics.JobsProcessed.WithLabelValues("retried").Inc()

	d.queue.logger.Warn("job scheduled for retry",
		zap.String("job_id", d.job.ID),
		zap.Int("attempt", d.attempt),
		zap.Duration("delay", delay),
	)
	return nil
}

// Fail terminates the job. Failed jobs are terminal and remain queryable for
// operator diagnosis.
func (d *Delivery) Fail(ctx context.Context, reason string) error {
	defer d.settle()

	if err := d.msg.TermWithReason(reason); err != nil {
		return err
	}
	d.queue.counters.failed.Add(1)
	metrics.JobsProcessed.WithLabelValues("failed").Inc()

	d.queue.logger.Error("job failed terminally",
		zap.String("job_id", d.job.ID),
		zap.Int("attempt", d.attempt),
		zap.String("reason", reason),
	)
	return nil
}

func (d *Delivery) settle() {
	if !d.settled {
		d.settled = true
		d.queue.inflight.Done()
	}
}

// RetryDelay returns the redelivery delay for a given attempt: 2s doubling
// per attempt, capped at one minute, without jitter so the schedule is
// predictable in tests and dashboards.
func RetryDelay(attempt int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 2 * time.Second
	b.RandomizationFactor = 0
	b.Multiplier = 2
	b.MaxInterval = time.Minute

	delay := b.NextBackOff()
	for i := 1; i < attempt; i++ {
		delay = b.NextBackOff()
	}
	return delay
}
