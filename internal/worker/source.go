// Package worker runs the consumer pool that pulls jobs from the queue and
// drives them through the orchestrator.
package worker

import (
	"context"

	"github.com/nextnest/broker-pipeline/internal/model"
	"github.com/nextnest/broker-pipeline/internal/queue"
)

// Delivery is one claimed job plus its settlement handle. Exactly one of
// Ack, Retry, or Fail settles it.
type Delivery interface {
	Job() *model.Job
	Attempt() int
	Final() bool
	Ack(ctx context.Context) error
	Retry(ctx context.Context) error
	Fail(ctx context.Context, reason string) error
}

// Source hands out jobs to consumers. A (nil, nil) return means nothing is
// available right now.
type Source interface {
	Fetch(ctx context.Context) (Delivery, error)
}

type queueSource struct {
	q *queue.Queue
}

// NewQueueSource adapts the durable queue to the pool's Source interface.
func NewQueueSource(q *queue.Queue) Source {
	return &queueSource{q: q}
}

func (s *queueSource) Fetch(ctx context.Context) (Delivery, error) {
	d, err := s.q.Fetch(ctx)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, nil
	}
	return d, nil
}
