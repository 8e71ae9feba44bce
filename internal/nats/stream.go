package nats

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

const (
	// JobStreamName is the name of the broker jobs stream.
	JobStreamName = "BROKER_JOBS"

	// JobSubjectPrefix is the prefix for all job subjects.
	JobSubjectPrefix = "jobs"

	// TimingBucket holds per-message timing records.
	TimingBucket = "message-timings"

	// StateBucket holds per-conversation state records.
	StateBucket = "conversation-state"
)

// StreamManager provisions the JetStream resources the pipeline depends on.
type StreamManager struct {
	client *Client
}

// NewStreamManager creates a new stream manager.
func NewStreamManager(client *Client) *StreamManager {
	return &StreamManager{client: client}
}

// SubjectStandard is the subject for normal-priority jobs.
func SubjectStandard() string {
	return fmt.Sprintf("%s.standard", JobSubjectPrefix)
}

// SubjectPriority is the subject for high-value lead jobs.
func SubjectPriority() string {
	return fmt.Sprintf("%s.priority", JobSubjectPrefix)
}

// EnsureJobStream ensures the jobs stream exists. Work-queue retention gives
// at-most-once delivery per job to any one consumer group; redelivery happens
// only after the ack wait elapses or an explicit nak.
func (m *StreamManager) EnsureJobStream(ctx context.Context) error {
	js := m.client.JetStream()

	_, err := js.Stream(ctx, JobStreamName)
	if err == nil {
		return nil // Stream already exists
	}

	_, err = js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        JobStreamName,
		Subjects:    []string{fmt.Sprintf("%s.>", JobSubjectPrefix)},
		Retention:   jetstream.WorkQueuePolicy,
		MaxAge:      7 * 24 * time.Hour,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Duplicates:  2 * time.Minute,
		Description: "Broker conversation jobs awaiting processing",
	})
	if err != nil {
		return fmt.Errorf("failed to create job stream: %w", err)
	}

	return nil
}

// EnsureTimingBucket ensures the timing KV bucket exists with the retention
// TTL. Records expire automatically; no sweep task is needed.
func (m *StreamManager) EnsureTimingBucket(ctx context.Context, ttl time.Duration) (jetstream.KeyValue, error) {
	kv, err := m.client.JetStream().CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      TimingBucket,
		TTL:         ttl,
		Description: "Per-message pipeline timing records",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to ensure timing bucket: %w", err)
	}
	return kv, nil
}

// EnsureStateBucket ensures the conversation state KV bucket exists. The TTL
// garbage-collects idle conversations; each write refreshes it.
func (m *StreamManager) EnsureStateBucket(ctx context.Context, ttl time.Duration) (jetstream.KeyValue, error) {
	kv, err := m.client.JetStream().CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      StateBucket,
		TTL:         ttl,
		Description: "Per-conversation AI state records",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to ensure state bucket: %w", err)
	}
	return kv, nil
}
