// Package timing records hop-by-hop timestamps for SLA measurement.
package timing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nextnest/broker-pipeline/internal/model"
	"github.com/nextnest/broker-pipeline/pkg/logger"
)

// ErrNotFound is returned when no timing record exists for a key.
var ErrNotFound = errors.New("timing record not found")

// Backend is the minimal key-value surface the store needs. Keys partition
// contention per message; the backend owns TTL-based expiry.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Keys(ctx context.Context) ([]string, error)
}

// Store reads and writes TimingRecords. Each timestamp is write-once: a stamp
// that is already set is never overwritten, so replayed jobs cannot corrupt
// earlier measurements.
type Store struct {
	backend Backend
	logger  *logger.Logger
}

// NewStore creates a timing store over the given backend.
func NewStore(backend Backend, log *logger.Logger) *Store {
	return &Store{backend: backend, logger: log}
}

func recordKey(conversationID, messageID string) string {
	return conversationID + "." + messageID
}

// StampQueueAdd creates the timing record at enqueue time.
func (s *Store) StampQueueAdd(ctx context.Context, conversationID, messageID string, at time.Time) error {
	return s.stamp(ctx, conversationID, messageID, func(r *model.TimingRecord) {
		if r.QueueAddedAt.IsZero() {
			r.QueueAddedAt = at
		}
	})
}

// StampWorkerStart records when a worker claimed the job.
func (s *Store) StampWorkerStart(ctx context.Context, conversationID, messageID string, at time.Time) error {
	return s.stamp(ctx, conversationID, messageID, func(r *model.TimingRecord) {
		if r.WorkerStartedAt.IsZero() {
			r.WorkerStartedAt = at
		}
	})
}

// StampWorkerDone records when processing finished.
func (s *Store) StampWorkerDone(ctx context.Context, conversationID, messageID string, at time.Time) error {
	return s.stamp(ctx, conversationID, messageID, func(r *model.TimingRecord) {
		if r.WorkerDoneAt.IsZero() {
			r.WorkerDoneAt = at
		}
	})
}

// StampDelivery records downstream delivery and finalizes the total duration.
// The total is derived only when both the enqueue and delivery stamps are
// present.
func (s *Store) StampDelivery(ctx context.Context, conversationID, messageID string, at time.Time) error {
	return s.stamp(ctx, conversationID, messageID, func(r *model.TimingRecord) {
		if r.DeliveredAt.IsZero() {
			r.DeliveredAt = at
		}
		if !r.QueueAddedAt.IsZero() && !r.DeliveredAt.IsZero() {
			r.TotalMs = r.DeliveredAt.Sub(r.QueueAddedAt).Milliseconds()
		}
	})
}

// RecordSegment attaches the model-processing sub-segment to a record.
func (s *Store) RecordSegment(ctx context.Context, conversationID, messageID string, seg model.ModelSegment) error {
	return s.stamp(ctx, conversationID, messageID, func(r *model.TimingRecord) {
		if r.Segment == nil {
			r.Segment = &seg
		}
	})
}

func (s *Store) stamp(ctx context.Context, conversationID, messageID string, apply func(*model.TimingRecord)) error {
	key := recordKey(conversationID, messageID)

	record, err := s.load(ctx, key)
	if errors.Is(err, ErrNotFound) {
		record = &model.TimingRecord{
			MessageID:      messageID,
			ConversationID: conversationID,
		}
	} else if err != nil {
		return err
	}

	apply(record)

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal timing record: %w", err)
	}
	if err := s.backend.Put(ctx, key, data); err != nil {
		return fmt.Errorf("failed to store timing record: %w", err)
	}
	return nil
}

func (s *Store) load(ctx context.Context, key string) (*model.TimingRecord, error) {
	data, err := s.backend.Get(ctx, key)
	if err != nil {
		return nil, err
	}

	var record model.TimingRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal timing record: %w", err)
	}
	return &record, nil
}

// Get returns the timing record for one message.
func (s *Store) Get(ctx context.Context, conversationID, messageID string) (*model.TimingRecord, error) {
	return s.load(ctx, recordKey(conversationID, messageID))
}

// ByConversation returns all timing records for a conversation.
func (s *Store) ByConversation(ctx context.Context, conversationID string) ([]model.TimingRecord, error) {
	keys, err := s.backend.Keys(ctx)
	if err != nil {
		return nil, err
	}

	var records []model.TimingRecord
	prefix := conversationID + "."
	for _, key := range keys {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		record, err := s.load(ctx, key)
		if err != nil {
			continue
		}
		records = append(records, *record)
	}
	return records, nil
}

// All returns every timing record currently retained.
func (s *Store) All(ctx context.Context) ([]model.TimingRecord, error) {
	keys, err := s.backend.Keys(ctx)
	if err != nil {
		return nil, err
	}

	records := make([]model.TimingRecord, 0, len(keys))
	for _, key := range keys {
		record, err := s.load(ctx, key)
		if err != nil {
			continue
		}
		records = append(records, *record)
	}
	return records, nil
}
