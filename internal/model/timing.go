package model

import (
	"time"
)

// ModelSegment captures the model-processing slice of a timing record.
type ModelSegment struct {
	Model         string `json:"model,omitempty"`
	PromptChars   int    `json:"prompt_chars,omitempty"`
	ResponseChars int    `json:"response_chars,omitempty"`
	ProcessingMs  int64  `json:"processing_ms,omitempty"`
}

// TimingRecord holds the hop-by-hop timestamps for one message as it moves
// through the pipeline. Each stamp is write-once; TotalMs is derived only
// when both the enqueue and delivery stamps are present. Records expire from
// the store on a fixed TTL independent of the job lifecycle.
type TimingRecord struct {
	MessageID      string `json:"message_id"`
	ConversationID string `json:"conversation_id"`

	QueueAddedAt    time.Time `json:"queue_added_at,omitempty"`
	WorkerStartedAt time.Time `json:"worker_started_at,omitempty"`
	WorkerDoneAt    time.Time `json:"worker_done_at,omitempty"`
	DeliveredAt     time.Time `json:"delivered_at,omitempty"`

	TotalMs int64 `json:"total_ms,omitempty"`

	Segment *ModelSegment `json:"segment,omitempty"`
}

// Complete reports whether the record spans the full pipeline.
func (r *TimingRecord) Complete() bool {
	return !r.QueueAddedAt.IsZero() && !r.DeliveredAt.IsZero()
}

// QueueToWorkerMs returns the time spent waiting for a worker, or 0 when the
// relevant stamps are missing.
func (r *TimingRecord) QueueToWorkerMs() int64 {
	if r.QueueAddedAt.IsZero() || r.WorkerStartedAt.IsZero() {
		return 0
	}
	return r.WorkerStartedAt.Sub(r.QueueAddedAt).Milliseconds()
}

// ProcessingMs returns the worker processing time, or 0 when the relevant
// stamps are missing.
func (r *TimingRecord) ProcessingMs() int64 {
	if r.WorkerStartedAt.IsZero() || r.WorkerDoneAt.IsZero() {
		return 0
	}
	return r.WorkerDoneAt.Sub(r.WorkerStartedAt).Milliseconds()
}
