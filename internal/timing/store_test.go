package timing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nextnest/broker-pipeline/internal/model"
	"github.com/nextnest/broker-pipeline/pkg/logger"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	log, err := logger.NewDevelopment()
	require.NoError(t, err)
	return NewStore(NewMemoryBackend(), log)
}

func TestStore_FullRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, s.StampQueueAdd(ctx, "conv-1", "msg-1", base))
	require.NoError(t, s.StampWorkerStart(ctx, "conv-1", "msg-1", base.Add(200*time.Millisecond)))
	require.NoError(t, s.StampWorkerDone(ctx, "conv-1", "msg-1", base.Add(1800*time.Millisecond)))
	require.NoError(t, s.StampDelivery(ctx, "conv-1", "msg-1", base.Add(2500*time.Millisecond)))

	record, err := s.Get(ctx, "conv-1", "msg-1")
	require.NoError(t, err)

	require.True(t, record.Complete())
	require.Equal(t, int64(2500), record.TotalMs)
	require.Equal(t, int64(200), record.QueueToWorkerMs())
	require.Equal(t, int64(1600), record.ProcessingMs())
}

func TestStore_StampsAreWriteOnce(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	first := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, s.StampQueueAdd(ctx, "conv-1", "msg-1", first))

	// A redelivered job must not move the original stamp.
	require.NoError(t, s.StampQueueAdd(ctx, "conv-1", "msg-1", first.Add(time.Hour)))

	record, err := s.Get(ctx, "conv-1", "msg-1")
	require.NoError(t, err)
	require.True(t, record.QueueAddedAt.Equal(first))
}

func TestStore_NoTotalWithoutDelivery(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	now := time.Now()
	require.NoError(t, s.StampQueueAdd(ctx, "conv-1", "msg-1", now))
	require.NoError(t, s.StampWorkerStart(ctx, "conv-1", "msg-1", now.Add(time.Second)))

	record, err := s.Get(ctx, "conv-1", "msg-1")
	require.NoError(t, err)
	require.False(t, record.Complete())
	require.Zero(t, record.TotalMs)
}

func TestStore_RecordSegment(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.StampQueueAdd(ctx, "conv-1", "msg-1", time.Now()))
	require.NoError(t, s.RecordSegment(ctx, "conv-1", "msg-1", model.ModelSegment{
		Model:        "gpt-4o-mini",
		ProcessingMs: 900,
	}))

	record, err := s.Get(ctx, "conv-1", "msg-1")
	require.NoError(t, err)
	require.NotNil(t, record.Segment)
	require.Equal(t, "gpt-4o-mini", record.Segment.Model)
}

func TestStore_ByConversation(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	now := time.Now()
	require.NoError(t, s.StampQueueAdd(ctx, "conv-1", "msg-1", now))
	require.NoError(t, s.StampQueueAdd(ctx, "conv-1", "msg-2", now))
	require.NoError(t, s.StampQueueAdd(ctx, "conv-2", "msg-3", now))

	records, err := s.ByConversation(ctx, "conv-1")
	require.NoError(t, err)
	require.Len(t, records, 2)
}

func TestStore_GetMissing(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Get(context.Background(), "conv-x", "msg-x")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestBuildReport_Buckets(t *testing.T) {
	records := complete(t, []int64{500, 1500, 4000, 7000, 15000, 45000})

	report := BuildReport(records)

	require.Equal(t, 6, report.Complete)
	require.Equal(t, 1, report.Distribution.Under1s)
	require.Equal(t, 1, report.Distribution.Under2s)
	require.Equal(t, 1, report.Distribution.Under5s)
	require.Equal(t, 1, report.Distribution.Over5s)
	// 15s lands in the 10-30s bucket, not the severe one.
	require.Equal(t, 1, report.Distribution.Over10s)
	require.Equal(t, 1, report.Distribution.Over30s)
}

func TestBuildReport_SkipsIncomplete(t *testing.T) {
	records := complete(t, []int64{1000})
	records = append(records, model.TimingRecord{
		MessageID:    "pending",
		QueueAddedAt: time.Now(),
	})

	report := BuildReport(records)
	require.Equal(t, 2, report.Samples)
	require.Equal(t, 1, report.Complete)
}

func TestBuildReport_Stats(t *testing.T) {
	records := complete(t, []int64{100, 200, 300, 400})

	report := BuildReport(records)
	require.Equal(t, int64(250), report.Stats.Mean)
	require.Equal(t, int64(300), report.Stats.Median)
	require.Equal(t, int64(100), report.Stats.Min)
	require.Equal(t, int64(400), report.Stats.Max)
}

func complete(t *testing.T, totals []int64) []model.TimingRecord {
	t.Helper()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	records := make([]model.TimingRecord, len(totals))
	for i, total := range totals {
		records[i] = model.TimingRecord{
			MessageID:    "msg",
			QueueAddedAt: base,
			DeliveredAt:  base.Add(time.Duration(total) * time.Millisecond),
			TotalMs:      total,
		}
	}
	return records
}
