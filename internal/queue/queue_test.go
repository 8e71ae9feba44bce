package queue

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nextnest/broker-pipeline/internal/model"
	"github.com/nextnest/broker-pipeline/internal/timing"
	"github.com/nextnest/broker-pipeline/pkg/logger"
)

// fakeMsg overrides the handful of jetstream.Msg methods the queue touches.
// Anything else panics via the embedded nil interface.
type fakeMsg struct {
	jetstream.Msg

	data         []byte
	numDelivered uint64

	mu         sync.Mutex
	acked      bool
	nakDelay   time.Duration
	termReason string
}

func (m *fakeMsg) Data() []byte { return m.data }

func (m *fakeMsg) Metadata() (*jetstream.MsgMetadata, error) {
	return &jetstream.MsgMetadata{NumDelivered: m.numDelivered}, nil
}

func (m *fakeMsg) Ack() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.acked = true
	return nil
}

func (m *fakeMsg) NakWithDelay(delay time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nakDelay = delay
	return nil
}

func (m *fakeMsg) TermWithReason(reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.termReason = reason
	return nil
}

type fakeBatch struct {
	msgs []jetstream.Msg
}

func (b *fakeBatch) Messages() <-chan jetstream.Msg {
	ch := make(chan jetstream.Msg, len(b.msgs))
	for _, m := range b.msgs {
		ch <- m
	}
	close(ch)
	return ch
}

func (b *fakeBatch) Error() error { return nil }

// fakeConsumer hands out queued messages one fetch at a time and serves a
// fixed consumer info.
type fakeConsumer struct {
	mu      sync.Mutex
	pending []jetstream.Msg
	fetches int
	info    jetstream.ConsumerInfo
}

func (c *fakeConsumer) Fetch(batch int, _ ...jetstream.FetchOpt) (jetstream.MessageBatch, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fetches++

	n := batch
	if n > len(c.pending) {
		n = len(c.pending)
	}
	out := &fakeBatch{msgs: c.pending[:n]}
	c.pending = c.pending[n:]
	return out, nil
}

func (c *fakeConsumer) Info(_ context.Context) (*jetstream.ConsumerInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	info := c.info
	return &info, nil
}

func (c *fakeConsumer) fetchCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fetches
}

func newTestQueue(t *testing.T, c *fakeConsumer) *Queue {
	t.Helper()
	log := &logger.Logger{Logger: zap.NewNop()}
	q := New(nil, timing.NewStore(timing.NewMemoryBackend(), log), 3, time.Minute, log)
	q.consumer = c
	return q
}

func jobMsg(t *testing.T, id string, numDelivered uint64) *fakeMsg {
	t.Helper()
	data, err := json.Marshal(&model.Job{ID: id, ConversationID: "conv-1", Kind: model.JobKindIncomingMessage})
	require.NoError(t, err)
	return &fakeMsg{data: data, numDelivered: numDelivered}
}

func TestRetryDelay_Doubles(t *testing.T) {
	require.Equal(t, 2*time.Second, RetryDelay(1))
	require.Equal(t, 4*time.Second, RetryDelay(2))
	require.Equal(t, 8*time.Second, RetryDelay(3))
}

func TestRetryDelay_Capped(t *testing.T) {
	require.Equal(t, time.Minute, RetryDelay(10))
}

func TestSnapshot_Idempotent(t *testing.T) {
	c := &fakeConsumer{info: jetstream.ConsumerInfo{NumPending: 5, NumAckPending: 2}}
	q := newTestQueue(t, c)
	q.counters.completed.Store(7)
	q.counters.failed.Store(1)
	q.counters.delayed.Store(1)

	first, err := q.Snapshot(context.Background())
	require.NoError(t, err)
	second, err := q.Snapshot(context.Background())
	require.NoError(t, err)

	require.Equal(t, first, second)
	require.Equal(t, int64(5), first.Waiting)
	require.Equal(t, int64(2), first.Active)
	require.Equal(t, int64(7), first.Completed)
	require.Equal(t, int64(1), first.Failed)
	require.Equal(t, int64(1), first.Delayed)
	require.Equal(t, int64(8), first.Total)
}

func TestSnapshot_NoConsumerIsUnavailable(t *testing.T) {
	log := &logger.Logger{Logger: zap.NewNop()}
	q := New(nil, timing.NewStore(timing.NewMemoryBackend(), log), 3, time.Minute, log)

	_, err := q.Snapshot(context.Background())
	require.ErrorIs(t, err, ErrUnavailable)
}

func TestFetch_ClaimsOneJob(t *testing.T) {
	c := &fakeConsumer{pending: []jetstream.Msg{jobMsg(t, "job-1", 1)}}
	q := newTestQueue(t, c)

	d, err := q.Fetch(context.Background())
	require.NoError(t, err)
	require.NotNil(t, d)
	require.Equal(t, "job-1", d.Job().ID)
	require.Equal(t, 1, d.Attempt())
	require.False(t, d.Final())

	require.NoError(t, d.Ack(context.Background()))
	require.Equal(t, int64(1), q.counters.completed.Load())
}

func TestFetch_PauseEffectiveOnNextFetch(t *testing.T) {
	c := &fakeConsumer{pending: []jetstream.Msg{jobMsg(t, "job-1", 1)}}
	q := newTestQueue(t, c)

	q.Pause()
	d, err := q.Fetch(context.Background())
	require.NoError(t, err)
	require.Nil(t, d)
	require.Zero(t, c.fetchCount(), "paused queue must not consult the store")

	q.Resume()
	d, err = q.Fetch(context.Background())
	require.NoError(t, err)
	require.NotNil(t, d)
	require.NoError(t, d.Ack(context.Background()))
}

func TestFetch_RedeliveryDecrementsDelayed(t *testing.T) {
	c := &fakeConsumer{pending: []jetstream.Msg{jobMsg(t, "job-1", 1)}}
	q := newTestQueue(t, c)

	d, err := q.Fetch(context.Background())
	require.NoError(t, err)
	require.NoError(t, d.Retry(context.Background()))
	require.Equal(t, int64(1), q.counters.delayed.Load())

	c.mu.Lock()
	c.pending = []jetstream.Msg{jobMsg(t, "job-1", 2)}
	c.mu.Unlock()

	d, err = q.Fetch(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, d.Attempt())
	require.Zero(t, q.counters.delayed.Load(), "redelivered job is no longer delayed")
	require.NoError(t, d.Ack(context.Background()))
}

func TestFetch_RedeliveryFloorsDelayedAtZero(t *testing.T) {
	// A retry scheduled by a previous process arrives with no counter to
	// decrement.
	c := &fakeConsumer{pending: []jetstream.Msg{jobMsg(t, "job-1", 2)}}
	q := newTestQueue(t, c)

	d, err := q.Fetch(context.Background())
	require.NoError(t, err)
	require.Zero(t, q.counters.delayed.Load())
	require.NoError(t, d.Ack(context.Background()))
}

func TestFetch_MalformedPayloadTerminated(t *testing.T) {
	bad := &fakeMsg{data: []byte("not json"), numDelivered: 1}
	c := &fakeConsumer{pending: []jetstream.Msg{bad}}
	q := newTestQueue(t, c)

	d, err := q.Fetch(context.Background())
	require.NoError(t, err)
	require.Nil(t, d)
	require.Equal(t, "malformed payload", bad.termReason)
	require.Equal(t, int64(1), q.counters.failed.Load())
}

func TestRetry_UsesBackoffDelay(t *testing.T) {
	msg := jobMsg(t, "job-1", 2)
	c := &fakeConsumer{pending: []jetstream.Msg{msg}}
	q := newTestQueue(t, c)

	d, err := q.Fetch(context.Background())
	require.NoError(t, err)
	require.NoError(t, d.Retry(context.Background()))
	require.Equal(t, RetryDelay(2), msg.nakDelay)
}

func TestFinalAttemptFailsTerminally(t *testing.T) {
	msg := jobMsg(t, "job-1", 3)
	c := &fakeConsumer{pending: []jetstream.Msg{msg}}
	q := newTestQueue(t, c)

	d, err := q.Fetch(context.Background())
	require.NoError(t, err)
	require.True(t, d.Final())
	require.NoError(t, d.Fail(context.Background(), "collaborator timeout"))
	require.Equal(t, "collaborator timeout", msg.termReason)
	require.Equal(t, int64(1), q.counters.failed.Load())
}

func TestDrain_ReportsRemainingAndStopsIntake(t *testing.T) {
	c := &fakeConsumer{info: jetstream.ConsumerInfo{NumPending: 4}}
	q := newTestQueue(t, c)

	remaining, err := q.Drain(context.Background(), 100*time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, int64(4), remaining)

	_, err = q.Add(context.Background(), &model.Job{ConversationID: "conv-1"})
	require.ErrorIs(t, err, ErrDraining)

	d, err := q.Fetch(context.Background())
	require.NoError(t, err)
	require.Nil(t, d)
}

func TestDrain_WaitsForInflight(t *testing.T) {
	c := &fakeConsumer{pending: []jetstream.Msg{jobMsg(t, "job-1", 1)}}
	q := newTestQueue(t, c)

	d, err := q.Fetch(context.Background())
	require.NoError(t, err)
	require.NotNil(t, d)

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = d.Ack(context.Background())
	}()

	start := time.Now()
	_, err = q.Drain(context.Background(), time.Second)
	require.NoError(t, err)
	require.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}
