package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nextnest/broker-pipeline/internal/config"
	"github.com/nextnest/broker-pipeline/internal/migration"
	"github.com/nextnest/broker-pipeline/internal/model"
	"github.com/nextnest/broker-pipeline/internal/queue"
	"github.com/nextnest/broker-pipeline/internal/timing"
	"github.com/nextnest/broker-pipeline/internal/worker"
	"github.com/nextnest/broker-pipeline/pkg/logger"
)

type idleSource struct{}

func (idleSource) Fetch(context.Context) (worker.Delivery, error) { return nil, nil }

type noopHandler struct{}

func (noopHandler) Process(context.Context, *model.Job) error { return nil }

func newMigrationHandler(t *testing.T) (*MigrationHandler, *queue.Queue, *worker.Pool) {
	t.Helper()
	log := &logger.Logger{Logger: zap.NewNop()}

	q := queue.New(nil, timing.NewStore(timing.NewMemoryBackend(), log), 3, time.Minute, log)
	pool := worker.NewPool(idleSource{}, noopHandler{}, 1, 10, log)
	controller := migration.NewController(func() config.Migration {
		return config.Migration{PipelineEnabled: true, TrafficPercentage: 50, LegacyEnabled: true}
	}, nil)

	return NewMigrationHandler(controller, q, pool, time.Second, log), q, pool
}

func TestMigrationPauseSuspendsQueueAndWorkers(t *testing.T) {
	h, q, pool := newMigrationHandler(t)

	rec := httptest.NewRecorder()
	h.Pause(rec, httptest.NewRequest(http.MethodPost, "/api/v1/migration/pause", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, q.IsPaused())
	require.True(t, pool.Status().IsPaused)

	var body struct {
		Paused bool `json:"paused"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	require.True(t, body.Paused)
}

func TestMigrationResumeReenablesQueueAndWorkers(t *testing.T) {
	h, q, pool := newMigrationHandler(t)

	h.Pause(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/v1/migration/pause", nil))

	rec := httptest.NewRecorder()
	h.Resume(rec, httptest.NewRequest(http.MethodPost, "/api/v1/migration/resume", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.False(t, q.IsPaused())
	require.False(t, pool.Status().IsPaused)
}
