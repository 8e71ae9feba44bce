package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/nextnest/broker-pipeline/internal/model"
	"github.com/nextnest/broker-pipeline/pkg/logger"
	"github.com/nextnest/broker-pipeline/pkg/metrics"
)

// JobHandler processes one claimed job.
type JobHandler interface {
	Process(ctx context.Context, job *model.Job) error
}

// Status describes the pool's lifecycle state. initialized=false means the
// pool was never started; running=false with initialized=true means a
// stopped pool. Health checks treat the two differently.
type Status struct {
	Initialized bool `json:"initialized"`
	Running     bool `json:"running"`
	IsPaused    bool `json:"is_paused"`
	Concurrency int  `json:"concurrency"`
}

// Performance is a point-in-time snapshot of pool throughput.
type Performance struct {
	JobsProcessed   int64     `json:"jobs_processed"`
	JobsFailed      int64     `json:"jobs_failed"`
	AvgProcessingMs int64     `json:"avg_processing_ms"`
	LastJobAt       time.Time `json:"last_job_at,omitempty"`
}

const (
	pausePollInterval = 500 * time.Millisecond
	idleWait          = 100 * time.Millisecond
	fetchErrorBackoff = time.Second
)

// Pool runs a fixed set of consumers against a job source. Concurrency
// bounds in-flight jobs; the rate limiter throttles dequeues across all
// consumers to protect downstream dependencies.
type Pool struct {
	source      Source
	handler     JobHandler
	concurrency int
	limiter     *rate.Limiter
	logger      *logger.Logger

	mu          sync.Mutex
	initialized bool
	running     bool
	cancel      context.CancelFunc
	wg          sync.WaitGroup

	paused      atomic.Bool
	processed   atomic.Int64
	failed      atomic.Int64
	totalProcMs atomic.Int64
	lastJobNano atomic.Int64
}

// NewPool creates a worker pool. ratePerSec caps the aggregate dequeue rate;
// burst equals the concurrency so an idle pool can fill immediately.
func NewPool(source Source, handler JobHandler, concurrency int, ratePerSec float64, log *logger.Logger) *Pool {
	if concurrency < 1 {
		concurrency = 1
	}
	if ratePerSec <= 0 {
		ratePerSec = float64(concurrency)
	}
	return &Pool{
		source:      source,
		handler:     handler,
		concurrency: concurrency,
		limiter:     rate.NewLimiter(rate.Limit(ratePerSec), concurrency),
		logger:      log,
	}
}

// Start launches the consumers. Starting an already-running pool is an error.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return errors.New("worker pool already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.initialized = true
	p.running = true

	metrics.WorkersConfigured.Set(float64(p.concurrency))

	for i := 0; i < p.concurrency; i++ {
		p.wg.Add(1)
		go p.consume(runCtx, i)
	}

	p.logger.Info("worker pool started",
		zap.Int("concurrency", p.concurrency),
		zap.Float64("rate_limit", float64(p.limiter.Limit())))
	return nil
}

func (p *Pool) consume(ctx context.Context, id int) {
	defer p.wg.Done()

	log := p.logger.With(zap.Int("consumer", id))
	for {
		if ctx.Err() != nil {
			return
		}

		if p.paused.Load() {
			if !sleepCtx(ctx, pausePollInterval) {
				return
			}
			continue
		}

		if err := p.limiter.Wait(ctx); err != nil {
			return
		}

		d, err := p.source.Fetch(ctx)
		if err != nil {
			log.Warn("fetch failed", zap.Error(err))
			if !sleepCtx(ctx, fetchErrorBackoff) {
				return
			}
			continue
		}
		if d == nil {
			if !sleepCtx(ctx, idleWait) {
				return
			}
			continue
		}

		p.handle(ctx, d, log)
	}
}

func (p *Pool) handle(ctx context.Context, d Delivery, log *logger.Logger) {
	metrics.WorkersActive.Inc()
	defer metrics.WorkersActive.Dec()

	job := d.Job()
	started := time.Now()

	err := p.handler.Process(ctx, job)
	elapsed := time.Since(started)

	if err == nil {
		if ackErr := d.Ack(ctx); ackErr != nil {
			log.Warn("ack failed", zap.String("job_id", job.ID), zap.Error(ackErr))
		}
		p.processed.Add(1)
		p.totalProcMs.Add(elapsed.Milliseconds())
		p.lastJobNano.Store(time.Now().UnixNano())
		return
	}

	if d.Final() {
		log.Error("job failed terminally",
			zap.String("job_id", job.ID),
			zap.String("conversation_id", job.ConversationID),
			zap.Int("attempt", d.Attempt()),
			zap.Error(err))
		if failErr := d.Fail(ctx, err.Error()); failErr != nil {
			log.Warn("terminal fail settlement failed", zap.String("job_id", job.ID), zap.Error(failErr))
		}
		p.failed.Add(1)
		return
	}

	log.Warn("job failed, scheduling retry",
		zap.String("job_id", job.ID),
		zap.Int("attempt", d.Attempt()),
		zap.Error(err))
	if retryErr := d.Retry(ctx); retryErr != nil {
		log.Warn("retry settlement failed", zap.String("job_id", job.ID), zap.Error(retryErr))
	}
}

// Pause stops consumers from picking up new jobs. In-flight jobs finish.
func (p *Pool) Pause() {
	p.paused.Store(true)
	p.logger.Info("worker pool paused")
}

// Resume reverses Pause.
func (p *Pool) Resume() {
	p.paused.Store(false)
	p.logger.Info("worker pool resumed")
}

// Stop cancels the consumers and waits for in-flight jobs to settle.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	cancel := p.cancel
	p.mu.Unlock()

	cancel()
	p.wg.Wait()
	p.logger.Info("worker pool stopped")
}

// Status reports the pool lifecycle state.
func (p *Pool) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Status{
		Initialized: p.initialized,
		Running:     p.running,
		IsPaused:    p.paused.Load(),
		Concurrency: p.concurrency,
	}
}

// Performance reports throughput counters since start.
func (p *Pool) Performance() Performance {
	perf := Performance{
		JobsProcessed: p.processed.Load(),
		JobsFailed:    p.failed.Load(),
	}
	if perf.JobsProcessed > 0 {
		perf.AvgProcessingMs = p.totalProcMs.Load() / perf.JobsProcessed
	}
	if nano := p.lastJobNano.Load(); nano > 0 {
		perf.LastJobAt = time.Unix(0, nano)
	}
	return perf
}

// sleepCtx sleeps for d or until ctx is done; it returns false on
// cancellation.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
