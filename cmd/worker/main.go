// Package main is the entry point for the broker pipeline worker.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/nextnest/broker-pipeline/internal/alert"
	"github.com/nextnest/broker-pipeline/internal/collaborator"
	"github.com/nextnest/broker-pipeline/internal/config"
	"github.com/nextnest/broker-pipeline/internal/handler"
	"github.com/nextnest/broker-pipeline/internal/intent"
	"github.com/nextnest/broker-pipeline/internal/llm"
	"github.com/nextnest/broker-pipeline/internal/middleware"
	"github.com/nextnest/broker-pipeline/internal/migration"
	natsclient "github.com/nextnest/broker-pipeline/internal/nats"
	"github.com/nextnest/broker-pipeline/internal/orchestrator"
	"github.com/nextnest/broker-pipeline/internal/queue"
	"github.com/nextnest/broker-pipeline/internal/state"
	"github.com/nextnest/broker-pipeline/internal/timing"
	"github.com/nextnest/broker-pipeline/internal/worker"
	"github.com/nextnest/broker-pipeline/pkg/logger"
	"github.com/nextnest/broker-pipeline/pkg/tracing"
)

func main() {
	cfg := config.Load()

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	log.Info("starting broker pipeline worker")

	ctx := context.Background()
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "broker-pipeline", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(ctx, tp)
		}
	}

	// Connect to NATS
	natsClient, err := natsclient.Connect(ctx, natsclient.Config{
		URL:      cfg.NATSURL,
		CAFile:   cfg.NATSCAFile,
		CertFile: cfg.NATSCertFile,
		KeyFile:  cfg.NATSKeyFile,
		Token:    cfg.NATSToken,
	}, log)
	if err != nil {
		log.Error("failed to connect to NATS", zap.Error(err))
		os.Exit(1)
	}
	defer natsClient.Close()

	// Provision the job stream and KV buckets
	streams := natsclient.NewStreamManager(natsClient)
	if err := streams.EnsureJobStream(ctx); err != nil {
		log.Error("failed to ensure job stream", zap.Error(err))
		os.Exit(1)
	}
	timingKV, err := streams.EnsureTimingBucket(ctx, cfg.TimingTTL)
	if err != nil {
		log.Error("failed to ensure timing bucket", zap.Error(err))
		os.Exit(1)
	}
	stateKV, err := streams.EnsureStateBucket(ctx, cfg.StateTTL)
	if err != nil {
		log.Error("failed to ensure state bucket", zap.Error(err))
		os.Exit(1)
	}

	// Stores
	timings := timing.NewStore(timing.NewKVBackend(timingKV), log)
	states := state.NewManager(state.NewKVBackend(stateKV), state.DefaultTokenBudget, log)

	// LLM clients: fast model for classification, larger model for replies
	classifierLLM, err := llm.NewClient(llm.ProviderOpenAI, cfg.OpenAIAPIKey)
	if err != nil {
		log.Error("failed to create classifier LLM client", zap.Error(err))
		os.Exit(1)
	}
	responderLLM, err := llm.NewClient(llm.ProviderAnthropic, cfg.AnthropicAPIKey)
	if err != nil {
		log.Error("failed to create responder LLM client", zap.Error(err))
		os.Exit(1)
	}

	classifier := intent.NewLLMClassifier(classifierLLM, cfg.ClassifierModel, log.Logger)
	calcEngine := collaborator.NewCalcClient(cfg.CalcEngineURL, cfg.CalcEngineTimeout)
	responder := collaborator.NewBrokerResponder(responderLLM, cfg.ResponderModel)

	var sink collaborator.Sink
	if cfg.DeliveryURL != "" {
		sink = collaborator.NewHTTPSink(cfg.DeliveryURL, cfg.DeliveryTimeout)
	} else {
		sink = collaborator.NewLogSink(log)
	}

	orch := orchestrator.New(states, classifier, calcEngine, responder, log)

	// Queue and worker pool
	q := queue.New(natsClient, timings, cfg.JobMaxAttempts, cfg.JobAckWait, log)
	if err := q.Init(ctx); err != nil {
		log.Error("failed to initialize queue", zap.Error(err))
		os.Exit(1)
	}

	processor := worker.NewProcessor(orch, timings, states, sink, cfg.CollaboratorTimeout, log)
	pool := worker.NewPool(worker.NewQueueSource(q), processor, cfg.WorkerConcurrency, cfg.WorkerRateLimit, log)

	poolCtx, stopPool := context.WithCancel(ctx)
	defer stopPool()
	if cfg.PipelineEnabled {
		if err := pool.Start(poolCtx); err != nil {
			log.Error("failed to start worker pool", zap.Error(err))
			os.Exit(1)
		}
	} else {
		log.Info("pipeline disabled, worker pool not started")
	}

	// Migration controller reads rollout flags fresh on every decision
	controller := migration.NewController(config.LoadMigration, nil)

	// Alerting
	evaluator := alert.NewEvaluator(
		alert.Thresholds{
			MaxFailedJobs:  int64(cfg.MaxFailedJobs),
			MaxWaitingJobs: int64(cfg.MaxWaitingJobs),
			MaxActiveJobs:  int64(cfg.MaxActiveJobs),
			MinHealthScore: cfg.MinHealthScore,
		},
		q.Snapshot,
		pool.Status,
		func() bool { return config.LoadMigration().PipelineEnabled },
		log,
	)
	monitor := alert.NewMonitor(evaluator, cfg.AlertInterval, log,
		alert.NewLogNotifier(log),
		alert.NewSlackNotifier(cfg.SlackWebhookURL, log),
	)
	go monitor.Run(poolCtx)

	// Handlers
	healthHandler := handler.NewHealthHandler(natsClient, pool)
	jobsHandler := handler.NewJobsHandler(controller, q, log)
	queueHandler := handler.NewQueueHandler(q, log)
	migrationHandler := handler.NewMigrationHandler(controller, q, pool, cfg.DrainTimeout, log)
	workerHandler := handler.NewWorkerHandler(pool)
	alertsHandler := handler.NewAlertsHandler(evaluator)
	timingHandler := handler.NewTimingHandler(timings, log)

	// Router
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS())

	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

		r.Post("/jobs", jobsHandler.Enqueue)

		r.Route("/queue", func(r chi.Router) {
			r.Get("/metrics", queueHandler.Metrics)
			r.Post("/pause", queueHandler.Pause)
			r.Post("/resume", queueHandler.Resume)
		})

		r.Route("/workers", func(r chi.Router) {
			r.Get("/status", workerHandler.Status)
			r.Get("/performance", workerHandler.Performance)
			r.Post("/pause", workerHandler.Pause)
			r.Post("/resume", workerHandler.Resume)
		})

		r.Route("/migration", func(r chi.Router) {
			r.Get("/status", migrationHandler.Status)
			r.Post("/pause", migrationHandler.Pause)
			r.Post("/resume", migrationHandler.Resume)
			r.Post("/rollback", migrationHandler.Rollback)
		})

		r.Get("/alerts", alertsHandler.Check)

		r.Route("/timings", func(r chi.Router) {
			r.Get("/report", timingHandler.Report)
			r.Get("/{conversationID}", timingHandler.ByConversation)
		})
	})

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      r,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", zap.Error(err))
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")

	// Stop intake first, let in-flight jobs settle, then stop the pool.
	if remaining, err := q.Drain(ctx, cfg.DrainTimeout); err != nil {
		log.Warn("queue drain incomplete", zap.Int64("remaining", remaining), zap.Error(err))
	}
	stopPool()
	pool.Stop()

	if err := states.Disconnect(); err != nil {
		log.Warn("state store disconnect failed", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("worker stopped")
}
