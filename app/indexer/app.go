package indexer

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/pakloong/iroha/pkg/config"
	"github.com/pakloong/iroha/pkg/db"
	"github.com/pakloong/iroha/pkg/index"
	"github.com/pakloong/iroha/pkg/ledger"
	"github.com/pakloong/iroha/pkg/logging"
	"github.com/pakloong/iroha/pkg/metrics"
	"github.com/pakloong/iroha/pkg/pipeline"
	"github.com/pakloong/iroha/pkg/redis"
)

// Pipeline is the part of *pipeline.Pipeline the app drives.
type Pipeline interface {
	Submit(ctx context.Context, block ledger.Block) (index.Result, error)
	Replay(ctx context.Context, blocks []ledger.Block) (pipeline.ReplayResult, error)
	Reconcile(ctx context.Context) (int, error)
	Pending() []uint64
	Next() uint64
}

// BlockStream delivers committed blocks.
type BlockStream interface {
	Run(ctx context.Context, handler redis.MessageHandler) error
}

// App consumes committed blocks from the stream and keeps the block index current.
type App struct {
	Config config.Config

	Backend  index.Backend
	Pipeline Pipeline
	Metrics  *metrics.Metrics

	// Redis is the connection shared by Stream, the notifier and Reindex.
	Redis  *redis.Client
	Stream BlockStream

	// Cron retries pending blocks on CronSpec.
	Cron     *cron.Cron
	CronSpec string

	Logger *zap.Logger

	// Server serves health probes and metrics.
	Server *http.Server

	consuming atomic.Bool
	stalled   atomic.Bool
}

// Initialize wires the backend, pipeline and block stream from the environment.
func Initialize(ctx context.Context) (*App, error) {
	logger, err := logging.New()
	if err != nil {
		// nothing else to do here, we'll just log to stderr'
		panic(err)
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Error("Invalid configuration", zap.Error(err))
		return nil, err
	}

	backend, err := db.Open(ctx, logger, cfg)
	if err != nil {
		logger.Error("Unable to open index backend", zap.Error(err))
		return nil, err
	}

	rdb, err := redis.NewClient(ctx, logger, cfg.Redis)
	if err != nil {
		_ = backend.Close()
		logger.Error("Unable to connect to Redis", zap.Error(err))
		return nil, err
	}

	m := metrics.New()
	p := pipeline.New(logger, backend,
		pipeline.WithRetry(cfg.Retry),
		pipeline.WithMetrics(m),
		pipeline.WithWorkers(cfg.ReplayWorkers),
		pipeline.WithNotifier(redis.NewNotifier(rdb, cfg.Stream.IndexedChannel, logger)),
	)
	if _, err := p.Resume(ctx); err != nil {
		_ = rdb.Close()
		_ = backend.Close()
		return nil, err
	}

	stream, err := redis.NewStreamConsumer(rdb, redis.StreamConsumerConfig{
		Stream:   cfg.Stream.Name,
		Group:    cfg.Stream.Group,
		Consumer: cfg.Stream.Consumer,
		Count:    cfg.Stream.Count,
		Block:    cfg.Stream.Block,
		Logger:   logger,
	})
	if err != nil {
		_ = rdb.Close()
		_ = backend.Close()
		return nil, err
	}

	return &App{
		Config:   cfg,
		Backend:  backend,
		Pipeline: p,
		Metrics:  m,
		Redis:    rdb,
		Stream:   stream,
		CronSpec: cfg.ReconcileSchedule,
		Logger:   logger,
	}, nil
}

// SetupServer sets up the HTTP server.
func (a *App) SetupServer() {
	r := mux.NewRouter()

	r.Handle("/healthz", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(200) })).Methods("GET")
	r.Handle("/readyz", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if a.Ready() {
			w.WriteHeader(200)
		} else {
			w.WriteHeader(503)
		}
	})).Methods("GET")
	r.Handle("/pending", http.HandlerFunc(a.handlePending)).Methods("GET")
	r.Handle("/metrics", a.Metrics.Handler()).Methods("GET")

	a.Server = &http.Server{Addr: a.Config.HTTPAddr, Handler: r, ReadHeaderTimeout: 5 * time.Second}
}

type pendingResponse struct {
	Next    uint64   `json:"next"`
	Pending []uint64 `json:"pending"`
	Stalled bool     `json:"stalled"`
}

func (a *App) handlePending(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(pendingResponse{
		Next:    a.Pipeline.Next(),
		Pending: a.Pipeline.Pending(),
		Stalled: a.Stalled(),
	})
}

// SetupScheduler sets up the cron scheduler that reconciles pending blocks.
func (a *App) SetupScheduler(ctx context.Context, cronSpec string) error {
	// Seconds field, optional
	a.Cron = cron.New(cron.WithSeconds(), cron.WithChain(cron.Recover(cron.DefaultLogger)))
	a.CronSpec = cronSpec

	timeout := a.Config.ReconcileTimeout
	if timeout <= 0 {
		timeout = 25 * time.Second
	}

	_, err := a.Cron.AddFunc(cronSpec, func() {
		// keep each run bounded
		rctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		a.ReconcileOnce(rctx)
	})
	return err
}

// StartCron starts the cron scheduler.
func (a *App) StartCron() {
	a.Cron.Start()
	a.Logger.Info("[indexer] Cron started", zap.String("cronSpec", a.CronSpec))
}

// StopCron stops the cron scheduler.
func (a *App) StopCron() {
	if a.Cron != nil {
		<-a.Cron.Stop().Done()
	}
}

// ReconcileOnce retries pending blocks once and logs the outcome.
func (a *App) ReconcileOnce(ctx context.Context) {
	if len(a.Pipeline.Pending()) == 0 {
		return
	}
	resolved, err := a.Pipeline.Reconcile(ctx)
	if err != nil {
		a.Logger.Warn("[indexer] reconcile interrupted", zap.Int("resolved", resolved), zap.Error(err))
	}
}

// Ready reports whether the stream consumer is running and not stalled.
func (a *App) Ready() bool { return a.consuming.Load() && !a.stalled.Load() }

// Stalled reports whether the last stream entry was out of order or unlinked.
func (a *App) Stalled() bool { return a.stalled.Load() }

// Start serves HTTP, consumes the block stream and blocks until ctx is cancelled.
func (a *App) Start(ctx context.Context) {
	go func() {
		if err := a.Server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.Logger.Error("[indexer] http server stopped", zap.Error(err))
		}
	}()

	go func() {
		a.consuming.Store(true)
		defer a.consuming.Store(false)
		if err := a.Stream.Run(ctx, a.HandleMessage); err != nil && ctx.Err() == nil {
			a.Logger.Error("[indexer] block stream stopped", zap.Error(err))
		}
	}()

	<-ctx.Done()
	_ = a.Server.Close()
	a.Logger.Info("[indexer] shutting down…")
	a.StopCron()
	time.Sleep(200 * time.Millisecond)
	a.Close()
	a.Logger.Info("さようなら!")
}

// Close releases the Redis connection and the backend.
func (a *App) Close() {
	if a.Redis != nil {
		_ = a.Redis.Close()
	}
	if a.Backend != nil {
		if err := a.Backend.Close(); err != nil {
			a.Logger.Warn("[indexer] closing backend", zap.Error(err))
		}
	}
}
