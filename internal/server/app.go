// Package server assembles the application from configuration and runs it.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/api"
	"github.com/JakeFAU/catalog-crawler/internal/browser"
	"github.com/JakeFAU/catalog-crawler/internal/catalog"
	"github.com/JakeFAU/catalog-crawler/internal/clock/system"
	"github.com/JakeFAU/catalog-crawler/internal/config"
	"github.com/JakeFAU/catalog-crawler/internal/crawler"
	"github.com/JakeFAU/catalog-crawler/internal/dispatcher"
	"github.com/JakeFAU/catalog-crawler/internal/enrich"
	"github.com/JakeFAU/catalog-crawler/internal/extract"
	"github.com/JakeFAU/catalog-crawler/internal/hash/sha256"
	"github.com/JakeFAU/catalog-crawler/internal/id/uuid"
	"github.com/JakeFAU/catalog-crawler/internal/ingest"
	"github.com/JakeFAU/catalog-crawler/internal/jobs"
	"github.com/JakeFAU/catalog-crawler/internal/logging"
	"github.com/JakeFAU/catalog-crawler/internal/pagination"
	"github.com/JakeFAU/catalog-crawler/internal/policy/ratelimit"
	"github.com/JakeFAU/catalog-crawler/internal/policy/robots"
	"github.com/JakeFAU/catalog-crawler/internal/policy/simple"
	"github.com/JakeFAU/catalog-crawler/internal/progress"
	progresssinks "github.com/JakeFAU/catalog-crawler/internal/progress/sinks"
	memorypublisher "github.com/JakeFAU/catalog-crawler/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/catalog-crawler/internal/publisher/pubsub"
	queueMemory "github.com/JakeFAU/catalog-crawler/internal/queue/memory"
	queueRedis "github.com/JakeFAU/catalog-crawler/internal/queue/redis"
	"github.com/JakeFAU/catalog-crawler/internal/schedule"
	"github.com/JakeFAU/catalog-crawler/internal/scrape"
	"github.com/JakeFAU/catalog-crawler/internal/storage"
	gcsstorage "github.com/JakeFAU/catalog-crawler/internal/storage/gcs"
	localstorage "github.com/JakeFAU/catalog-crawler/internal/storage/local"
	memoryStorage "github.com/JakeFAU/catalog-crawler/internal/storage/memory"
	pgstore "github.com/JakeFAU/catalog-crawler/internal/storage/postgres"
	"github.com/JakeFAU/catalog-crawler/internal/telemetry"
	"github.com/JakeFAU/catalog-crawler/internal/worker"
)

// Options override process-wide collaborators, mainly for tests.
type Options struct {
	// Registerer receives the progress collectors. Defaults to the global registry.
	Registerer prometheus.Registerer
}

type closer struct {
	name string
	fn   func(context.Context) error
}

// App contains the application's dependencies.
type App struct {
	cfg    config.Config
	logger *zap.Logger
	clock  crawler.Clock

	rules     *catalog.Rules
	jobs      *jobs.Manager
	ingester  *ingest.Ingester
	router    *scrape.Router
	queue     crawler.Queue
	dispatch  *dispatcher.Dispatcher
	scheduler *schedule.Scheduler
	apiServer *api.Server
	hub       *progress.Hub

	// newWorker builds a pool member; also used for synchronous CLI runs.
	newWorker func(id int) *worker.Worker
	checks    map[string]api.ReadinessCheck
	closers   []closer
}

// Build creates the application's dependencies. Resources opened before a
// failure are released.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger, opts Options) (app *App, err error) {
	if opts.Registerer == nil {
		opts.Registerer = prometheus.DefaultRegisterer
	}
	logger = logging.OrNop(logger)
	app = &App{
		cfg:    cfg,
		logger: logger,
		clock:  system.New(),
		checks: map[string]api.ReadinessCheck{},
	}
	defer func() {
		if err != nil {
			_ = app.Close(context.WithoutCancel(ctx))
			app = nil
		}
	}()
	logger.Info("building application",
		zap.Int("port", cfg.Server.Port),
		zap.Int("concurrency", cfg.Crawler.Concurrency),
		zap.String("queue_backend", cfg.Crawler.QueueBackend),
		zap.String("storage_backend", cfg.Storage.Backend),
		zap.String("enrichment_mode", cfg.Enrichment.Mode),
	)

	tp, err := telemetry.InitTracerProvider(ctx, telemetry.Config{
		ServiceName: cfg.Telemetry.ServiceName,
		ProjectID:   cfg.Telemetry.ProjectID,
	})
	if err != nil {
		return nil, fmt.Errorf("tracer init failed: %w", err)
	}
	app.addCloser("tracer", tp.Shutdown)

	if app.rules, err = loadRules(cfg.Catalog.RulesPath); err != nil {
		return nil, err
	}

	jobStore, catalogStore, err := app.setupDatabase(ctx)
	if err != nil {
		return nil, err
	}
	blobs, err := app.setupStorage(ctx)
	if err != nil {
		return nil, err
	}
	publisher, err := app.setupPublisher(ctx)
	if err != nil {
		return nil, err
	}
	emitter, err := app.setupProgress(ctx, opts.Registerer)
	if err != nil {
		return nil, err
	}
	if app.queue, err = app.setupQueue(); err != nil {
		return nil, err
	}

	ids := uuid.New()
	app.jobs, err = jobs.New(jobs.Config{
		Store:     jobStore,
		Queue:     app.queue,
		Publisher: publisher,
		Topic:     cfg.PubSub.TopicName,
		IDs:       ids,
		Clock:     app.clock,
		Logger:    logger,
	})
	if err != nil {
		return nil, fmt.Errorf("job manager init failed: %w", err)
	}

	launcher, err := browser.NewLauncher(browser.Config{
		MaxSessions:    cfg.Browser.MaxSessions,
		NavTimeout:     cfg.Browser.NavTimeout,
		UserAgent:      cfg.Crawler.UserAgent,
		ViewportWidth:  cfg.Browser.ViewportWidth,
		ViewportHeight: cfg.Browser.ViewportHeight,
		ChromePath:     cfg.Browser.ChromePath,
	}, ratelimit.New(ratelimit.Config{
		RatePerSecond: cfg.Browser.RatePerSecond,
		Burst:         cfg.Browser.Burst,
	}), app.clock, emitter, logger)
	if err != nil {
		return nil, fmt.Errorf("browser launcher init failed: %w", err)
	}

	extractor := extract.New(app.rules, logger)
	enricher, err := enrich.New(cfg.Enrichment.Mode, cfg.Enrichment.Seed, enrich.Deps{
		Rules:     app.rules,
		Opener:    enrich.BrowserOpener{Browser: launcher},
		Extractor: extractor,
		Logger:    logger,
	})
	if err != nil {
		return nil, fmt.Errorf("enricher init failed: %w", err)
	}
	app.ingester = ingest.New(ingest.Config{
		Store:    catalogStore,
		Enricher: enricher,
		IDs:      ids,
		Clock:    app.clock,
		Rules:    app.rules,
		Emitter:  emitter,
		Logger:   logger,
	})

	var archiver *storage.Archiver
	if cfg.Storage.Snapshots {
		archiver = storage.NewArchiver(blobs, sha256.New(), cfg.Storage.Prefix, cfg.Storage.ContentType)
	}
	app.router, err = scrape.NewRouter(scrape.Config{
		Rules:     app.rules,
		Gate:      app.setupGate(),
		Opener:    scrape.BrowserOpener{Browser: launcher},
		Paginator: pagination.FromRules(app.rules, extractor.CountSelector(), app.clock, emitter, logger),
		Extractor: extractor,
		Ingester:  app.ingester,
		Archiver:  archiver,
		UserAgent: cfg.Policy.UserAgent,
		Clock:     app.clock,
		Emitter:   emitter,
		Logger:    logger,
	})
	if err != nil {
		return nil, fmt.Errorf("scrape router init failed: %w", err)
	}

	workerCfg := worker.Config{DeniedStatus: crawler.JobStatus(strings.ToUpper(cfg.Policy.DeniedStatus))}
	app.newWorker = func(id int) *worker.Worker {
		return worker.New(id, app.queue, app.jobs, app.router, app.clock, emitter, workerCfg, logger)
	}
	if app.dispatch, err = dispatcher.NewPool(cfg.Crawler.Concurrency, app.queue, app.newWorker, logger); err != nil {
		return nil, err
	}
	if app.scheduler, err = schedule.New(cfg.Schedule.Entries, app.rules, app.jobs, logger); err != nil {
		return nil, err
	}
	app.apiServer = api.NewServer(app.jobs, app.rules, cfg.Auth, app.checks, logger)
	return app, nil
}

// Handler exposes the HTTP API.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Serve runs the HTTP server, the worker pool and the scheduler until ctx
// ends or SIGINT/SIGTERM arrives, then shuts everything down.
func (a *App) Serve(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		a.dispatch.Run(ctx)
	}()
	a.scheduler.Start()

	if a.cfg.Server.SeedOnStartup {
		if id, err := a.jobs.Enqueue(ctx, a.rules.BaseURL, crawler.TargetNavigation, crawler.Metadata{}); err != nil {
			a.logger.Warn("startup navigation seed not enqueued", zap.Error(err))
		} else {
			a.logger.Info("startup navigation seed enqueued", zap.String("job_id", id))
		}
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	a.scheduler.Stop(shutdownCtx)
	select {
	case <-dispatchDone:
	case <-shutdownCtx.Done():
		a.logger.Warn("workers did not stop before shutdown deadline")
	}
	closeErr := a.Close(shutdownCtx)

	select {
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	default:
		return closeErr
	}
}

// RunJob creates a job and runs it to completion on the calling goroutine.
func (a *App) RunJob(
	ctx context.Context,
	targetURL string,
	targetType crawler.TargetType,
	metadata crawler.Metadata,
) (crawler.ScrapeJob, error) {
	job, err := a.jobs.CreateJob(ctx, targetURL, targetType, metadata)
	if err != nil {
		return crawler.ScrapeJob{}, err
	}
	a.newWorker(0).Process(ctx, crawler.QueueItem{
		JobID:      job.ID,
		TargetType: job.TargetType,
		TargetURL:  job.TargetURL,
		Metadata:   job.Metadata,
		Attempt:    1,
		Submitted:  job.CreatedAt.UnixMilli(),
	})
	return a.jobs.GetStatus(context.WithoutCancel(ctx), job.ID)
}

// Seed upserts the configured navigation entries directly.
func (a *App) Seed(ctx context.Context) (int, error) {
	return a.ingester.SeedNavigation(ctx, a.rules.Navigation)
}

// Rules returns the active catalog rules.
func (a *App) Rules() *catalog.Rules {
	return a.rules
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close(ctx context.Context) error {
	if a.queue != nil {
		a.queue.Close()
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.fn(ctx); err != nil {
			a.logger.Warn("close failed", zap.String("resource", c.name), zap.Error(err))
			errs = append(errs, fmt.Errorf("close %s: %w", c.name, err))
		}
	}
	a.closers = nil
	_ = a.logger.Sync()
	return errors.Join(errs...)
}

func (a *App) addCloser(name string, fn func(context.Context) error) {
	a.closers = append(a.closers, closer{name: name, fn: fn})
}

func loadRules(path string) (*catalog.Rules, error) {
	if path == "" {
		rules, err := catalog.Default()
		if err != nil {
			return nil, fmt.Errorf("default catalog rules: %w", err)
		}
		return rules, nil
	}
	rules, err := catalog.Load(path)
	if err != nil {
		return nil, fmt.Errorf("catalog rules %s: %w", path, err)
	}
	return rules, nil
}

func (a *App) setupDatabase(ctx context.Context) (crawler.JobStore, crawler.CatalogStore, error) {
	if a.cfg.Database.DSN == "" {
		a.logger.Warn("no database dsn configured; using in-memory job and catalog stores")
		return memoryStorage.NewJobStore(), memoryStorage.NewCatalogStore(), nil
	}
	pool, err := pgstore.Connect(ctx, pgstore.Config{
		DSN:             a.cfg.Database.DSN,
		MaxConns:        a.cfg.Database.MaxConns,
		MinConns:        a.cfg.Database.MinConns,
		MaxConnLifetime: a.cfg.Database.MaxConnLifetime,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("database init failed: %w", err)
	}
	a.addCloser("postgres", func(context.Context) error {
		pool.Close()
		return nil
	})
	a.checks["database"] = pool.Ping
	if a.cfg.Database.EnsureSchema {
		if err := pgstore.EnsureSchema(ctx, pool); err != nil {
			return nil, nil, err
		}
		a.logger.Info("database schema ensured")
	}
	jobStore, err := pgstore.NewJobStore(pool)
	if err != nil {
		return nil, nil, fmt.Errorf("job store init failed: %w", err)
	}
	catalogStore, err := pgstore.NewCatalogStore(pool, a.logger)
	if err != nil {
		return nil, nil, fmt.Errorf("catalog store init failed: %w", err)
	}
	a.logger.Info("postgres stores initialized")
	return jobStore, catalogStore, nil
}

func (a *App) setupStorage(ctx context.Context) (crawler.BlobStore, error) {
	switch a.cfg.Storage.Backend {
	case "gcs":
		blobs, err := gcsstorage.Open(ctx, gcsstorage.Config{Bucket: a.cfg.Storage.Bucket})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		a.addCloser("gcs", func(context.Context) error { return blobs.Close() })
		a.logger.Info("using GCS storage backend", zap.String("bucket", a.cfg.Storage.Bucket))
		return blobs, nil
	case "local":
		blobs, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Storage.Local.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		a.logger.Info("using local storage backend", zap.String("path", a.cfg.Storage.Local.BaseDir))
		return blobs, nil
	default:
		a.logger.Info("using in-memory storage backend")
		return memoryStorage.NewBlobStore(), nil
	}
}

func (a *App) setupPublisher(ctx context.Context) (crawler.Publisher, error) {
	if a.cfg.PubSub.TopicName == "" || a.cfg.PubSub.ProjectID == "" {
		a.logger.Warn("no Pub/Sub topic configured, using in-memory publisher")
		return memorypublisher.New(), nil
	}
	pub, err := gcppublisher.Open(ctx, a.cfg.PubSub.ProjectID, a.cfg.PubSub.TopicName, a.logger)
	if err != nil {
		return nil, fmt.Errorf("pubsub publisher init failed: %w", err)
	}
	a.addCloser("pubsub", func(context.Context) error { return pub.Close() })
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.TopicName),
	)
	return pub, nil
}

func (a *App) setupProgress(ctx context.Context, reg prometheus.Registerer) (progress.Emitter, error) {
	if !a.cfg.Progress.Enabled {
		a.logger.Info("progress tracking disabled")
		return progress.Nop{}, nil
	}
	promSink, err := progresssinks.NewPrometheusSink(reg)
	if err != nil {
		return nil, fmt.Errorf("progress prometheus sink: %w", err)
	}
	sinkList := []progress.Sink{promSink}
	if a.cfg.Progress.LogEnabled {
		sinkList = append(sinkList, progresssinks.NewLogSink(a.logger.Named("progress_log")))
	}
	a.hub = progress.NewHub(progress.Config{
		BufferSize:     a.cfg.Progress.BufferSize,
		MaxBatchEvents: a.cfg.Progress.Batch.MaxEvents,
		MaxBatchWait:   a.cfg.HubFlushWait(),
		BaseContext:    context.WithoutCancel(ctx),
		Logger:         a.logger.Named("progress_hub"),
	}, sinkList...)
	a.addCloser("progress", a.hub.Close)
	a.logger.Info("progress hub initialized", zap.Int("sinks", len(sinkList)))
	return a.hub, nil
}

func (a *App) setupQueue() (crawler.Queue, error) {
	if a.cfg.Crawler.QueueBackend != "redis" {
		return queueMemory.NewQueue(a.cfg.Crawler.QueueDepth), nil
	}
	q, err := queueRedis.New(queueRedis.Config{
		Addr:        a.cfg.Redis.Addr,
		Password:    a.cfg.Redis.Password,
		DB:          a.cfg.Redis.DB,
		Key:         a.cfg.Redis.Key,
		Depth:       a.cfg.Crawler.QueueDepth,
		PollTimeout: a.cfg.Redis.PollTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("redis queue init failed: %w", err)
	}
	a.checks["queue"] = q.Ping
	a.logger.Info("using redis queue", zap.String("addr", a.cfg.Redis.Addr), zap.String("key", a.cfg.Redis.Key))
	return q, nil
}

func (a *App) setupGate() scrape.Gate {
	if !a.cfg.Policy.Enabled {
		a.logger.Warn("robots policy disabled; every path is allowed")
		return simple.New()
	}
	return robots.New(robots.Config{
		Timeout:   a.cfg.Policy.Timeout,
		CacheTTL:  a.cfg.Policy.CacheTTL,
		CacheSize: a.cfg.Policy.CacheSize,
		UserAgent: a.cfg.Crawler.UserAgent,
	}, a.logger)
}
