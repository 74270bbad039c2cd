// Package app builds the crawler's long-lived services from configuration and
// owns their shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/nomenclature-crawler/internal/api"
	"github.com/JakeFAU/nomenclature-crawler/internal/clock/system"
	"github.com/JakeFAU/nomenclature-crawler/internal/config"
	"github.com/JakeFAU/nomenclature-crawler/internal/crawler"
	"github.com/JakeFAU/nomenclature-crawler/internal/fetcher/nomenclature"
	"github.com/JakeFAU/nomenclature-crawler/internal/id/uuid"
	"github.com/JakeFAU/nomenclature-crawler/internal/policy/ratelimit"
	"github.com/JakeFAU/nomenclature-crawler/internal/progress"
	progresssinks "github.com/JakeFAU/nomenclature-crawler/internal/progress/sinks"
	gcppublisher "github.com/JakeFAU/nomenclature-crawler/internal/publisher/pubsub"
	"github.com/JakeFAU/nomenclature-crawler/internal/statestore"
	crawlstorage "github.com/JakeFAU/nomenclature-crawler/internal/storage"
	gcsstorage "github.com/JakeFAU/nomenclature-crawler/internal/storage/gcs"
	localstorage "github.com/JakeFAU/nomenclature-crawler/internal/storage/local"
	memoryStorage "github.com/JakeFAU/nomenclature-crawler/internal/storage/memory"
	pgstore "github.com/JakeFAU/nomenclature-crawler/internal/storage/postgres"
	sqlitestore "github.com/JakeFAU/nomenclature-crawler/internal/storage/sqlite"
)

// App contains the application's dependencies.
type App struct {
	cfg             config.Config
	logger          *zap.Logger
	orchestrator    *crawler.Orchestrator
	apiServer       *api.Server
	progressHub     *progress.Hub
	broadcast       *progresssinks.BroadcastSink
	pubsubClient    *pubsub.Client
	pubsubPublisher *gcppublisher.Publisher
	gcsClient       *storage.Client
	stateCloser     func() error
	closed          atomic.Bool
}

// Option overrides a dependency, mainly for tests.
type Option func(*overrides)

type overrides struct {
	fetcher crawler.NodeFetcher
	state   crawlstorage.StateBackend
	blobs   crawler.BlobStore
	clock   crawler.Clock
}

// WithFetcher replaces the nomenclature API client.
func WithFetcher(f crawler.NodeFetcher) Option {
	return func(o *overrides) { o.fetcher = f }
}

// WithStateBackend replaces the configured state backend.
func WithStateBackend(b crawlstorage.StateBackend) Option {
	return func(o *overrides) { o.state = b }
}

// WithBlobStore replaces the configured output backend.
func WithBlobStore(b crawler.BlobStore) Option {
	return func(o *overrides) { o.blobs = b }
}

// WithClock replaces the wall clock.
func WithClock(c crawler.Clock) Option {
	return func(o *overrides) { o.clock = c }
}

// Build creates the application's dependencies. Runs started through the API
// are bound to ctx.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var ov overrides
	for _, opt := range opts {
		opt(&ov)
	}
	a := &App{cfg: cfg, logger: logger}
	logger.Info("building application dependencies",
		zap.String("state_backend", cfg.State.Backend),
		zap.String("output_backend", cfg.Output.Backend),
		zap.String("country", cfg.Crawler.Country),
	)

	ok := false
	defer func() {
		if !ok {
			a.closeInfrastructure(context.Background())
		}
	}()

	backend := ov.state
	if backend == nil {
		var err error
		if backend, err = a.setupStateBackend(ctx); err != nil {
			return nil, err
		}
	}
	store, err := statestore.New(backend, cfg.Crawler.Country, cfg.Crawler.CountryLabel, logger.Named("state"))
	if err != nil {
		return nil, fmt.Errorf("state store init failed: %w", err)
	}

	blobs := ov.blobs
	if blobs == nil {
		if blobs, err = a.setupOutput(ctx); err != nil {
			return nil, err
		}
	}

	fetcher := ov.fetcher
	if fetcher == nil {
		fetcher = a.setupFetcher()
	}

	clock := ov.clock
	if clock == nil {
		clock = system.New()
	}

	emitter, err := a.setupProgress(ctx)
	if err != nil {
		return nil, err
	}

	sink := crawler.NewResultSink(blobs, cfg.Output.Prefix, clock, logger.Named("output"))
	a.orchestrator, err = crawler.NewOrchestrator(
		ctx,
		cfg.EngineConfig(),
		store,
		fetcher,
		sink,
		emitter,
		uuid.New(),
		clock,
		logger.Named("orchestrator"),
	)
	if err != nil {
		return nil, fmt.Errorf("orchestrator init failed: %w", err)
	}

	a.apiServer = api.NewServer(ctx, a.orchestrator, a.broadcast, api.Options{
		AuthEnabled:    cfg.Auth.Enabled,
		APIKey:         cfg.Auth.APIKey,
		RequestTimeout: cfg.RequestTimeout() * 2,
	}, logger.Named("api"))
	a.apiServer.SetReadiness(func() error {
		if a.closed.Load() {
			return errors.New("shutting down")
		}
		return nil
	})

	ok = true
	return a, nil
}

// Orchestrator exposes the crawl controller.
func (a *App) Orchestrator() *crawler.Orchestrator {
	return a.orchestrator
}

// Logger returns the root logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Handler returns the HTTP API.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Serve runs the HTTP API until ctx is done or the listener fails, then
// drains in-flight runs.
func (a *App) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutdown initiated")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("server shutdown error", zap.Error(err))
		}
		return nil
	})

	err := g.Wait()
	a.orchestrator.Wait()
	return err
}

// Close gracefully shuts down the application. It is safe to call twice.
func (a *App) Close(ctx context.Context) error {
	if !a.closed.CompareAndSwap(false, true) {
		return nil
	}
	if a.orchestrator != nil {
		a.orchestrator.Wait()
	}
	a.closeInfrastructure(ctx)
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
	a.logger.Info("shutdown complete")
	return nil
}

func (a *App) closeInfrastructure(ctx context.Context) {
	if a.progressHub != nil {
		if err := a.progressHub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
	}
	if a.pubsubPublisher != nil {
		a.pubsubPublisher.Stop()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.stateCloser != nil {
		if err := a.stateCloser(); err != nil {
			a.logger.Warn("state backend close failed", zap.Error(err))
		}
	}
	if a.gcsClient != nil {
		if err := a.gcsClient.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
}

func (a *App) storageClient(ctx context.Context) (*storage.Client, error) {
	if a.gcsClient != nil {
		return a.gcsClient, nil
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("gcs client init failed: %w", err)
	}
	a.gcsClient = client
	return client, nil
}

func (a *App) setupStateBackend(ctx context.Context) (crawlstorage.StateBackend, error) {
	cfg := a.cfg.State
	switch cfg.Backend {
	case config.StateSQLite:
		store, err := sqlitestore.Open(ctx, cfg.Path, cfg.Key)
		if err != nil {
			return nil, fmt.Errorf("sqlite state init failed: %w", err)
		}
		a.stateCloser = store.Close
		a.logger.Info("using sqlite state backend", zap.String("path", cfg.Path))
		return store, nil
	case config.StatePostgres:
		store, err := pgstore.NewStateStore(ctx, pgstore.StateStoreConfig{
			DSN:   cfg.DSN,
			Table: cfg.Table,
			Key:   cfg.Key,
		})
		if err != nil {
			return nil, fmt.Errorf("postgres state init failed: %w", err)
		}
		a.stateCloser = func() error {
			store.Close()
			return nil
		}
		a.logger.Info("using postgres state backend", zap.String("table", cfg.Table))
		return store, nil
	case config.StateGCS:
		client, err := a.storageClient(ctx)
		if err != nil {
			return nil, err
		}
		obj, err := gcsstorage.NewStateObject(client, cfg.GCSBucket, cfg.GCSObject)
		if err != nil {
			return nil, fmt.Errorf("gcs state init failed: %w", err)
		}
		a.logger.Info("using gcs state backend", zap.String("bucket", cfg.GCSBucket))
		return obj, nil
	case config.StateMemory:
		a.logger.Warn("using in-memory state backend; progress is lost on exit")
		return memoryStorage.NewStateBlob(), nil
	default:
		file, err := localstorage.NewStateFile(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("file state init failed: %w", err)
		}
		a.logger.Info("using file state backend", zap.String("path", cfg.Path))
		return file, nil
	}
}

func (a *App) setupOutput(ctx context.Context) (crawler.BlobStore, error) {
	cfg := a.cfg.Output
	switch cfg.Backend {
	case config.OutputGCS:
		client, err := a.storageClient(ctx)
		if err != nil {
			return nil, err
		}
		blobs, err := gcsstorage.New(client, gcsstorage.Config{Bucket: cfg.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		a.logger.Info("using GCS output backend", zap.String("bucket", cfg.GCSBucket))
		return blobs, nil
	case config.OutputMemory:
		a.logger.Warn("using in-memory output backend; files are discarded on exit")
		return memoryStorage.NewBlobStore(), nil
	default:
		blobs, err := localstorage.New(localstorage.Config{BaseDir: cfg.Dir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		a.logger.Info("using local output backend", zap.String("dir", cfg.Dir))
		return blobs, nil
	}
}

func (a *App) setupFetcher() crawler.NodeFetcher {
	var limiter nomenclature.Limiter
	if a.cfg.Crawler.MaxRPS > 0 {
		limiter = ratelimit.New(ratelimit.Config{DefaultRPS: a.cfg.Crawler.MaxRPS, DefaultBurst: 1})
		a.logger.Info("request ceiling enabled", zap.Float64("max_rps", a.cfg.Crawler.MaxRPS))
	}
	a.logger.Info("using nomenclature API client",
		zap.String("endpoint", a.cfg.Crawler.Endpoint),
		zap.String("user_agent", a.cfg.Crawler.UserAgent),
	)
	return nomenclature.New(nomenclature.Config{
		Endpoint:    a.cfg.Crawler.Endpoint,
		Lang:        a.cfg.Crawler.Lang,
		UserAgent:   a.cfg.Crawler.UserAgent,
		Timeout:     a.cfg.RequestTimeout(),
		MaxBodySize: a.cfg.HTTP.MaxBodyBytes,
	}, limiter, a.logger.Named("api_client"))
}

func (a *App) setupProgress(ctx context.Context) (progress.Emitter, error) {
	a.broadcast = progresssinks.NewBroadcastSink()
	sinkList := []progress.Sink{
		a.broadcast,
		progresssinks.NewLogSink(a.logger.Named("progress_log")),
	}
	promSink, err := progresssinks.NewPrometheusSink(nil)
	if err != nil {
		return nil, fmt.Errorf("progress metrics init failed: %w", err)
	}
	sinkList = append(sinkList, promSink)

	if a.cfg.PubSub.TopicName != "" && a.cfg.PubSub.ProjectID != "" {
		a.pubsubClient, err = pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("pubsub client init failed: %w", err)
		}
		a.pubsubPublisher = gcppublisher.New(a.pubsubClient.Topic(a.cfg.PubSub.TopicName))
		sinkList = append(sinkList, progresssinks.NewPublisherSink(a.pubsubPublisher, a.logger.Named("progress_pubsub")))
		a.logger.Info("Pub/Sub publisher initialized",
			zap.String("project", a.cfg.PubSub.ProjectID),
			zap.String("topic", a.cfg.PubSub.TopicName),
		)
	}

	hubCfg := progress.Config{
		BufferSize:       a.cfg.Progress.BufferSize,
		MaxBatchWait:     a.cfg.BatchWait(),
		ProgressInterval: a.cfg.ProgressInterval(),
		BaseContext:      context.WithoutCancel(ctx),
		Logger:           a.logger.Named("progress_hub"),
	}
	a.progressHub = progress.NewHub(hubCfg, sinkList...)
	a.logger.Info("progress hub initialized",
		zap.Int("buffer_size", hubCfg.BufferSize),
		zap.Duration("max_batch_wait", hubCfg.MaxBatchWait),
		zap.Duration("progress_interval", hubCfg.ProgressInterval),
		zap.Int("sinks", len(sinkList)),
	)
	return a.progressHub, nil
}
