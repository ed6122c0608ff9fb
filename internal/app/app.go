// Package app assembles AcademiCK from configuration: stores, collaborator
// clients, the ingestion pipeline, the job coordinator, the search engine
// and the HTTP API.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/academick/academick"
	redisCache "github.com/academick/academick/cache/redis"
	"github.com/academick/academick/ingest"
	"github.com/academick/academick/internal/api"
	"github.com/academick/academick/internal/config"
	"github.com/academick/academick/jobs"
	"github.com/academick/academick/observer"
	"github.com/academick/academick/provider/resolve"
	"github.com/academick/academick/store/postgres"
	"github.com/academick/academick/store/sqlite"
)

// Store is the combined persistence the application runs on.
type Store interface {
	academick.ChunkStore
	academick.JobStore
}

// App holds the assembled components.
type App struct {
	Config      config.Config
	Store       Store
	Coordinator *jobs.Coordinator
	Engine      *academick.HybridSearchEngine
	API         *api.Server

	logger  *slog.Logger
	closers []func(context.Context) error
}

// New builds every component from cfg. Call Close when done.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = academick.NopLogger
	}
	a := &App{Config: cfg, logger: logger}
	if err := a.build(ctx); err != nil {
		_ = a.Close(context.Background())
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context) error {
	cfg := a.Config

	// 1. Observability
	var inst *observer.Instruments
	var tracer academick.Tracer
	if cfg.Observer.Enabled {
		pricing := make(map[string]observer.ModelPricing, len(cfg.Observer.Pricing))
		for model, p := range cfg.Observer.Pricing {
			pricing[model] = observer.ModelPricing{InputPerMillion: p.Input, OutputPerMillion: p.Output}
		}
		i, shutdown, err := observer.Init(ctx, cfg.Observer.ServiceName, pricing)
		if err != nil {
			return fmt.Errorf("observer init: %w", err)
		}
		inst, tracer = i, observer.NewTracer()
		a.closers = append(a.closers, shutdown)
	}

	// 2. Store
	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	a.Store = store

	// 3. Collaborators
	llm, err := a.chatProvider()
	if err != nil {
		return err
	}
	embedder, err := a.embedder()
	if err != nil {
		return err
	}
	classifier, err := a.intentClassifier(llm)
	if err != nil {
		return err
	}
	if inst != nil {
		if llm != nil {
			llm = observer.WrapProvider(llm, cfg.LLM.Model, inst)
		}
		embedder = observer.WrapEmbedder(embedder, cfg.Embedding.Model, inst)
		if classifier != nil {
			classifier = observer.WrapIntent(classifier, inst)
		}
	}

	// 4. Ingestion + jobs
	ing := ingest.NewIngestor(store, embedder,
		ingest.WithDetector(ingest.DefaultChapterDetector(llm,
			ingest.WithStrategyTimeout(cfg.Ingest.DetectTimeout),
			ingest.WithDetectorLogger(a.logger))),
		ingest.WithStrategyChunker(ingest.StrategyLLM, ingest.NewSentenceChunker(
			ingest.WithChunkSize(cfg.Ingest.SentenceChunkSize),
			ingest.WithChunkOverlap(cfg.Ingest.SentenceChunkOverlap))),
		ingest.WithStrategyChunker(ingest.StrategyPattern, ingest.NewWindowChunker(
			ingest.WithChunkSize(cfg.Ingest.WindowChunkSize),
			ingest.WithChunkOverlap(cfg.Ingest.WindowChunkOverlap))),
		ingest.WithFilter(ingest.ChunkFilter{
			MinLength:      cfg.Ingest.MinChunkLength,
			MaxPeriodRatio: cfg.Ingest.MaxPeriodRatio,
		}),
		ingest.WithBatchSize(cfg.Ingest.EmbedBatchSize),
		ingest.WithEmbedTimeout(cfg.Embedding.Timeout),
		ingest.WithLogger(a.logger),
		ingest.WithTracer(tracer),
	)

	jobOpts := []jobs.Option{
		jobs.WithWorkers(cfg.Ingest.Workers),
		jobs.WithPollInterval(cfg.Ingest.PollInterval),
		jobs.WithTTL(cfg.Jobs.TTL),
		jobs.WithMaxVisible(cfg.Jobs.MaxVisible),
		jobs.WithMaxUploadSize(cfg.Ingest.MaxUploadBytes()),
		jobs.WithLogger(a.logger),
		jobs.WithOnPublished(a.invalidateSearch),
	}
	if inst != nil {
		jobOpts = append(jobOpts, jobs.WithMetrics(observer.NewJobMetrics(inst)))
	}
	a.Coordinator = jobs.New(store, jobs.NewPDFPipeline(ing, a.logger), cfg.Ingest.UploadDir, jobOpts...)

	// 5. Search
	searchOpts := []academick.SearchOption{
		academick.WithPrefilterK(cfg.Search.PrefilterK),
		academick.WithTopN(cfg.Search.TopNSearch, cfg.Search.TopNDefault),
		academick.WithBookMatchThreshold(cfg.Search.BookMatchThreshold),
		academick.WithCollaboratorTimeouts(cfg.Search.EnhanceTimeout, cfg.Search.IntentTimeout, cfg.Search.EmbedTimeout),
		academick.WithSearchLogger(a.logger),
		academick.WithSearchTracer(tracer),
	}
	if llm != nil {
		searchOpts = append(searchOpts, academick.WithQueryEnhancer(academick.NewLLMQueryEnhancer(llm)))
	}
	if classifier != nil {
		searchOpts = append(searchOpts, academick.WithIntentClassifier(classifier))
	}
	if cfg.Cache.Enabled {
		rdb, err := redisCache.Connect(ctx, cfg.Cache.Addr, cfg.Cache.Password, cfg.Cache.DB)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, func(context.Context) error { return rdb.Close() })
		searchOpts = append(searchOpts, academick.WithSearchCache(
			redisCache.New(rdb, redisCache.WithTTL(cfg.Cache.TTL), redisCache.WithLogger(a.logger))))
	}
	a.Engine = academick.NewHybridSearchEngine(store, embedder, searchOpts...)

	// 6. API
	a.API = api.New(a.Coordinator, a.Engine, store, api.WithLogger(a.logger))

	a.logger.Info("academick assembled",
		"db", cfg.Database.Driver,
		"llm", llm != nil,
		"embedding", cfg.Embedding.Provider,
		"intent", cfg.Intent.Provider,
		"cache", cfg.Cache.Enabled,
		"observer", cfg.Observer.Enabled)
	return nil
}

// invalidateSearch drops cached search responses once a job has published
// chapters, so new content is visible to the next search.
func (a *App) invalidateSearch(ctx context.Context, job academick.Job) {
	if a.Engine == nil {
		return
	}
	if err := a.Engine.InvalidateCache(ctx); err != nil {
		a.logger.Warn("invalidate search cache", "job_id", job.ID, "error", err)
	}
}

func (a *App) openStore(ctx context.Context) (Store, error) {
	cfg := a.Config.Database
	switch cfg.Driver {
	case "postgres":
		pool, err := postgres.Connect(ctx, cfg.DSN)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func(context.Context) error { pool.Close(); return nil })
		s := postgres.New(pool, postgres.WithLogger(a.logger))
		if err := s.Init(ctx); err != nil {
			return nil, fmt.Errorf("store init: %w", err)
		}
		return s, nil
	default:
		s := sqlite.New(cfg.Path, sqlite.WithLogger(a.logger))
		a.closers = append(a.closers, func(context.Context) error { return s.Close() })
		if err := s.Init(ctx); err != nil {
			return nil, fmt.Errorf("store init: %w", err)
		}
		return s, nil
	}
}

// chatProvider returns nil when no API key is configured for a hosted
// endpoint, which disables LLM chapter detection and query enhancement.
func (a *App) chatProvider() (academick.Provider, error) {
	cfg := a.Config.LLM
	if cfg.APIKey == "" && !isLocal(cfg.BaseURL) {
		return nil, nil
	}
	temp := 0.0
	return resolve.Provider(resolve.Config{
		Provider:    cfg.Name,
		APIKey:      cfg.APIKey,
		Model:       cfg.Model,
		BaseURL:     cfg.BaseURL,
		Temperature: &temp,
		Timeout:     cfg.Timeout,
		RPM:         cfg.RPM,
		TPM:         cfg.TPM,
		Logger:      a.logger,
	})
}

func (a *App) embedder() (academick.Embedder, error) {
	cfg := a.Config.Embedding
	return resolve.Embedder(resolve.EmbeddingConfig{
		Provider:   cfg.Provider,
		URL:        cfg.URL,
		APIKey:     cfg.APIKey,
		Model:      cfg.Model,
		Dimensions: cfg.Dimensions,
		Timeout:    cfg.Timeout,
		Logger:     a.logger,
	})
}

func (a *App) intentClassifier(llm academick.Provider) (academick.IntentClassifier, error) {
	cfg := a.Config.Intent
	if cfg.Provider == "llm" && llm == nil {
		a.logger.Warn("intent provider llm needs an llm api key; using search weights")
	}
	return resolve.IntentClassifier(resolve.IntentConfig{
		Provider: cfg.Provider,
		URL:      cfg.URL,
		Timeout:  cfg.Timeout,
		Logger:   a.logger,
	}, llm)
}

func isLocal(baseURL string) bool {
	return strings.Contains(baseURL, "localhost") || strings.Contains(baseURL, "127.0.0.1")
}

// Serve runs the worker pool and the HTTP server until ctx is done.
func (a *App) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.Config.Server.Addr,
		Handler:           a.API.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.Coordinator.Start(ctx) })
	g.Go(func() error {
		a.logger.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		a.logger.Info("shutting down")
		return srv.Shutdown(sctx)
	})
	return g.Wait()
}

// ServeWithSignal wraps Serve with OS signal handling for graceful shutdown.
func (a *App) ServeWithSignal() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return a.Serve(ctx)
}

// Close releases everything New opened, in reverse order.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i](ctx))
	}
	a.closers = nil
	return errors.Join(errs...)
}

// NewLogger builds the process logger from the [log] section.
func NewLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
