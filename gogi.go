// Package gogi is the public API for embedding the Gogi deliberation server.
//
// Gogi runs structured multi-model deliberations and remembers their
// outcomes in a persistent decision graph. The usual entry point is the
// gogi binary serving MCP over stdio, but the App can be embedded:
//
//	app, err := gogi.New(ctx,
//	    gogi.WithConfigPath("gogi.yaml"),
//	    gogi.WithLogger(logger),
//	    gogi.WithVersion(version),
//	)
//	if err != nil { ... }
//	if err := app.Run(ctx); err != nil { ... }
package gogi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/ashita-ai/gogi/internal/adapter"
	"github.com/ashita-ai/gogi/internal/cache"
	"github.com/ashita-ai/gogi/internal/config"
	"github.com/ashita-ai/gogi/internal/engine"
	"github.com/ashita-ai/gogi/internal/graph"
	"github.com/ashita-ai/gogi/internal/mcp"
	"github.com/ashita-ai/gogi/internal/retriever"
	"github.com/ashita-ai/gogi/internal/similarity"
	"github.com/ashita-ai/gogi/internal/storage"
	"github.com/ashita-ai/gogi/internal/telemetry"
	"github.com/ashita-ai/gogi/internal/transcript"
	"github.com/ashita-ai/gogi/internal/worker"
)

// workerStopTimeout bounds how long Shutdown waits for the similarity
// worker to finish its active job.
const workerStopTimeout = 5 * time.Second

// App is the Gogi server lifecycle. Construct with New(), run with Run().
// App has no public fields; use New() options to configure it.
type App struct {
	cfg          *config.Config
	store        *storage.Store // nil when the decision graph is disabled
	worker       *worker.SimilarityWorker
	graph        *graph.Service
	engine       *engine.Engine
	mcpSrv       *mcp.Server
	otelShutdown telemetry.Shutdown
	logger       *slog.Logger
	version      string
}

// New initialises the Gogi server: configuration, telemetry, the decision
// graph store, the adapter registry, the engine, and the MCP surface.
// It does NOT start any goroutines or serve the protocol — call Run().
func New(ctx context.Context, opts ...Option) (*App, error) {
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	cfg, err := resolveConfig(&o, logger)
	if err != nil {
		return nil, err
	}
	version := o.version
	if version == "" {
		version = "dev"
	}

	logger.Info("gogi starting", "version", version,
		"adapters", len(cfg.Adapters), "decision_graph", cfg.DecisionGraph.Enabled)

	otelShutdown, err := telemetry.Init(ctx,
		os.Getenv("GOGI_OTEL_ENDPOINT"), "gogi", version,
		os.Getenv("GOGI_OTEL_INSECURE") == "true")
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	adapters, err := adapter.BuildRegistry(cfg, logger)
	if err != nil {
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("adapters: %w", err)
	}

	app := &App{
		cfg:          cfg,
		otelShutdown: otelShutdown,
		logger:       logger,
		version:      version,
	}

	var tiers *cache.TwoTier
	if cfg.DecisionGraph.Enabled {
		tiers = cache.NewTwoTier(
			cfg.DecisionGraph.Cache.QuerySize,
			cfg.DecisionGraph.Cache.QueryTTL.Std(),
			cfg.DecisionGraph.Cache.EmbeddingSize,
			logger,
		)
	}
	backend := newSimilarityBackend(ctx, cfg, tiers, logger)

	var writer *transcript.Writer
	if cfg.DecisionGraph.Enabled {
		store, err := storage.Open(ctx, cfg.DecisionGraph.DBPath, logger)
		if err != nil {
			_ = otelShutdown(context.Background())
			return nil, fmt.Errorf("storage: %w", err)
		}

		ret := retriever.New(store, backend, tiers, cfg.DecisionGraph, logger)
		w := worker.New(store, backend, cfg.DecisionGraph.Worker, logger)

		app.store = store
		app.worker = w
		app.graph = graph.NewService(store, ret, tiers, w, cfg.DecisionGraph, logger)
		writer = transcript.NewWriter(cfg.DecisionGraph.TranscriptsDir)
	} else {
		logger.Info("decision graph disabled; deliberations will not be remembered")
	}

	app.engine = engine.New(adapters, app.graph, backend, writer, cfg, logger)
	app.mcpSrv = mcp.New(app.engine, app.graph, cfg, version, logger)

	return app, nil
}

// Run starts the background similarity worker and serves MCP over stdio.
// It blocks until the transport closes or ctx is cancelled, then shuts
// down. Callers should not call Shutdown separately.
func (a *App) Run(ctx context.Context) error {
	if a.worker != nil {
		a.worker.Start(ctx)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- a.mcpSrv.ServeStdio()
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	if err := a.Shutdown(context.Background()); err != nil {
		a.logger.Error("shutdown error", "error", err)
	}
	return serveErr
}

// Shutdown stops the worker with a bounded drain, closes the store, and
// flushes telemetry.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("gogi shutting down")

	if a.worker != nil {
		a.worker.Stop(workerStopTimeout)
	}

	var firstErr error
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			firstErr = err
		}
	}
	if err := a.otelShutdown(ctx); err != nil && firstErr == nil {
		firstErr = err
	}

	a.logger.Info("gogi stopped")
	return firstErr
}

// Engine exposes the deliberation engine for embedders that want to run
// deliberations without the MCP transport.
func (a *App) Engine() *engine.Engine { return a.engine }

// Graph exposes the decision graph service; nil when disabled.
func (a *App) Graph() *graph.Service { return a.graph }

// resolveConfig picks the configuration source. An explicit WithConfig
// wins; an explicit WithConfigPath must exist; the implicit default path
// falls back to built-in defaults when the file is absent.
func resolveConfig(o *resolvedOptions, logger *slog.Logger) (*config.Config, error) {
	if o.cfg != nil {
		return o.cfg, nil
	}

	path := o.configPath
	implicit := path == ""
	if implicit {
		path = "gogi.yaml"
	}

	cfg, err := config.Load(path)
	if err != nil {
		if implicit && errors.Is(err, os.ErrNotExist) {
			logger.Info("no config file found, using defaults", "path", path)
			return config.Default(), nil
		}
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// newSimilarityBackend picks the similarity backend from config, probing
// the local embedding provider when the choice is automatic. tiers may be
// nil; the embedding backend then runs without a vector cache.
func newSimilarityBackend(ctx context.Context, cfg *config.Config, tiers *cache.TwoTier, logger *slog.Logger) similarity.Backend {
	override := cfg.DecisionGraph.SimilarityBackend
	if override == config.BackendAuto {
		override = ""
	}

	var provider *similarity.OllamaProvider
	if override == "" || override == config.BackendEmbedding {
		provider = similarity.NewOllamaProvider(
			cfg.DecisionGraph.Embedding.BaseURL,
			cfg.DecisionGraph.Embedding.Model,
		)
	}

	var embCache similarity.EmbeddingCache
	if tiers != nil {
		embCache = tiers
	}
	return similarity.Select(ctx, override, provider, embCache, logger)
}
