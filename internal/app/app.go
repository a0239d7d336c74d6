// Package app wires the configured store, model provider and HTTP server
// into a running process.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"agentline/internal/config"
	"agentline/internal/db"
	"agentline/internal/engine"
	"agentline/internal/llm"
	"agentline/internal/logging"
	"agentline/internal/metrics"
	"agentline/internal/migrate"
	"agentline/internal/mongostore"
	"agentline/internal/observability"
	"agentline/internal/orchestrator"
	"agentline/internal/prompt"
	"agentline/internal/repo"
	"agentline/internal/server"
	"agentline/internal/tools"
)

// App holds the store-backed engine for one workspace. Close releases the
// store and anything started by Orchestrator or Serve.
type App struct {
	Workspace string
	Config    *config.Config
	Engine    engine.Engine
	Store     repo.Store
	Log       *zap.Logger

	closers []func(context.Context) error
}

// LoadConfig reads agentline.yml from workspace, or path when it is set.
func LoadConfig(workspace, path string) (*config.Config, error) {
	if path != "" {
		return config.FromFile(path)
	}
	return config.Load(workspace)
}

// Open connects the configured store. SQLite workspaces are migrated on open.
func Open(ctx context.Context, workspace string, cfg *config.Config, log *zap.Logger) (*App, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	log = logging.OrNop(log)
	a := &App{Workspace: workspace, Config: cfg, Log: log}
	switch cfg.Store.Driver {
	case "mongo":
		s, err := mongostore.New(ctx, cfg.Store.Mongo.URI, cfg.Store.Mongo.Database, log)
		if err != nil {
			return nil, fmt.Errorf("open mongo store: %w", err)
		}
		a.Store = s
		a.closers = append(a.closers, s.Close)
	default:
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return nil, err
		}
		conn, err := db.Open(db.Config{Workspace: workspace})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func(context.Context) error { return conn.Close() })
		applied, err := migrate.Migrate(ctx, conn)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		if applied > 0 {
			log.Info("applied migrations", zap.Int("count", applied))
		}
		a.Store = repo.New(conn)
	}
	a.Engine = engine.New(a.Store, cfg, log)
	return a, nil
}

// Close runs the registered closers in reverse order.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// Runtime is everything a turn needs beyond the engine.
type Runtime struct {
	Orchestrator *orchestrator.Orchestrator
	Metrics      *metrics.Metrics
	Gatherer     prometheus.Gatherer
}

// Orchestrator builds the model provider, snapshot cache, tracer and tool
// registry from config. The returned runtime is released by Close.
func (a *App) Orchestrator(ctx context.Context, version string) (*Runtime, error) {
	cfg := a.Config
	provider, err := llm.FromConfig(ctx, cfg.LLM, a.Log)
	if err != nil {
		return nil, fmt.Errorf("llm provider: %w", err)
	}

	var cache prompt.SnapshotCache = prompt.NewMemoryCache()
	if cfg.Cache.RedisAddr != "" {
		rc, err := prompt.NewRedisSnapshotCache(ctx, cfg.Cache.RedisAddr)
		if err != nil {
			return nil, fmt.Errorf("snapshot cache: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) error { return rc.Close() })
		cache = rc
	}

	tp, err := observability.NewTracerProvider(ctx, observability.TracingConfig{
		Enabled:      cfg.Tracing.Enabled,
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
		SampleRate:   cfg.Tracing.SampleRate,
		Version:      version,
	})
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, tp.Shutdown)

	caps := tools.Capabilities{LocalExecution: cfg.LocalExecution(), SandboxRoot: cfg.Capabilities.SandboxRoot}
	handlers := tools.EngineHandlers{Engine: a.Engine}
	if caps.LocalExecution {
		handlers.Sandbox = tools.NewSandbox(caps.SandboxRoot)
	}
	registry := tools.NewRegistry(handlers, a.Log)

	promReg := prometheus.NewRegistry()
	m := metrics.New(promReg)
	orch := orchestrator.New(orchestrator.Deps{
		Engine:   a.Engine,
		Provider: provider,
		Registry: registry,
		Builder: prompt.Builder{
			Registry:     registry,
			Capabilities: caps,
			OpenActions:  a.Engine.OpenActions,
			Cache:        cache,
			SnapshotTTL:  cfg.Cache.SnapshotTTL,
			Log:          a.Log,
		},
		Pricing: llm.Pricing(cfg.Pricing),
		Metrics: m,
		Tracer:  tp.Tracer(),
		Log:     a.Log,
	}, orchestrator.Options{
		Model:     cfg.LLM.Model,
		MaxTokens: cfg.LLM.MaxTokens,
		Timeout:   cfg.LLM.Timeout,
	})
	a.closers = append(a.closers, func(context.Context) error {
		orch.Wait()
		return nil
	})
	return &Runtime{Orchestrator: orch, Metrics: m, Gatherer: promReg}, nil
}

type ServeOptions struct {
	Addr     string
	BasePath string
	Version  string
}

// Serve runs the HTTP API and the webhook dispatcher until ctx is cancelled.
func (a *App) Serve(ctx context.Context, opts ServeOptions) error {
	cfg := a.Config
	if opts.Addr == "" {
		opts.Addr = cfg.Server.Addr
	}
	if opts.BasePath == "" {
		opts.BasePath = cfg.Server.BasePath
	}
	secret := os.Getenv(cfg.Server.JWTSecretEnv)
	if secret == "" {
		return fmt.Errorf("%s is required for bearer auth", cfg.Server.JWTSecretEnv)
	}
	rt, err := a.Orchestrator(ctx, opts.Version)
	if err != nil {
		return err
	}
	handler, err := server.New(server.Config{
		Engine:       a.Engine,
		Orchestrator: rt.Orchestrator,
		BasePath:     opts.BasePath,
		Auth:         server.AuthConfig{JWTSecret: secret},
		Metrics:      promhttp.HandlerFor(rt.Gatherer, promhttp.HandlerOpts{}),
		Version:      opts.Version,
		Log:          a.Log,
	})
	if err != nil {
		return err
	}

	hooks := server.NewWebhookDispatcher(a.Store, cfg.Webhooks, a.Log)
	hookCtx, stopHooks := context.WithCancel(ctx)
	hooksDone := make(chan struct{})
	go func() {
		defer close(hooksDone)
		hooks.Run(hookCtx)
	}()
	defer func() {
		stopHooks()
		<-hooksDone
	}()

	srv := &http.Server{Addr: opts.Addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()
	a.Log.Info("serving agentline API",
		zap.String("addr", opts.Addr),
		zap.String("base_path", opts.BasePath),
		zap.String("provider", provider(cfg)),
		zap.String("store", cfg.Store.Driver),
	)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func provider(cfg *config.Config) string {
	return cfg.LLM.Provider + "/" + cfg.LLM.Model
}
