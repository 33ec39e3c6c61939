package main

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/mentat-sh/mentat/internal/cache"
	"github.com/mentat-sh/mentat/internal/config"
	"github.com/mentat-sh/mentat/internal/dispatch"
	"github.com/mentat-sh/mentat/internal/fsutil"
	"github.com/mentat-sh/mentat/internal/health"
	"github.com/mentat-sh/mentat/internal/maintenance"
	"github.com/mentat-sh/mentat/internal/memory"
	"github.com/mentat-sh/mentat/internal/notify"
	"github.com/mentat-sh/mentat/internal/pipeline"
	"github.com/mentat-sh/mentat/internal/queue"
	"github.com/mentat-sh/mentat/internal/registry"
	"github.com/mentat-sh/mentat/internal/rpc"
	"github.com/mentat-sh/mentat/internal/thinking"
	"github.com/mentat-sh/mentat/internal/tokenopt"
)

// Components is the single construction-time graph of mentat's C1-C10 and
// A1/A2 singletons, grounded on the teacher's
// cmd/heike/runtime.RuntimeComponents: one struct built once by
// NewComponents, torn down once by Stop, with every component that owns a
// background goroutine or file handle registered into a Service Registry
// (C10) so shutdown runs in a deterministic, reversed order.
type Components struct {
	Ctx    context.Context
	Cancel context.CancelFunc

	Config *config.Config

	Registry    *registry.Registry
	Monitor     *health.Monitor
	Queue       *queue.Manager
	Dispatcher  *dispatch.Dispatcher
	Cache       *cache.Cache
	Memory      *memory.Store
	Optimizer   *tokenopt.Optimizer
	Thinking    *thinking.Engine
	Pipeline    *pipeline.Orchestrator
	Maintenance *maintenance.Runner
	Notify      *notify.Egress

	Server   *rpc.Server
	Handlers *rpc.Handlers

	lock *fsutil.Lock
}

// stopperFunc adapts a plain shutdown closure to registry.Service for
// components (Dispatcher, queue.Manager) whose native Stop method
// predates the registry and so doesn't carry a context/error signature.
type stopperFunc func(ctx context.Context) error

func (f stopperFunc) Stop(ctx context.Context) error { return f(ctx) }

// NewComponents wires the full dependency graph from cfg: health monitor
// first (every other component reports into it), then the token
// optimizer and provider pool, then the dispatcher, then the cache and
// memory stores C7/C8 consult, finally the thinking engine, pipeline
// orchestrator, maintenance sweep, and notification egress. Acquires an
// exclusive lock on <dataDir>/mentatd.lock so two daemons never share a
// data directory, mirroring the teacher's workspace lock
// (internal/store's flock-guarded worker state).
func NewComponents(ctx context.Context, cfg *config.Config) (*Components, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)

	c := &Components{
		Ctx:      ctx,
		Cancel:   cancel,
		Config:   cfg,
		Registry: registry.New(),
	}

	lock, err := fsutil.Acquire(filepath.Join(cfg.Server.DataDir, "mentatd.lock"), fsutil.LockConfig{Timeout: 2 * time.Second})
	if err != nil {
		c.cleanup()
		return nil, fmt.Errorf("acquire data dir lock: %w", err)
	}
	c.lock = lock

	c.Monitor = health.New()

	optimizer, err := tokenopt.New(cfg.Server.DataDir, cfg.TokenOptimizer)
	if err != nil {
		c.cleanup()
		return nil, fmt.Errorf("init token optimizer: %w", err)
	}
	c.Optimizer = optimizer

	queueMgr, err := queue.NewManager(cfg.Queue)
	if err != nil {
		c.cleanup()
		return nil, fmt.Errorf("init request queue: %w", err)
	}
	c.Queue = queueMgr

	descriptors, err := dispatch.BuildFromConfig(ctx, cfg.Providers.Registry, optimizer, c.Monitor)
	if err != nil {
		c.cleanup()
		return nil, fmt.Errorf("init providers: %w", err)
	}

	maxTimeout := time.Duration(cfg.Providers.MaxTimeoutMs) * time.Millisecond
	if maxTimeout <= 0 {
		maxTimeout = time.Duration(config.DefaultProviderMaxTimeoutMs) * time.Millisecond
	}
	maxRetries := cfg.Providers.MaxRetries
	if maxRetries <= 0 {
		maxRetries = config.DefaultProviderMaxRetries
	}
	healthCheckInterval, err := config.DurationOrDefault(cfg.Providers.HealthCheckInterval, config.DefaultProviderHealthCheckInterval)
	if err != nil {
		c.cleanup()
		return nil, fmt.Errorf("parse provider health check interval: %w", err)
	}

	dispatcher := dispatch.New(c.Monitor,
		dispatch.WithMaxRetries(maxRetries),
		dispatch.WithMaxTimeout(maxTimeout),
		dispatch.WithHealthCheckInterval(healthCheckInterval),
		dispatch.WithQueueManager(queueMgr),
	)
	for _, desc := range descriptors {
		dispatcher.Register(desc)
	}
	c.Dispatcher = dispatcher

	cacheLayer, err := cache.New(cfg.Server.DataDir, cfg.Cache, c.Monitor)
	if err != nil {
		c.cleanup()
		return nil, fmt.Errorf("init cache layer: %w", err)
	}
	c.Cache = cacheLayer

	memStore, err := memory.New(cfg.Server.DataDir, cfg.Memory, memory.NewDefaultEmbedder(cfg.Memory.VectorDims))
	if err != nil {
		c.cleanup()
		return nil, fmt.Errorf("init memory store: %w", err)
	}
	c.Memory = memStore

	c.Thinking = thinking.New(cfg.Server.DataDir, cfg.Thinking, cacheLayer, dispatcher)

	pipe, err := pipeline.New(cfg.Server.DataDir, cfg.Pipeline, dispatcher)
	if err != nil {
		c.cleanup()
		return nil, fmt.Errorf("init pipeline orchestrator: %w", err)
	}
	c.Pipeline = pipe

	maintRunner, err := maintenance.New(cfg.Daemon, cacheLayer, memStore, optimizer)
	if err != nil {
		c.cleanup()
		return nil, fmt.Errorf("init maintenance runner: %w", err)
	}
	c.Maintenance = maintRunner

	c.Notify = notify.New(cfg.Notify, c.Monitor)

	c.Handlers = &rpc.Handlers{
		Thinking:       c.Thinking,
		Dispatcher:     c.Dispatcher,
		Memory:         c.Memory,
		Cache:          c.Cache,
		Optimizer:      c.Optimizer,
		ThinkingModels: cfg.Thinking.Models,
		Strategies:     c.Thinking.StrategyNames(),
	}
	c.Server = rpc.NewServer()
	c.Handlers.Register(c.Server)

	dispatcher.StartHealthChecks(ctx)
	maintRunner.Start(ctx)

	c.Registry.Register("dispatcher", stopperFunc(func(context.Context) error {
		dispatcher.Stop()
		return nil
	}))
	c.Registry.Register("queue", stopperFunc(func(context.Context) error {
		queueMgr.StopAll()
		return nil
	}))
	c.Registry.Register("maintenance", maintRunner)
	c.Registry.Register("notify", c.Notify)

	slog.Info("mentatd components initialized",
		"data_dir", cfg.Server.DataDir,
		"providers", len(descriptors),
		"strategies", c.Handlers.Strategies,
	)

	return c, nil
}

// Stop tears down every registered service in reverse registration order
// (registry.Registry.Shutdown) and releases the data-dir lock.
func (c *Components) Stop(ctx context.Context) error {
	defer c.cleanup()
	if c.Registry == nil {
		return nil
	}
	return c.Registry.Shutdown(ctx)
}

func (c *Components) cleanup() {
	if c.lock != nil {
		c.lock.Unlock()
		c.lock = nil
	}
	if c.Cancel != nil {
		c.Cancel()
	}
}
