// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package app is the composition root: it builds the store backend,
// workspace manager, fetcher, pipeline registry/engine, scheduler and
// webhook dispatcher from a resolved config.Config and wires them into
// a project.Manager, the single entry point every command-line and
// REST surface calls through.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "github.com/aboutcode-org/scanpipe/internal/pipeline/builtin"

	"github.com/aboutcode-org/scanpipe/internal/config"
	"github.com/aboutcode-org/scanpipe/internal/fetch"
	"github.com/aboutcode-org/scanpipe/internal/metrics"
	"github.com/aboutcode-org/scanpipe/internal/pipeline"
	"github.com/aboutcode-org/scanpipe/internal/policy"
	"github.com/aboutcode-org/scanpipe/internal/project"
	"github.com/aboutcode-org/scanpipe/internal/scheduler"
	"github.com/aboutcode-org/scanpipe/internal/store"
	"github.com/aboutcode-org/scanpipe/internal/store/memory"
	"github.com/aboutcode-org/scanpipe/internal/store/postgres"
	"github.com/aboutcode-org/scanpipe/internal/store/sqlite"
	"github.com/aboutcode-org/scanpipe/internal/telemetry"
	"github.com/aboutcode-org/scanpipe/internal/webhook"
	"github.com/aboutcode-org/scanpipe/internal/workspace"
	"github.com/aboutcode-org/scanpipe/pkg/secrets"
)

// Application holds every long-lived collaborator a scanpipe process
// needs, whether it runs as a one-shot CLI invocation, a REST server or
// a queue-mode worker.
type Application struct {
	Config     *config.Config
	Store      store.Backend
	Workspace  *workspace.Manager
	Fetcher    *fetch.Fetcher
	Policy     *policy.Evaluator
	Registry   *pipeline.Registry
	Engine     *pipeline.Engine
	Queue      scheduler.Queue
	Scheduler  *scheduler.Scheduler
	Dispatcher *webhook.Dispatcher
	Project    *project.Manager
	Logger     *slog.Logger
	Tracing    *telemetry.Provider
	Metrics    *metrics.Registry
}

// New builds an Application from cfg. The caller must call Close when
// done to release the store connection and the webhook dispatcher's
// worker pool.
func New(cfg *config.Config, logger *slog.Logger) (*Application, error) {
	if logger == nil {
		logger = slog.Default()
	}

	be, err := openStore(cfg)
	if err != nil {
		return nil, err
	}

	ws := workspace.New(cfg.WorkspaceLocation)

	fetcher, err := fetch.New(cfg.Fetch, nil)
	if err != nil {
		be.Close()
		return nil, fmt.Errorf("build fetcher: %w", err)
	}

	pol, err := loadPolicy(cfg.PoliciesFile)
	if err != nil {
		be.Close()
		return nil, fmt.Errorf("build policy evaluator: %w", err)
	}

	registry := pipeline.Global()
	if len(cfg.PipelinesDirs) > 0 {
		if err := registry.DiscoverDirs(cfg.PipelinesDirs, nil); err != nil {
			be.Close()
			return nil, fmt.Errorf("discover pipelines_dirs: %w", err)
		}
	}
	tracing, err := telemetry.NewProvider(context.Background(), cfg.Tracing)
	if err != nil {
		be.Close()
		return nil, fmt.Errorf("build tracing provider: %w", err)
	}
	engine := pipeline.NewEngine(registry, logger).
		WithMasker(fetchCredentialMasker(cfg)).
		WithTracer(tracing.Tracer("scanpipe.pipeline"))

	metricsReg := metrics.NewRegistry()

	dispatcher, err := webhook.New(be, webhook.Config{SiteURL: cfg.SiteURL}, logger)
	if err != nil {
		be.Close()
		return nil, fmt.Errorf("build webhook dispatcher: %w", err)
	}
	dispatcher = dispatcher.WithMetrics(metricsReg)

	queue := buildQueue(cfg)
	sched := scheduler.New(be, engine, queue, contextFactory(be, ws, fetcher, pol), dispatcher, scheduler.Config{
		TaskTimeout: cfg.TaskTimeout,
	}, logger).WithMetrics(metricsReg)

	projectMgr := project.New(be, ws, fetcher, registry, sched, cfg, logger)

	return &Application{
		Config:     cfg,
		Store:      be,
		Workspace:  ws,
		Fetcher:    fetcher,
		Policy:     pol,
		Registry:   registry,
		Engine:     engine,
		Queue:      queue,
		Scheduler:  sched,
		Dispatcher: dispatcher,
		Project:    projectMgr,
		Logger:     logger,
		Tracing:    tracing,
		Metrics:    metricsReg,
	}, nil
}

// Close releases the store connection, stops the webhook dispatcher's
// worker pool (waiting for in-flight deliveries to finish) and flushes
// any pending spans to the configured trace exporter.
func (a *Application) Close() error {
	a.Dispatcher.Stop()
	if err := a.Tracing.Shutdown(context.Background()); err != nil {
		a.Logger.Warn("failed to shut down tracing provider", "error", err)
	}
	return a.Store.Close()
}

func openStore(cfg *config.Config) (store.Backend, error) {
	switch cfg.Database.Backend {
	case "", "memory":
		return memory.New(), nil
	case "sqlite":
		return sqlite.New(cfg.Database.Path)
	case "postgres":
		return postgres.New(postgres.Config{
			ConnectionString: fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
				cfg.Database.User, cfg.Database.Password, cfg.Database.Host, cfg.Database.Port, cfg.Database.Name),
		})
	default:
		return nil, fmt.Errorf("unknown database backend %q", cfg.Database.Backend)
	}
}

// loadPolicy reads policiesFile, if set, and builds a policy.Evaluator
// from it. An empty path is not an error: projects then run with no
// compliance alerting configured.
func loadPolicy(policiesFile string) (*policy.Evaluator, error) {
	if policiesFile == "" {
		return nil, nil
	}
	data, err := os.ReadFile(policiesFile)
	if err != nil {
		return nil, fmt.Errorf("read policies_file %q: %w", policiesFile, err)
	}
	return policy.Load(data)
}

// fetchCredentialMasker builds a secrets.Masker pre-loaded with every
// password and header value in cfg.Fetch, so a run's captured log never
// leaks a credential through a fetch error message or a tool's verbose
// output.
func fetchCredentialMasker(cfg *config.Config) *secrets.Masker {
	m := secrets.NewMasker()
	for _, cred := range cfg.Fetch.BasicAuth {
		m.AddSecret(cred.Password)
	}
	for _, cred := range cfg.Fetch.DigestAuth {
		m.AddSecret(cred.Password)
	}
	for _, cred := range cfg.Fetch.SkopeoCredentials {
		m.AddSecret(cred.Password)
	}
	for _, v := range cfg.Fetch.Headers {
		m.AddSecret(v)
	}
	return m
}

func buildQueue(cfg *config.Config) scheduler.Queue {
	if !cfg.Async {
		return scheduler.NewMemoryQueue()
	}
	return scheduler.NewRedisQueue(scheduler.RedisQueueConfig{
		Host:           cfg.Queue.RedisHost,
		Port:           cfg.Queue.RedisPort,
		DB:             cfg.Queue.RedisDB,
		Username:       cfg.Queue.RedisUsername,
		Password:       cfg.Queue.RedisPassword,
		DefaultTimeout: cfg.Queue.RedisDefaultTimeout,
		SSL:            cfg.Queue.RedisSSL,
	})
}

// contextFactory builds the pipeline.Context a scheduled Run executes
// with, resolving its Project from the store and wiring in the shared
// workspace manager, fetcher and policy evaluator the step bodies need.
func contextFactory(be store.Backend, ws *workspace.Manager, fetcher *fetch.Fetcher, pol *policy.Evaluator) scheduler.ContextFactory {
	return func(ctx context.Context, run *store.Run) (*pipeline.Context, error) {
		p, err := be.GetProject(ctx, run.Project)
		if err != nil {
			return nil, err
		}
		override, err := config.LoadProjectOverride(filepath.Join(ws.PathOf(p.Slug, p.UUID, "input"), "scancode-config.yml"))
		if err != nil {
			return nil, fmt.Errorf("load project override: %w", err)
		}
		return &pipeline.Context{
			Go:        ctx,
			Project:   p,
			Run:       run,
			Workspace: ws,
			Store:     be,
			Fetcher:   fetcher,
			Policy:    pol,
			Override:  override,
		}, nil
	}
}
