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

package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/aboutcode-org/scanpipe/internal/metrics"
	"github.com/aboutcode-org/scanpipe/internal/pipeline"
	"github.com/aboutcode-org/scanpipe/internal/store"
	scanpipeerrors "github.com/aboutcode-org/scanpipe/pkg/errors"
)

// Dispatcher is the webhook side of the scheduler's terminal-transition
// contract (internal/webhook implements it). Both calls are expected to
// enqueue work on the dispatcher's own queue and return quickly; the
// scheduler never blocks a Run's completion on webhook delivery.
type Dispatcher interface {
	OnRunTerminated(ctx context.Context, run *store.Run)
	OnAllRunsCompleted(ctx context.Context, project *store.Project)
}

// ContextFactory builds the pipeline.Context a Run executes with. It is
// supplied by the caller (internal/app) because only it knows how to
// wire the workspace manager, fetcher and policy evaluator the run
// needs; the scheduler itself only knows how to dispatch and persist.
type ContextFactory func(ctx context.Context, run *store.Run) (*pipeline.Context, error)

// Config holds the scheduler's dispatch tuning knobs.
type Config struct {
	// Workers is the number of concurrent worker goroutines consuming
	// the queue. Defaults to 1.
	Workers int

	// TaskTimeout caps total pipeline execution per Run, enforced via
	// context.WithTimeout. Defaults to 24h, matching task_timeout's
	// documented default.
	TaskTimeout time.Duration

	// HeartbeatInterval is how often a running worker refreshes its
	// Run's liveness marker on the queue. Defaults to 15s.
	HeartbeatInterval time.Duration

	// HeartbeatTTL is how long a heartbeat stays valid after a touch;
	// must exceed HeartbeatInterval with margin. Defaults to 45s.
	HeartbeatTTL time.Duration

	// RequeueDelay is how long a worker waits before putting a Run back
	// on the queue after finding its project already busy. Defaults to
	// 500ms.
	RequeueDelay time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.TaskTimeout <= 0 {
		c.TaskTimeout = 24 * time.Hour
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 15 * time.Second
	}
	if c.HeartbeatTTL <= 0 {
		c.HeartbeatTTL = 45 * time.Second
	}
	if c.RequeueDelay <= 0 {
		c.RequeueDelay = 500 * time.Millisecond
	}
	return c
}

// Scheduler dispatches QUEUED runs to the pipeline engine, one per
// project at a time, and notifies a Dispatcher on every terminal
// transition. It is safe for concurrent use.
type Scheduler struct {
	store      store.Backend
	engine     *pipeline.Engine
	queue      Queue
	dispatcher Dispatcher
	buildCtx   ContextFactory
	logger     *slog.Logger
	cfg        Config
	metrics    *metrics.Registry

	projectLocksMu sync.Mutex
	projectLocks   map[string]*sync.Mutex
}

// WithMetrics sets the registry the scheduler records run counts into.
// A nil registry (the default) disables metrics entirely. Returns s for
// chaining.
func (s *Scheduler) WithMetrics(m *metrics.Registry) *Scheduler {
	s.metrics = m
	return s
}

// New builds a Scheduler. dispatcher may be nil (webhook delivery is
// then skipped, e.g. in tests exercising dispatch alone).
func New(be store.Backend, engine *pipeline.Engine, q Queue, buildCtx ContextFactory, dispatcher Dispatcher, cfg Config, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		store:        be,
		engine:       engine,
		queue:        q,
		dispatcher:   dispatcher,
		buildCtx:     buildCtx,
		logger:       logger.With(slog.String("component", "scheduler")),
		cfg:          cfg.withDefaults(),
		projectLocks: make(map[string]*sync.Mutex),
	}
}

// Enqueue transitions run from NOT_STARTED to QUEUED and places a job on
// the dispatch queue. run must already be persisted (the caller, e.g.
// internal/project, is responsible for CreateRun).
func (s *Scheduler) Enqueue(ctx context.Context, run *store.Run) error {
	ok, err := s.store.CompareAndSetStatus(ctx, run.UUID, store.RunNotStarted, store.RunQueued)
	if err != nil {
		return fmt.Errorf("enqueue run %s: %w", run.UUID, err)
	}
	if !ok {
		return &scanpipeerrors.StateError{
			Kind:    scanpipeerrors.KindIllegalTransition,
			Entity:  run.UUID,
			Message: "run is not in NOT_STARTED state",
		}
	}
	run.Status = store.RunQueued
	if err := s.queue.Enqueue(ctx, &Job{RunUUID: run.UUID, Project: run.Project, CreatedAt: run.CreatedAt}); err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.RunsEnqueued.Inc()
	}
	return nil
}

// RunInline executes run synchronously in the caller's context: the
// inline execution backend used for small local invocations and tests.
// It performs the same QUEUED->RUNNING reservation and per-project
// guard as queue-mode dispatch, so inline and queue runs obey the same
// invariants.
func (s *Scheduler) RunInline(ctx context.Context, run *store.Run) error {
	ok, err := s.store.CompareAndSetStatus(ctx, run.UUID, store.RunNotStarted, store.RunQueued)
	if err != nil {
		return fmt.Errorf("enqueue run %s: %w", run.UUID, err)
	}
	if !ok {
		return &scanpipeerrors.StateError{
			Kind:    scanpipeerrors.KindIllegalTransition,
			Entity:  run.UUID,
			Message: "run is not in NOT_STARTED state",
		}
	}
	run.Status = store.RunQueued

	lock := s.lockFor(run.Project)
	lock.Lock()
	blocked, err := s.projectBlocked(ctx, run.Project, run.UUID)
	if err != nil {
		lock.Unlock()
		return err
	}
	if blocked {
		lock.Unlock()
		return &scanpipeerrors.StateError{
			Kind:    scanpipeerrors.KindRunInProgress,
			Entity:  run.Project,
			Message: "another run is already in progress for this project",
		}
	}
	reserved, err := s.store.CompareAndSetStatus(ctx, run.UUID, store.RunQueued, store.RunRunning)
	lock.Unlock()
	if err != nil {
		return err
	}
	if !reserved {
		return &scanpipeerrors.StateError{Kind: scanpipeerrors.KindIllegalTransition, Entity: run.UUID, Message: "run was reserved by another worker"}
	}

	s.execute(ctx, run)
	return nil
}

// Start runs the worker pool: cfg.Workers goroutines that each pull a
// Job off the queue and dispatch it. Start blocks until ctx is
// cancelled or the queue is closed, then returns nil; a failed Dequeue
// is logged and the worker keeps pulling.
func (s *Scheduler) Start(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < s.cfg.Workers; i++ {
		g.Go(func() error {
			return s.workerLoop(gctx)
		})
	}
	return g.Wait()
}

func (s *Scheduler) workerLoop(ctx context.Context) error {
	for {
		job, err := s.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || err == ErrQueueClosed {
				return nil
			}
			s.logger.Error("dequeue failed", slog.Any("error", err))
			continue
		}
		s.dispatch(ctx, job)
	}
}

// dispatch reserves job's run for this worker if its project is free,
// or puts it back on the queue (after RequeueDelay) otherwise.
func (s *Scheduler) dispatch(ctx context.Context, job *Job) {
	run, err := s.store.GetRun(ctx, job.RunUUID)
	if err != nil {
		s.logger.Error("dispatch: run not found", slog.String("run", job.RunUUID), slog.Any("error", err))
		return
	}
	if run.Status != store.RunQueued {
		// Stopped or deleted while queued; nothing to do.
		return
	}

	lock := s.lockFor(run.Project)
	lock.Lock()
	blocked, err := s.projectBlocked(ctx, run.Project, run.UUID)
	if err != nil {
		lock.Unlock()
		s.logger.Error("dispatch: project guard failed", slog.String("project", run.Project), slog.Any("error", err))
		return
	}
	if blocked {
		lock.Unlock()
		s.requeueLater(ctx, job)
		return
	}
	reserved, err := s.store.CompareAndSetStatus(ctx, run.UUID, store.RunQueued, store.RunRunning)
	lock.Unlock()
	if err != nil {
		s.logger.Error("dispatch: reservation failed", slog.String("run", run.UUID), slog.Any("error", err))
		return
	}
	if !reserved {
		// Raced with a Stop(run) transitioning it away from QUEUED.
		return
	}

	s.execute(ctx, run)
}

// projectBlocked reports whether project has a run (other than
// excludeRun) that is RUNNING, or a run left in FAILURE: per
// spec, a failed run does not auto-advance its project's queue until an
// operator explicitly restarts or clears it.
func (s *Scheduler) projectBlocked(ctx context.Context, project, excludeRun string) (bool, error) {
	runs, err := s.store.ListRuns(ctx, store.RunFilter{Project: project})
	if err != nil {
		return false, err
	}
	for _, r := range runs {
		if r.UUID == excludeRun {
			continue
		}
		if r.Status == store.RunRunning || r.Status == store.RunFailure {
			return true, nil
		}
	}
	return false, nil
}

func (s *Scheduler) requeueLater(ctx context.Context, job *Job) {
	go func() {
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.cfg.RequeueDelay):
		}
		if err := s.queue.Enqueue(context.Background(), job); err != nil {
			s.logger.Warn("requeue failed", slog.String("run", job.RunUUID), slog.Any("error", err))
		}
	}()
}

// execute runs the engine against run, which must already be RUNNING,
// enforces task_timeout, maintains the run's heartbeat, and notifies
// the dispatcher once the run reaches a terminal status.
func (s *Scheduler) execute(ctx context.Context, run *store.Run) {
	pctx, err := s.buildCtx(ctx, run)
	if err != nil {
		s.fail(ctx, run, err)
		s.notifyTerminated(ctx, run)
		return
	}

	taskCtx, cancel := context.WithTimeout(ctx, s.cfg.TaskTimeout)
	defer cancel()
	pctx.Go = taskCtx

	stopHeartbeat := s.startHeartbeat(run.UUID)
	defer stopHeartbeat()

	persist := func(r *store.Run) error { return s.store.UpdateRun(ctx, r) }

	if err := s.engine.Run(pctx, nil, persist); err != nil {
		// Validation error (UnknownPipeline/UnknownGroup): the engine
		// never started, so the run never left RUNNING on its own.
		s.fail(ctx, run, err)
	}

	s.notifyTerminated(ctx, run)
}

func (s *Scheduler) fail(ctx context.Context, run *store.Run, cause error) {
	now := time.Now()
	run.Status = store.RunFailure
	run.TaskOutput = cause.Error()
	run.TaskEndDate = &now
	code := 1
	run.TaskExitCode = &code
	if err := s.store.UpdateRun(ctx, run); err != nil {
		s.logger.Error("failed to persist failed run", slog.String("run", run.UUID), slog.Any("error", err))
	}
}

func (s *Scheduler) notifyTerminated(ctx context.Context, run *store.Run) {
	if s.metrics != nil {
		s.metrics.RunsTerminal.WithLabelValues(string(run.Status)).Inc()
	}
	if s.dispatcher == nil {
		return
	}
	s.dispatcher.OnRunTerminated(ctx, run)

	runs, err := s.store.ListRuns(ctx, store.RunFilter{Project: run.Project})
	if err != nil {
		s.logger.Error("notifyTerminated: list runs failed", slog.String("project", run.Project), slog.Any("error", err))
		return
	}
	for _, r := range runs {
		if !r.Status.Terminal() {
			return
		}
	}
	project, err := s.store.GetProject(ctx, run.Project)
	if err != nil {
		s.logger.Error("notifyTerminated: project lookup failed", slog.String("project", run.Project), slog.Any("error", err))
		return
	}
	s.dispatcher.OnAllRunsCompleted(ctx, project)
}

// Stop requests cancellation of run. A QUEUED run transitions directly
// to STOPPED; a RUNNING run has CancelRequested set and stops at its
// next step boundary.
func (s *Scheduler) Stop(ctx context.Context, runUUID string) error {
	run, err := s.store.GetRun(ctx, runUUID)
	if err != nil {
		return err
	}
	switch run.Status {
	case store.RunQueued:
		ok, err := s.store.CompareAndSetStatus(ctx, runUUID, store.RunQueued, store.RunStopped)
		if err != nil {
			return err
		}
		if !ok {
			return &scanpipeerrors.StateError{Kind: scanpipeerrors.KindRunNotCancellable, Entity: runUUID, Message: "run left QUEUED before it could be stopped"}
		}
		now := time.Now()
		run.Status = store.RunStopped
		run.TaskEndDate = &now
		code := 1
		run.TaskExitCode = &code
		if err := s.store.UpdateRun(ctx, run); err != nil {
			return err
		}
		s.notifyTerminated(ctx, run)
		return nil
	case store.RunRunning:
		run.CancelRequested = true
		return s.store.UpdateRun(ctx, run)
	default:
		return &scanpipeerrors.StateError{
			Kind:    scanpipeerrors.KindRunNotCancellable,
			Entity:  runUUID,
			Message: fmt.Sprintf("run is %s, not QUEUED or RUNNING", run.Status),
		}
	}
}

// Delete removes run. Only NOT_STARTED or QUEUED runs may be deleted;
// any other status is rejected with IllegalTransition, including a run
// that has finished, been stopped or gone stale, preserving the
// reproducibility guarantee that a Run's recorded outcome is never
// silently discarded.
func (s *Scheduler) Delete(ctx context.Context, runUUID string) error {
	run, err := s.store.GetRun(ctx, runUUID)
	if err != nil {
		return err
	}
	if run.Status != store.RunNotStarted && run.Status != store.RunQueued {
		return &scanpipeerrors.StateError{
			Kind:    scanpipeerrors.KindIllegalTransition,
			Entity:  runUUID,
			Message: fmt.Sprintf("cannot delete run in state %s", run.Status),
		}
	}
	return s.store.DeleteRun(ctx, runUUID)
}

// MarkStale sweeps every RUNNING run across all projects whose worker
// heartbeat has expired, transitioning it to STALE. It is intended to
// run once at worker startup and periodically thereafter.
func (s *Scheduler) MarkStale(ctx context.Context) (int, error) {
	hb, ok := s.queue.(HeartbeatQueue)
	if !ok {
		return 0, nil
	}

	runs, err := s.store.ListRuns(ctx, store.RunFilter{Status: store.RunRunning})
	if err != nil {
		return 0, err
	}

	swept := 0
	for _, run := range runs {
		alive, err := hb.Alive(ctx, run.UUID)
		if err != nil {
			s.logger.Error("heartbeat check failed", slog.String("run", run.UUID), slog.Any("error", err))
			continue
		}
		if alive {
			continue
		}
		ok, err := s.store.CompareAndSetStatus(ctx, run.UUID, store.RunRunning, store.RunStale)
		if err != nil {
			s.logger.Error("stale sweep CAS failed", slog.String("run", run.UUID), slog.Any("error", err))
			continue
		}
		if !ok {
			continue
		}
		run.Status = store.RunStale
		now := time.Now()
		run.TaskEndDate = &now
		if err := s.store.UpdateRun(ctx, run); err != nil {
			s.logger.Error("stale sweep persist failed", slog.String("run", run.UUID), slog.Any("error", err))
		}
		s.notifyTerminated(ctx, run)
		swept++
	}
	return swept, nil
}

func (s *Scheduler) startHeartbeat(runUUID string) func() {
	hb, ok := s.queue.(HeartbeatQueue)
	if !ok {
		return func() {}
	}

	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(s.cfg.HeartbeatInterval)
		defer ticker.Stop()
		_ = hb.Touch(context.Background(), runUUID, s.cfg.HeartbeatTTL)
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				_ = hb.Touch(context.Background(), runUUID, s.cfg.HeartbeatTTL)
			}
		}
	}()
	return func() { close(done) }
}

func (s *Scheduler) lockFor(project string) *sync.Mutex {
	s.projectLocksMu.Lock()
	defer s.projectLocksMu.Unlock()
	lock, ok := s.projectLocks[project]
	if !ok {
		lock = &sync.Mutex{}
		s.projectLocks[project] = lock
	}
	return lock
}
