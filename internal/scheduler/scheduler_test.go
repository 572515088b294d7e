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
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aboutcode-org/scanpipe/internal/pipeline"
	"github.com/aboutcode-org/scanpipe/internal/store"
	"github.com/aboutcode-org/scanpipe/internal/store/memory"
)

type fakeDispatcher struct {
	mu            sync.Mutex
	terminated    []string
	allCompleted  []string
}

func (d *fakeDispatcher) OnRunTerminated(ctx context.Context, run *store.Run) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.terminated = append(d.terminated, run.UUID)
}

func (d *fakeDispatcher) OnAllRunsCompleted(ctx context.Context, project *store.Project) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.allCompleted = append(d.allCompleted, project.UUID)
}

func newTestScheduler(t *testing.T, be store.Backend, reg *pipeline.Registry, q Queue, dispatcher Dispatcher) *Scheduler {
	t.Helper()
	engine := pipeline.NewEngine(reg, nil)
	buildCtx := func(ctx context.Context, run *store.Run) (*pipeline.Context, error) {
		project, err := be.GetProject(ctx, run.Project)
		if err != nil {
			return nil, err
		}
		return &pipeline.Context{Go: ctx, Project: project, Run: run, Store: be}, nil
	}
	return New(be, engine, q, buildCtx, dispatcher, Config{RequeueDelay: 10 * time.Millisecond}, nil)
}

func seedProject(t *testing.T, be store.Backend) *store.Project {
	t.Helper()
	p := &store.Project{UUID: "proj-1", Name: "proj", Slug: "proj"}
	require.NoError(t, be.CreateProject(context.Background(), p))
	return p
}

func TestEnqueueTransitionsNotStartedToQueued(t *testing.T) {
	be := memory.New()
	seedProject(t, be)
	reg := pipeline.NewRegistry(nil)
	sched := newTestScheduler(t, be, reg, NewMemoryQueue(), nil)

	run := &store.Run{UUID: "run-1", Project: "proj-1", PipelineName: "noop", Status: store.RunNotStarted}
	require.NoError(t, be.CreateRun(context.Background(), run))

	require.NoError(t, sched.Enqueue(context.Background(), run))
	assert.Equal(t, store.RunQueued, run.Status)

	stored, err := be.GetRun(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, store.RunQueued, stored.Status)
}

func TestEnqueueRejectsNonNotStartedRun(t *testing.T) {
	be := memory.New()
	seedProject(t, be)
	reg := pipeline.NewRegistry(nil)
	sched := newTestScheduler(t, be, reg, NewMemoryQueue(), nil)

	run := &store.Run{UUID: "run-1", Project: "proj-1", Status: store.RunRunning}
	require.NoError(t, be.CreateRun(context.Background(), run))

	err := sched.Enqueue(context.Background(), run)
	require.Error(t, err)
}

func TestRunInlineExecutesSuccessfully(t *testing.T) {
	be := memory.New()
	seedProject(t, be)
	reg := pipeline.NewRegistry(nil)
	reg.Register(pipeline.Descriptor{Name: "noop", Steps: []pipeline.Step{
		{Name: "a", Run: func(*pipeline.Context) error { return nil }},
	}})
	dispatcher := &fakeDispatcher{}
	sched := newTestScheduler(t, be, reg, NewMemoryQueue(), dispatcher)

	run := &store.Run{UUID: "run-1", Project: "proj-1", PipelineName: "noop", Status: store.RunNotStarted}
	require.NoError(t, be.CreateRun(context.Background(), run))

	require.NoError(t, sched.RunInline(context.Background(), run))
	assert.Equal(t, store.RunSuccess, run.Status)
	assert.Equal(t, []string{"run-1"}, dispatcher.terminated)
	assert.Equal(t, []string{"proj-1"}, dispatcher.allCompleted)
}

func TestRunInlineRejectsWhenProjectAlreadyRunning(t *testing.T) {
	be := memory.New()
	seedProject(t, be)
	reg := pipeline.NewRegistry(nil)
	sched := newTestScheduler(t, be, reg, NewMemoryQueue(), nil)

	running := &store.Run{UUID: "run-running", Project: "proj-1", Status: store.RunRunning}
	require.NoError(t, be.CreateRun(context.Background(), running))

	blocked := &store.Run{UUID: "run-blocked", Project: "proj-1", PipelineName: "noop", Status: store.RunNotStarted}
	require.NoError(t, be.CreateRun(context.Background(), blocked))

	err := sched.RunInline(context.Background(), blocked)
	require.Error(t, err)

	stored, err := be.GetRun(context.Background(), "run-blocked")
	require.NoError(t, err)
	assert.Equal(t, store.RunQueued, stored.Status, "reservation CAS never ran, run stays QUEUED")
}

func TestWorkerPoolDispatchesQueuedRun(t *testing.T) {
	be := memory.New()
	seedProject(t, be)
	reg := pipeline.NewRegistry(nil)
	reg.Register(pipeline.Descriptor{Name: "noop", Steps: []pipeline.Step{
		{Name: "a", Run: func(*pipeline.Context) error { return nil }},
	}})
	dispatcher := &fakeDispatcher{}
	queue := NewMemoryQueue()
	sched := newTestScheduler(t, be, reg, queue, dispatcher)

	run := &store.Run{UUID: "run-1", Project: "proj-1", PipelineName: "noop", Status: store.RunNotStarted}
	require.NoError(t, be.CreateRun(context.Background(), run))
	require.NoError(t, sched.Enqueue(context.Background(), run))

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = sched.Start(ctx)
	}()

	require.Eventually(t, func() bool {
		stored, err := be.GetRun(context.Background(), "run-1")
		return err == nil && stored.Status == store.RunSuccess
	}, time.Second, 5*time.Millisecond)

	cancel()
	queue.Close()
	wg.Wait()

	assert.Equal(t, []string{"run-1"}, dispatcher.terminated)
}

func TestWorkerPoolSerializesRunsPerProject(t *testing.T) {
	be := memory.New()
	seedProject(t, be)
	reg := pipeline.NewRegistry(nil)

	var mu sync.Mutex
	concurrent := 0
	maxConcurrent := 0
	reg.Register(pipeline.Descriptor{Name: "slow", Steps: []pipeline.Step{
		{Name: "a", Run: func(*pipeline.Context) error {
			mu.Lock()
			concurrent++
			if concurrent > maxConcurrent {
				maxConcurrent = concurrent
			}
			mu.Unlock()

			time.Sleep(20 * time.Millisecond)

			mu.Lock()
			concurrent--
			mu.Unlock()
			return nil
		}},
	}})

	queue := NewMemoryQueue()
	sched := newTestScheduler(t, be, reg, queue, nil)
	sched.cfg.Workers = 4

	for i := 0; i < 3; i++ {
		run := &store.Run{UUID: "run-" + string(rune('a'+i)), Project: "proj-1", PipelineName: "slow", Status: store.RunNotStarted}
		require.NoError(t, be.CreateRun(context.Background(), run))
		require.NoError(t, sched.Enqueue(context.Background(), run))
	}

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = sched.Start(ctx)
	}()

	require.Eventually(t, func() bool {
		runs, err := be.ListRuns(context.Background(), store.RunFilter{Project: "proj-1"})
		if err != nil {
			return false
		}
		for _, r := range runs {
			if r.Status != store.RunSuccess {
				return false
			}
		}
		return true
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	queue.Close()
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, maxConcurrent, "at most one run per project should execute at a time")
}

func TestStopQueuedRunTransitionsDirectlyToStopped(t *testing.T) {
	be := memory.New()
	seedProject(t, be)
	reg := pipeline.NewRegistry(nil)
	sched := newTestScheduler(t, be, reg, NewMemoryQueue(), nil)

	run := &store.Run{UUID: "run-1", Project: "proj-1", PipelineName: "noop", Status: store.RunNotStarted}
	require.NoError(t, be.CreateRun(context.Background(), run))
	require.NoError(t, sched.Enqueue(context.Background(), run))

	require.NoError(t, sched.Stop(context.Background(), "run-1"))

	stored, err := be.GetRun(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, store.RunStopped, stored.Status)
}

func TestStopRunningRunSetsCancelRequested(t *testing.T) {
	be := memory.New()
	seedProject(t, be)
	reg := pipeline.NewRegistry(nil)
	sched := newTestScheduler(t, be, reg, NewMemoryQueue(), nil)

	run := &store.Run{UUID: "run-1", Project: "proj-1", Status: store.RunRunning}
	require.NoError(t, be.CreateRun(context.Background(), run))

	require.NoError(t, sched.Stop(context.Background(), "run-1"))

	stored, err := be.GetRun(context.Background(), "run-1")
	require.NoError(t, err)
	assert.True(t, stored.CancelRequested)
}

func TestDeleteRejectsRunningRun(t *testing.T) {
	be := memory.New()
	seedProject(t, be)
	reg := pipeline.NewRegistry(nil)
	sched := newTestScheduler(t, be, reg, NewMemoryQueue(), nil)

	run := &store.Run{UUID: "run-1", Project: "proj-1", Status: store.RunRunning}
	require.NoError(t, be.CreateRun(context.Background(), run))

	err := sched.Delete(context.Background(), "run-1")
	require.Error(t, err)
}

func TestDeleteAllowsQueuedRun(t *testing.T) {
	be := memory.New()
	seedProject(t, be)
	reg := pipeline.NewRegistry(nil)
	sched := newTestScheduler(t, be, reg, NewMemoryQueue(), nil)

	run := &store.Run{UUID: "run-1", Project: "proj-1", Status: store.RunQueued}
	require.NoError(t, be.CreateRun(context.Background(), run))

	require.NoError(t, sched.Delete(context.Background(), "run-1"))
	_, err := be.GetRun(context.Background(), "run-1")
	assert.Error(t, err)
}

func TestMarkStaleSweepsExpiredHeartbeat(t *testing.T) {
	be := memory.New()
	seedProject(t, be)
	reg := pipeline.NewRegistry(nil)
	queue := NewMemoryQueue()
	dispatcher := &fakeDispatcher{}
	sched := newTestScheduler(t, be, reg, queue, dispatcher)

	run := &store.Run{UUID: "run-1", Project: "proj-1", Status: store.RunRunning}
	require.NoError(t, be.CreateRun(context.Background(), run))
	// Never touched: Alive() reports false for an unknown run.

	swept, err := sched.MarkStale(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, swept)

	stored, err := be.GetRun(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, store.RunStale, stored.Status)
	assert.Equal(t, []string{"run-1"}, dispatcher.terminated)
}

func TestMarkStaleSparesRunWithLiveHeartbeat(t *testing.T) {
	be := memory.New()
	seedProject(t, be)
	reg := pipeline.NewRegistry(nil)
	queue := NewMemoryQueue()
	sched := newTestScheduler(t, be, reg, queue, nil)

	run := &store.Run{UUID: "run-1", Project: "proj-1", Status: store.RunRunning}
	require.NoError(t, be.CreateRun(context.Background(), run))
	require.NoError(t, queue.Touch(context.Background(), "run-1", time.Minute))

	swept, err := sched.MarkStale(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, swept)
}

func TestProjectBlockedByPriorFailureUntilCleared(t *testing.T) {
	be := memory.New()
	seedProject(t, be)
	reg := pipeline.NewRegistry(nil)
	sched := newTestScheduler(t, be, reg, NewMemoryQueue(), nil)

	failed := &store.Run{UUID: "run-failed", Project: "proj-1", Status: store.RunFailure}
	require.NoError(t, be.CreateRun(context.Background(), failed))

	next := &store.Run{UUID: "run-next", Project: "proj-1", PipelineName: "noop", Status: store.RunNotStarted}
	require.NoError(t, be.CreateRun(context.Background(), next))

	err := sched.RunInline(context.Background(), next)
	require.Error(t, err, "a failed run must block its project's queue until cleared")
}
