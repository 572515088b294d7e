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

package project

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aboutcode-org/scanpipe/internal/config"
	"github.com/aboutcode-org/scanpipe/internal/pipeline"
	"github.com/aboutcode-org/scanpipe/internal/scheduler"
	"github.com/aboutcode-org/scanpipe/internal/store"
	"github.com/aboutcode-org/scanpipe/internal/store/memory"
	"github.com/aboutcode-org/scanpipe/internal/workspace"
	scanpipeerrors "github.com/aboutcode-org/scanpipe/pkg/errors"
)

func newTestManager(t *testing.T) (*Manager, store.Backend) {
	t.Helper()

	be := memory.New()
	ws := workspace.New(t.TempDir())

	registry := pipeline.NewRegistry(nil)
	registry.Register(pipeline.Descriptor{
		Name:    "noop",
		Summary: "does nothing",
		Steps: []pipeline.Step{
			{Name: "noop_step", Run: func(pctx *pipeline.Context) error { return nil }},
		},
	})
	engine := pipeline.NewEngine(registry, nil)

	buildCtx := func(ctx context.Context, run *store.Run) (*pipeline.Context, error) {
		p, err := be.GetProject(ctx, run.Project)
		if err != nil {
			return nil, err
		}
		return &pipeline.Context{
			Go:        ctx,
			Project:   p,
			Run:       run,
			Workspace: ws,
			Store:     be,
		}, nil
	}

	sched := scheduler.New(be, engine, scheduler.NewMemoryQueue(), buildCtx, nil, scheduler.Config{}, nil)

	cfg := config.Default()
	cfg.GlobalWebhook.TargetURL = "https://hooks.example/notify"
	cfg.GlobalWebhook.TriggerOnEachRun = true

	return New(be, ws, nil, registry, sched, cfg, nil), be
}

func TestCreateProjectCreatesWorkspaceAndRow(t *testing.T) {
	m, be := newTestManager(t)

	p, err := m.CreateProject(context.Background(), "My Project", CreateOptions{})
	require.NoError(t, err)
	assert.Equal(t, "my-project", p.Slug)

	fetched, err := be.GetProject(context.Background(), p.UUID)
	require.NoError(t, err)
	assert.Equal(t, "My Project", fetched.Name)
}

func TestCreateProjectRejectsInvalidName(t *testing.T) {
	m, _ := newTestManager(t)

	_, err := m.CreateProject(context.Background(), "!!!bad", CreateOptions{})
	require.Error(t, err)
	var verr *scanpipeerrors.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, scanpipeerrors.KindInvalidName, verr.Kind)
}

func TestCreateProjectRejectsDuplicateName(t *testing.T) {
	m, _ := newTestManager(t)

	_, err := m.CreateProject(context.Background(), "dup", CreateOptions{})
	require.NoError(t, err)

	_, err = m.CreateProject(context.Background(), "dup", CreateOptions{})
	require.Error(t, err)
	var serr *scanpipeerrors.StateError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, scanpipeerrors.KindNameTaken, serr.Kind)
}

func TestCreateProjectWithGlobalWebhookCreatesSubscription(t *testing.T) {
	m, be := newTestManager(t)

	p, err := m.CreateProject(context.Background(), "webhooked", CreateOptions{CreateGlobalWebhook: true})
	require.NoError(t, err)

	subs, err := be.ListWebhooks(context.Background(), p.UUID)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, "https://hooks.example/notify", subs[0].TargetURL)
}

func TestCreateProjectWithInputFileCopiesAndRecords(t *testing.T) {
	m, be := newTestManager(t)

	src := filepath.Join(t.TempDir(), "manifest.json")
	require.NoError(t, os.WriteFile(src, []byte("{}"), 0o644))

	p, err := m.CreateProject(context.Background(), "with-input", CreateOptions{InputFiles: []string{src}})
	require.NoError(t, err)

	inputs, err := be.ListInputs(context.Background(), p.UUID)
	require.NoError(t, err)
	require.Len(t, inputs, 1)
	assert.Equal(t, "manifest.json", inputs[0].Filename)
}

func TestCreateProjectRollsBackOnUnknownPipeline(t *testing.T) {
	m, be := newTestManager(t)

	_, err := m.CreateProject(context.Background(), "rollback-me", CreateOptions{
		Pipelines: []PipelineSelection{{Name: "does_not_exist"}},
	})
	require.Error(t, err)

	projects, err := be.ListProjects(context.Background(), store.ProjectFilter{IncludeArchived: true})
	require.NoError(t, err)
	assert.Empty(t, projects)
}

func TestAddInputsRejectedWhileRunInProgress(t *testing.T) {
	m, _ := newTestManager(t)

	p, err := m.CreateProject(context.Background(), "busy", CreateOptions{
		Pipelines: []PipelineSelection{{Name: "noop"}},
	})
	require.NoError(t, err)

	err = m.AddInputs(context.Background(), p.UUID, nil, nil)
	require.Error(t, err)
	var serr *scanpipeerrors.StateError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, scanpipeerrors.KindRunInProgress, serr.Kind)
}

func TestAddPipelineExecuteNowInlineRunsToSuccess(t *testing.T) {
	m, be := newTestManager(t)

	p, err := m.CreateProject(context.Background(), "inline-run", CreateOptions{})
	require.NoError(t, err)

	run, err := m.AddPipeline(context.Background(), p.UUID, "noop", nil, true, false)
	require.NoError(t, err)

	refreshed, err := be.GetRun(context.Background(), run.UUID)
	require.NoError(t, err)
	assert.Equal(t, store.RunSuccess, refreshed.Status)
}

func TestAddPipelineRejectsUnknownPipeline(t *testing.T) {
	m, _ := newTestManager(t)

	p, err := m.CreateProject(context.Background(), "unknown-pipeline-project", CreateOptions{})
	require.NoError(t, err)

	_, err = m.AddPipeline(context.Background(), p.UUID, "ghost", nil, false, false)
	require.Error(t, err)
	var verr *scanpipeerrors.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, scanpipeerrors.KindUnknownPipeline, verr.Kind)
}

func TestAddWebhookCreatesSubscription(t *testing.T) {
	m, be := newTestManager(t)

	p, err := m.CreateProject(context.Background(), "hook-me", CreateOptions{})
	require.NoError(t, err)

	sub, err := m.AddWebhook(context.Background(), p.UUID, "https://hooks.example/custom", true, false, true, true)
	require.NoError(t, err)
	assert.Equal(t, "https://hooks.example/custom", sub.TargetURL)

	subs, err := be.ListWebhooks(context.Background(), p.UUID)
	require.NoError(t, err)
	require.Len(t, subs, 1)
}

func TestArchiveProjectRejectedWhileRunInProgress(t *testing.T) {
	m, _ := newTestManager(t)

	p, err := m.CreateProject(context.Background(), "archive-busy", CreateOptions{
		Pipelines:  []PipelineSelection{{Name: "noop"}},
		ExecuteNow: true,
		Async:      true,
	})
	require.NoError(t, err)

	err = m.ArchiveProject(context.Background(), p.UUID, false, false, false)
	require.Error(t, err)
}

func TestArchiveProjectMarksArchived(t *testing.T) {
	m, be := newTestManager(t)

	p, err := m.CreateProject(context.Background(), "archive-me", CreateOptions{})
	require.NoError(t, err)

	require.NoError(t, m.ArchiveProject(context.Background(), p.UUID, false, false, false))

	refreshed, err := be.GetProject(context.Background(), p.UUID)
	require.NoError(t, err)
	assert.True(t, refreshed.IsArchived)
}

func TestResetProjectDropsRunsAndRestoresPipelines(t *testing.T) {
	m, be := newTestManager(t)

	p, err := m.CreateProject(context.Background(), "resettable", CreateOptions{})
	require.NoError(t, err)

	run, err := m.AddPipeline(context.Background(), p.UUID, "noop", nil, true, false)
	require.NoError(t, err)
	_, err = be.GetRun(context.Background(), run.UUID)
	require.NoError(t, err)

	require.NoError(t, m.ResetProject(context.Background(), p.UUID, false, false, true, false))

	runs, err := be.ListRuns(context.Background(), store.RunFilter{Project: p.UUID})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, store.RunNotStarted, runs[0].Status)
	assert.NotEqual(t, run.UUID, runs[0].UUID)
}

func TestDeleteProjectCascades(t *testing.T) {
	m, be := newTestManager(t)

	p, err := m.CreateProject(context.Background(), "doomed", CreateOptions{
		Pipelines: []PipelineSelection{{Name: "noop"}},
	})
	require.NoError(t, err)

	require.NoError(t, m.DeleteProject(context.Background(), p.UUID))

	_, err = be.GetProject(context.Background(), p.UUID)
	assert.Error(t, err)

	runs, err := be.ListRuns(context.Background(), store.RunFilter{Project: p.UUID})
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestFlushProjectsDeletesOnlyOldProjects(t *testing.T) {
	m, be := newTestManager(t)

	recent, err := m.CreateProject(context.Background(), "recent", CreateOptions{})
	require.NoError(t, err)

	old, err := m.CreateProject(context.Background(), "old", CreateOptions{})
	require.NoError(t, err)
	oldProject, err := be.GetProject(context.Background(), old.UUID)
	require.NoError(t, err)
	oldProject.CreatedAt = oldProject.CreatedAt.AddDate(0, 0, -60)
	require.NoError(t, be.UpdateProject(context.Background(), oldProject))

	deleted, err := m.FlushProjects(context.Background(), 30, FlushFilters{})
	require.NoError(t, err)
	assert.Equal(t, []string{"old"}, deleted)

	_, err = be.GetProject(context.Background(), recent.UUID)
	assert.NoError(t, err)
}

func TestBatchCreateReportsPerEntryErrors(t *testing.T) {
	m, _ := newTestManager(t)

	_, err := m.CreateProject(context.Background(), "batch-dup", CreateOptions{})
	require.NoError(t, err)

	results := m.BatchCreate(context.Background(), []BatchEntry{
		{Name: "new"},
		{Name: "dup"},
	}, "batch-{name}", nil, false, false)

	require.Len(t, results, 2)
	assert.NoError(t, results[0].Err)
	assert.NotNil(t, results[0].Project)
	assert.Error(t, results[1].Err)
}
