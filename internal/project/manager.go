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

// Package project is the single writer for project-level invariants:
// every surface (REST, CLI) creates, mutates and deletes projects
// through a Manager rather than touching internal/store directly, so
// that workspace directories, input sources, pipeline runs and webhook
// subscriptions stay consistent with the Project row they belong to.
package project

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/aboutcode-org/scanpipe/internal/config"
	"github.com/aboutcode-org/scanpipe/internal/fetch"
	"github.com/aboutcode-org/scanpipe/internal/pipeline"
	"github.com/aboutcode-org/scanpipe/internal/scheduler"
	"github.com/aboutcode-org/scanpipe/internal/store"
	"github.com/aboutcode-org/scanpipe/internal/workspace"
	scanpipeerrors "github.com/aboutcode-org/scanpipe/pkg/errors"
)

// namePattern matches the characters a project name may contain: the
// same charset used to derive its filesystem-safe slug.
var namePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9 ._-]{0,254}$`)

// Manager composes the workspace, fetcher, pipeline registry and
// scheduler behind the Project Manager's public contract.
type Manager struct {
	store     store.Backend
	workspace *workspace.Manager
	fetcher   *fetch.Fetcher
	registry  *pipeline.Registry
	scheduler *scheduler.Scheduler
	cfg       *config.Config
	logger    *slog.Logger
}

// New builds a Manager. fetcher may be nil when no project will declare
// input URLs (tests, or deployments that only ever upload files).
func New(be store.Backend, ws *workspace.Manager, fetcher *fetch.Fetcher, registry *pipeline.Registry, sched *scheduler.Scheduler, cfg *config.Config, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:     be,
		workspace: ws,
		fetcher:   fetcher,
		registry:  registry,
		scheduler: sched,
		cfg:       cfg,
		logger:    logger.With(slog.String("component", "project")),
	}
}

func slugify(name string) string {
	lower := strings.ToLower(name)
	var b strings.Builder
	lastDash := false
	for _, r := range lower {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	return strings.Trim(b.String(), "-")
}

func validateName(name string) error {
	if !namePattern.MatchString(name) {
		return &scanpipeerrors.ValidationError{
			Kind:    scanpipeerrors.KindInvalidName,
			Field:   "name",
			Message: fmt.Sprintf("project name %q must start with a letter or digit and contain only letters, digits, spaces, dots, underscores or hyphens", name),
		}
	}
	return nil
}

// CreateOptions configures CreateProject.
type CreateOptions struct {
	Labels             []string
	Notes              string
	Settings           map[string]string
	InputFiles         []string // local paths to copy into input/
	InputURLs          []string // URIs resolved via the fetcher
	Pipelines          []PipelineSelection
	ExecuteNow         bool
	Async              bool
	CreateGlobalWebhook bool
}

// PipelineSelection names a pipeline and the groups to run with it.
type PipelineSelection struct {
	Name           string
	SelectedGroups []string
}

// CreateProject creates a Project row, its workspace, its input sources
// and pipeline runs as a single atomic unit: if any step fails, every
// row and directory created so far is rolled back.
func (m *Manager) CreateProject(ctx context.Context, name string, opts CreateOptions) (*store.Project, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	if existing, err := m.store.GetProjectByName(ctx, name); err == nil && existing != nil {
		return nil, &scanpipeerrors.StateError{
			Kind:    scanpipeerrors.KindNameTaken,
			Entity:  name,
			Message: "a project with this name already exists",
		}
	}

	project := &store.Project{
		UUID:      uuid.New().String(),
		Name:      name,
		Slug:      slugify(name),
		Labels:    opts.Labels,
		Notes:     opts.Notes,
		Settings:  opts.Settings,
		CreatedAt: time.Now(),
	}

	rollback := func() {
		_ = m.workspace.Remove(project.Slug, project.UUID)
		_ = m.store.DeleteProject(context.Background(), project.UUID)
	}

	if err := m.store.CreateProject(ctx, project); err != nil {
		return nil, err
	}
	if err := m.workspace.Create(project.Slug, project.UUID); err != nil {
		rollback()
		return nil, err
	}

	for _, path := range opts.InputFiles {
		filename := pathBase(path)
		if _, err := m.workspace.CopyFileToInput(project.Slug, project.UUID, path, filename); err != nil {
			rollback()
			return nil, err
		}
		if err := m.store.CreateInput(ctx, &store.InputSource{
			UUID:       uuid.New().String(),
			Project:    project.UUID,
			Filename:   filename,
			IsUploaded: true,
		}); err != nil {
			rollback()
			return nil, err
		}
	}

	if len(opts.InputURLs) > 0 {
		if m.fetcher == nil {
			rollback()
			return nil, &scanpipeerrors.ExternalError{
				Kind:    scanpipeerrors.KindInputFetchFailed,
				Message: "no fetcher configured for this deployment",
			}
		}
		destDir := m.workspace.PathOf(project.Slug, project.UUID, "input")
		for _, raw := range opts.InputURLs {
			uri, tag := splitURLTag(raw)
			results, err := m.fetcher.Fetch(ctx, uri, destDir)
			if err != nil {
				rollback()
				return nil, err
			}
			for _, res := range results {
				effectiveTag := tag
				if res.Tag != "" {
					effectiveTag = res.Tag
				}
				if err := m.store.CreateInput(ctx, &store.InputSource{
					UUID:        uuid.New().String(),
					Project:     project.UUID,
					Filename:    res.Filename,
					DownloadURL: uri,
					Tag:         effectiveTag,
				}); err != nil {
					rollback()
					return nil, err
				}
			}
		}
	}

	if opts.CreateGlobalWebhook && m.cfg != nil && m.cfg.GlobalWebhook.TargetURL != "" {
		if err := m.store.CreateWebhook(ctx, &store.WebhookSubscription{
			UUID:             uuid.New().String(),
			Project:          project.UUID,
			TargetURL:        m.cfg.GlobalWebhook.TargetURL,
			TriggerOnEachRun: m.cfg.GlobalWebhook.TriggerOnEachRun,
			IncludeSummary:   m.cfg.GlobalWebhook.IncludeSummary,
			IncludeResults:   m.cfg.GlobalWebhook.IncludeResults,
			IsActive:         true,
			CreatedAt:        time.Now(),
		}); err != nil {
			rollback()
			return nil, err
		}
	}

	for _, sel := range opts.Pipelines {
		if _, err := m.addPipelineRun(ctx, project, sel, opts.ExecuteNow, opts.Async); err != nil {
			rollback()
			return nil, err
		}
	}

	return project, nil
}

func pathBase(path string) string {
	idx := strings.LastIndexAny(path, "/\\")
	if idx < 0 {
		return path
	}
	return path[idx+1:]
}

func splitURLTag(raw string) (uri, tag string) {
	if idx := strings.LastIndex(raw, ":tag:"); idx >= 0 {
		return raw[:idx], raw[idx+len(":tag:"):]
	}
	return raw, ""
}

// AddInputs attaches local files and/or fetched URLs to an existing
// project. Rejected while the project has any non-terminal Run, since
// changing inputs after a Run has started would break reproducibility.
func (m *Manager) AddInputs(ctx context.Context, projectUUID string, files, urls []string) error {
	if err := m.requireNoActiveRun(ctx, projectUUID); err != nil {
		return err
	}
	project, err := m.store.GetProject(ctx, projectUUID)
	if err != nil {
		return err
	}

	for _, path := range files {
		filename := pathBase(path)
		if _, err := m.workspace.CopyFileToInput(project.Slug, project.UUID, path, filename); err != nil {
			return err
		}
		if err := m.store.CreateInput(ctx, &store.InputSource{
			UUID:       uuid.New().String(),
			Project:    project.UUID,
			Filename:   filename,
			IsUploaded: true,
		}); err != nil {
			return err
		}
	}

	if len(urls) > 0 && m.fetcher == nil {
		return &scanpipeerrors.ExternalError{
			Kind:    scanpipeerrors.KindInputFetchFailed,
			Message: "no fetcher configured for this deployment",
		}
	}
	destDir := m.workspace.PathOf(project.Slug, project.UUID, "input")
	for _, raw := range urls {
		uri, tag := splitURLTag(raw)
		results, err := m.fetcher.Fetch(ctx, uri, destDir)
		if err != nil {
			return err
		}
		for _, res := range results {
			effectiveTag := tag
			if res.Tag != "" {
				effectiveTag = res.Tag
			}
			if err := m.store.CreateInput(ctx, &store.InputSource{
				UUID:        uuid.New().String(),
				Project:     project.UUID,
				Filename:    res.Filename,
				DownloadURL: uri,
				Tag:         effectiveTag,
			}); err != nil {
				return err
			}
		}
	}
	return nil
}

// AddPipeline appends a Run for pipelineName to project's queue.
func (m *Manager) AddPipeline(ctx context.Context, projectUUID, pipelineName string, selectedGroups []string, executeNow, async bool) (*store.Run, error) {
	project, err := m.store.GetProject(ctx, projectUUID)
	if err != nil {
		return nil, err
	}
	return m.addPipelineRun(ctx, project, PipelineSelection{Name: pipelineName, SelectedGroups: selectedGroups}, executeNow, async)
}

func (m *Manager) addPipelineRun(ctx context.Context, project *store.Project, sel PipelineSelection, executeNow, async bool) (*store.Run, error) {
	if _, ok := m.registry.Get(sel.Name); !ok {
		return nil, &scanpipeerrors.ValidationError{
			Kind:    scanpipeerrors.KindUnknownPipeline,
			Field:   "pipeline_name",
			Message: fmt.Sprintf("no pipeline registered as %q", sel.Name),
		}
	}

	run := &store.Run{
		UUID:           uuid.New().String(),
		Project:        project.UUID,
		PipelineName:   sel.Name,
		SelectedGroups: sel.SelectedGroups,
		Status:         store.RunNotStarted,
		CreatedAt:      time.Now(),
	}
	if err := m.store.CreateRun(ctx, run); err != nil {
		return nil, err
	}

	if !executeNow || m.scheduler == nil {
		return run, nil
	}
	if async {
		if err := m.scheduler.Enqueue(ctx, run); err != nil {
			return nil, err
		}
		return run, nil
	}
	if err := m.scheduler.RunInline(ctx, run); err != nil {
		return nil, err
	}
	return run, nil
}

// AddWebhook creates a webhook subscription for project, delivered on
// the terms the caller requests (every run's terminal transition, or
// only once all of a project's runs have completed).
func (m *Manager) AddWebhook(ctx context.Context, projectUUID, targetURL string, triggerOnEachRun, includeSummary, includeResults, active bool) (*store.WebhookSubscription, error) {
	project, err := m.store.GetProject(ctx, projectUUID)
	if err != nil {
		return nil, err
	}
	sub := &store.WebhookSubscription{
		UUID:             uuid.New().String(),
		Project:          project.UUID,
		TargetURL:        targetURL,
		TriggerOnEachRun: triggerOnEachRun,
		IncludeSummary:   includeSummary,
		IncludeResults:   includeResults,
		IsActive:         active,
		CreatedAt:        time.Now(),
	}
	if err := m.store.CreateWebhook(ctx, sub); err != nil {
		return nil, err
	}
	return sub, nil
}

// ArchiveProject marks project archived and optionally scrubs its
// workspace subdirectories. Rejected while any Run is QUEUED or RUNNING.
func (m *Manager) ArchiveProject(ctx context.Context, projectUUID string, removeInput, removeCodebase, removeOutput bool) error {
	runs, err := m.store.ListRuns(ctx, store.RunFilter{Project: projectUUID})
	if err != nil {
		return err
	}
	for _, r := range runs {
		if r.Status == store.RunQueued || r.Status == store.RunRunning {
			return &scanpipeerrors.StateError{
				Kind:    scanpipeerrors.KindRunInProgress,
				Entity:  projectUUID,
				Message: "project has a queued or running run",
			}
		}
	}
	project, err := m.store.GetProject(ctx, projectUUID)
	if err != nil {
		return err
	}

	if removeInput {
		if err := m.workspace.RemoveSubdir(project.Slug, project.UUID, "input"); err != nil {
			return err
		}
	}
	if removeCodebase {
		if err := m.workspace.RemoveSubdir(project.Slug, project.UUID, "codebase"); err != nil {
			return err
		}
	}
	if removeOutput {
		if err := m.workspace.RemoveSubdir(project.Slug, project.UUID, "output"); err != nil {
			return err
		}
	}

	now := time.Now()
	project.IsArchived = true
	project.ArchivedAt = &now
	return m.store.UpdateProject(ctx, project)
}

// ResetProject drops every scan entity and Run for project, preserving
// input/ unless removeInput is set, and optionally restores the
// pipelines that previously ran (minus any no longer registered, which
// are skipped with a warning) as fresh queued Runs.
func (m *Manager) ResetProject(ctx context.Context, projectUUID string, removeInput, removeWebhook, restorePipelines, executeNow bool) error {
	project, err := m.store.GetProject(ctx, projectUUID)
	if err != nil {
		return err
	}

	var previous []PipelineSelection
	if restorePipelines {
		runs, err := m.store.ListRuns(ctx, store.RunFilter{Project: project.UUID})
		if err != nil {
			return err
		}
		seen := make(map[string]bool)
		for _, r := range runs {
			if seen[r.PipelineName] {
				continue
			}
			seen[r.PipelineName] = true
			previous = append(previous, PipelineSelection{Name: r.PipelineName, SelectedGroups: r.SelectedGroups})
		}
	}

	if err := m.store.DeleteScanEntitiesForProject(ctx, project.UUID); err != nil {
		return err
	}
	runs, err := m.store.ListRuns(ctx, store.RunFilter{Project: project.UUID})
	if err != nil {
		return err
	}
	for _, r := range runs {
		if err := m.store.DeleteRun(ctx, r.UUID); err != nil {
			return err
		}
	}

	if removeInput {
		if err := m.store.DeleteInputs(ctx, project.UUID); err != nil {
			return err
		}
		if err := m.workspace.RemoveSubdir(project.Slug, project.UUID, "input"); err != nil {
			return err
		}
	}
	if removeWebhook {
		if err := m.store.DeleteWebhooksForProject(ctx, project.UUID); err != nil {
			return err
		}
	}

	for _, sel := range previous {
		if _, ok := m.registry.Get(sel.Name); !ok {
			m.logger.Warn("restore-pipelines: skipping unknown pipeline",
				slog.String("project", project.UUID), slog.String("pipeline", sel.Name))
			continue
		}
		if _, err := m.addPipelineRun(ctx, project, sel, executeNow, false); err != nil {
			return err
		}
	}
	return nil
}

// DeleteProject cascade-deletes every row belonging to project and its
// workspace directory.
func (m *Manager) DeleteProject(ctx context.Context, projectUUID string) error {
	project, err := m.store.GetProject(ctx, projectUUID)
	if err != nil {
		return err
	}

	if err := m.store.DeleteScanEntitiesForProject(ctx, project.UUID); err != nil {
		return err
	}
	if err := m.store.DeleteInputs(ctx, project.UUID); err != nil {
		return err
	}
	if err := m.store.DeleteWebhooksForProject(ctx, project.UUID); err != nil {
		return err
	}
	runs, err := m.store.ListRuns(ctx, store.RunFilter{Project: project.UUID})
	if err != nil {
		return err
	}
	for _, r := range runs {
		if err := m.store.DeleteRun(ctx, r.UUID); err != nil {
			return err
		}
	}
	if err := m.workspace.Remove(project.Slug, project.UUID); err != nil {
		return err
	}
	return m.store.DeleteProject(ctx, project.UUID)
}

// FlushFilters narrows which projects FlushProjects considers.
type FlushFilters struct {
	Label    string
	Pipeline string
}

// FlushProjects deletes every project older than retainDays matching
// filters, returning the deleted projects' names.
func (m *Manager) FlushProjects(ctx context.Context, retainDays int, filters FlushFilters) ([]string, error) {
	cutoff := time.Now().AddDate(0, 0, -retainDays)
	projects, err := m.store.ListProjects(ctx, store.ProjectFilter{Label: filters.Label, IncludeArchived: true})
	if err != nil {
		return nil, err
	}

	var deleted []string
	for _, p := range projects {
		if !p.CreatedAt.Before(cutoff) {
			continue
		}
		if filters.Pipeline != "" {
			runs, err := m.store.ListRuns(ctx, store.RunFilter{Project: p.UUID})
			if err != nil {
				return deleted, err
			}
			matched := false
			for _, r := range runs {
				if r.PipelineName == filters.Pipeline {
					matched = true
					break
				}
			}
			if !matched {
				continue
			}
		}
		if err := m.DeleteProject(ctx, p.UUID); err != nil {
			return deleted, err
		}
		deleted = append(deleted, p.Name)
	}
	return deleted, nil
}

// BatchEntry is one input row for BatchCreate: a project name plus
// optional fields (the CLI's directory source records the directory
// under Fields["path"]). BatchCreate uses only Name; it does not read
// Fields and adds no input to the created project.
type BatchEntry struct {
	Name   string
	Fields map[string]string
}

// BatchResult pairs a successfully created project with the entry it
// came from, or records the error for a failed entry.
type BatchResult struct {
	Entry   BatchEntry
	Project *store.Project
	Err     error
}

// BatchCreate creates one project per entry, using nameTemplate with
// "{name}" substituted for the entry's Name. Entries that fail do not
// abort the batch; every entry's outcome is reported in the result set.
func (m *Manager) BatchCreate(ctx context.Context, entries []BatchEntry, nameTemplate string, pipelines []PipelineSelection, executeNow, async bool) []BatchResult {
	results := make([]BatchResult, 0, len(entries))
	for _, entry := range entries {
		name := strings.ReplaceAll(nameTemplate, "{name}", entry.Name)
		project, err := m.CreateProject(ctx, name, CreateOptions{
			Pipelines:  pipelines,
			ExecuteNow: executeNow,
			Async:      async,
		})
		results = append(results, BatchResult{Entry: entry, Project: project, Err: err})
	}
	return results
}

func (m *Manager) requireNoActiveRun(ctx context.Context, projectUUID string) error {
	runs, err := m.store.ListRuns(ctx, store.RunFilter{Project: projectUUID})
	if err != nil {
		return err
	}
	for _, r := range runs {
		if !r.Status.Terminal() {
			return &scanpipeerrors.StateError{
				Kind:    scanpipeerrors.KindRunInProgress,
				Entity:  projectUUID,
				Message: "project has a non-terminal run in progress",
			}
		}
	}
	return nil
}
