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

// Package store defines the repository abstractions the orchestration
// core uses to persist projects, runs, inputs and webhook subscriptions.
//
// # Interface Hierarchy
//
// Storage is segregated by aggregate, mirroring the narrowest dependency
// each component actually needs:
//
//   - ProjectStore: CRUD over Project rows.
//   - RunStore (core, required): CreateRun, GetRun, UpdateRun, ListRuns,
//     DeleteRun, CompareAndSetStatus.
//   - InputStore: InputSource rows attached to a project.
//   - WebhookStore: WebhookSubscription and WebhookDelivery rows.
//   - ScanEntityStore: opaque CodebaseResource/DiscoveredPackage/... rows.
//
// Backend implements all of these plus io.Closer. Components accept the
// narrowest interface they need; a caller that only enqueues runs takes a
// RunStore, not the full Backend.
package store

import (
	"context"
	"encoding/json"
	"io"
	"time"
)

// RunStatus is the lifecycle state of a Run. Transitions are monotone:
// NotStarted -> Queued -> Running -> {Success|Failure|Stopped}; Stale is
// reachable from Queued or Running on operator reset.
type RunStatus string

const (
	RunNotStarted RunStatus = "not_started"
	RunQueued     RunStatus = "queued"
	RunRunning    RunStatus = "running"
	RunSuccess    RunStatus = "success"
	RunFailure    RunStatus = "failure"
	RunStopped    RunStatus = "stopped"
	RunStale      RunStatus = "stale"
)

// Terminal reports whether the status is one the scheduler will never
// transition out of on its own.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunSuccess, RunFailure, RunStopped, RunStale:
		return true
	default:
		return false
	}
}

// Project is a named container for one analysis scope. It owns a
// workspace, inputs, runs, scan entities and webhook subscriptions.
type Project struct {
	UUID       string
	Name       string
	Slug       string
	Labels     []string
	Notes      string
	Settings   map[string]string
	IsArchived bool
	CreatedAt  time.Time
	ArchivedAt *time.Time
}

// ProjectFilter narrows ListProjects results.
type ProjectFilter struct {
	Name            string
	NameContains    string
	UUID            string
	Label           string
	IncludeArchived bool
	Limit           int
	Offset          int
}

// InputSource is one input file attached to a project.
type InputSource struct {
	UUID        string
	Project     string // Project.UUID
	Filename    string
	DownloadURL string
	Tag         string
	IsUploaded  bool
	Size        int64
	CreatedAt   time.Time
}

// Run is one execution of a pipeline against a project.
type Run struct {
	UUID            string
	Project         string // Project.UUID
	PipelineName    string
	SelectedGroups  []string
	Description     string
	Status          RunStatus
	TaskID          string
	CreatedAt       time.Time
	TaskStartDate   *time.Time
	TaskEndDate     *time.Time
	TaskExitCode    *int
	TaskOutput      string
	Log             string
	CurrentStep     string
	Progress        int
	ResumeFromStep  string
	CancelRequested bool
}

// ExecutionTime returns task_end_date - task_start_date, or zero when
// either timestamp is unset.
func (r *Run) ExecutionTime() time.Duration {
	if r.TaskStartDate == nil || r.TaskEndDate == nil {
		return 0
	}
	return r.TaskEndDate.Sub(*r.TaskStartDate)
}

// RunFilter narrows ListRuns results.
type RunFilter struct {
	Project string
	Status  RunStatus
	Limit   int
	Offset  int
}

// WebhookSubscription is a per-project record describing when and where
// to deliver run-completion notifications.
type WebhookSubscription struct {
	UUID             string
	Project          string
	TargetURL        string
	TriggerOnEachRun bool
	IncludeSummary   bool
	IncludeResults   bool
	IsActive         bool
	CreatedAt        time.Time
}

// WebhookDelivery is one attempt to deliver a WebhookSubscription's
// payload for a given Run.
type WebhookDelivery struct {
	UUID           string
	Subscription   string
	Run            string // optional, empty for OnAllRunsCompleted deliveries with no single run
	SentAt         time.Time
	ResponseStatus int
	ResponseBody   string
	Attempt        int
	Succeeded      bool
}

// ScanEntityKind identifies which scan-result aggregate a ScanEntity row
// belongs to. The core does not interpret the payload beyond this.
type ScanEntityKind string

const (
	KindCodebaseResource      ScanEntityKind = "codebase_resource"
	KindDiscoveredPackage     ScanEntityKind = "discovered_package"
	KindDiscoveredDependency  ScanEntityKind = "discovered_dependency"
	KindCodebaseRelation      ScanEntityKind = "codebase_relation"
	KindProjectMessage        ScanEntityKind = "project_message"
)

// ScanEntity is an opaque row produced by a pipeline step. The core
// guarantees referential integrity to its Project, cascade delete, and
// bulk count queries; field-level semantics belong to the step library
// that produced Payload.
type ScanEntity struct {
	UUID    string
	Project string
	Kind    ScanEntityKind
	Key     string // stable key: path for resources, PURL for packages, ...
	Payload json.RawMessage
}

// ScanEntityFilter narrows ListScanEntities / CountScanEntities.
type ScanEntityFilter struct {
	Project string
	Kind    ScanEntityKind
	Label   string
}

// ProjectStore is CRUD over Project rows.
type ProjectStore interface {
	CreateProject(ctx context.Context, p *Project) error
	GetProject(ctx context.Context, uuid string) (*Project, error)
	GetProjectByName(ctx context.Context, name string) (*Project, error)
	UpdateProject(ctx context.Context, p *Project) error
	DeleteProject(ctx context.Context, uuid string) error
	ListProjects(ctx context.Context, filter ProjectFilter) ([]*Project, error)
}

// RunStore is the core interface over Run rows. It is the minimal
// interface the scheduler requires for basic dispatch.
type RunStore interface {
	CreateRun(ctx context.Context, r *Run) error
	GetRun(ctx context.Context, uuid string) (*Run, error)
	UpdateRun(ctx context.Context, r *Run) error
	ListRuns(ctx context.Context, filter RunFilter) ([]*Run, error)
	DeleteRun(ctx context.Context, uuid string) error

	// CompareAndSetStatus performs the atomic QUEUED->RUNNING (or other)
	// transition a worker uses to reserve a Run. It reports whether the
	// compare succeeded.
	CompareAndSetStatus(ctx context.Context, uuid string, from, to RunStatus) (bool, error)
}

// InputStore is CRUD over InputSource rows.
type InputStore interface {
	CreateInput(ctx context.Context, in *InputSource) error
	ListInputs(ctx context.Context, project string) ([]*InputSource, error)
	DeleteInputs(ctx context.Context, project string) error
}

// WebhookStore is CRUD over WebhookSubscription and WebhookDelivery rows.
type WebhookStore interface {
	CreateWebhook(ctx context.Context, w *WebhookSubscription) error
	ListWebhooks(ctx context.Context, project string) ([]*WebhookSubscription, error)
	DeleteWebhooksForProject(ctx context.Context, project string) error

	CreateDelivery(ctx context.Context, d *WebhookDelivery) error
	ListDeliveries(ctx context.Context, subscription string) ([]*WebhookDelivery, error)
}

// ScanEntityStore is CRUD over the opaque scan-result rows a pipeline
// step produces.
type ScanEntityStore interface {
	CreateScanEntities(ctx context.Context, entities []*ScanEntity) error
	ListScanEntities(ctx context.Context, filter ScanEntityFilter) ([]*ScanEntity, error)
	CountScanEntities(ctx context.Context, filter ScanEntityFilter) (int, error)
	DeleteScanEntitiesForProject(ctx context.Context, project string) error
}

// Backend composes every segregated store interface plus io.Closer, for
// implementations that offer full persistence (memory, postgres,
// sqlite). Components should accept the narrowest interface above that
// they actually need rather than Backend itself.
type Backend interface {
	ProjectStore
	RunStore
	InputStore
	WebhookStore
	ScanEntityStore
	io.Closer
}
