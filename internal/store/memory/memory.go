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

// Package memory provides an in-memory store backend, used for tests and
// for single-process "inline" mode deployments.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aboutcode-org/scanpipe/internal/store"
	"github.com/aboutcode-org/scanpipe/internal/util"
)

// Compile-time interface assertions.
var (
	_ store.ProjectStore    = (*Backend)(nil)
	_ store.RunStore        = (*Backend)(nil)
	_ store.InputStore      = (*Backend)(nil)
	_ store.WebhookStore    = (*Backend)(nil)
	_ store.ScanEntityStore = (*Backend)(nil)
	_ store.Backend         = (*Backend)(nil)
)

// Backend is an in-memory store backend.
type Backend struct {
	mu         sync.RWMutex
	projects   map[string]*store.Project
	runs       map[string]*store.Run
	inputs     map[string][]*store.InputSource
	webhooks   map[string]*store.WebhookSubscription
	deliveries map[string][]*store.WebhookDelivery
	entities   map[string][]*store.ScanEntity
}

// New creates a new in-memory backend.
func New() *Backend {
	return &Backend{
		projects:   make(map[string]*store.Project),
		runs:       make(map[string]*store.Run),
		inputs:     make(map[string][]*store.InputSource),
		webhooks:   make(map[string]*store.WebhookSubscription),
		deliveries: make(map[string][]*store.WebhookDelivery),
		entities:   make(map[string][]*store.ScanEntity),
	}
}

func (b *Backend) CreateProject(ctx context.Context, p *store.Project) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, existing := range b.projects {
		if existing.Name == p.Name {
			return fmt.Errorf("project name already taken: %s", p.Name)
		}
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	cp := *p
	b.projects[p.UUID] = &cp
	return nil
}

func (b *Backend) GetProject(ctx context.Context, uuid string) (*store.Project, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	p, ok := b.projects[uuid]
	if !ok {
		return nil, fmt.Errorf("project not found: %s", uuid)
	}
	cp := *p
	return &cp, nil
}

func (b *Backend) GetProjectByName(ctx context.Context, name string) (*store.Project, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, p := range b.projects {
		if p.Name == name {
			cp := *p
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("project not found: %s", name)
}

func (b *Backend) UpdateProject(ctx context.Context, p *store.Project) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.projects[p.UUID]; !ok {
		return fmt.Errorf("project not found: %s", p.UUID)
	}
	cp := *p
	b.projects[p.UUID] = &cp
	return nil
}

func (b *Backend) DeleteProject(ctx context.Context, uuid string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.projects, uuid)
	for id, r := range b.runs {
		if r.Project == uuid {
			delete(b.runs, id)
		}
	}
	delete(b.inputs, uuid)
	for id, w := range b.webhooks {
		if w.Project == uuid {
			delete(b.webhooks, id)
			delete(b.deliveries, id)
		}
	}
	delete(b.entities, uuid)
	return nil
}

func (b *Backend) ListProjects(ctx context.Context, filter store.ProjectFilter) ([]*store.Project, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var result []*store.Project
	for _, p := range b.projects {
		if !filter.IncludeArchived && p.IsArchived {
			continue
		}
		if filter.Name != "" && p.Name != filter.Name {
			continue
		}
		if filter.NameContains != "" && !strings.Contains(p.Name, filter.NameContains) {
			continue
		}
		if filter.UUID != "" && p.UUID != filter.UUID {
			continue
		}
		if filter.Label != "" && !util.Contains(p.Labels, filter.Label) {
			continue
		}
		cp := *p
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return paginate(result, filter.Offset, filter.Limit), nil
}

func (b *Backend) CreateRun(ctx context.Context, r *store.Run) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.runs[r.UUID]; ok {
		return fmt.Errorf("run already exists: %s", r.UUID)
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	cp := *r
	b.runs[r.UUID] = &cp
	return nil
}

func (b *Backend) GetRun(ctx context.Context, uuid string) (*store.Run, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	r, ok := b.runs[uuid]
	if !ok {
		return nil, fmt.Errorf("run not found: %s", uuid)
	}
	cp := *r
	return &cp, nil
}

func (b *Backend) UpdateRun(ctx context.Context, r *store.Run) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.runs[r.UUID]; !ok {
		return fmt.Errorf("run not found: %s", r.UUID)
	}
	cp := *r
	b.runs[r.UUID] = &cp
	return nil
}

func (b *Backend) ListRuns(ctx context.Context, filter store.RunFilter) ([]*store.Run, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var result []*store.Run
	for _, r := range b.runs {
		if filter.Project != "" && r.Project != filter.Project {
			continue
		}
		if filter.Status != "" && r.Status != filter.Status {
			continue
		}
		cp := *r
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return paginate(result, filter.Offset, filter.Limit), nil
}

func (b *Backend) DeleteRun(ctx context.Context, uuid string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.runs, uuid)
	return nil
}

// CompareAndSetStatus performs the only atomic operation the scheduler
// requires: a status transition that succeeds only if the run's current
// status matches from.
func (b *Backend) CompareAndSetStatus(ctx context.Context, uuid string, from, to store.RunStatus) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	r, ok := b.runs[uuid]
	if !ok {
		return false, fmt.Errorf("run not found: %s", uuid)
	}
	if r.Status != from {
		return false, nil
	}
	r.Status = to
	return true, nil
}

func (b *Backend) CreateInput(ctx context.Context, in *store.InputSource) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if in.CreatedAt.IsZero() {
		in.CreatedAt = time.Now()
	}
	cp := *in
	b.inputs[in.Project] = append(b.inputs[in.Project], &cp)
	return nil
}

func (b *Backend) ListInputs(ctx context.Context, project string) ([]*store.InputSource, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	in := b.inputs[project]
	result := make([]*store.InputSource, len(in))
	copy(result, in)
	return result, nil
}

func (b *Backend) DeleteInputs(ctx context.Context, project string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.inputs, project)
	return nil
}

func (b *Backend) CreateWebhook(ctx context.Context, w *store.WebhookSubscription) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if w.CreatedAt.IsZero() {
		w.CreatedAt = time.Now()
	}
	cp := *w
	b.webhooks[w.UUID] = &cp
	return nil
}

func (b *Backend) ListWebhooks(ctx context.Context, project string) ([]*store.WebhookSubscription, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var result []*store.WebhookSubscription
	for _, w := range b.webhooks {
		if w.Project == project {
			cp := *w
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

func (b *Backend) DeleteWebhooksForProject(ctx context.Context, project string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, w := range b.webhooks {
		if w.Project == project {
			delete(b.webhooks, id)
			delete(b.deliveries, id)
		}
	}
	return nil
}

func (b *Backend) CreateDelivery(ctx context.Context, d *store.WebhookDelivery) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if d.SentAt.IsZero() {
		d.SentAt = time.Now()
	}
	cp := *d
	b.deliveries[d.Subscription] = append(b.deliveries[d.Subscription], &cp)
	return nil
}

func (b *Backend) ListDeliveries(ctx context.Context, subscription string) ([]*store.WebhookDelivery, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	d := b.deliveries[subscription]
	result := make([]*store.WebhookDelivery, len(d))
	copy(result, d)
	return result, nil
}

func (b *Backend) CreateScanEntities(ctx context.Context, entities []*store.ScanEntity) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, e := range entities {
		cp := *e
		b.entities[e.Project] = append(b.entities[e.Project], &cp)
	}
	return nil
}

func (b *Backend) ListScanEntities(ctx context.Context, filter store.ScanEntityFilter) ([]*store.ScanEntity, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var result []*store.ScanEntity
	for _, e := range b.entities[filter.Project] {
		if filter.Kind != "" && e.Kind != filter.Kind {
			continue
		}
		cp := *e
		result = append(result, &cp)
	}
	return result, nil
}

func (b *Backend) CountScanEntities(ctx context.Context, filter store.ScanEntityFilter) (int, error) {
	entities, err := b.ListScanEntities(ctx, filter)
	if err != nil {
		return 0, err
	}
	return len(entities), nil
}

func (b *Backend) DeleteScanEntitiesForProject(ctx context.Context, project string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.entities, project)
	return nil
}

func (b *Backend) Close() error {
	return nil
}

func paginate[T any](items []T, offset, limit int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
