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

package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aboutcode-org/scanpipe/internal/config"
	"github.com/aboutcode-org/scanpipe/internal/project"
	"github.com/aboutcode-org/scanpipe/internal/scheduler"
)

func newTestApp(t *testing.T) *Application {
	t.Helper()
	cfg := config.Default()
	cfg.WorkspaceLocation = t.TempDir()

	a, err := New(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

func TestNewWiresAllCollaborators(t *testing.T) {
	a := newTestApp(t)

	assert.NotNil(t, a.Store)
	assert.NotNil(t, a.Workspace)
	assert.NotNil(t, a.Fetcher)
	assert.NotNil(t, a.Registry)
	assert.NotNil(t, a.Engine)
	assert.NotNil(t, a.Queue)
	assert.NotNil(t, a.Scheduler)
	assert.NotNil(t, a.Dispatcher)
	assert.NotNil(t, a.Project)
	assert.Nil(t, a.Policy)
}

func TestNewRegistersBuiltinPipelines(t *testing.T) {
	a := newTestApp(t)

	for _, name := range []string{"scan_codebase", "load_inventory", "find_vulnerabilities", "inspect_packages", "analyze_docker_image"} {
		_, ok := a.Registry.Get(name)
		assert.True(t, ok, "pipeline %q should be registered", name)
	}
}

func TestNewProjectManagerRunsEndToEnd(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()

	p, err := a.Project.CreateProject(ctx, "smoke-test", project.CreateOptions{})
	require.NoError(t, err)

	fetched, err := a.Store.GetProject(ctx, p.UUID)
	require.NoError(t, err)
	assert.Equal(t, "smoke-test", fetched.Name)
}

func TestOpenStoreRejectsUnknownBackend(t *testing.T) {
	cfg := config.Default()
	cfg.Database.Backend = "oracle"

	_, err := openStore(cfg)
	require.Error(t, err)
}

func TestBuildQueueUsesMemoryByDefault(t *testing.T) {
	cfg := config.Default()
	q := buildQueue(cfg)
	assert.IsType(t, &scheduler.MemoryQueue{}, q)
}

func TestBuildQueueUsesRedisWhenAsync(t *testing.T) {
	cfg := config.Default()
	cfg.Async = true
	q := buildQueue(cfg)
	assert.IsType(t, &scheduler.RedisQueue{}, q)
}
