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

package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"

	"github.com/aboutcode-org/scanpipe/internal/config"
	"github.com/aboutcode-org/scanpipe/internal/fetch"
	"github.com/aboutcode-org/scanpipe/internal/policy"
	"github.com/aboutcode-org/scanpipe/internal/store"
	"github.com/aboutcode-org/scanpipe/internal/workspace"
)

// Context is the handle a step body receives. It carries the project
// and run being executed, a logger scoped to this run, and the shared
// collaborators (workspace, persistence, fetcher, policy evaluator) a
// step needs to do its work. It is not safe for a step to retain a
// Context past its Run call returning.
type Context struct {
	// Go context for cancellation and deadlines; steps that do blocking
	// I/O should select on Done().
	Go context.Context

	Project *store.Project
	Run     *store.Run

	Logger *slog.Logger

	Workspace *workspace.Manager
	Store     store.Backend
	Fetcher   *fetch.Fetcher
	Policy    *policy.Evaluator

	// Override is the project's scancode-config.yml override, if one was
	// uploaded alongside its inputs. Nil when the project has none.
	Override *config.ProjectOverride

	// log accumulates the lines a step writes via Logf; the engine
	// appends it to run.Log after the step completes.
	log bytes.Buffer
}

// IgnoredPatterns returns the project override's ignored_patterns, or
// nil when the project has no override.
func (c *Context) IgnoredPatterns() []string {
	if c.Override == nil {
		return nil
	}
	return c.Override.IgnoredPatterns
}

// Logf appends a formatted line to the run's captured log and, if a
// logger is configured, also emits it as a structured debug record.
func (c *Context) Logf(format string, args ...any) {
	line := fmt.Sprintf(format, args...)
	c.log.WriteString(line)
	c.log.WriteByte('\n')
	if c.Logger != nil {
		c.Logger.Debug(line)
	}
}

// WorkspacePath returns the absolute path to one of the run's workspace
// subdirectories ("input", "codebase", "output", "tmp").
func (c *Context) WorkspacePath(subdir string) string {
	return c.Workspace.PathOf(c.Project.Slug, c.Project.UUID, subdir)
}
