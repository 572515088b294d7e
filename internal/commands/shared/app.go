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

package shared

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aboutcode-org/scanpipe/internal/app"
	"github.com/aboutcode-org/scanpipe/internal/config"
	"github.com/aboutcode-org/scanpipe/internal/log"
	"github.com/aboutcode-org/scanpipe/internal/store"
	scanpipeerrors "github.com/aboutcode-org/scanpipe/pkg/errors"
)

// BuildApplication loads configuration from the --config flag (or the
// default search path) and opens an Application from it. Every command
// calls this once, at the top of its RunE, rather than touching
// internal/store directly.
func BuildApplication() (*app.Application, error) {
	cfg, err := config.Load(ConfigPath())
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger := log.New(log.FromEnv())
	slog.SetDefault(logger)

	return app.New(cfg, logger)
}

// ResolveProject looks up a project by the --project NAME flag value
// every project-scoped command accepts. Projects are addressed by name
// on the CLI surface, by UUID everywhere else.
func ResolveProject(ctx context.Context, be store.Backend, name string) (*store.Project, error) {
	p, err := be.GetProjectByName(ctx, name)
	if err != nil {
		return nil, &scanpipeerrors.ValidationError{
			Kind:    scanpipeerrors.KindInvalidName,
			Field:   "project",
			Message: fmt.Sprintf("no project named %q", name),
		}
	}
	return p, nil
}
