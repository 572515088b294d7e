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

// Package pipelinecmd implements the pipeline-facing CLI commands:
// executing queued runs and inspecting the pipeline registry.
package pipelinecmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aboutcode-org/scanpipe/internal/commands/shared"
	"github.com/aboutcode-org/scanpipe/internal/store"
)

// NewExecuteCommand builds the "execute" command: it runs every
// not-started run attached to a project, in the order they were added.
func NewExecuteCommand() *cobra.Command {
	var (
		projectName string
		async       bool
	)

	cmd := &cobra.Command{
		Use:   "execute --project NAME",
		Short: "run a project's not-started pipelines",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := shared.BuildApplication()
			if err != nil {
				return err
			}
			defer a.Close()

			p, err := shared.ResolveProject(cmd.Context(), a.Store, projectName)
			if err != nil {
				return shared.NewExitError(err)
			}

			runs, err := a.Store.ListRuns(cmd.Context(), store.RunFilter{Project: p.UUID, Status: store.RunNotStarted})
			if err != nil {
				return shared.NewExitError(err)
			}

			out := cmd.OutOrStdout()
			for _, r := range runs {
				if async {
					if err := a.Scheduler.Enqueue(cmd.Context(), r); err != nil {
						return shared.NewExitError(err)
					}
					fmt.Fprintf(out, "queued %s\n", r.PipelineName)
					continue
				}
				if err := a.Scheduler.RunInline(cmd.Context(), r); err != nil {
					return shared.NewExitError(err)
				}
				fmt.Fprintf(out, "[%s] %s\n", r.Status, r.PipelineName)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&projectName, "project", "", "project name (required)")
	cmd.Flags().BoolVar(&async, "async", false, "enqueue runs on the async queue instead of running them inline")
	cmd.MarkFlagRequired("project")

	return cmd
}
