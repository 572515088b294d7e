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

package pipelinecmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aboutcode-org/scanpipe/internal/commands/shared"
	"github.com/aboutcode-org/scanpipe/internal/store"
)

// NewShowPipelineCommand builds the "show-pipeline" command: one line
// per run attached to the project, status first.
func NewShowPipelineCommand() *cobra.Command {
	var projectName string

	cmd := &cobra.Command{
		Use:   "show-pipeline --project NAME",
		Short: "list the pipelines attached to a project and their status",
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

			runs, err := a.Store.ListRuns(cmd.Context(), store.RunFilter{Project: p.UUID})
			if err != nil {
				return shared.NewExitError(err)
			}

			out := cmd.OutOrStdout()
			for _, r := range runs {
				fmt.Fprintf(out, "[%s] %s\n", r.Status, r.PipelineName)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&projectName, "project", "", "project name (required)")
	cmd.MarkFlagRequired("project")

	return cmd
}
