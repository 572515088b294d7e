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

package projectcmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aboutcode-org/scanpipe/internal/commands/shared"
)

// NewAddPipelineCommand builds the "add-pipeline" command.
func NewAddPipelineCommand() *cobra.Command {
	var (
		projectName string
		execute     bool
		async       bool
	)

	cmd := &cobra.Command{
		Use:   "add-pipeline --project NAME PIPELINE[:groups] [PIPELINE[:groups] ...]",
		Short: "queue one or more pipeline runs on an existing project",
		Args:  cobra.MinimumNArgs(1),
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

			for _, raw := range args {
				sel := parsePipelineFlag(raw)
				run, err := a.Project.AddPipeline(cmd.Context(), p.UUID, sel.Name, sel.SelectedGroups, execute, async)
				if err != nil {
					return shared.NewExitError(err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "queued %s as run %s\n", sel.Name, run.UUID)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&projectName, "project", "", "project name (required)")
	cmd.Flags().BoolVar(&execute, "execute", false, "run immediately instead of leaving NOT_STARTED")
	cmd.Flags().BoolVar(&async, "async", false, "enqueue onto the async worker queue instead of running inline")
	cmd.MarkFlagRequired("project")

	return cmd
}
