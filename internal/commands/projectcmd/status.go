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
	"github.com/aboutcode-org/scanpipe/internal/store"
)

// NewStatusCommand builds the "status" command.
func NewStatusCommand() *cobra.Command {
	var projectName string

	cmd := &cobra.Command{
		Use:   "status --project NAME",
		Short: "print a project's runs and their status",
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
			fmt.Fprintf(out, "project: %s (%s)\n", p.Name, p.UUID)
			for _, r := range runs {
				fmt.Fprintf(out, "  [%s] %s", r.Status, r.PipelineName)
				if shared.Verbosity() >= 1 && r.CurrentStep != "" {
					fmt.Fprintf(out, " (step: %s, progress: %d%%)", r.CurrentStep, r.Progress)
				}
				if shared.Verbosity() >= 2 && r.TaskOutput != "" {
					fmt.Fprintf(out, "\n    output: %s", r.TaskOutput)
				}
				if shared.Verbosity() >= 3 && r.Log != "" {
					fmt.Fprintf(out, "\n    log:\n%s", r.Log)
				}
				fmt.Fprintln(out)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&projectName, "project", "", "project name (required)")
	cmd.MarkFlagRequired("project")

	return cmd
}
