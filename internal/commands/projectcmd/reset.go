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

// NewResetProjectCommand builds the "reset-project" command.
func NewResetProjectCommand() *cobra.Command {
	var (
		projectName      string
		removeInput      bool
		removeWebhook    bool
		restorePipelines bool
		executeNow       bool
		noInput          bool
	)

	cmd := &cobra.Command{
		Use:   "reset-project --project NAME",
		Short: "drop a project's scan entities and runs",
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
			ok, err := shared.Confirm(fmt.Sprintf("drop all scan entities and runs for %q?", p.Name), noInput)
			if err != nil {
				return shared.NewExitError(err)
			}
			if !ok {
				fmt.Fprintln(cmd.OutOrStdout(), "aborted")
				return nil
			}
			if err := a.Project.ResetProject(cmd.Context(), p.UUID, removeInput, removeWebhook, restorePipelines, executeNow); err != nil {
				return shared.NewExitError(err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "reset %s\n", p.Name)
			return nil
		},
	}

	cmd.Flags().StringVar(&projectName, "project", "", "project name (required)")
	cmd.Flags().BoolVar(&removeInput, "remove-input", false, "delete input/")
	cmd.Flags().BoolVar(&removeWebhook, "remove-webhook", false, "delete all webhook subscriptions")
	cmd.Flags().BoolVar(&restorePipelines, "restore-pipelines", false, "re-queue the pipelines that previously ran")
	cmd.Flags().BoolVar(&executeNow, "execute-now", false, "run restored pipelines immediately")
	cmd.Flags().BoolVar(&noInput, "no-input", false, "skip the confirmation prompt")
	cmd.MarkFlagRequired("project")

	return cmd
}
