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

// NewDeleteProjectCommand builds the "delete-project" command.
func NewDeleteProjectCommand() *cobra.Command {
	var projectName string
	var noInput bool

	cmd := &cobra.Command{
		Use:   "delete-project --project NAME",
		Short: "cascade-delete a project and its workspace",
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

			ok, err := shared.Confirm(fmt.Sprintf("permanently delete project %q and its workspace?", p.Name), noInput)
			if err != nil {
				return shared.NewExitError(err)
			}
			if !ok {
				fmt.Fprintln(cmd.OutOrStdout(), "aborted")
				return nil
			}

			if err := a.Project.DeleteProject(cmd.Context(), p.UUID); err != nil {
				return shared.NewExitError(err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", p.Name)
			return nil
		},
	}

	cmd.Flags().StringVar(&projectName, "project", "", "project name (required)")
	cmd.Flags().BoolVar(&noInput, "no-input", false, "skip the confirmation prompt")
	cmd.MarkFlagRequired("project")

	return cmd
}
