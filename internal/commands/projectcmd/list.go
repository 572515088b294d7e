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
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aboutcode-org/scanpipe/internal/commands/shared"
	"github.com/aboutcode-org/scanpipe/internal/store"
)

// NewListProjectCommand builds the "list-project" command.
func NewListProjectCommand() *cobra.Command {
	var (
		search          string
		includeArchived bool
	)

	cmd := &cobra.Command{
		Use:   "list-project",
		Short: "list projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := shared.BuildApplication()
			if err != nil {
				return err
			}
			defer a.Close()

			projects, err := a.Store.ListProjects(cmd.Context(), store.ProjectFilter{
				NameContains:    search,
				IncludeArchived: includeArchived,
			})
			if err != nil {
				return shared.NewExitError(err)
			}

			if shared.JSON() {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(projects)
			}
			for _, p := range projects {
				archived := ""
				if p.IsArchived {
					archived = " [archived]"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s%s\n", p.UUID, p.Name, archived)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&search, "search", "", "substring filter on project name")
	cmd.Flags().BoolVar(&includeArchived, "include-archived", false, "include archived projects")

	return cmd
}
