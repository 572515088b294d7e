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

// NewAddInputCommand builds the "add-input" command.
func NewAddInputCommand() *cobra.Command {
	var (
		projectName  string
		inputFiles   []string
		inputURLs    []string
		copyCodebase string
	)

	cmd := &cobra.Command{
		Use:   "add-input",
		Short: "attach input files or URLs to an existing project",
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

			files := parseInputFileFlags(inputFiles)
			if copyCodebase != "" {
				files = append(files, copyCodebase)
			}
			if err := a.Project.AddInputs(cmd.Context(), p.UUID, files, parseInputURLFlags(inputURLs)); err != nil {
				return shared.NewExitError(err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "added inputs to %s\n", p.Name)
			return nil
		},
	}

	cmd.Flags().StringVar(&projectName, "project", "", "project name (required)")
	cmd.Flags().StringArrayVar(&inputFiles, "input-file", nil, "local input file, PATH[:TAG]")
	cmd.Flags().StringArrayVar(&inputURLs, "input-url", nil, "input to fetch, URL[#TAG]")
	cmd.Flags().StringVar(&copyCodebase, "copy-codebase", "", "directory to copy into the project's codebase input")
	cmd.MarkFlagRequired("project")

	return cmd
}
