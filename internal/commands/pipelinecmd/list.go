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
)

// NewListPipelineCommand builds the "list-pipeline" command: every
// pipeline registered in the process, built-in or discovered from
// pipelines_dirs.
func NewListPipelineCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list-pipeline",
		Short: "list every registered pipeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := shared.BuildApplication()
			if err != nil {
				return err
			}
			defer a.Close()

			out := cmd.OutOrStdout()
			for _, d := range a.Registry.List() {
				fmt.Fprintf(out, "%s\n", d.Name)
				if shared.Verbosity() >= 1 && d.Summary != "" {
					fmt.Fprintf(out, "  %s\n", d.Summary)
				}
				if shared.Verbosity() >= 2 {
					for _, g := range d.Groups() {
						fmt.Fprintf(out, "  group: %s\n", g)
					}
				}
				if shared.Verbosity() >= 3 {
					for _, s := range d.Steps {
						fmt.Fprintf(out, "  step: %s\n", s.Name)
					}
				}
			}
			return nil
		},
	}

	return cmd
}
