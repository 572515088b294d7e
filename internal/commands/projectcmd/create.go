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
	"github.com/aboutcode-org/scanpipe/internal/project"
)

// NewCreateProjectCommand builds the "create-project" command.
func NewCreateProjectCommand() *cobra.Command {
	var (
		pipelines       []string
		inputFiles      []string
		inputURLs       []string
		copyCodebase    string
		notes           string
		labels          []string
		execute         bool
		async           bool
		noGlobalWebhook bool
	)

	cmd := &cobra.Command{
		Use:   "create-project NAME",
		Short: "create a new project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := shared.BuildApplication()
			if err != nil {
				return err
			}
			defer a.Close()

			opts := project.CreateOptions{
				Labels:              labels,
				Notes:               notes,
				InputFiles:          parseInputFileFlags(inputFiles),
				InputURLs:           parseInputURLFlags(inputURLs),
				Pipelines:           parsePipelineFlags(pipelines),
				ExecuteNow:          execute,
				Async:               async,
				CreateGlobalWebhook: !noGlobalWebhook,
			}
			if copyCodebase != "" {
				opts.InputFiles = append(opts.InputFiles, copyCodebase)
			}

			p, err := a.Project.CreateProject(cmd.Context(), args[0], opts)
			if err != nil {
				return shared.NewExitError(err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created project %s (%s)\n", p.Name, p.UUID)
			return nil
		},
	}

	cmd.Flags().StringArrayVar(&pipelines, "pipeline", nil, "pipeline to queue, NAME[:group1,group2]")
	cmd.Flags().StringArrayVar(&inputFiles, "input-file", nil, "local input file, PATH[:TAG]")
	cmd.Flags().StringArrayVar(&inputURLs, "input-url", nil, "input to fetch, URL[#TAG]")
	cmd.Flags().StringVar(&copyCodebase, "copy-codebase", "", "directory to copy into the project's codebase input")
	cmd.Flags().StringVar(&notes, "notes", "", "free-form notes")
	cmd.Flags().StringArrayVar(&labels, "label", nil, "label to attach (repeatable)")
	cmd.Flags().BoolVar(&execute, "execute", false, "run queued pipelines immediately")
	cmd.Flags().BoolVar(&async, "async", false, "enqueue onto the async worker queue instead of running inline")
	cmd.Flags().BoolVar(&noGlobalWebhook, "no-global-webhook", false, "skip creating the configured global webhook subscription")

	return cmd
}
