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
	"time"

	"github.com/spf13/cobra"

	"github.com/aboutcode-org/scanpipe/internal/commands/shared"
	"github.com/aboutcode-org/scanpipe/internal/project"
	"github.com/aboutcode-org/scanpipe/internal/store"
)

// NewFlushProjectsCommand builds the "flush-projects" command.
func NewFlushProjectsCommand() *cobra.Command {
	var (
		retainDays int
		label      string
		pipeline   string
		dryRun     bool
		noInput    bool
	)

	cmd := &cobra.Command{
		Use:   "flush-projects",
		Short: "delete projects older than --retain-days matching the given filters",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := shared.BuildApplication()
			if err != nil {
				return err
			}
			defer a.Close()

			filters := project.FlushFilters{Label: label, Pipeline: pipeline}

			if dryRun {
				cutoff := time.Now().AddDate(0, 0, -retainDays)
				projects, err := a.Store.ListProjects(cmd.Context(), store.ProjectFilter{Label: label, IncludeArchived: true})
				if err != nil {
					return shared.NewExitError(err)
				}
				for _, p := range projects {
					if !p.CreatedAt.Before(cutoff) {
						continue
					}
					if pipeline != "" {
						runs, err := a.Store.ListRuns(cmd.Context(), store.RunFilter{Project: p.UUID})
						if err != nil {
							return shared.NewExitError(err)
						}
						matched := false
						for _, r := range runs {
							if r.PipelineName == pipeline {
								matched = true
								break
							}
						}
						if !matched {
							continue
						}
					}
					fmt.Fprintf(cmd.OutOrStdout(), "would delete: %s (%s)\n", p.Name, p.UUID)
				}
				return nil
			}

			ok, err := shared.Confirm(fmt.Sprintf("permanently delete all projects older than %d day(s) matching these filters?", retainDays), noInput)
			if err != nil {
				return shared.NewExitError(err)
			}
			if !ok {
				fmt.Fprintln(cmd.OutOrStdout(), "aborted")
				return nil
			}

			deleted, err := a.Project.FlushProjects(cmd.Context(), retainDays, filters)
			if err != nil {
				return shared.NewExitError(err)
			}
			for _, name := range deleted {
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", name)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&retainDays, "retain-days", 0, "delete projects created more than this many days ago")
	cmd.Flags().StringVar(&label, "label", "", "only consider projects with this label")
	cmd.Flags().StringVar(&pipeline, "pipeline", "", "only consider projects that ran this pipeline")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "list matching projects without deleting them")
	cmd.Flags().BoolVar(&noInput, "no-input", false, "skip the confirmation prompt")

	return cmd
}
