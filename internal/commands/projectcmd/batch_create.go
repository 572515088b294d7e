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
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/aboutcode-org/scanpipe/internal/commands/shared"
	"github.com/aboutcode-org/scanpipe/internal/project"
)

// NewBatchCreateCommand builds the "batch-create" command.
func NewBatchCreateCommand() *cobra.Command {
	var (
		inputDirectory string
		inputList      string
		nameSuffix     string
		pipelines      []string
		execute        bool
		async          bool
	)

	cmd := &cobra.Command{
		Use:   "batch-create",
		Short: "create one project per entry in a directory or CSV file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if (inputDirectory == "") == (inputList == "") {
				return fmt.Errorf("exactly one of --input-directory or --input-list is required")
			}

			entries, err := batchEntries(inputDirectory, inputList)
			if err != nil {
				return err
			}

			a, err := shared.BuildApplication()
			if err != nil {
				return err
			}
			defer a.Close()

			nameTemplate := "{name}" + nameSuffix
			results := a.Project.BatchCreate(cmd.Context(), entries, nameTemplate, parsePipelineFlags(pipelines), execute, async)

			failed := 0
			for _, r := range results {
				if r.Err != nil {
					failed++
					fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", r.Entry.Name, r.Err)
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "created project %s (%s)\n", r.Project.Name, r.Project.UUID)
			}
			if failed > 0 {
				return shared.NewExitError(fmt.Errorf("%d of %d entries failed", failed, len(results)))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&inputDirectory, "input-directory", "", "directory whose immediate subdirectories become one project each")
	cmd.Flags().StringVar(&inputList, "input-list", "", "CSV file whose rows become one project each (first column is the name)")
	cmd.Flags().StringVar(&nameSuffix, "project-name-suffix", "", "suffix appended to every created project name")
	cmd.Flags().StringArrayVar(&pipelines, "pipeline", nil, "pipeline to queue on every created project, NAME[:group1,group2]")
	cmd.Flags().BoolVar(&execute, "execute", false, "run queued pipelines immediately")
	cmd.Flags().BoolVar(&async, "async", false, "enqueue onto the async worker queue instead of running inline")

	return cmd
}

func batchEntries(inputDirectory, inputList string) ([]project.BatchEntry, error) {
	if inputDirectory != "" {
		children, err := os.ReadDir(inputDirectory)
		if err != nil {
			return nil, fmt.Errorf("read --input-directory: %w", err)
		}
		var entries []project.BatchEntry
		for _, child := range children {
			if !child.IsDir() {
				continue
			}
			entries = append(entries, project.BatchEntry{
				Name:   child.Name(),
				Fields: map[string]string{"path": filepath.Join(inputDirectory, child.Name())},
			})
		}
		return entries, nil
	}

	f, err := os.Open(inputList)
	if err != nil {
		return nil, fmt.Errorf("read --input-list: %w", err)
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse --input-list: %w", err)
	}
	var entries []project.BatchEntry
	for _, row := range rows {
		if len(row) == 0 {
			continue
		}
		entries = append(entries, project.BatchEntry{Name: row[0]})
	}
	return entries, nil
}
