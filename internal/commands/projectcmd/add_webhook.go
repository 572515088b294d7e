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

// NewAddWebhookCommand builds the "add-webhook" command.
func NewAddWebhookCommand() *cobra.Command {
	var (
		projectName      string
		triggerOnEachRun bool
		includeSummary   bool
		includeResults   bool
		inactive         bool
	)

	cmd := &cobra.Command{
		Use:   "add-webhook --project NAME TARGET_URL",
		Short: "subscribe a URL to a project's run notifications",
		Args:  cobra.ExactArgs(1),
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

			sub, err := a.Project.AddWebhook(cmd.Context(), p.UUID, args[0], triggerOnEachRun, includeSummary, includeResults, !inactive)
			if err != nil {
				return shared.NewExitError(err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "added webhook %s on %s\n", sub.UUID, p.Name)
			return nil
		},
	}

	cmd.Flags().StringVar(&projectName, "project", "", "project name (required)")
	cmd.Flags().BoolVar(&triggerOnEachRun, "trigger-on-each-run", false, "deliver after every run, not just when all runs complete")
	cmd.Flags().BoolVar(&includeSummary, "include-summary", false, "include the project's scan entity summary in the payload")
	cmd.Flags().BoolVar(&includeResults, "include-results", false, "include full results in the payload")
	cmd.Flags().BoolVar(&inactive, "inactive", false, "create the subscription disabled")
	cmd.MarkFlagRequired("project")

	return cmd
}
