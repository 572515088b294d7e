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

// Package commands wires every scanpipe CLI command into a root cobra
// command. Commands are flat, one per analysis or lifecycle operation
// (create-project, add-input, flush-projects, ...), mirroring a
// management-command style interface rather than nested verb groups.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/aboutcode-org/scanpipe/internal/commands/pipelinecmd"
	"github.com/aboutcode-org/scanpipe/internal/commands/projectcmd"
	"github.com/aboutcode-org/scanpipe/internal/commands/runcmd"
	"github.com/aboutcode-org/scanpipe/internal/commands/shared"
	"github.com/aboutcode-org/scanpipe/internal/commands/versioncmd"
)

// NewRootCommand builds the "scanpipe" root command with every
// subcommand attached.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "scanpipe",
		Short: "scanpipe orchestrates software composition analysis pipelines",
		Long: `scanpipe creates projects, attaches code or package manifests to
them, and runs one or more analysis pipelines against the result,
recording discovered packages, resources and dependencies.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	verbosity, jsonOut, configPath := shared.RegisterFlagPointers()
	root.PersistentFlags().CountVarP(verbosity, "verbosity", "v", "increase output verbosity (repeatable, 0..3)")
	root.PersistentFlags().BoolVar(jsonOut, "json", false, "output in JSON format")
	root.PersistentFlags().StringVar(configPath, "config", "", "path to config file")

	root.AddCommand(
		projectcmd.NewCreateProjectCommand(),
		projectcmd.NewBatchCreateCommand(),
		projectcmd.NewAddInputCommand(),
		projectcmd.NewAddPipelineCommand(),
		projectcmd.NewAddWebhookCommand(),
		projectcmd.NewListProjectCommand(),
		projectcmd.NewStatusCommand(),
		projectcmd.NewArchiveProjectCommand(),
		projectcmd.NewResetProjectCommand(),
		projectcmd.NewDeleteProjectCommand(),
		projectcmd.NewFlushProjectsCommand(),
		pipelinecmd.NewExecuteCommand(),
		pipelinecmd.NewShowPipelineCommand(),
		pipelinecmd.NewListPipelineCommand(),
		runcmd.NewCommand(),
		versioncmd.NewCommand(),
	)

	return root
}
