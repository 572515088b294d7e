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

// Command scanpipe is the synchronous CLI entry point: project and
// pipeline management commands that run inline and exit. Async
// execution is handled by the scanpipe-worker daemon instead.
package main

import (
	"github.com/aboutcode-org/scanpipe/internal/commands"
	"github.com/aboutcode-org/scanpipe/internal/commands/shared"
)

// Version information, injected via ldflags at build time.
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	shared.SetVersion(version, commit, buildDate)

	root := commands.NewRootCommand()
	if err := root.Execute(); err != nil {
		shared.HandleExitError(err)
	}
}
