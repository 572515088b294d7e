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

// Package shared holds the state every scanpipe command-line command
// builds on: the global flag values the root command registers, an
// Application opened lazily from them, and exit-code handling that maps
// the core's error taxonomy onto the codes §6 of the orchestration
// design promises.
package shared

// Global flag values, set by the root command's PersistentFlags.
var (
	verboseFlag int
	jsonFlag    bool
	configFlag  string

	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

// RegisterFlagPointers returns pointers bound to the root command's
// persistent flags.
func RegisterFlagPointers() (*int, *bool, *string) {
	return &verboseFlag, &jsonFlag, &configFlag
}

// SetVersion sets the version information (called from main via ldflags).
func SetVersion(v, c, b string) {
	version = v
	commit = c
	buildDate = b
}

// GetVersion returns the version information set by SetVersion.
func GetVersion() (string, string, string) {
	return version, commit, buildDate
}

// Verbosity returns the --verbosity level (0..3), as named in the CLI
// surface's `status`/`check-compliance` flags.
func Verbosity() int {
	return verboseFlag
}

// JSON reports whether --json output was requested.
func JSON() bool {
	return jsonFlag
}

// ConfigPath returns the --config override, or "" to use the default
// search path.
func ConfigPath() string {
	return configFlag
}
