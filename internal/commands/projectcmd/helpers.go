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

// Package projectcmd implements the project-lifecycle CLI commands:
// create-project, add-input, add-pipeline, add-webhook, list-project,
// status, archive-project, reset-project, delete-project,
// flush-projects and batch-create.
package projectcmd

import (
	"strings"

	"github.com/aboutcode-org/scanpipe/internal/project"
)

// parsePipelineFlag splits a "NAME[:grp1,grp2]" argument into a
// project.PipelineSelection.
func parsePipelineFlag(raw string) project.PipelineSelection {
	name, groups, found := strings.Cut(raw, ":")
	if !found {
		return project.PipelineSelection{Name: name}
	}
	var selected []string
	for _, g := range strings.Split(groups, ",") {
		if g = strings.TrimSpace(g); g != "" {
			selected = append(selected, g)
		}
	}
	return project.PipelineSelection{Name: name, SelectedGroups: selected}
}

// parsePipelineFlags applies parsePipelineFlag to every element.
func parsePipelineFlags(raw []string) []project.PipelineSelection {
	sels := make([]project.PipelineSelection, 0, len(raw))
	for _, r := range raw {
		sels = append(sels, parsePipelineFlag(r))
	}
	return sels
}

// parseInputURLFlag rewrites the CLI's "URL[#TAG]" syntax into the
// ":tag:"-delimited form project.Manager's fetch path expects.
func parseInputURLFlag(raw string) string {
	uri, tag, found := strings.Cut(raw, "#")
	if !found {
		return uri
	}
	return uri + ":tag:" + tag
}

// parseInputURLFlags applies parseInputURLFlag to every element.
func parseInputURLFlags(raw []string) []string {
	urls := make([]string, 0, len(raw))
	for _, r := range raw {
		urls = append(urls, parseInputURLFlag(r))
	}
	return urls
}

// parseInputFileFlag strips the CLI's "PATH[:TAG]" tag suffix, which
// project.Manager does not yet thread through to the created
// InputSource row (uploaded files currently carry no Tag).
func parseInputFileFlag(raw string) string {
	path, _, _ := strings.Cut(raw, ":")
	return path
}

// parseInputFileFlags applies parseInputFileFlag to every element.
func parseInputFileFlags(raw []string) []string {
	paths := make([]string, 0, len(raw))
	for _, r := range raw {
		paths = append(paths, parseInputFileFlag(r))
	}
	return paths
}
