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

// Package pipeline defines the pipeline registry and execution engine: a
// pipeline is a named, ordered list of steps run against a project's
// workspace to produce scan entities.
package pipeline

// Step is one unit of work within a pipeline. Group is empty for an
// always-on step, or names a selectable group that only runs when listed
// in a run's selected groups.
type Step struct {
	Name  string
	Group string
	Run   func(*Context) error
}

// Descriptor is a registered pipeline: its identity plus its ordered
// steps. IsAddon marks a pipeline that is never run on its own but only
// appended to another pipeline's step list (the project manager decides
// how addons compose; the engine itself treats every Descriptor the
// same way).
type Descriptor struct {
	Name    string
	Summary string
	Steps   []Step
	IsAddon bool
}

// Groups returns the distinct, non-empty group labels declared across
// the descriptor's steps, in first-seen order.
func (d Descriptor) Groups() []string {
	seen := make(map[string]bool)
	var groups []string
	for _, s := range d.Steps {
		if s.Group == "" || seen[s.Group] {
			continue
		}
		seen[s.Group] = true
		groups = append(groups, s.Group)
	}
	return groups
}

// effectiveSteps returns the steps that should run given a set of
// selected groups: every always-on step, plus every step whose group is
// present in selected. An empty selected set runs only always-on steps.
func (d Descriptor) effectiveSteps(selected []string) []Step {
	if len(selected) == 0 {
		var out []Step
		for _, s := range d.Steps {
			if s.Group == "" {
				out = append(out, s)
			}
		}
		return out
	}

	wanted := make(map[string]bool, len(selected))
	for _, g := range selected {
		wanted[g] = true
	}

	var out []Step
	for _, s := range d.Steps {
		if s.Group == "" || wanted[s.Group] {
			out = append(out, s)
		}
	}
	return out
}

// unknownGroups returns the members of selected that name no group on
// any step of the descriptor.
func (d Descriptor) unknownGroups(selected []string) []string {
	known := make(map[string]bool)
	for _, g := range d.Groups() {
		known[g] = true
	}

	var unknown []string
	for _, g := range selected {
		if !known[g] {
			unknown = append(unknown, g)
		}
	}
	return unknown
}
