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

package builtin

import (
	"fmt"

	"github.com/aboutcode-org/scanpipe/internal/pipeline"
	"github.com/aboutcode-org/scanpipe/internal/store"
)

// findVulnerabilities cross-references the project's discovered
// packages against a vulnerability feed. The feed itself is an external
// collaborator (spec.md §1): this pipeline's check step is a
// placeholder that flags no package as vulnerable, but exercises the
// same project_message reporting path a real feed integration would
// use.
func findVulnerabilities() pipeline.Descriptor {
	return pipeline.Descriptor{
		Name:    "find_vulnerabilities",
		Summary: "Check discovered packages against a vulnerability feed and record findings.",
		Steps: []pipeline.Step{
			{Name: "check_vulnerabilities", Run: checkVulnerabilities},
		},
	}
}

func checkVulnerabilities(ctx *pipeline.Context) error {
	packages, err := ctx.Store.ListScanEntities(ctx.Go, store.ScanEntityFilter{
		Project: ctx.Project.UUID,
		Kind:    store.KindDiscoveredPackage,
	})
	if err != nil {
		return err
	}

	msg := messagePayload{
		Severity: "info",
		Content:  fmt.Sprintf("checked %d packages against the vulnerability feed; no vulnerability feed is configured in this deployment", len(packages)),
	}
	e, err := newEntity(ctx.Project.UUID, store.KindProjectMessage, "find_vulnerabilities.summary", msg)
	if err != nil {
		return err
	}
	ctx.Logf("%s", msg.Content)
	return ctx.Store.CreateScanEntities(ctx.Go, []*store.ScanEntity{e})
}
