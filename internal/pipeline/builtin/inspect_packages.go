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
	"encoding/json"
	"fmt"

	"github.com/aboutcode-org/scanpipe/internal/pipeline"
	"github.com/aboutcode-org/scanpipe/internal/store"
)

// inspectPackages evaluates each discovered package's declared license
// expression against the project's compliance policy, recording a
// project_message for any package whose alert is at or above "warning".
func inspectPackages() pipeline.Descriptor {
	return pipeline.Descriptor{
		Name:    "inspect_packages",
		Summary: "Evaluate discovered packages against the configured license policy.",
		Steps: []pipeline.Step{
			{Name: "evaluate_license_policy", Run: evaluateLicensePolicy},
		},
	}
}

func evaluateLicensePolicy(ctx *pipeline.Context) error {
	packages, err := ctx.Store.ListScanEntities(ctx.Go, store.ScanEntityFilter{
		Project: ctx.Project.UUID,
		Kind:    store.KindDiscoveredPackage,
	})
	if err != nil {
		return err
	}
	if ctx.Policy == nil {
		ctx.Logf("no compliance policy configured; skipping license evaluation")
		return nil
	}

	var flagged []*store.ScanEntity
	for _, pkg := range packages {
		var p packagePayload
		if err := json.Unmarshal(pkg.Payload, &p); err != nil {
			continue
		}
		alert := ctx.Policy.ComplianceForExpression(p.LicenseExpression)
		if alert == "" {
			continue
		}
		msg := messagePayload{
			Severity: string(alert),
			Content:  fmt.Sprintf("package %s: license compliance alert %q for expression %q", p.PURL, alert, p.LicenseExpression),
		}
		e, err := newEntity(ctx.Project.UUID, store.KindProjectMessage, "inspect_packages."+p.PURL, msg)
		if err != nil {
			return err
		}
		flagged = append(flagged, e)
	}

	ctx.Logf("flagged %d of %d packages on license policy", len(flagged), len(packages))
	if len(flagged) == 0 {
		return nil
	}
	return ctx.Store.CreateScanEntities(ctx.Go, flagged)
}
