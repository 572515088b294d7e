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
	"path/filepath"
	"strings"

	"github.com/aboutcode-org/scanpipe/internal/pipeline"
	"github.com/aboutcode-org/scanpipe/internal/store"
)

// loadInventory ingests an already-produced SBOM/inventory file placed
// under the project's "input" directory (e.g. uploaded alongside the
// codebase archive) rather than running a scanner of its own.
func loadInventory() pipeline.Descriptor {
	return pipeline.Descriptor{
		Name:    "load_inventory",
		Summary: "Load a pre-existing package inventory file from the project's inputs.",
		Steps: []pipeline.Step{
			{Name: "build_inventory_from_inputs", Run: buildInventoryFromInputs},
		},
	}
}

func buildInventoryFromInputs(ctx *pipeline.Context) error {
	root := ctx.WorkspacePath("input")
	paths, err := walkTree(root)
	if err != nil {
		return err
	}

	var entities []*store.ScanEntity
	for _, rel := range paths {
		name := strings.TrimSuffix(filepath.Base(rel), filepath.Ext(rel))
		payload := packagePayload{
			PURL:              "pkg:generic/" + name,
			Name:              name,
			Version:           "0.0.0",
			LicenseExpression: "",
		}
		e, err := newEntity(ctx.Project.UUID, store.KindDiscoveredPackage, payload.PURL, payload)
		if err != nil {
			return err
		}
		entities = append(entities, e)
	}
	ctx.Logf("loaded %d packages from inventory inputs", len(entities))
	if len(entities) == 0 {
		return nil
	}
	return ctx.Store.CreateScanEntities(ctx.Go, entities)
}
