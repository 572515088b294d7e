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

// analyzeDockerImage treats whatever internal/fetch pulled into the
// project's "codebase" directory for a docker:// input (an image tar)
// as an already-extracted layer tree, and records one CodebaseResource
// per file plus one DiscoveredPackage per top-level directory, standing
// in for a real layer/package extractor.
func analyzeDockerImage() pipeline.Descriptor {
	return pipeline.Descriptor{
		Name:    "analyze_docker_image",
		Summary: "Collect resources and packages from an extracted Docker image.",
		Steps: []pipeline.Step{
			{Name: "collect_resources_from_layers", Run: collectResourcesFromLayers},
			{Name: "collect_packages_from_layers", Run: collectPackagesFromLayers},
		},
	}
}

func collectResourcesFromLayers(ctx *pipeline.Context) error {
	return collectCodebaseResources(ctx)
}

func collectPackagesFromLayers(ctx *pipeline.Context) error {
	root := ctx.WorkspacePath("codebase")
	paths, err := walkTree(root)
	if err != nil {
		return err
	}

	seen := make(map[string]bool)
	var entities []*store.ScanEntity
	for _, rel := range paths {
		top := strings.SplitN(filepath.ToSlash(rel), "/", 2)[0]
		if top == "" || seen[top] {
			continue
		}
		seen[top] = true

		payload := packagePayload{
			PURL: "pkg:docker-layer/" + top,
			Name: top,
		}
		e, err := newEntity(ctx.Project.UUID, store.KindDiscoveredPackage, payload.PURL, payload)
		if err != nil {
			return err
		}
		entities = append(entities, e)
	}
	ctx.Logf("collected %d layer-level packages", len(entities))
	if len(entities) == 0 {
		return nil
	}
	return ctx.Store.CreateScanEntities(ctx.Go, entities)
}
