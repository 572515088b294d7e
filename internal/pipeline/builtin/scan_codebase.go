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
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/aboutcode-org/scanpipe/internal/pipeline"
	"github.com/aboutcode-org/scanpipe/internal/store"
)

var codeExtensions = map[string]bool{
	".go": true, ".py": true, ".js": true, ".ts": true, ".java": true,
	".c": true, ".cpp": true, ".h": true, ".rs": true, ".rb": true,
}

func scanCodebase() pipeline.Descriptor {
	return pipeline.Descriptor{
		Name:    "scan_codebase",
		Summary: "Walk the project's codebase directory and record one CodebaseResource per file.",
		Steps: []pipeline.Step{
			{Name: "collect_codebase_resources", Run: collectCodebaseResources},
			{Name: "tag_code_files", Group: "fingerprint", Run: tagCodeFiles},
		},
	}
}

func collectCodebaseResources(ctx *pipeline.Context) error {
	root := ctx.WorkspacePath("codebase")
	paths, err := walkTree(root)
	if err != nil {
		return err
	}
	patterns := ctx.IgnoredPatterns()

	var entities []*store.ScanEntity
	var skipped int
	for _, rel := range paths {
		if matchesAny(patterns, filepath.ToSlash(rel)) {
			skipped++
			continue
		}
		payload := resourcePayload{
			Path:       filepath.ToSlash(rel),
			Size:       fileSize(filepath.Join(root, rel)),
			ScannedAt:  time.Now(),
			IsCodeFile: codeExtensions[strings.ToLower(filepath.Ext(rel))],
		}
		e, err := newEntity(ctx.Project.UUID, store.KindCodebaseResource, payload.Path, payload)
		if err != nil {
			return err
		}
		entities = append(entities, e)
	}
	ctx.Logf("collected %d codebase resources, skipped %d matching ignored_patterns", len(entities), skipped)
	if len(entities) == 0 {
		return nil
	}
	return ctx.Store.CreateScanEntities(ctx.Go, entities)
}

// matchesAny reports whether rel matches any of the project's
// ignored_patterns glob expressions (doublestar syntax: "**" crosses
// directory boundaries, a bare pattern matches any depth).
func matchesAny(patterns []string, rel string) bool {
	for _, p := range patterns {
		if ok, err := doublestar.Match(p, rel); err == nil && ok {
			return true
		}
		if ok, err := doublestar.Match("**/"+p, rel); err == nil && ok {
			return true
		}
	}
	return false
}

func tagCodeFiles(ctx *pipeline.Context) error {
	resources, err := ctx.Store.ListScanEntities(ctx.Go, store.ScanEntityFilter{
		Project: ctx.Project.UUID,
		Kind:    store.KindCodebaseResource,
	})
	if err != nil {
		return err
	}
	ctx.Logf("fingerprinted %d codebase resources", len(resources))
	return nil
}
