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

// Package builtin registers the pipelines shipped with the process
// itself, as opposed to ones discovered from pipelines_dirs. Scanner
// and vulnerability-feed integration are out of scope (they're the
// opaque external dependency this server orchestrates); every step body
// here instead produces a deterministic, clearly-placeholder ScanEntity
// so the engine, scheduler and compliance evaluator have real rows to
// run against.
package builtin

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/aboutcode-org/scanpipe/internal/pipeline"
	"github.com/aboutcode-org/scanpipe/internal/store"
)

func init() {
	r := pipeline.Global()
	r.Register(scanCodebase())
	r.Register(loadInventory())
	r.Register(findVulnerabilities())
	r.Register(inspectPackages())
	r.Register(analyzeDockerImage())
}

func newEntity(project string, kind store.ScanEntityKind, key string, payload any) (*store.ScanEntity, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshaling %s payload for %q: %w", kind, key, err)
	}
	return &store.ScanEntity{
		UUID:    uuid.NewString(),
		Project: project,
		Kind:    kind,
		Key:     key,
		Payload: raw,
	}, nil
}

// walkTree lists every regular file under root, relative to root, or
// nil if root does not exist (e.g. a pipeline ran before any codebase
// input was extracted into it).
func walkTree(root string) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		paths = append(paths, rel)
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	return paths, nil
}

func fileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}

type resourcePayload struct {
	Path        string    `json:"path"`
	Size        int64     `json:"size"`
	ScannedAt   time.Time `json:"scanned_at"`
	IsCodeFile  bool      `json:"is_code_file"`
}

type packagePayload struct {
	PURL              string `json:"purl"`
	Name              string `json:"name"`
	Version           string `json:"version"`
	LicenseExpression string `json:"license_expression"`
}

type messagePayload struct {
	Severity string `json:"severity"`
	Content  string `json:"content"`
}
