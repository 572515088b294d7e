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

package pipeline

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Registry holds every pipeline known to the process: built-ins
// registered at init() time by internal/pipeline/builtin, plus whatever
// manifest files are discovered under the configured pipelines_dirs.
// Safe for concurrent use.
type Registry struct {
	mu          sync.RWMutex
	descriptors map[string]Descriptor
	logger      *slog.Logger
}

// NewRegistry returns an empty Registry. logger may be nil.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{descriptors: make(map[string]Descriptor), logger: logger}
}

// global is the process-wide registry that built-in pipelines register
// themselves into via Register at init() time.
var global = NewRegistry(nil)

// Global returns the process-wide registry.
func Global() *Registry { return global }

// Register adds or replaces a pipeline by name. A second registration
// of the same name overrides the first and is logged as a warning,
// matching the "last loaded wins" rule for built-ins vs. directory
// discovery vs. repeated discovery on reload.
func (r *Registry) Register(d Descriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.descriptors[d.Name]; exists {
		r.logger.Warn("pipeline name overridden", "pipeline", d.Name)
	}
	r.descriptors[d.Name] = d
}

// Get resolves a pipeline by name.
func (r *Registry) Get(name string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.descriptors[name]
	return d, ok
}

// List returns every registered pipeline, sorted by name.
func (r *Registry) List() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Descriptor, 0, len(r.descriptors))
	for _, d := range r.descriptors {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// manifest is the shape of a pipelines_dirs YAML pipeline file. It
// declares metadata only; the named steps must already be registered as
// step bodies by a StepLibrary (passed to DiscoverDirs), since a YAML
// manifest cannot carry Go function values.
type manifest struct {
	Name    string          `yaml:"name"`
	Summary string          `yaml:"summary"`
	IsAddon bool            `yaml:"is_addon"`
	Steps   []manifestStep  `yaml:"steps"`
}

type manifestStep struct {
	Name  string `yaml:"name"`
	Group string `yaml:"group"`
}

// StepBody resolves a named step into a runnable function. A
// StepLibrary lets pipelines_dirs manifests reference steps implemented
// in Go without the manifest itself carrying code.
type StepBody func(*Context) error

// StepLibrary maps a step name to its implementation, used when
// resolving manifest-declared pipelines discovered under pipelines_dirs.
type StepLibrary map[string]StepBody

// DiscoverDirs scans each directory in dirs (non-recursive) for
// "*.yaml"/"*.yml" pipeline manifests and registers each one. Manifest
// steps are resolved through lib; a step name missing from lib is
// skipped with a warning, since a YAML pipeline cannot declare its own
// step bodies.
func (r *Registry) DiscoverDirs(dirs []string, lib StepLibrary) error {
	for _, dir := range dirs {
		if err := r.discoverDir(dir, lib); err != nil {
			return err
		}
	}
	return nil
}

func (r *Registry) discoverDir(dir string, lib StepLibrary) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading pipelines_dir %q: %w", dir, err)
	}

	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := filepath.Ext(e.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		path := filepath.Join(dir, e.Name())
		if err := r.registerManifestFile(path, lib); err != nil {
			r.logger.Warn("skipping malformed pipeline manifest", "path", path, "error", err)
		}
	}
	return nil
}

func (r *Registry) registerManifestFile(path string, lib StepLibrary) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var m manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return err
	}
	if m.Name == "" {
		return fmt.Errorf("pipeline manifest %q has no name", path)
	}

	steps := make([]Step, 0, len(m.Steps))
	for _, ms := range m.Steps {
		body, ok := lib[ms.Name]
		if !ok {
			r.logger.Warn("unknown step in pipeline manifest; skipped", "pipeline", m.Name, "step", ms.Name)
			continue
		}
		steps = append(steps, Step{Name: ms.Name, Group: ms.Group, Run: body})
	}

	r.Register(Descriptor{Name: m.Name, Summary: m.Summary, Steps: steps, IsAddon: m.IsAddon})
	return nil
}

// Watch starts an fsnotify watcher on dirs and re-runs DiscoverDirs
// whenever a manifest file is created, written or removed, logging the
// resulting override warnings exactly as an initial discovery would.
// It runs until stop is closed and returns the watcher so
// the caller can close it explicitly too.
func (r *Registry) Watch(stop <-chan struct{}, dirs []string, lib StepLibrary) (*fsnotify.Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("starting pipelines_dirs watcher: %w", err)
	}
	for _, dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			r.logger.Warn("cannot watch pipelines_dir", "dir", dir, "error", err)
		}
	}

	go func() {
		for {
			select {
			case <-stop:
				_ = watcher.Close()
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
					continue
				}
				if err := r.DiscoverDirs(dirs, lib); err != nil {
					r.logger.Warn("pipelines_dirs reload failed", "error", err)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				r.logger.Warn("pipelines_dirs watcher error", "error", err)
			}
		}
	}()

	return watcher, nil
}
