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

// Package workspace manages the on-disk filesystem layout each project
// owns: an input directory for user-provided files, a codebase directory
// for files step bodies treat as scannable resources, an output
// directory for generated reports, and a scratch tmp directory cleared
// at the start of every run.
//
// All paths returned by this package are root-anchored beneath the
// configured workspace location; callers never see an absolute path
// that escapes a project's own subtree.
package workspace

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	scanpipeerrors "github.com/aboutcode-org/scanpipe/pkg/errors"
)

const (
	dirInput    = "input"
	dirCodebase = "codebase"
	dirOutput   = "output"
	dirTmp      = "tmp"
)

// Manager creates and manipulates project workspace directories rooted
// at a single location on disk.
type Manager struct {
	root string
}

// New returns a Manager rooted at location/projects.
func New(location string) *Manager {
	return &Manager{root: filepath.Join(location, "projects")}
}

// dirName is the on-disk directory name for a project: <slug>-<short-uuid>.
func dirName(slug, uuid string) string {
	short := uuid
	if len(short) > 8 {
		short = short[:8]
	}
	return fmt.Sprintf("%s-%s", slug, short)
}

// ProjectRoot returns the root directory for a project, without creating it.
func (m *Manager) ProjectRoot(slug, uuid string) string {
	return filepath.Join(m.root, dirName(slug, uuid))
}

// Create makes the project's directory tree (input/, codebase/, output/,
// tmp/). Creating an existing workspace is a no-op.
func (m *Manager) Create(slug, uuid string) error {
	root := m.ProjectRoot(slug, uuid)
	for _, dir := range []string{dirInput, dirCodebase, dirOutput, dirTmp} {
		if err := os.MkdirAll(filepath.Join(root, dir), 0o755); err != nil {
			return &scanpipeerrors.ResourceError{
				Kind:    scanpipeerrors.KindWorkspaceIOError,
				Message: fmt.Sprintf("creating %s/%s", root, dir),
				Cause:   err,
			}
		}
	}
	return nil
}

// Remove deletes the entire project workspace tree.
func (m *Manager) Remove(slug, uuid string) error {
	if err := os.RemoveAll(m.ProjectRoot(slug, uuid)); err != nil {
		return &scanpipeerrors.ResourceError{
			Kind:    scanpipeerrors.KindWorkspaceIOError,
			Message: fmt.Sprintf("removing workspace for %s", dirName(slug, uuid)),
			Cause:   err,
		}
	}
	return nil
}

// PathOf returns the absolute path of subdir (input, codebase, output or
// tmp) within a project's workspace.
func (m *Manager) PathOf(slug, uuid, subdir string) string {
	return filepath.Join(m.ProjectRoot(slug, uuid), subdir)
}

// sanitizeName rejects a filename containing a path separator or a ".."
// segment; it never accepts anything that could escape the directory it
// is joined into.
func sanitizeName(name string) error {
	if name == "" {
		return &scanpipeerrors.ValidationError{
			Kind:    scanpipeerrors.KindUnsafePath,
			Field:   "name",
			Message: "name must not be empty",
		}
	}
	if strings.ContainsRune(name, '/') || strings.ContainsRune(name, '\\') {
		return &scanpipeerrors.ValidationError{
			Kind:    scanpipeerrors.KindUnsafePath,
			Field:   "name",
			Message: fmt.Sprintf("name %q must not contain a path separator", name),
		}
	}
	for _, segment := range strings.Split(name, string(filepath.Separator)) {
		if segment == ".." {
			return &scanpipeerrors.ValidationError{
				Kind:    scanpipeerrors.KindUnsafePath,
				Field:   "name",
				Message: fmt.Sprintf("name %q must not contain a %q segment", name, ".."),
			}
		}
	}
	return nil
}

// CopyFileToInput copies src into the project's input/ directory under
// dstName, returning the destination path. A failed or interrupted copy
// never leaves a partial file behind.
func (m *Manager) CopyFileToInput(slug, uuid, src, dstName string) (string, error) {
	if err := sanitizeName(dstName); err != nil {
		return "", err
	}
	dst := filepath.Join(m.PathOf(slug, uuid, dirInput), dstName)
	if err := copyFile(src, dst); err != nil {
		return "", &scanpipeerrors.ResourceError{
			Kind:    scanpipeerrors.KindWorkspaceIOError,
			Message: fmt.Sprintf("copying %s to input", dstName),
			Cause:   err,
		}
	}
	return dst, nil
}

// CopyTreeToCodebase recursively copies the contents of src into the
// project's codebase/ directory.
func (m *Manager) CopyTreeToCodebase(slug, uuid, src string) error {
	dstRoot := m.PathOf(slug, uuid, dirCodebase)
	err := filepath.Walk(src, func(path string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		dst := filepath.Join(dstRoot, rel)
		if info.IsDir() {
			return os.MkdirAll(dst, 0o755)
		}
		return copyFile(path, dst)
	})
	if err != nil {
		return &scanpipeerrors.ResourceError{
			Kind:    scanpipeerrors.KindWorkspaceIOError,
			Message: fmt.Sprintf("copying codebase tree from %s", src),
			Cause:   err,
		}
	}
	return nil
}

// RemoveSubdir removes and recreates subdir (input, codebase, output or
// tmp) within a project's workspace. An already-absent subdirectory is
// simply created.
func (m *Manager) RemoveSubdir(slug, uuid, subdir string) error {
	path := m.PathOf(slug, uuid, subdir)
	if err := os.RemoveAll(path); err != nil {
		return &scanpipeerrors.ResourceError{
			Kind:    scanpipeerrors.KindWorkspaceIOError,
			Message: fmt.Sprintf("removing %s", path),
			Cause:   err,
		}
	}
	return os.MkdirAll(path, 0o755)
}

// ClearTmp empties the tmp/ scratch directory; the pipeline engine calls
// it at the start of every Run.
func (m *Manager) ClearTmp(slug, uuid string) error {
	return m.RemoveSubdir(slug, uuid, dirTmp)
}

// OutputFilePath returns a timestamp-suffixed path in the project's
// output/ directory: <basename>-<YYYY-MM-DD-HH-MM-SS>.<ext>. The stamp
// has one-second resolution, so two calls with the same basename and ext
// within the same second return the same path.
func (m *Manager) OutputFilePath(slug, uuid, basename, ext string) string {
	stamp := time.Now().UTC().Format("2006-01-02-15-04-05")
	filename := fmt.Sprintf("%s-%s.%s", basename, stamp, strings.TrimPrefix(ext, "."))
	return filepath.Join(m.PathOf(slug, uuid, dirOutput), filename)
}

// copyFile copies src to dst, removing any partial file it created if
// the copy fails or is interrupted.
func copyFile(src, dst string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := out.Close(); err == nil {
			err = closeErr
		}
		if err != nil {
			os.Remove(dst)
		}
	}()

	if _, err = io.Copy(out, in); err != nil {
		return err
	}
	return nil
}
