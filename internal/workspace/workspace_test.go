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

package workspace

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateIsIdempotent(t *testing.T) {
	m := New(t.TempDir())
	require.NoError(t, m.Create("acme", "11112222-3333"))
	require.NoError(t, m.Create("acme", "11112222-3333"))

	root := m.ProjectRoot("acme", "11112222-3333")
	for _, dir := range []string{"input", "codebase", "output", "tmp"} {
		info, err := os.Stat(filepath.Join(root, dir))
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}

func TestProjectRootIsRootAnchored(t *testing.T) {
	base := t.TempDir()
	m := New(base)
	root := m.ProjectRoot("acme", "abcdefgh-ijkl")
	assert.True(t, strings.HasPrefix(root, filepath.Join(base, "projects")))
	assert.Equal(t, "acme-abcdefgh", filepath.Base(root))
}

func TestCopyFileToInputRejectsUnsafeNames(t *testing.T) {
	m := New(t.TempDir())
	require.NoError(t, m.Create("acme", "uuid1"))

	src := filepath.Join(t.TempDir(), "a.txt")
	require.NoError(t, os.WriteFile(src, []byte("hi"), 0o600))

	for _, bad := range []string{"../escape.txt", "sub/dir.txt", "..", ""} {
		_, err := m.CopyFileToInput("acme", "uuid1", src, bad)
		assert.Error(t, err, bad)
	}
}

func TestCopyFileToInputSucceeds(t *testing.T) {
	m := New(t.TempDir())
	require.NoError(t, m.Create("acme", "uuid2"))

	src := filepath.Join(t.TempDir(), "a.txt")
	require.NoError(t, os.WriteFile(src, []byte("hello"), 0o600))

	dst, err := m.CopyFileToInput("acme", "uuid2", src, "a.txt")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(dst, filepath.Join("input", "a.txt")))

	content, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(content))
}

func TestCopyTreeToCodebase(t *testing.T) {
	m := New(t.TempDir())
	require.NoError(t, m.Create("acme", "uuid3"))

	srcDir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(srcDir, "nested"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "nested", "f.go"), []byte("package x"), 0o600))

	require.NoError(t, m.CopyTreeToCodebase("acme", "uuid3", srcDir))

	content, err := os.ReadFile(filepath.Join(m.PathOf("acme", "uuid3", dirCodebase), "nested", "f.go"))
	require.NoError(t, err)
	assert.Equal(t, "package x", string(content))
}

func TestRemoveSubdirRecreatesEmpty(t *testing.T) {
	m := New(t.TempDir())
	require.NoError(t, m.Create("acme", "uuid4"))

	tmpDir := m.PathOf("acme", "uuid4", dirTmp)
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "scratch.tmp"), []byte("x"), 0o600))

	require.NoError(t, m.ClearTmp("acme", "uuid4"))

	entries, err := os.ReadDir(tmpDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRemoveSubdirTwiceSucceeds(t *testing.T) {
	m := New(t.TempDir())
	require.NoError(t, m.Create("acme", "uuid5"))
	require.NoError(t, m.RemoveSubdir("acme", "uuid5", "output"))
	require.NoError(t, m.RemoveSubdir("acme", "uuid5", "output"))
}

func TestOutputFilePathIsTimestamped(t *testing.T) {
	m := New(t.TempDir())
	require.NoError(t, m.Create("acme", "uuid6"))

	p1 := m.OutputFilePath("acme", "uuid6", "results", "json")
	assert.True(t, strings.HasSuffix(p1, ".json"))
	assert.Contains(t, filepath.Base(p1), "results-")
}

func TestRemoveDeletesEntireTree(t *testing.T) {
	m := New(t.TempDir())
	require.NoError(t, m.Create("acme", "uuid7"))
	root := m.ProjectRoot("acme", "uuid7")

	require.NoError(t, m.Remove("acme", "uuid7"))
	_, err := os.Stat(root)
	assert.True(t, os.IsNotExist(err))
}
