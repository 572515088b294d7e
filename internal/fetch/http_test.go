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

package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aboutcode-org/scanpipe/internal/config"
	scanpipeerrors "github.com/aboutcode-org/scanpipe/pkg/errors"
)

func newTestFetcher(t *testing.T) *Fetcher {
	t.Helper()
	f, err := New(config.FetchAuthConfig{}, nil)
	require.NoError(t, err)
	return f
}

func TestFetchHTTPWritesFileAtomically(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Disposition", `attachment; filename="package-1.0.tar.gz"`)
		_, _ = w.Write([]byte("file contents"))
	}))
	defer server.Close()

	f := newTestFetcher(t)
	destDir := t.TempDir()

	results, err := f.Fetch(context.Background(), server.URL+"/download#release-tag", destDir)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "package-1.0.tar.gz", results[0].Filename)
	assert.Equal(t, "release-tag", results[0].Tag)

	content, err := os.ReadFile(filepath.Join(destDir, "package-1.0.tar.gz"))
	require.NoError(t, err)
	assert.Equal(t, "file contents", string(content))

	entries, err := os.ReadDir(destDir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no leftover temp file")
}

func TestFetchHTTPReturnsAuthRequiredOn401(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	f := newTestFetcher(t)
	_, err := f.Fetch(context.Background(), server.URL+"/private.tar.gz", t.TempDir())
	require.Error(t, err)

	var extErr *scanpipeerrors.ExternalError
	require.ErrorAs(t, err, &extErr)
	assert.Equal(t, scanpipeerrors.SubCauseAuthRequired, extErr.SubCause)
}

func TestFetchHTTPReturnsNotFoundOn404(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	f := newTestFetcher(t)
	_, err := f.Fetch(context.Background(), server.URL+"/missing.tar.gz", t.TempDir())
	require.Error(t, err)

	var extErr *scanpipeerrors.ExternalError
	require.ErrorAs(t, err, &extErr)
	assert.Equal(t, scanpipeerrors.SubCauseNotFound, extErr.SubCause)
}

func TestFetchRejectsUnsupportedScheme(t *testing.T) {
	f := newTestFetcher(t)
	_, err := f.Fetch(context.Background(), "ftp://example.com/file", t.TempDir())
	assert.Error(t, err)
}

func TestRegistryHostExtraction(t *testing.T) {
	assert.Equal(t, "registry.example.com", registryHost("registry.example.com/ns/image:tag"))
	assert.Equal(t, "", registryHost("library/ubuntu:22.04"))
}
