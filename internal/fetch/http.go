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
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path"
	"path/filepath"

	scanpipeerrors "github.com/aboutcode-org/scanpipe/pkg/errors"
)

// fetchHTTP downloads a plain HTTP(S) URL, following redirects, and
// writes it atomically (temp file + rename) into destDir.
func (f *Fetcher) fetchHTTP(ctx context.Context, uri, destDir string) (Result, error) {
	rawURI, tag := splitTag(uri)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURI, nil)
	if err != nil {
		return Result{}, &scanpipeerrors.ValidationError{
			Kind:    scanpipeerrors.KindBadConfig,
			Field:   "input_url",
			Message: err.Error(),
		}
	}
	f.resolver.apply(req)

	if err := f.limiterFor(req.URL.Hostname()).Wait(ctx); err != nil {
		return Result{}, &scanpipeerrors.ExternalError{
			Kind:     scanpipeerrors.KindInputFetchFailed,
			SubCause: scanpipeerrors.SubCauseTimeout,
			Message:  fmt.Sprintf("rate limit wait for %s", req.URL.Hostname()),
			Cause:    err,
		}
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return Result{}, &scanpipeerrors.ExternalError{
			Kind:    scanpipeerrors.KindInputFetchFailed,
			Message: fmt.Sprintf("fetching %s", rawURI),
			Cause:   err,
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return Result{}, &scanpipeerrors.ExternalError{
			Kind:     scanpipeerrors.KindInputFetchFailed,
			SubCause: scanpipeerrors.SubCauseAuthRequired,
			Message:  fmt.Sprintf("%s returned %d", rawURI, resp.StatusCode),
		}
	}
	if resp.StatusCode == http.StatusNotFound {
		return Result{}, &scanpipeerrors.ExternalError{
			Kind:     scanpipeerrors.KindInputFetchFailed,
			SubCause: scanpipeerrors.SubCauseNotFound,
			Message:  fmt.Sprintf("%s returned 404", rawURI),
		}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Result{}, &scanpipeerrors.ExternalError{
			Kind:    scanpipeerrors.KindInputFetchFailed,
			Message: fmt.Sprintf("%s returned status %d", rawURI, resp.StatusCode),
		}
	}

	filename := filenameFromResponse(resp, rawURI)
	dst := filepath.Join(destDir, filename)

	size, err := writeAtomic(dst, resp.Body)
	if err != nil {
		return Result{}, &scanpipeerrors.ResourceError{
			Kind:    scanpipeerrors.KindWorkspaceIOError,
			Message: fmt.Sprintf("writing %s", dst),
			Cause:   err,
		}
	}

	return Result{Filename: filename, Tag: tag, Size: size}, nil
}

// filenameFromResponse derives a filename from Content-Disposition, then
// falls back to the URL path's final segment, then "download".
func filenameFromResponse(resp *http.Response, rawURI string) string {
	if cd := resp.Header.Get("Content-Disposition"); cd != "" {
		if _, params, err := mime.ParseMediaType(cd); err == nil {
			if name := params["filename"]; name != "" {
				return filepath.Base(name)
			}
		}
	}
	if base := path.Base(resp.Request.URL.Path); base != "" && base != "/" && base != "." {
		return base
	}
	_ = rawURI
	return "download"
}

// writeAtomic writes r to a temp file in dst's directory, then renames
// it into place. A failed or interrupted write never leaves dst
// pointing at a partial file.
func writeAtomic(dst string, r io.Reader) (size int64, err error) {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return 0, err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".fetch-*")
	if err != nil {
		return 0, err
	}
	tmpPath := tmp.Name()
	defer func() {
		if err != nil {
			os.Remove(tmpPath)
		}
	}()

	size, err = io.Copy(tmp, r)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return 0, err
	}
	if err = os.Rename(tmpPath, dst); err != nil {
		return 0, err
	}
	return size, nil
}
