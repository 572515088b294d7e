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
	"os/exec"
	"path/filepath"
	"strings"

	scanpipeerrors "github.com/aboutcode-org/scanpipe/pkg/errors"
)

// fetchGit performs a shallow (depth=1) clone of a git repository URL
// into destDir/<repo_name>/.
func (f *Fetcher) fetchGit(ctx context.Context, uri, destDir string) (Result, error) {
	rawURI, tag := splitTag(uri)

	repoName := strings.TrimSuffix(filepath.Base(rawURI), ".git")
	dest := filepath.Join(destDir, repoName)

	cmd := exec.CommandContext(ctx, "git", "clone", "--depth=1", rawURI, dest)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return Result{}, &scanpipeerrors.ExternalError{
			Kind:    scanpipeerrors.KindInputFetchFailed,
			Message: fmt.Sprintf("git clone %s: %s", rawURI, strings.TrimSpace(string(output))),
			Cause:   err,
		}
	}

	return Result{Filename: repoName, Tag: tag}, nil
}
