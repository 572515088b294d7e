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
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	scanpipeerrors "github.com/aboutcode-org/scanpipe/pkg/errors"
)

// fetchDockerImage pulls a docker://reference image to a tar archive in
// destDir via the configured ImagePuller, or (when none is configured)
// shells out to skopeo directly, which is the reference implementation
// both in this codebase's test environment and in production containers
// that bundle it.
func (f *Fetcher) fetchDockerImage(ctx context.Context, uri, destDir string) (Result, error) {
	reference := strings.TrimPrefix(uri, "docker://")
	reference, tag := splitTag(reference)

	var user, password string
	if host := registryHost(reference); host != "" {
		user, password, _ = f.resolver.skopeoCredentialFor(host)
	}

	puller := f.puller
	if puller == nil {
		puller = skopeoPuller{}
	}

	tarPath, err := puller.Pull(ctx, reference, destDir, user, password)
	if err != nil {
		return Result{}, &scanpipeerrors.ExternalError{
			Kind:    scanpipeerrors.KindInputFetchFailed,
			Message: fmt.Sprintf("pulling image %s", reference),
			Cause:   err,
		}
	}

	return Result{Filename: filepath.Base(tarPath), Tag: tag}, nil
}

// registryHost extracts the registry hostname from an image reference,
// e.g. "registry.example.com/ns/image:tag" -> "registry.example.com".
func registryHost(reference string) string {
	parts := strings.SplitN(reference, "/", 2)
	if len(parts) == 2 && strings.ContainsAny(parts[0], ".:") {
		return parts[0]
	}
	return ""
}

// skopeoPuller invokes the external skopeo binary to copy an image into
// a local docker-archive tar. It passes no platform options, so for a
// multi-arch image skopeo picks the platform by its own defaults.
type skopeoPuller struct{}

func (skopeoPuller) Pull(ctx context.Context, reference, destDir, user, password string) (string, error) {
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", err
	}
	tarPath := filepath.Join(destDir, sanitizeImageName(reference)+".tar")

	args := []string{"copy", "docker://" + reference, "docker-archive:" + tarPath}
	if user != "" {
		args = append(args, "--src-creds", user+":"+password)
	}

	cmd := exec.CommandContext(ctx, "skopeo", args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("skopeo copy %s: %s: %w", reference, strings.TrimSpace(string(output)), err)
	}
	return tarPath, nil
}

func sanitizeImageName(reference string) string {
	replacer := strings.NewReplacer("/", "_", ":", "_", "@", "_")
	return replacer.Replace(reference)
}
