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

// Package fetch acquires project inputs from a URI: plain HTTP(S),
// container images (docker://), package URLs (pkg:...) and git
// repositories (https://...repo.git). Every fetcher writes into a
// caller-supplied input directory and returns the resulting filenames.
package fetch

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/aboutcode-org/scanpipe/internal/config"
	scanpipeerrors "github.com/aboutcode-org/scanpipe/pkg/errors"
	"github.com/aboutcode-org/scanpipe/pkg/httpclient"
)

// Result describes one file written into a project's input directory.
type Result struct {
	Filename string
	Tag      string
	Size     int64
}

// ImagePuller pulls a container image reference to a local tar archive.
// Implementations wrap an external tool (skopeo, ctr, ...); the core
// only depends on this narrow contract.
type ImagePuller interface {
	Pull(ctx context.Context, reference, destDir string, user, password string) (tarPath string, err error)
}

// Fetcher acquires inputs described by a URI into a project's input
// directory.
type Fetcher struct {
	resolver *resolver
	client   *http.Client
	puller   ImagePuller

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// New builds a Fetcher from the static per-host credential configuration.
// puller may be nil; docker:// references are then pulled by invoking
// the skopeo binary directly.
func New(cfg config.FetchAuthConfig, puller ImagePuller) (*Fetcher, error) {
	client, err := httpclient.New(httpclient.Config{
		Timeout:       2 * time.Minute,
		RetryAttempts: 3,
		RetryBackoff:  500 * time.Millisecond,
		MaxBackoff:    10 * time.Second,
		UserAgent:     "scanpipe-fetch/1.0",
	})
	if err != nil {
		return nil, fmt.Errorf("building fetch http client: %w", err)
	}

	return &Fetcher{
		resolver: newResolver(cfg),
		client:   client,
		puller:   puller,
		limiters: make(map[string]*rate.Limiter),
	}, nil
}

// limiterFor returns the per-host rate limiter, creating one on first
// use, so one project's downloads from a slow or rate-limiting host
// cannot starve fetches for other projects sharing the same host.
func (f *Fetcher) limiterFor(host string) *rate.Limiter {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.limiters[host]
	if !ok {
		l = rate.NewLimiter(rate.Limit(5), 10)
		f.limiters[host] = l
	}
	return l
}

// Fetch dispatches uri to the fetcher for its scheme and writes the
// result(s) into destDir.
func (f *Fetcher) Fetch(ctx context.Context, uri, destDir string) ([]Result, error) {
	switch {
	case strings.HasPrefix(uri, "pkg:"):
		return f.fetchPURL(ctx, uri, destDir)
	case strings.HasPrefix(uri, "docker://"):
		res, err := f.fetchDockerImage(ctx, uri, destDir)
		if err != nil {
			return nil, err
		}
		return []Result{res}, nil
	case strings.HasSuffix(strings.SplitN(uri, "#", 2)[0], ".git"):
		res, err := f.fetchGit(ctx, uri, destDir)
		if err != nil {
			return nil, err
		}
		return []Result{res}, nil
	case strings.HasPrefix(uri, "http://") || strings.HasPrefix(uri, "https://"):
		res, err := f.fetchHTTP(ctx, uri, destDir)
		if err != nil {
			return nil, err
		}
		return []Result{res}, nil
	default:
		return nil, &scanpipeerrors.ValidationError{
			Kind:    scanpipeerrors.KindBadConfig,
			Field:   "input_url",
			Message: fmt.Sprintf("unsupported URI scheme: %s", uri),
		}
	}
}

// splitTag extracts a trailing #tag fragment, returning the bare URI and
// the tag (empty if absent).
func splitTag(uri string) (string, string) {
	if idx := strings.LastIndex(uri, "#"); idx >= 0 {
		return uri[:idx], uri[idx+1:]
	}
	return uri, ""
}
