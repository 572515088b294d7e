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
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	scanpipeerrors "github.com/aboutcode-org/scanpipe/pkg/errors"
)

// Purl is a parsed "pkg:type/namespace/name@version" package URL.
type Purl struct {
	Type      string
	Namespace string
	Name      string
	Version   string
}

// parsePURL parses the subset of the package-url spec scanpipe needs:
// pkg:type/[namespace/]name[@version][?qualifiers][#subpath].
func parsePURL(raw string) (Purl, error) {
	if !strings.HasPrefix(raw, "pkg:") {
		return Purl{}, fmt.Errorf("not a purl: %s", raw)
	}
	body := strings.TrimPrefix(raw, "pkg:")
	if idx := strings.IndexAny(body, "?#"); idx >= 0 {
		body = body[:idx]
	}

	slash := strings.IndexByte(body, '/')
	if slash < 0 {
		return Purl{}, fmt.Errorf("purl missing type separator: %s", raw)
	}
	purlType := body[:slash]
	rest := body[slash+1:]

	nameAndVersion := rest
	var namespace string
	if idx := strings.LastIndex(rest, "/"); idx >= 0 {
		namespace = rest[:idx]
		nameAndVersion = rest[idx+1:]
	}
	if namespace != "" {
		decoded, err := url.PathUnescape(namespace)
		if err != nil {
			return Purl{}, fmt.Errorf("decoding purl namespace: %w", err)
		}
		namespace = strings.TrimPrefix(decoded, "@")
	}

	name, version, _ := strings.Cut(nameAndVersion, "@")
	name, err := url.PathUnescape(name)
	if err != nil {
		return Purl{}, fmt.Errorf("decoding purl name: %w", err)
	}
	version, err = url.PathUnescape(version)
	if err != nil {
		return Purl{}, fmt.Errorf("decoding purl version: %w", err)
	}

	return Purl{Type: strings.ToLower(purlType), Namespace: namespace, Name: name, Version: version}, nil
}

// registryResolver maps a parsed Purl with a known version to a direct
// download URL.
type registryResolver struct {
	// latestVersionURL returns the metadata endpoint to query for the
	// latest published version when Purl.Version is empty.
	latestVersionURL func(p Purl) string
	// versionField is the dotted JSON path to the version string in the
	// latestVersionURL response.
	versionField string
	// downloadURL builds the final download URL given a resolved version.
	downloadURL func(p Purl, version string) string
}

var registryResolvers = map[string]registryResolver{
	"pypi": {
		latestVersionURL: func(p Purl) string { return fmt.Sprintf("https://pypi.org/pypi/%s/json", p.Name) },
		versionField:     "info.version",
		downloadURL: func(p Purl, v string) string {
			return fmt.Sprintf("https://pypi.io/packages/source/%c/%s/%s-%s.tar.gz", p.Name[0], p.Name, p.Name, v)
		},
	},
	"npm": {
		latestVersionURL: func(p Purl) string { return fmt.Sprintf("https://registry.npmjs.org/%s/latest", npmName(p)) },
		versionField:     "version",
		downloadURL: func(p Purl, v string) string {
			return fmt.Sprintf("https://registry.npmjs.org/%s/-/%s-%s.tgz", npmName(p), p.Name, v)
		},
	},
	"cargo": {
		latestVersionURL: func(p Purl) string { return fmt.Sprintf("https://crates.io/api/v1/crates/%s", p.Name) },
		versionField:     "crate.newest_version",
		downloadURL: func(p Purl, v string) string {
			return fmt.Sprintf("https://crates.io/api/v1/crates/%s/%s/download", p.Name, v)
		},
	},
	"gem": {
		latestVersionURL: func(p Purl) string { return fmt.Sprintf("https://rubygems.org/api/v1/gems/%s.json", p.Name) },
		versionField:     "version",
		downloadURL: func(p Purl, v string) string {
			return fmt.Sprintf("https://rubygems.org/downloads/%s-%s.gem", p.Name, v)
		},
	},
	"nuget": {
		latestVersionURL: func(p Purl) string {
			return fmt.Sprintf("https://api.nuget.org/v3-flatcontainer/%s/index.json", strings.ToLower(p.Name))
		},
		versionField: "versions.-1",
		downloadURL: func(p Purl, v string) string {
			name := strings.ToLower(p.Name)
			return fmt.Sprintf("https://api.nuget.org/v3-flatcontainer/%s/%s/%s.%s.nupkg", name, v, name, v)
		},
	},
	"maven": {
		latestVersionURL: func(p Purl) string {
			return fmt.Sprintf("https://search.maven.org/solrsearch/select?q=g:%%22%s%%22+AND+a:%%22%s%%22&core=gav&rows=1&wt=json", p.Namespace, p.Name)
		},
		versionField: "response.docs.0.v",
		downloadURL: func(p Purl, v string) string {
			groupPath := strings.ReplaceAll(p.Namespace, ".", "/")
			return fmt.Sprintf("https://repo1.maven.org/maven2/%s/%s/%s/%s-%s.jar", groupPath, p.Name, v, p.Name, v)
		},
	},
	"github": {
		latestVersionURL: func(p Purl) string {
			return fmt.Sprintf("https://api.github.com/repos/%s/%s/releases/latest", p.Namespace, p.Name)
		},
		versionField: "tag_name",
		downloadURL: func(p Purl, v string) string {
			return fmt.Sprintf("https://github.com/%s/%s/archive/refs/tags/%s.tar.gz", p.Namespace, p.Name, v)
		},
	},
	"gitlab": {
		latestVersionURL: func(p Purl) string {
			return fmt.Sprintf("https://gitlab.com/api/v4/projects/%s%%2F%s/releases", p.Namespace, p.Name)
		},
		versionField: "0.tag_name",
		downloadURL: func(p Purl, v string) string {
			return fmt.Sprintf("https://gitlab.com/%s/%s/-/archive/%s/%s-%s.tar.gz", p.Namespace, p.Name, v, p.Name, v)
		},
	},
	"bitbucket": {
		latestVersionURL: func(p Purl) string {
			return fmt.Sprintf("https://api.bitbucket.org/2.0/repositories/%s/%s/refs/tags?sort=-target.date&pagelen=1", p.Namespace, p.Name)
		},
		versionField: "values.0.name",
		downloadURL: func(p Purl, v string) string {
			return fmt.Sprintf("https://bitbucket.org/%s/%s/get/%s.tar.gz", p.Namespace, p.Name, v)
		},
	},
	"hackage": {
		latestVersionURL: func(p Purl) string {
			return fmt.Sprintf("https://hackage.haskell.org/package/%s/preferred", p.Name)
		},
		versionField: "normal-version.0",
		downloadURL: func(p Purl, v string) string {
			return fmt.Sprintf("https://hackage.haskell.org/package/%s-%s/%s-%s.tar.gz", p.Name, v, p.Name, v)
		},
	},
}

// npmName reconstructs a scoped npm package name (@scope/name) from a
// purl's namespace and name fields.
func npmName(p Purl) string {
	if p.Namespace == "" {
		return p.Name
	}
	return fmt.Sprintf("@%s/%s", p.Namespace, p.Name)
}

// fetchPURL resolves and downloads the package referenced by a pkg: URL.
func (f *Fetcher) fetchPURL(ctx context.Context, uri, destDir string) ([]Result, error) {
	rawURI, tag := splitTag(uri)
	p, err := parsePURL(rawURI)
	if err != nil {
		return nil, &scanpipeerrors.ValidationError{
			Kind:    scanpipeerrors.KindBadConfig,
			Field:   "input_url",
			Message: err.Error(),
		}
	}

	resolver, ok := registryResolvers[p.Type]
	if !ok {
		return nil, &scanpipeerrors.ValidationError{
			Kind:    scanpipeerrors.KindBadConfig,
			Field:   "input_url",
			Message: fmt.Sprintf("unsupported purl type: %s", p.Type),
		}
	}

	version := p.Version
	if version == "" {
		version, err = f.resolveLatestVersion(ctx, resolver, p)
		if err != nil {
			return nil, err
		}
	}

	downloadURL := resolver.downloadURL(p, version)
	result, err := f.fetchHTTP(ctx, downloadURL, destDir)
	if err != nil {
		return nil, err
	}
	result.Tag = tag
	return []Result{result}, nil
}

func (f *Fetcher) resolveLatestVersion(ctx context.Context, r registryResolver, p Purl) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.latestVersionURL(p), nil)
	if err != nil {
		return "", err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return "", &scanpipeerrors.ExternalError{
			Kind:    scanpipeerrors.KindInputFetchFailed,
			Message: fmt.Sprintf("resolving latest version for %s", p.Name),
			Cause:   err,
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", &scanpipeerrors.ExternalError{
			Kind:     scanpipeerrors.KindInputFetchFailed,
			SubCause: scanpipeerrors.SubCauseNotFound,
			Message:  fmt.Sprintf("no published version found for %s (status %d)", p.Name, resp.StatusCode),
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}

	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return "", &scanpipeerrors.ExternalError{
			Kind:    scanpipeerrors.KindInputFetchFailed,
			Message: fmt.Sprintf("parsing version metadata for %s", p.Name),
			Cause:   err,
		}
	}

	version, ok := jsonPath(doc, r.versionField)
	if !ok {
		return "", &scanpipeerrors.ExternalError{
			Kind:     scanpipeerrors.KindInputFetchFailed,
			SubCause: scanpipeerrors.SubCauseNotFound,
			Message:  fmt.Sprintf("version field %q not found for %s", r.versionField, p.Name),
		}
	}
	return version, nil
}

// jsonPath walks a decoded JSON document along a dotted path of object
// keys and array indices (numeric segments; -1 means last element).
func jsonPath(doc any, path string) (string, bool) {
	cur := doc
	for _, segment := range strings.Split(path, ".") {
		switch v := cur.(type) {
		case map[string]any:
			next, ok := v[segment]
			if !ok {
				return "", false
			}
			cur = next
		case []any:
			idx := 0
			if _, err := fmt.Sscanf(segment, "%d", &idx); err != nil {
				return "", false
			}
			if idx < 0 {
				idx += len(v)
			}
			if idx < 0 || idx >= len(v) {
				return "", false
			}
			cur = v[idx]
		default:
			return "", false
		}
	}
	switch v := cur.(type) {
	case string:
		return v, true
	case float64:
		return fmt.Sprintf("%g", v), true
	default:
		return "", false
	}
}
