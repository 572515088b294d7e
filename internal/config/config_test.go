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

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, "memory", cfg.Database.Backend)
	assert.Equal(t, 50, cfg.RestAPIPageSize)
}

func TestValidateRejectsUnknownBackend(t *testing.T) {
	cfg := Default()
	cfg.Database.Backend = "oracle"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db_backend")
}

func TestValidateRejectsEmptyWorkspace(t *testing.T) {
	cfg := Default()
	cfg.WorkspaceLocation = ""
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsBadSiteURL(t *testing.T) {
	cfg := Default()
	cfg.SiteURL = "not-a-url"
	assert.Error(t, cfg.Validate())
}

func TestLoadFromFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
database:
  backend: postgres
  db_host: db.internal
  db_port: 6543
workspace_location: /data/scanpipe
log_level: debug
rest_api_page_size: 25
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.Database.Backend)
	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, 6543, cfg.Database.Port)
	assert.Equal(t, "/data/scanpipe", cfg.WorkspaceLocation)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 25, cfg.RestAPIPageSize)
}

func TestLoadFromEnvTakesPrecedenceOverFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log_level: debug\n"), 0600))

	t.Setenv("SCANPIPE_LOG_LEVEL", "error")
	t.Setenv("SCANPIPE_TASK_TIMEOUT", "2h")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "error", cfg.LogLevel)
	assert.Equal(t, 2*time.Hour, cfg.TaskTimeout)
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("not: [valid: yaml"), 0600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestPageSizeForFallsBackToDefault(t *testing.T) {
	cfg := Default()
	cfg.PaginateBy = map[string]int{"packages": 200}

	assert.Equal(t, 200, cfg.PageSizeFor("packages"))
	assert.Equal(t, cfg.RestAPIPageSize, cfg.PageSizeFor("resources"))
}

func TestLoadProjectOverrideMissingFileIsNotAnError(t *testing.T) {
	override, err := LoadProjectOverride(filepath.Join(t.TempDir(), "scancode-config.yml"))
	require.NoError(t, err)
	assert.Empty(t, override.ProductName)
}

func TestLoadProjectOverrideParsesFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scancode-config.yml")
	content := `
product_name: acme-widget
product_version: "2.1"
ignored_patterns:
  - "*.md"
  - vendor/**
ignored_dependency_scopes:
  - package_type: npm
    scope: devDependencies
ignored_vulnerabilities:
  - CVE-2021-1234
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	override, err := LoadProjectOverride(path)
	require.NoError(t, err)
	assert.Equal(t, "acme-widget", override.ProductName)
	assert.Equal(t, "2.1", override.ProductVersion)
	assert.Equal(t, []string{"*.md", "vendor/**"}, override.IgnoredPatterns)
	require.Len(t, override.IgnoredDependencyScopes, 1)
	assert.Equal(t, "npm", override.IgnoredDependencyScopes[0].PackageType)
	assert.Equal(t, []string{"CVE-2021-1234"}, override.IgnoredVulnerabilities)
}
