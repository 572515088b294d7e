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

// Package config loads the orchestrator's startup configuration: database
// connection, workspace location, scheduling knobs, pipeline discovery
// paths, fetch credentials and the queue backend. Sources are, in order
// of increasing precedence, compiled-in defaults, an optional YAML file,
// and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	scanpipeerrors "github.com/aboutcode-org/scanpipe/pkg/errors"
)

// DatabaseConfig holds the connection parameters for the relational store.
type DatabaseConfig struct {
	Backend  string `yaml:"backend"` // "memory", "postgres" or "sqlite"
	Host     string `yaml:"db_host"`
	Name     string `yaml:"db_name"`
	User     string `yaml:"db_user"`
	Password string `yaml:"db_password"`
	Port     int    `yaml:"db_port"`
	// Path is the SQLite file path, used only when Backend == "sqlite".
	Path string `yaml:"db_path"`
}

// GlobalWebhook describes the webhook subscribed by default to every
// newly created project, unless the caller opts out.
type GlobalWebhook struct {
	TargetURL        string `yaml:"target_url"`
	TriggerOnEachRun bool   `yaml:"trigger_on_each_run"`
	IncludeSummary   bool   `yaml:"include_summary"`
	IncludeResults   bool   `yaml:"include_results"`
}

// FetchAuthConfig is the static per-host credential table the input
// fetcher consults. Keys are hostnames.
type FetchAuthConfig struct {
	BasicAuth             map[string]BasicAuth `yaml:"fetch_basic_auth"`
	DigestAuth            map[string]BasicAuth `yaml:"fetch_digest_auth"`
	Headers               map[string]string    `yaml:"fetch_headers"`
	NetrcLocation         string               `yaml:"netrc_location"`
	SkopeoCredentials     map[string]BasicAuth `yaml:"skopeo_credentials"`
	SkopeoAuthfileLocation string              `yaml:"skopeo_authfile_location"`
}

// BasicAuth is a username/password (or digest) credential pair.
type BasicAuth struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// QueueConfig configures the Redis-backed job queue used when Async is
// enabled.
type QueueConfig struct {
	RedisHost           string        `yaml:"rq_redis_host"`
	RedisPort           int           `yaml:"rq_redis_port"`
	RedisDB             int           `yaml:"rq_redis_db"`
	RedisUsername       string        `yaml:"rq_redis_username"`
	RedisPassword       string        `yaml:"rq_redis_password"`
	RedisDefaultTimeout time.Duration `yaml:"rq_redis_default_timeout"`
	RedisSSL            bool          `yaml:"rq_redis_ssl"`
}

// Config is the fully resolved orchestrator configuration.
type Config struct {
	Database DatabaseConfig `yaml:"database"`

	RequireAuthentication bool   `yaml:"require_authentication"`
	WorkspaceLocation      string `yaml:"workspace_location"`
	ConfigDir              string `yaml:"config_dir"`

	// Processes: -1 disables threading and multiprocessing inside step
	// bodies, 0 disables multiprocessing only, positive is a worker
	// count hint.
	Processes int  `yaml:"processes"`
	Async     bool `yaml:"async"`

	TaskTimeout     time.Duration `yaml:"task_timeout"`
	ScanFileTimeout time.Duration `yaml:"scan_file_timeout"`
	// ScanMaxFileSize is nullable; nil means unlimited.
	ScanMaxFileSize *int64 `yaml:"scan_max_file_size"`

	PipelinesDirs []string `yaml:"pipelines_dirs"`
	PoliciesFile  string   `yaml:"policies_file"`

	PaginateBy      map[string]int `yaml:"paginate_by"`
	RestAPIPageSize int            `yaml:"rest_api_page_size"`

	LogLevel string `yaml:"log_level"`

	SiteURL       string        `yaml:"site_url"`
	GlobalWebhook GlobalWebhook `yaml:"global_webhook"`
	TimeZone      string        `yaml:"time_zone"`

	Fetch   FetchAuthConfig `yaml:"fetch"`
	Queue   QueueConfig     `yaml:"queue"`
	Tracing TracingConfig   `yaml:"tracing"`
}

// TracingConfig selects where pipeline step spans are exported.
// Exporter is one of "", "stdout" or "otlp"; an empty exporter leaves
// tracing disabled and internal/telemetry falls back to a no-op provider.
type TracingConfig struct {
	Exporter    string `yaml:"exporter"`
	Endpoint    string `yaml:"endpoint"`
	ServiceName string `yaml:"service_name"`
}

// ProjectOverride is the subset of Config keys a project may override via
// an uploaded scancode-config.yml input.
type ProjectOverride struct {
	ProductName              string              `yaml:"product_name"`
	ProductVersion           string              `yaml:"product_version"`
	IgnoredPatterns          []string            `yaml:"ignored_patterns"`
	IgnoredDependencyScopes  []DependencyScope   `yaml:"ignored_dependency_scopes"`
	IgnoredVulnerabilities   []string            `yaml:"ignored_vulnerabilities"`
	Policies                 map[string]any      `yaml:"policies"`
}

// DependencyScope identifies a package-type/scope pair to ignore.
type DependencyScope struct {
	PackageType string `yaml:"package_type"`
	Scope       string `yaml:"scope"`
}

// Default returns the built-in configuration, used as the base that a
// config file and environment variables are layered on top of.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{
			Backend: "memory",
			Port:    5432,
		},
		RequireAuthentication: true,
		WorkspaceLocation:     defaultWorkspaceLocation(),
		ConfigDir:             ".scancode",
		Processes:             1,
		Async:                 false,
		TaskTimeout:           24 * time.Hour,
		ScanFileTimeout:       120 * time.Second,
		PipelinesDirs:         nil,
		PoliciesFile:          "",
		PaginateBy:            map[string]int{},
		RestAPIPageSize:       50,
		LogLevel:              "info",
		TimeZone:              "UTC",
		Tracing: TracingConfig{
			ServiceName: "scanpipe",
		},
		Queue: QueueConfig{
			RedisHost:           "localhost",
			RedisPort:           6379,
			RedisDefaultTimeout: 360 * time.Second,
		},
	}
}

func defaultWorkspaceLocation() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".scanpipe", "workspace")
	}
	return "./scanpipe-workspace"
}

// Load builds a Config from defaults, an optional YAML file and
// environment variable overrides, in that order, then validates it.
func Load(configPath string) (*Config, error) {
	cfg := Default()

	if configPath == "" {
		if defaultPath, err := ConfigPath(); err == nil {
			if _, statErr := os.Stat(defaultPath); statErr == nil {
				configPath = defaultPath
			}
		}
	}

	if configPath != "" {
		if err := cfg.loadFromFile(configPath); err != nil {
			return nil, &scanpipeerrors.ValidationError{
				Kind:    scanpipeerrors.KindBadConfig,
				Field:   "config_file",
				Message: fmt.Sprintf("failed to load %s: %v", configPath, err),
			}
		}
	}

	cfg.loadFromEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFromFile(path string) error {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("resolving home directory: %w", err)
		}
		path = filepath.Join(home, path[2:])
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing YAML: %w", err)
	}
	return nil
}

// LoadProjectOverride reads a scancode-config.yml file uploaded alongside
// a project's inputs. A missing file is not an error; it returns a zero
// ProjectOverride.
func LoadProjectOverride(path string) (*ProjectOverride, error) {
	var override ProjectOverride
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &override, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading project config: %w", err)
	}
	if err := yaml.Unmarshal(data, &override); err != nil {
		return nil, &scanpipeerrors.ValidationError{
			Kind:    scanpipeerrors.KindBadConfig,
			Field:   "scancode-config.yml",
			Message: err.Error(),
		}
	}
	return &override, nil
}

// loadFromEnv overrides fields set via SCANPIPE_* environment variables.
// Env vars take precedence over both defaults and the config file.
func (c *Config) loadFromEnv() {
	if v := os.Getenv("SCANPIPE_DB_HOST"); v != "" {
		c.Database.Host = v
	}
	if v := os.Getenv("SCANPIPE_DB_NAME"); v != "" {
		c.Database.Name = v
	}
	if v := os.Getenv("SCANPIPE_DB_USER"); v != "" {
		c.Database.User = v
	}
	if v := os.Getenv("SCANPIPE_DB_PASSWORD"); v != "" {
		c.Database.Password = v
	}
	if v := os.Getenv("SCANPIPE_DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Database.Port = port
		}
	}
	if v := os.Getenv("SCANPIPE_DB_BACKEND"); v != "" {
		c.Database.Backend = v
	}
	if v := os.Getenv("SCANPIPE_REQUIRE_AUTHENTICATION"); v != "" {
		c.RequireAuthentication = parseBool(v)
	}
	if v := os.Getenv("SCANPIPE_WORKSPACE_LOCATION"); v != "" {
		c.WorkspaceLocation = v
	}
	if v := os.Getenv("SCANPIPE_CONFIG_DIR"); v != "" {
		c.ConfigDir = v
	}
	if v := os.Getenv("SCANPIPE_PROCESSES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Processes = n
		}
	}
	if v := os.Getenv("SCANPIPE_ASYNC"); v != "" {
		c.Async = parseBool(v)
	}
	if v := os.Getenv("SCANPIPE_TASK_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.TaskTimeout = d
		}
	}
	if v := os.Getenv("SCANPIPE_SCAN_FILE_TIMEOUT"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			c.ScanFileTimeout = time.Duration(secs) * time.Second
		}
	}
	if v := os.Getenv("SCANPIPE_SCAN_MAX_FILE_SIZE"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.ScanMaxFileSize = &n
		}
	}
	if v := os.Getenv("SCANPIPE_PIPELINES_DIRS"); v != "" {
		c.PipelinesDirs = splitAndTrim(v)
	}
	if v := os.Getenv("SCANPIPE_POLICIES_FILE"); v != "" {
		c.PoliciesFile = v
	}
	if v := os.Getenv("SCANPIPE_REST_API_PAGE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.RestAPIPageSize = n
		}
	}
	if v := os.Getenv("SCANPIPE_LOG_LEVEL"); v != "" {
		c.LogLevel = strings.ToLower(v)
	}
	if v := os.Getenv("SCANPIPE_SITE_URL"); v != "" {
		c.SiteURL = v
	}
	if v := os.Getenv("SCANPIPE_TIME_ZONE"); v != "" {
		c.TimeZone = v
	}
	if v := os.Getenv("SCANPIPE_GLOBAL_WEBHOOK_URL"); v != "" {
		c.GlobalWebhook.TargetURL = v
	}
	if v := os.Getenv("SCANPIPE_TRACING_EXPORTER"); v != "" {
		c.Tracing.Exporter = v
	}
	if v := os.Getenv("SCANPIPE_TRACING_ENDPOINT"); v != "" {
		c.Tracing.Endpoint = v
	}
	if v := os.Getenv("SCANPIPE_TRACING_SERVICE_NAME"); v != "" {
		c.Tracing.ServiceName = v
	}
	if v := os.Getenv("SCANPIPE_RQ_REDIS_HOST"); v != "" {
		c.Queue.RedisHost = v
	}
	if v := os.Getenv("SCANPIPE_RQ_REDIS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Queue.RedisPort = port
		}
	}
	if v := os.Getenv("SCANPIPE_RQ_REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Queue.RedisDB = n
		}
	}
	if v := os.Getenv("SCANPIPE_RQ_REDIS_USERNAME"); v != "" {
		c.Queue.RedisUsername = v
	}
	if v := os.Getenv("SCANPIPE_RQ_REDIS_PASSWORD"); v != "" {
		c.Queue.RedisPassword = v
	}
	if v := os.Getenv("SCANPIPE_RQ_REDIS_SSL"); v != "" {
		c.Queue.RedisSSL = parseBool(v)
	}
}

func parseBool(v string) bool {
	return v == "1" || strings.EqualFold(v, "true")
}

func splitAndTrim(v string) []string {
	parts := strings.Split(v, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			result = append(result, p)
		}
	}
	return result
}

// Validate rejects configurations that would fail at startup: an
// unknown database backend, an empty workspace location, a log level
// the logger doesn't recognize, a non-positive rest_api_page_size, a
// site_url without a scheme, or an unknown tracing exporter.
func (c *Config) Validate() error {
	switch c.Database.Backend {
	case "memory", "postgres", "sqlite":
	default:
		return &scanpipeerrors.ValidationError{
			Kind:    scanpipeerrors.KindBadConfig,
			Field:   "db_backend",
			Message: fmt.Sprintf("unknown database backend %q", c.Database.Backend),
		}
	}

	if c.WorkspaceLocation == "" {
		return &scanpipeerrors.ValidationError{
			Kind:    scanpipeerrors.KindBadConfig,
			Field:   "workspace_location",
			Message: "workspace_location must not be empty",
		}
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "warning": true, "error": true}
	if !validLevels[strings.ToLower(c.LogLevel)] {
		return &scanpipeerrors.ValidationError{
			Kind:    scanpipeerrors.KindBadConfig,
			Field:   "log_level",
			Message: fmt.Sprintf("unknown log level %q", c.LogLevel),
		}
	}

	if c.RestAPIPageSize <= 0 {
		return &scanpipeerrors.ValidationError{
			Kind:    scanpipeerrors.KindBadConfig,
			Field:   "rest_api_page_size",
			Message: "rest_api_page_size must be positive",
		}
	}

	if c.SiteURL != "" && !strings.Contains(c.SiteURL, "://") {
		return &scanpipeerrors.ValidationError{
			Kind:    scanpipeerrors.KindBadConfig,
			Field:   "site_url",
			Message: fmt.Sprintf("site_url %q is not a fully qualified URL", c.SiteURL),
		}
	}

	switch c.Tracing.Exporter {
	case "", "stdout", "otlp":
	default:
		return &scanpipeerrors.ValidationError{
			Kind:    scanpipeerrors.KindBadConfig,
			Field:   "tracing.exporter",
			Message: fmt.Sprintf("unknown tracing exporter %q", c.Tracing.Exporter),
		}
	}

	return nil
}

// PageSizeFor returns the configured page size for the named object
// type, falling back to RestAPIPageSize when no per-type override is
// set in paginate_by.
func (c *Config) PageSizeFor(objectType string) int {
	if n, ok := c.PaginateBy[objectType]; ok && n > 0 {
		return n
	}
	return c.RestAPIPageSize
}
