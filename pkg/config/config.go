// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config holds the deployment configuration of the helpdesk.
//
// Configuration is read from the process environment (optionally seeded from
// a .env file, see LoadDotEnv) into an explicit Config value. Callers validate
// it once at process entry and pass it down; nothing in this module reads the
// environment after that.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/sscollege/helpdesk/pkg/observability"
	"github.com/sscollege/helpdesk/pkg/ratelimit"
)

// Environment keys.
const (
	EnvProject           = "GOOGLE_CLOUD_PROJECT"
	EnvLocation          = "GOOGLE_CLOUD_LOCATION"
	EnvRAGCorpus         = "RAG_CORPUS"
	EnvAllowedOrigins    = "ALLOWED_ORIGINS"
	EnvSessionDBURL      = "SESSION_DB_URL"
	EnvPort              = "PORT"
	EnvHost              = "HOST"
	EnvServeWeb          = "SERVE_WEB_INTERFACE"
	EnvAgentDir          = "AGENT_DIR"
	EnvPromptVariant     = "PROMPT_VARIANT"
	EnvRunRateLimit      = "RUN_RATE_LIMIT"
	EnvCorpusDisplayName = "CORPUS_DISPLAY_NAME"
	EnvCorpusDescription = "CORPUS_DESCRIPTION"
	EnvEmbeddingModel    = "EMBEDDING_MODEL"
	EnvDocumentPath      = "DOCUMENT_PATH"
	EnvDocumentName      = "DOCUMENT_DISPLAY_NAME"
	EnvEnvFile           = "ENV_FILE"
	EnvAccessToken       = "GOOGLE_OAUTH_ACCESS_TOKEN"

	// Standard OpenTelemetry keys.
	EnvTracesExporter  = "OTEL_TRACES_EXPORTER"
	EnvOTLPEndpoint    = "OTEL_EXPORTER_OTLP_ENDPOINT"
	EnvServiceName     = "OTEL_SERVICE_NAME"
	EnvTracesSampleArg = "OTEL_TRACES_SAMPLER_ARG"
)

// Defaults.
const (
	DefaultHost              = "0.0.0.0"
	DefaultPort              = 8080
	DefaultSessionDBURL      = "sqlite:///./sessions.db"
	DefaultAgentDir          = "./agents"
	DefaultPromptVariant     = "admissions"
	DefaultCorpusDisplayName = "SSRagCorpus"
	DefaultCorpusDescription = "Corpus containing the SSRag document"
	DefaultEmbeddingModel    = "publishers/google/models/text-embedding-004"
	DefaultDocumentPath      = "ssragcorpus.pdf"
	DefaultEnvFile           = ".env"
)

// DefaultAllowedOrigins mirrors a local development setup.
var DefaultAllowedOrigins = []string{"http://localhost", "http://localhost:8080", "*"}

// LookupFunc resolves a configuration key. os.LookupEnv satisfies it.
type LookupFunc func(key string) (string, bool)

// Config is the deployment configuration.
type Config struct {
	// Project is the Google Cloud project id.
	Project string
	// Location is the Google Cloud region, e.g. us-central1.
	Location string
	// RAGCorpus is the corpus resource name, populated after the first provisioning run.
	RAGCorpus string
	// AccessToken is an optional static OAuth token used instead of ADC.
	AccessToken string

	Server   ServerConfig
	Corpus   CorpusConfig
	Document DocumentConfig
	Tracing  observability.TracerConfig

	// EnvFile is the dotenv file the corpus id is persisted to.
	EnvFile string
}

// ServerConfig configures the HTTP service.
type ServerConfig struct {
	Host           string
	Port           int
	AllowedOrigins []string
	SessionDBURL   string
	ServeWeb       bool
	AgentDir       string
	PromptVariant  string
	// RunRateLimit caps agent turns per app and user, e.g. "20/minute,200/day".
	// Empty disables limiting.
	RunRateLimit string
}

// Address returns host:port.
func (c ServerConfig) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// CorpusConfig describes the corpus the provisioning run ensures.
type CorpusConfig struct {
	DisplayName    string
	Description    string
	EmbeddingModel string
}

// DocumentConfig describes the document the provisioning run uploads.
type DocumentConfig struct {
	// Path is a local file path or an http(s) URL.
	Path        string
	DisplayName string
	Description string
}

// FromEnv loads configuration from the process environment.
func FromEnv() (*Config, error) {
	return Load(os.LookupEnv)
}

// Load builds a Config from lookup, applies defaults and validates it.
func Load(lookup LookupFunc) (*Config, error) {
	get := func(key string) string {
		v, _ := lookup(key)
		return strings.TrimSpace(v)
	}

	cfg := &Config{
		Project:     get(EnvProject),
		Location:    get(EnvLocation),
		RAGCorpus:   get(EnvRAGCorpus),
		AccessToken: get(EnvAccessToken),
		EnvFile:     get(EnvEnvFile),
		Server: ServerConfig{
			Host:           get(EnvHost),
			AllowedOrigins: ParseList(get(EnvAllowedOrigins)),
			SessionDBURL:   get(EnvSessionDBURL),
			ServeWeb:       true,
			AgentDir:       get(EnvAgentDir),
			PromptVariant:  get(EnvPromptVariant),
			RunRateLimit:   get(EnvRunRateLimit),
		},
		Corpus: CorpusConfig{
			DisplayName:    get(EnvCorpusDisplayName),
			Description:    get(EnvCorpusDescription),
			EmbeddingModel: get(EnvEmbeddingModel),
		},
		Document: DocumentConfig{
			Path:        get(EnvDocumentPath),
			DisplayName: get(EnvDocumentName),
		},
		Tracing: observability.TracerConfig{
			Exporter:    get(EnvTracesExporter),
			Endpoint:    get(EnvOTLPEndpoint),
			ServiceName: get(EnvServiceName),
		},
	}

	var errs []error

	if raw := get(EnvPort); raw != "" {
		port, err := strconv.Atoi(raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: invalid port %q", EnvPort, raw))
		}
		cfg.Server.Port = port
	}

	if raw := get(EnvServeWeb); raw != "" {
		web, err := strconv.ParseBool(raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: invalid boolean %q", EnvServeWeb, raw))
		}
		cfg.Server.ServeWeb = web
	}

	if raw := get(EnvTracesSampleArg); raw != "" {
		rate, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: invalid number %q", EnvTracesSampleArg, raw))
		}
		cfg.Tracing.SamplingRate = rate
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SetDefaults fills unset fields.
func (c *Config) SetDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = DefaultHost
	}
	if c.Server.Port == 0 {
		c.Server.Port = DefaultPort
	}
	if len(c.Server.AllowedOrigins) == 0 {
		c.Server.AllowedOrigins = append([]string(nil), DefaultAllowedOrigins...)
	}
	if c.Server.SessionDBURL == "" {
		c.Server.SessionDBURL = DefaultSessionDBURL
	}
	if c.Server.AgentDir == "" {
		c.Server.AgentDir = DefaultAgentDir
	}
	if c.Server.PromptVariant == "" {
		c.Server.PromptVariant = DefaultPromptVariant
	}
	if c.Corpus.DisplayName == "" {
		c.Corpus.DisplayName = DefaultCorpusDisplayName
	}
	if c.Corpus.Description == "" {
		c.Corpus.Description = DefaultCorpusDescription
	}
	if c.Corpus.EmbeddingModel == "" {
		c.Corpus.EmbeddingModel = DefaultEmbeddingModel
	}
	if c.Document.Path == "" {
		c.Document.Path = DefaultDocumentPath
	}
	if c.Document.DisplayName == "" {
		c.Document.DisplayName = documentBaseName(c.Document.Path)
	}
	if c.Document.Description == "" {
		c.Document.Description = c.Corpus.Description
	}
	if c.EnvFile == "" {
		c.EnvFile = DefaultEnvFile
	}
	if c.Tracing.Exporter == "" {
		c.Tracing.Exporter = observability.ExporterNone
	}
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = observability.DefaultServiceName
	}
}

// Validate checks required settings. All problems are reported at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Project == "" {
		errs = append(errs, fmt.Errorf("%s is not set", EnvProject))
	}
	if c.Location == "" {
		errs = append(errs, fmt.Errorf("%s is not set", EnvLocation))
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Server.Port))
	}
	if c.Corpus.DisplayName == "" {
		errs = append(errs, fmt.Errorf("corpus display name is required"))
	}
	if _, err := ratelimit.ParseLimits(c.Server.RunRateLimit); err != nil {
		errs = append(errs, fmt.Errorf("%s: %w", EnvRunRateLimit, err))
	}
	if err := c.Tracing.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("%s: %w", EnvTracesExporter, err))
	}
	if c.RAGCorpus != "" && !strings.Contains(c.RAGCorpus, "/ragCorpora/") {
		errs = append(errs, fmt.Errorf("%s must be a corpus resource name (projects/.../ragCorpora/...), got %q", EnvRAGCorpus, c.RAGCorpus))
	}

	return errors.Join(errs...)
}

// ParseList splits a comma separated list, dropping empty entries.
func ParseList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func documentBaseName(path string) string {
	if i := strings.Index(path, "?"); i >= 0 && strings.Contains(path, "://") {
		path = path[:i]
	}
	if strings.Contains(path, "://") {
		return path[strings.LastIndex(path, "/")+1:]
	}
	// Windows paths are common in operator .env files.
	return filepath.Base(strings.ReplaceAll(path, `\`, "/"))
}
