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

// Package corpus provisions the retrieval corpus the helpdesk agent answers from.
//
// The workflow is sequential: ensure the corpus exists (looked up by display
// name, created if absent), upload the source document, persist the corpus
// resource name to the dotenv file and list the corpus contents. Lookup and
// creation failures abort the run. Upload, persistence and final listing
// failures are recorded in the Report and the run continues.
package corpus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/sscollege/helpdesk/pkg/config"
	"github.com/sscollege/helpdesk/pkg/httpclient"
	"github.com/sscollege/helpdesk/pkg/ragengine"
)

// Platform is the subset of the retrieval platform the provisioner uses.
// *ragengine.Client implements it.
type Platform interface {
	ListCorpora(ctx context.Context) ([]*ragengine.Corpus, error)
	CreateCorpus(ctx context.Context, req ragengine.CreateCorpusRequest) (*ragengine.Corpus, error)
	UploadFile(ctx context.Context, corpusName string, req ragengine.UploadFileRequest) (*ragengine.File, error)
	ListFiles(ctx context.Context, corpusName string) ([]*ragengine.File, error)
}

// CorpusSpec identifies and configures a corpus.
type CorpusSpec struct {
	DisplayName    string
	Description    string
	EmbeddingModel string
}

// DocumentSpec describes the document to upload.
type DocumentSpec struct {
	// Source is a local path or an http(s) URL.
	Source      string
	DisplayName string
	Description string
}

// Plan is one provisioning run.
type Plan struct {
	Corpus   CorpusSpec
	Document DocumentSpec
	// EnvFile receives RAG_CORPUS. Empty skips persistence.
	EnvFile string
}

// PlanFromConfig builds a Plan from the deployment configuration.
func PlanFromConfig(cfg *config.Config) Plan {
	return Plan{
		Corpus: CorpusSpec{
			DisplayName:    cfg.Corpus.DisplayName,
			Description:    cfg.Corpus.Description,
			EmbeddingModel: cfg.Corpus.EmbeddingModel,
		},
		Document: DocumentSpec{
			Source:      cfg.Document.Path,
			DisplayName: cfg.Document.DisplayName,
			Description: cfg.Document.Description,
		},
		EnvFile: cfg.EnvFile,
	}
}

// Report is the outcome of Run.
type Report struct {
	Corpus  *ragengine.Corpus
	Created bool
	File    *ragengine.File
	Files   []*ragengine.File

	UploadErr  error
	PersistErr error
	ListErr    error
}

// OK reports whether every step succeeded.
func (r *Report) OK() bool {
	return r.UploadErr == nil && r.PersistErr == nil && r.ListErr == nil
}

// UploadError is returned by Upload. It wraps the cause and names the source.
type UploadError struct {
	Source string
	Err    error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload %s: %v", e.Source, e.Err)
}

func (e *UploadError) Unwrap() error {
	return e.Err
}

// Provisioner runs the provisioning workflow against a Platform.
type Provisioner struct {
	platform   Platform
	downloader *httpclient.Client
	tempDir    string
	logger     *slog.Logger
}

// Option configures a Provisioner.
type Option func(*Provisioner)

// WithDownloader sets the client used to fetch URL sources.
func WithDownloader(c *httpclient.Client) Option {
	return func(p *Provisioner) {
		p.downloader = c
	}
}

// WithTempDir sets where downloaded sources are staged.
func WithTempDir(dir string) Option {
	return func(p *Provisioner) {
		p.tempDir = dir
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Provisioner) {
		p.logger = l
	}
}

// NewProvisioner creates a Provisioner.
func NewProvisioner(platform Platform, opts ...Option) *Provisioner {
	p := &Provisioner{
		platform: platform,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.downloader == nil {
		p.downloader = httpclient.New(httpclient.WithUserAgent("helpdesk-provisioner"))
	}
	return p
}

// EnsureCorpus returns the corpus named spec.DisplayName, creating it when no
// corpus has that display name. An existing corpus is returned unchanged.
func (p *Provisioner) EnsureCorpus(ctx context.Context, spec CorpusSpec) (*ragengine.Corpus, bool, error) {
	if spec.DisplayName == "" {
		return nil, false, errors.New("ensure corpus: display name is required")
	}

	corpora, err := p.platform.ListCorpora(ctx)
	if err != nil {
		return nil, false, err
	}
	var found *ragengine.Corpus
	matches := 0
	for _, c := range corpora {
		if c.DisplayName == spec.DisplayName {
			if found == nil {
				found = c
			}
			matches++
		}
	}
	if found != nil {
		if matches > 1 {
			p.logger.Warn("Several corpora share the display name, using the first", "display_name", spec.DisplayName, "matches", matches)
		}
		p.logger.Info("Found existing corpus", "corpus", found.Name, "display_name", found.DisplayName)
		return found, false, nil
	}

	created, err := p.platform.CreateCorpus(ctx, ragengine.CreateCorpusRequest{
		DisplayName:    spec.DisplayName,
		Description:    spec.Description,
		EmbeddingModel: spec.EmbeddingModel,
	})
	if err != nil {
		return nil, false, err
	}
	p.logger.Info("Created new corpus", "corpus", created.Name, "display_name", created.DisplayName)
	return created, true, nil
}

// Upload pushes doc into corpusName. Failures are returned as *UploadError.
func (p *Provisioner) Upload(ctx context.Context, corpusName string, doc DocumentSpec) (*ragengine.File, error) {
	if doc.Source == "" {
		return nil, &UploadError{Source: doc.Source, Err: errors.New("no document source configured")}
	}

	path := doc.Source
	if isURL(doc.Source) {
		local, cleanup, err := p.download(ctx, doc.Source)
		if err != nil {
			return nil, &UploadError{Source: doc.Source, Err: err}
		}
		defer cleanup()
		path = local
	} else if _, err := os.Stat(path); err != nil {
		return nil, &UploadError{Source: doc.Source, Err: err}
	}

	if info, err := inspectPDF(path); err != nil {
		p.logger.Warn("Could not inspect PDF before upload", "path", path, "error", err)
	} else if info != nil {
		p.logger.Info("Inspected PDF", "path", path, "pages", info.Pages, "text_pages", info.TextPages)
		if info.Pages > 0 && info.TextPages == 0 {
			p.logger.Warn("PDF has no extractable text in the sampled pages", "path", path)
		}
	}

	displayName := doc.DisplayName
	if displayName == "" {
		displayName = sourceBaseName(doc.Source)
	}

	file, err := p.platform.UploadFile(ctx, corpusName, ragengine.UploadFileRequest{
		Path:        path,
		DisplayName: displayName,
		Description: doc.Description,
	})
	if err != nil {
		return nil, &UploadError{Source: doc.Source, Err: err}
	}
	file.SourcePath = doc.Source

	p.logger.Info("Uploaded file", "file", file.Name, "display_name", file.DisplayName, "corpus", corpusName)
	return file, nil
}

// Persist writes the corpus resource name to envFile as RAG_CORPUS.
func (p *Provisioner) Persist(corpusName, envFile string) error {
	if err := config.PersistEnvKey(envFile, config.EnvRAGCorpus, corpusName); err != nil {
		return err
	}
	p.logger.Info("Updated env file", "path", envFile, "key", config.EnvRAGCorpus, "value", corpusName)
	return nil
}

// ListFiles returns the files registered in corpusName.
func (p *Provisioner) ListFiles(ctx context.Context, corpusName string) ([]*ragengine.File, error) {
	return p.platform.ListFiles(ctx, corpusName)
}

// Run executes plan. The returned error is non-nil only when the corpus
// could not be found or created.
func (p *Provisioner) Run(ctx context.Context, plan Plan) (*Report, error) {
	corpus, created, err := p.EnsureCorpus(ctx, plan.Corpus)
	if err != nil {
		return nil, fmt.Errorf("ensure corpus %q: %w", plan.Corpus.DisplayName, err)
	}
	report := &Report{Corpus: corpus, Created: created}

	if plan.EnvFile != "" {
		if err := p.Persist(corpus.Name, plan.EnvFile); err != nil {
			p.logger.Error("Failed to persist corpus name", "path", plan.EnvFile, "error", err)
			report.PersistErr = err
		}
	}

	file, err := p.Upload(ctx, corpus.Name, plan.Document)
	if err != nil {
		p.logger.Error("Upload failed", "corpus", corpus.Name, "error", err)
		report.UploadErr = err
	}
	report.File = file

	files, err := p.ListFiles(ctx, corpus.Name)
	if err != nil {
		p.logger.Error("Failed to list corpus files", "corpus", corpus.Name, "error", err)
		report.ListErr = err
	}
	report.Files = files

	return report, nil
}

func isURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}
