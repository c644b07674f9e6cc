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

// Package ragengine is a small client for the Vertex AI RAG Engine REST API.
//
// It covers the corpus lifecycle the helpdesk needs: listing and creating
// corpora, uploading files into a corpus and listing a corpus's files.
// Long-running create operations are polled to completion.
package ragengine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/sscollege/helpdesk/pkg/httpclient"
	"github.com/sscollege/helpdesk/pkg/observability"
)

const (
	defaultPageSize     = 100
	defaultPollInterval = 2 * time.Second
	apiVersion          = "v1"
	tracerName          = "github.com/sscollege/helpdesk/pkg/ragengine"
)

// Client talks to one project and location.
type Client struct {
	http         *httpclient.Client
	httpClient   *http.Client
	project      string
	location     string
	baseURL      string
	pollInterval time.Duration
	pageSize     int
	tracer       trace.Tracer
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the regional endpoint, e.g. for tests.
func WithBaseURL(u string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(u, "/")
	}
}

// WithHTTPClient sets the transport. It should carry credentials, see
// NewAuthenticatedHTTPClient.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithPollInterval sets how often long-running operations are polled.
func WithPollInterval(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.pollInterval = d
		}
	}
}

// WithPageSize sets the page size used by list calls.
func WithPageSize(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.pageSize = n
		}
	}
}

// WithTracerProvider sets where RAG Engine call spans go. The global
// provider is used otherwise.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Client) {
		c.tracer = observability.Tracer(tp, tracerName)
	}
}

// New creates a client for project and location.
func New(project, location string, opts ...Option) (*Client, error) {
	if project == "" {
		return nil, errors.New("ragengine: project is required")
	}
	if location == "" {
		return nil, errors.New("ragengine: location is required")
	}

	c := &Client{
		project:      project,
		location:     location,
		baseURL:      regionalEndpoint(location),
		pollInterval: defaultPollInterval,
		pageSize:     defaultPageSize,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.tracer == nil {
		c.tracer = observability.Tracer(nil, tracerName)
	}

	httpOpts := []httpclient.Option{httpclient.WithUserAgent("helpdesk-ragengine")}
	if c.httpClient != nil {
		httpOpts = append(httpOpts, httpclient.WithHTTPClient(c.httpClient))
	}
	c.http = httpclient.New(httpOpts...)

	return c, nil
}

func regionalEndpoint(location string) string {
	if location == "global" {
		return "https://aiplatform.googleapis.com"
	}
	return fmt.Sprintf("https://%s-aiplatform.googleapis.com", location)
}

// Parent returns projects/{project}/locations/{location}.
func (c *Client) Parent() string {
	return fmt.Sprintf("projects/%s/locations/%s", c.project, c.location)
}

// EmbeddingEndpoint expands a model reference to a full publisher model
// resource name within the client's project and location.
func (c *Client) EmbeddingEndpoint(model string) string {
	switch {
	case model == "":
		return ""
	case strings.HasPrefix(model, "projects/"):
		return model
	case strings.HasPrefix(model, "publishers/"):
		return c.Parent() + "/" + model
	default:
		return c.Parent() + "/publishers/google/models/" + model
	}
}

// ListCorpora returns every corpus in the location, following pagination.
func (c *Client) ListCorpora(ctx context.Context) (_ []*Corpus, err error) {
	ctx, span := c.startSpan(ctx, "ragengine.list_corpora")
	defer func() { endSpan(span, err) }()

	var all []*Corpus
	pageToken := ""
	for {
		q := url.Values{}
		q.Set("pageSize", strconv.Itoa(c.pageSize))
		if pageToken != "" {
			q.Set("pageToken", pageToken)
		}

		var page listCorporaResponse
		u := fmt.Sprintf("%s/%s/%s/ragCorpora?%s", c.baseURL, apiVersion, c.Parent(), q.Encode())
		if err := c.doJSON(ctx, http.MethodGet, u, nil, &page); err != nil {
			return nil, fmt.Errorf("list corpora: %w", err)
		}
		all = append(all, page.RAGCorpora...)

		if page.NextPageToken == "" {
			span.SetAttributes(attribute.Int("rag.corpora", len(all)))
			return all, nil
		}
		pageToken = page.NextPageToken
	}
}

// CreateCorpus creates a corpus and waits for the operation to finish.
func (c *Client) CreateCorpus(ctx context.Context, req CreateCorpusRequest) (_ *Corpus, err error) {
	ctx, span := c.startSpan(ctx, "ragengine.create_corpus",
		attribute.String("rag.corpus.display_name", req.DisplayName))
	defer func() { endSpan(span, err) }()

	if req.DisplayName == "" {
		return nil, errors.New("create corpus: display name is required")
	}

	body := &Corpus{
		DisplayName: req.DisplayName,
		Description: req.Description,
	}
	if req.EmbeddingModel != "" {
		body.VectorDBConfig = &VectorDBConfig{
			RAGEmbeddingModelConfig: &EmbeddingModelConfig{
				VertexPredictionEndpoint: &PredictionEndpoint{
					Endpoint: c.EmbeddingEndpoint(req.EmbeddingModel),
				},
			},
		}
	}

	var op operation
	u := fmt.Sprintf("%s/%s/%s/ragCorpora", c.baseURL, apiVersion, c.Parent())
	if err := c.doJSON(ctx, http.MethodPost, u, createCorpusBody(body), &op); err != nil {
		return nil, fmt.Errorf("create corpus: %w", err)
	}

	done, err := c.wait(ctx, &op)
	if err != nil {
		return nil, fmt.Errorf("create corpus: %w", err)
	}

	var corpus Corpus
	if len(done.Response) > 0 {
		if err := json.Unmarshal(done.Response, &corpus); err != nil {
			return nil, fmt.Errorf("create corpus: decode result: %w", err)
		}
	}
	if corpus.Name == "" {
		return nil, fmt.Errorf("create corpus: operation %s finished without a corpus", done.Name)
	}
	return &corpus, nil
}

// createCorpusBody omits server-populated fields from the request.
func createCorpusBody(c *Corpus) any {
	return struct {
		DisplayName    string          `json:"displayName"`
		Description    string          `json:"description,omitempty"`
		VectorDBConfig *VectorDBConfig `json:"vectorDbConfig,omitempty"`
	}{c.DisplayName, c.Description, c.VectorDBConfig}
}

// wait polls op until it is done or ctx is cancelled.
func (c *Client) wait(ctx context.Context, op *operation) (*operation, error) {
	for !op.Done {
		slog.Debug("Waiting for operation", "operation", op.Name)

		timer := time.NewTimer(c.pollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}

		var next operation
		u := fmt.Sprintf("%s/%s/%s", c.baseURL, apiVersion, op.Name)
		if err := c.doJSON(ctx, http.MethodGet, u, nil, &next); err != nil {
			return nil, fmt.Errorf("poll operation %s: %w", op.Name, err)
		}
		if next.Name == "" {
			next.Name = op.Name
		}
		op = &next
	}

	if op.Error != nil {
		return nil, statusError(op.Error)
	}
	return op, nil
}

// UploadFile uploads a local file into corpusName.
func (c *Client) UploadFile(ctx context.Context, corpusName string, req UploadFileRequest) (_ *File, err error) {
	ctx, span := c.startSpan(ctx, "ragengine.upload_file",
		attribute.String("rag.corpus", corpusName),
		attribute.String("rag.file.path", req.Path))
	defer func() { endSpan(span, err) }()

	if corpusName == "" {
		return nil, errors.New("upload file: corpus name is required")
	}

	f, err := os.Open(req.Path)
	if err != nil {
		return nil, fmt.Errorf("upload file: %w", err)
	}
	defer f.Close()

	displayName := req.DisplayName
	if displayName == "" {
		displayName = filepath.Base(req.Path)
	}
	meta, err := json.Marshal(uploadMetadata{RAGFile: uploadRAGFile{
		DisplayName: displayName,
		Description: req.Description,
	}})
	if err != nil {
		return nil, fmt.Errorf("upload file: %w", err)
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writeUploadBody(mw, meta, filepath.Base(req.Path), f))
	}()

	u := fmt.Sprintf("%s/upload/%s/%s/ragFiles:upload", c.baseURL, apiVersion, corpusName)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u, pr)
	if err != nil {
		pr.Close()
		return nil, fmt.Errorf("upload file: %w", err)
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())
	httpReq.Header.Set("X-Goog-Upload-Protocol", "multipart")

	var out uploadResponse
	if err := c.do(httpReq, &out); err != nil {
		pr.Close()
		return nil, fmt.Errorf("upload file: %w", err)
	}
	if out.Error != nil {
		return nil, fmt.Errorf("upload file: %w", statusError(out.Error))
	}
	if out.RAGFile == nil {
		return nil, errors.New("upload file: response did not include a file")
	}

	out.RAGFile.SourcePath = req.Path
	return out.RAGFile, nil
}

func writeUploadBody(mw *multipart.Writer, meta []byte, filename string, r io.Reader) error {
	if err := mw.WriteField("metadata", string(meta)); err != nil {
		return err
	}
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, r); err != nil {
		return err
	}
	return mw.Close()
}

// ListFiles returns every file in corpusName, following pagination.
func (c *Client) ListFiles(ctx context.Context, corpusName string) (_ []*File, err error) {
	ctx, span := c.startSpan(ctx, "ragengine.list_files", attribute.String("rag.corpus", corpusName))
	defer func() { endSpan(span, err) }()

	if corpusName == "" {
		return nil, errors.New("list files: corpus name is required")
	}

	var all []*File
	pageToken := ""
	for {
		q := url.Values{}
		q.Set("pageSize", strconv.Itoa(c.pageSize))
		if pageToken != "" {
			q.Set("pageToken", pageToken)
		}

		var page listFilesResponse
		u := fmt.Sprintf("%s/%s/%s/ragFiles?%s", c.baseURL, apiVersion, corpusName, q.Encode())
		if err := c.doJSON(ctx, http.MethodGet, u, nil, &page); err != nil {
			return nil, fmt.Errorf("list files: %w", err)
		}
		all = append(all, page.RAGFiles...)

		if page.NextPageToken == "" {
			span.SetAttributes(attribute.Int("rag.files", len(all)))
			return all, nil
		}
		pageToken = page.NextPageToken
	}
}

func (c *Client) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, attribute.String("gcp.project", c.project), attribute.String("gcp.location", c.location))
	return c.tracer.Start(ctx, name, trace.WithSpanKind(trace.SpanKindClient), trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	observability.RecordError(span, err)
	span.End()
}

func (c *Client) doJSON(ctx context.Context, method, u string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if resp == nil {
		return err
	}
	defer resp.Body.Close()

	data, readErr := io.ReadAll(resp.Body)
	if err != nil {
		if resp.StatusCode >= 400 {
			return parseAPIError(resp.StatusCode, data)
		}
		return err
	}
	if readErr != nil {
		return fmt.Errorf("read response: %w", readErr)
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
