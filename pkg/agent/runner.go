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

package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/genai"

	"github.com/sscollege/helpdesk/pkg/instruction"
	"github.com/sscollege/helpdesk/pkg/observability"
	"github.com/sscollege/helpdesk/pkg/session"
)

// AuthorUser is the event author of user messages.
const AuthorUser = "user"

// DefaultHistoryLimit bounds the events sent to the model per turn.
const DefaultHistoryLimit = 40

const tracerName = "github.com/sscollege/helpdesk/pkg/agent"

// ErrEmptyMessage is returned when a run carries no text.
var ErrEmptyMessage = errors.New("new message has no text")

// Generator produces model content. genai's Models service satisfies it.
type Generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// NewGeminiClient creates a Vertex AI backed genai client. hc carries the
// Google credentials; nil lets genai resolve application default credentials.
func NewGeminiClient(ctx context.Context, project, location string, hc *http.Client) (*genai.Client, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		Backend:    genai.BackendVertexAI,
		Project:    project,
		Location:   location,
		HTTPClient: hc,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return client, nil
}

// RunRequest is one user turn.
type RunRequest struct {
	AppName    string           `json:"appName"`
	UserID     string           `json:"userId"`
	SessionID  string           `json:"sessionId"`
	NewMessage *session.Content `json:"newMessage"`
}

// Runner answers user turns for the agents in a Registry.
type Runner struct {
	registry     *Registry
	sessions     session.Service
	generator    Generator
	historyLimit int
	logger       *slog.Logger
	tracer       trace.Tracer
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithHistoryLimit sets how many recent events are sent to the model.
func WithHistoryLimit(n int) RunnerOption {
	return func(r *Runner) {
		r.historyLimit = n
	}
}

// WithRunnerLogger sets the logger.
func WithRunnerLogger(l *slog.Logger) RunnerOption {
	return func(r *Runner) {
		r.logger = l
	}
}

// WithTracerProvider sets where run and generation spans go. The global
// provider is used otherwise.
func WithTracerProvider(tp trace.TracerProvider) RunnerOption {
	return func(r *Runner) {
		r.tracer = observability.Tracer(tp, tracerName)
	}
}

// NewRunner creates a Runner.
func NewRunner(registry *Registry, sessions session.Service, generator Generator, opts ...RunnerOption) *Runner {
	r := &Runner{
		registry:     registry,
		sessions:     sessions,
		generator:    generator,
		historyLimit: DefaultHistoryLimit,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.tracer == nil {
		r.tracer = observability.Tracer(nil, tracerName)
	}
	return r
}

// Registry returns the agents the runner serves.
func (r *Runner) Registry() *Registry {
	return r.registry
}

// Run appends the user message to the session, asks the model and appends
// its answer. It returns the events produced by this turn.
func (r *Runner) Run(ctx context.Context, req *RunRequest) (events []*session.Event, err error) {
	ctx, span := r.tracer.Start(ctx, "agent.run", trace.WithAttributes(
		attribute.String("agent.name", req.AppName),
		attribute.String("user.id", req.UserID),
		attribute.String("session.id", req.SessionID),
	))
	defer func() {
		observability.RecordError(span, err)
		span.End()
	}()

	def, err := r.registry.Get(req.AppName)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.NewMessage.Text()) == "" {
		return nil, ErrEmptyMessage
	}

	sess, err := r.sessions.Get(ctx, &session.GetRequest{
		AppName:         req.AppName,
		UserID:          req.UserID,
		SessionID:       req.SessionID,
		NumRecentEvents: r.historyLimit,
	})
	if err != nil {
		return nil, err
	}

	invocationID := "inv-" + uuid.NewString()
	userEvent := &session.Event{
		InvocationID: invocationID,
		Author:       AuthorUser,
		Content:      &session.Content{Role: genai.RoleUser, Parts: req.NewMessage.Parts},
		Timestamp:    time.Now(),
	}
	if err := r.sessions.AppendEvent(ctx, sess, userEvent); err != nil {
		return nil, fmt.Errorf("append user event: %w", err)
	}

	config, err := r.generateConfig(def, sess)
	if err != nil {
		return nil, err
	}

	log := r.logger.With("agent", def.Name, "session", sess.ID, "invocation", invocationID)
	span.SetAttributes(attribute.String("invocation.id", invocationID))
	start := time.Now()
	resp, err := r.generate(ctx, def.Model, buildContents(sess.Events, r.historyLimit), config)
	if err != nil {
		log.Error("Generation failed", "error", err)
		return []*session.Event{userEvent}, fmt.Errorf("generate content: %w", err)
	}
	if u := resp.UsageMetadata; u != nil {
		log.Debug("Generation finished", "duration", time.Since(start),
			"prompt_tokens", u.PromptTokenCount, "total_tokens", u.TotalTokenCount)
	}

	agentEvent := responseEvent(def.Name, invocationID, resp)
	if err := r.sessions.AppendEvent(ctx, sess, agentEvent); err != nil {
		return []*session.Event{userEvent}, fmt.Errorf("append agent event: %w", err)
	}
	return []*session.Event{userEvent, agentEvent}, nil
}

// generate calls the model inside its own span.
func (r *Runner) generate(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	ctx, span := r.tracer.Start(ctx, "gemini.generate_content", trace.WithAttributes(
		attribute.String("gen_ai.request.model", model),
		attribute.Int("gen_ai.request.messages", len(contents)),
	))
	defer span.End()

	resp, err := r.generator.GenerateContent(ctx, model, contents, config)
	if err != nil {
		observability.RecordError(span, err)
		return nil, err
	}
	if u := resp.UsageMetadata; u != nil {
		span.SetAttributes(
			attribute.Int("gen_ai.usage.input_tokens", int(u.PromptTokenCount)),
			attribute.Int("gen_ai.usage.output_tokens", int(u.CandidatesTokenCount)),
		)
	}
	if len(resp.Candidates) > 0 && resp.Candidates[0].FinishReason != "" {
		span.SetAttributes(attribute.String("gen_ai.response.finish_reason", string(resp.Candidates[0].FinishReason)))
	}
	return resp, nil
}

func (r *Runner) generateConfig(def *Definition, sess *session.Session) (*genai.GenerateContentConfig, error) {
	system := instruction.Instructions(def.Variant())
	if def.Instruction != "" {
		rendered, err := instruction.Render(def.Instruction, instruction.MapState(sess.State))
		if err != nil {
			return nil, fmt.Errorf("render instruction: %w", err)
		}
		system = rendered
	}

	config := &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{Parts: []*genai.Part{{Text: system}}},
		Temperature:       def.Temperature,
		MaxOutputTokens:   def.MaxOutputTokens,
	}
	if tool := retrievalTool(def.Retrieval); tool != nil {
		config.Tools = []*genai.Tool{tool}
	}
	return config, nil
}

// retrievalTool builds the Vertex RAG store tool, or nil when retrieval is
// off or no corpus is configured.
func retrievalTool(cfg Retrieval) *genai.Tool {
	if cfg.Disabled || cfg.Corpus == "" {
		return nil
	}
	store := &genai.VertexRAGStore{
		RAGResources: []*genai.VertexRAGStoreRAGResource{{RAGCorpus: cfg.Corpus}},
	}
	if cfg.TopK > 0 {
		store.SimilarityTopK = genai.Ptr(int32(cfg.TopK))
	}
	if cfg.VectorDistanceThreshold > 0 {
		store.VectorDistanceThreshold = genai.Ptr(cfg.VectorDistanceThreshold)
	}
	return &genai.Tool{Retrieval: &genai.Retrieval{VertexRAGStore: store}}
}

// buildContents converts session history to model contents. Failed turns
// and empty events are skipped.
func buildContents(events []*session.Event, limit int) []*genai.Content {
	if limit > 0 && len(events) > limit {
		events = events[len(events)-limit:]
	}
	contents := make([]*genai.Content, 0, len(events))
	for _, ev := range events {
		if ev.ErrorMessage != "" || ev.Content == nil {
			continue
		}
		var parts []*genai.Part
		for _, p := range ev.Content.Parts {
			if p.Text != "" {
				parts = append(parts, &genai.Part{Text: p.Text})
			}
		}
		if len(parts) == 0 {
			continue
		}
		role := genai.RoleModel
		if ev.Author == AuthorUser {
			role = genai.RoleUser
		}
		contents = append(contents, &genai.Content{Role: role, Parts: parts})
	}
	return contents
}

func responseEvent(author, invocationID string, resp *genai.GenerateContentResponse) *session.Event {
	ev := &session.Event{
		InvocationID: invocationID,
		Author:       author,
		Timestamp:    time.Now(),
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0] == nil {
		ev.ErrorMessage = "model returned no candidates"
		if fb := resp.PromptFeedback; fb != nil && fb.BlockReason != "" {
			ev.ErrorMessage = fmt.Sprintf("prompt blocked: %s", fb.BlockReason)
			if fb.BlockReasonMessage != "" {
				ev.ErrorMessage += ": " + fb.BlockReasonMessage
			}
		}
		return ev
	}

	cand := resp.Candidates[0]
	var b strings.Builder
	if cand.Content != nil {
		for _, p := range cand.Content.Parts {
			if p == nil || p.Thought {
				continue
			}
			b.WriteString(p.Text)
		}
	}
	if b.Len() == 0 {
		ev.ErrorMessage = fmt.Sprintf("model returned no text (finish reason %s)", cand.FinishReason)
		return ev
	}

	ev.Content = &session.Content{Role: genai.RoleModel, Parts: []session.Part{{Text: b.String()}}}
	ev.Citations = citations(cand.GroundingMetadata)
	return ev
}

// citations lists the retrieved documents backing an answer, once each.
func citations(md *genai.GroundingMetadata) []session.Citation {
	if md == nil {
		return nil
	}
	var out []session.Citation
	seen := make(map[string]bool)
	for _, chunk := range md.GroundingChunks {
		if chunk == nil || chunk.RetrievedContext == nil {
			continue
		}
		rc := chunk.RetrievedContext
		title := rc.Title
		if title == "" {
			title = rc.DocumentName
		}
		key := title + "\x00" + rc.URI
		if title == "" && rc.URI == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, session.Citation{Title: title, URI: rc.URI})
	}
	return out
}
