package agent

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"google.golang.org/genai"

	"github.com/sscollege/helpdesk/pkg/instruction"
	"github.com/sscollege/helpdesk/pkg/session"
)

type generateCall struct {
	model    string
	contents []*genai.Content
	config   *genai.GenerateContentConfig
}

type fakeGenerator struct {
	mu    sync.Mutex
	calls []generateCall
	resp  *genai.GenerateContentResponse
	err   error
}

func (f *fakeGenerator) GenerateContent(_ context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, generateCall{model: model, contents: contents, config: config})
	return f.resp, f.err
}

func textResponse(text string, chunks ...*genai.GroundingChunk) *genai.GenerateContentResponse {
	cand := &genai.Candidate{
		Content:      &genai.Content{Role: genai.RoleModel, Parts: []*genai.Part{{Text: text}}},
		FinishReason: genai.FinishReasonStop,
	}
	if len(chunks) > 0 {
		cand.GroundingMetadata = &genai.GroundingMetadata{GroundingChunks: chunks}
	}
	return &genai.GenerateContentResponse{Candidates: []*genai.Candidate{cand}}
}

func retrieved(title, uri string) *genai.GroundingChunk {
	return &genai.GroundingChunk{RetrievedContext: &genai.GroundingChunkRetrievedContext{Title: title, URI: uri}}
}

func userMessage(text string) *session.Content {
	return &session.Content{Role: "user", Parts: []session.Part{{Text: text}}}
}

func newTestRunner(t *testing.T, gen Generator, defs ...*Definition) (*Runner, session.Service, *session.Session) {
	t.Helper()
	if len(defs) == 0 {
		d := Builtin()
		d.SetDefaults(Defaults{Corpus: testCorpus})
		require.NoError(t, d.Validate())
		defs = []*Definition{d}
	}
	sessions := session.InMemoryService()
	sess, err := sessions.Create(context.Background(), &session.CreateRequest{
		AppName: defs[0].Name, UserID: "u1", SessionID: "s1",
	})
	require.NoError(t, err)
	return NewRunner(NewRegistry(defs), sessions, gen), sessions, sess
}

func TestRun_GroundedAnswer(t *testing.T) {
	gen := &fakeGenerator{resp: textResponse("Admissions open in June.",
		retrieved("ssragcorpus.pdf", "gs://bucket/ssragcorpus.pdf"),
		retrieved("ssragcorpus.pdf", "gs://bucket/ssragcorpus.pdf"),
		retrieved("fees.pdf", ""),
	)}
	runner, sessions, _ := newTestRunner(t, gen)

	events, err := runner.Run(context.Background(), &RunRequest{
		AppName: DefaultAgentName, UserID: "u1", SessionID: "s1",
		NewMessage: userMessage("When do admissions open?"),
	})
	require.NoError(t, err)
	require.Len(t, events, 2)

	assert.Equal(t, AuthorUser, events[0].Author)
	answer := events[1]
	assert.Equal(t, DefaultAgentName, answer.Author)
	assert.Equal(t, "Admissions open in June.", answer.Content.Text())
	assert.Equal(t, events[0].InvocationID, answer.InvocationID)
	assert.Equal(t, []session.Citation{
		{Title: "ssragcorpus.pdf", URI: "gs://bucket/ssragcorpus.pdf"},
		{Title: "fees.pdf"},
	}, answer.Citations)

	require.Len(t, gen.calls, 1)
	call := gen.calls[0]
	assert.Equal(t, DefaultModel, call.model)
	require.Len(t, call.contents, 1)
	assert.Equal(t, genai.RoleUser, call.contents[0].Role)

	assert.Equal(t, instruction.Instructions(instruction.VariantAdmissions), call.config.SystemInstruction.Parts[0].Text)
	require.Len(t, call.config.Tools, 1)
	store := call.config.Tools[0].Retrieval.VertexRAGStore
	require.NotNil(t, store)
	assert.Equal(t, testCorpus, store.RAGResources[0].RAGCorpus)
	assert.Equal(t, int32(DefaultTopK), *store.SimilarityTopK)
	assert.Nil(t, store.VectorDistanceThreshold)

	stored, err := sessions.Get(context.Background(), &session.GetRequest{AppName: DefaultAgentName, UserID: "u1", SessionID: "s1"})
	require.NoError(t, err)
	assert.Len(t, stored.Events, 2)
}

func TestRun_SendsHistory(t *testing.T) {
	gen := &fakeGenerator{resp: textResponse("ok")}
	runner, _, _ := newTestRunner(t, gen)
	ctx := context.Background()

	for _, q := range []string{"first", "second"} {
		_, err := runner.Run(ctx, &RunRequest{AppName: DefaultAgentName, UserID: "u1", SessionID: "s1", NewMessage: userMessage(q)})
		require.NoError(t, err)
	}

	require.Len(t, gen.calls, 2)
	contents := gen.calls[1].contents
	require.Len(t, contents, 3)
	assert.Equal(t, "first", contents[0].Parts[0].Text)
	assert.Equal(t, genai.RoleModel, contents[1].Role)
	assert.Equal(t, "second", contents[2].Parts[0].Text)
}

func TestRun_NoCorpusNoTool(t *testing.T) {
	gen := &fakeGenerator{resp: textResponse("ok")}
	d := Builtin()
	d.SetDefaults(Defaults{})
	require.NoError(t, d.Validate())
	runner, _, _ := newTestRunner(t, gen, d)

	_, err := runner.Run(context.Background(), &RunRequest{AppName: d.Name, UserID: "u1", SessionID: "s1", NewMessage: userMessage("hi")})
	require.NoError(t, err)
	assert.Empty(t, gen.calls[0].config.Tools)
}

func TestRun_CustomInstructionRendersState(t *testing.T) {
	gen := &fakeGenerator{resp: textResponse("ok")}
	d := &Definition{Name: "desk", Instruction: "You help {user:name} with {campus?} admissions."}
	d.SetDefaults(Defaults{})
	require.NoError(t, d.Validate())

	sessions := session.InMemoryService()
	_, err := sessions.Create(context.Background(), &session.CreateRequest{
		AppName: "desk", UserID: "u1", SessionID: "s1",
		State: map[string]any{"user:name": "Asha"},
	})
	require.NoError(t, err)
	runner := NewRunner(NewRegistry([]*Definition{d}), sessions, gen)

	_, err = runner.Run(context.Background(), &RunRequest{AppName: "desk", UserID: "u1", SessionID: "s1", NewMessage: userMessage("hi")})
	require.NoError(t, err)
	assert.Equal(t, "You help Asha with  admissions.", gen.calls[0].config.SystemInstruction.Parts[0].Text)
}

func TestRun_Errors(t *testing.T) {
	gen := &fakeGenerator{resp: textResponse("ok")}
	runner, _, _ := newTestRunner(t, gen)
	ctx := context.Background()

	_, err := runner.Run(ctx, &RunRequest{AppName: "nope", UserID: "u1", SessionID: "s1", NewMessage: userMessage("hi")})
	assert.ErrorIs(t, err, ErrAgentNotFound)

	_, err = runner.Run(ctx, &RunRequest{AppName: DefaultAgentName, UserID: "u1", SessionID: "s1", NewMessage: userMessage("  ")})
	assert.ErrorIs(t, err, ErrEmptyMessage)

	_, err = runner.Run(ctx, &RunRequest{AppName: DefaultAgentName, UserID: "u1", SessionID: "missing", NewMessage: userMessage("hi")})
	assert.ErrorIs(t, err, session.ErrSessionNotFound)

	assert.Empty(t, gen.calls)
}

func TestRun_GeneratorFailure(t *testing.T) {
	gen := &fakeGenerator{err: errors.New("quota exceeded")}
	runner, _, _ := newTestRunner(t, gen)

	events, err := runner.Run(context.Background(), &RunRequest{AppName: DefaultAgentName, UserID: "u1", SessionID: "s1", NewMessage: userMessage("hi")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quota exceeded")
	require.Len(t, events, 1)
	assert.Equal(t, AuthorUser, events[0].Author)
}

func TestRun_BlockedResponse(t *testing.T) {
	gen := &fakeGenerator{resp: &genai.GenerateContentResponse{
		PromptFeedback: &genai.GenerateContentResponsePromptFeedback{BlockReason: "SAFETY"},
	}}
	runner, _, _ := newTestRunner(t, gen)

	events, err := runner.Run(context.Background(), &RunRequest{AppName: DefaultAgentName, UserID: "u1", SessionID: "s1", NewMessage: userMessage("hi")})
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Nil(t, events[1].Content)
	assert.Contains(t, events[1].ErrorMessage, "SAFETY")
}

func spanAttr(span sdktrace.ReadOnlySpan, key string) attribute.Value {
	for _, kv := range span.Attributes() {
		if string(kv.Key) == key {
			return kv.Value
		}
	}
	return attribute.Value{}
}

func TestRun_RecordsSpans(t *testing.T) {
	resp := textResponse("Admissions open in June.")
	resp.UsageMetadata = &genai.GenerateContentResponseUsageMetadata{PromptTokenCount: 12, CandidatesTokenCount: 5}
	gen := &fakeGenerator{resp: resp}
	_, sessions, _ := newTestRunner(t, gen)

	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	d := Builtin()
	d.SetDefaults(Defaults{Corpus: testCorpus})
	runner := NewRunner(NewRegistry([]*Definition{d}), sessions, gen, WithTracerProvider(tp))

	_, err := runner.Run(context.Background(), &RunRequest{
		AppName: DefaultAgentName, UserID: "u1", SessionID: "s1",
		NewMessage: userMessage("When do admissions open?"),
	})
	require.NoError(t, err)

	spans := rec.Ended()
	require.Len(t, spans, 2)
	gen0, run := spans[0], spans[1]
	assert.Equal(t, "gemini.generate_content", gen0.Name())
	assert.Equal(t, "agent.run", run.Name())
	assert.Equal(t, run.SpanContext().SpanID(), gen0.Parent().SpanID())
	assert.Equal(t, DefaultModel, spanAttr(gen0, "gen_ai.request.model").AsString())
	assert.Equal(t, int64(12), spanAttr(gen0, "gen_ai.usage.input_tokens").AsInt64())
	assert.Equal(t, string(genai.FinishReasonStop), spanAttr(gen0, "gen_ai.response.finish_reason").AsString())
	assert.Equal(t, DefaultAgentName, spanAttr(run, "agent.name").AsString())
	assert.Equal(t, "s1", spanAttr(run, "session.id").AsString())
	assert.Equal(t, codes.Unset, run.Status().Code)
}

func TestRun_GeneratorFailureMarksSpans(t *testing.T) {
	gen := &fakeGenerator{err: errors.New("quota exceeded")}
	_, sessions, _ := newTestRunner(t, gen)

	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	d := Builtin()
	d.SetDefaults(Defaults{Corpus: testCorpus})
	runner := NewRunner(NewRegistry([]*Definition{d}), sessions, gen, WithTracerProvider(tp))

	_, err := runner.Run(context.Background(), &RunRequest{
		AppName: DefaultAgentName, UserID: "u1", SessionID: "s1",
		NewMessage: userMessage("hello"),
	})
	require.Error(t, err)

	spans := rec.Ended()
	require.Len(t, spans, 2)
	for _, s := range spans {
		assert.Equal(t, codes.Error, s.Status().Code, s.Name())
	}
	assert.Contains(t, spans[1].Status().Description, "quota exceeded")
}

func TestBuildContents_SkipsFailedTurns(t *testing.T) {
	events := []*session.Event{
		{Author: AuthorUser, Content: userMessage("q1")},
		{Author: "college_agent", ErrorMessage: "blocked"},
		{Author: AuthorUser, Content: userMessage("q2")},
	}
	contents := buildContents(events, 0)
	require.Len(t, contents, 2)
	assert.Equal(t, "q2", contents[1].Parts[0].Text)

	assert.Len(t, buildContents(events, 1), 1)
}

func TestRetrievalTool(t *testing.T) {
	assert.Nil(t, retrievalTool(Retrieval{}))
	assert.Nil(t, retrievalTool(Retrieval{Corpus: testCorpus, Disabled: true}))

	tool := retrievalTool(Retrieval{Corpus: testCorpus, TopK: 4, VectorDistanceThreshold: 0.3})
	require.NotNil(t, tool)
	store := tool.Retrieval.VertexRAGStore
	assert.Equal(t, int32(4), *store.SimilarityTopK)
	assert.Equal(t, 0.3, *store.VectorDistanceThreshold)
}
