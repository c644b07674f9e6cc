package observability

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func restoreGlobalProvider(t *testing.T) {
	t.Helper()
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })
}

func TestInitTracer_NoopByDefault(t *testing.T) {
	restoreGlobalProvider(t)

	tp, shutdown, err := InitTracer(context.Background(), TracerConfig{})
	require.NoError(t, err)
	defer func() { assert.NoError(t, shutdown(context.Background())) }()

	_, span := Tracer(tp, "test").Start(context.Background(), "noop")
	defer span.End()
	assert.False(t, span.SpanContext().IsValid())
	assert.False(t, span.IsRecording())
}

func TestInitTracer_NoneIsNoop(t *testing.T) {
	restoreGlobalProvider(t)

	tp, _, err := InitTracer(context.Background(), TracerConfig{Exporter: "NONE"})
	require.NoError(t, err)
	_, span := tp.Tracer("test").Start(context.Background(), "noop")
	assert.False(t, span.IsRecording())
}

func TestInitTracer_ConsoleExporter(t *testing.T) {
	restoreGlobalProvider(t)
	var buf bytes.Buffer

	tp, shutdown, err := InitTracer(context.Background(), TracerConfig{
		Exporter:    ExporterConsole,
		ServiceName: "helpdesk-test",
		Writer:      &buf,
	})
	require.NoError(t, err)

	_, span := Tracer(nil, "test").Start(context.Background(), "console-span")
	assert.True(t, span.IsRecording())
	span.End()
	require.NoError(t, shutdown(context.Background()))

	assert.Same(t, tp, otel.GetTracerProvider())
	assert.Contains(t, buf.String(), "console-span")
	assert.Contains(t, buf.String(), "helpdesk-test")
}

func TestTracerConfig_Validate(t *testing.T) {
	assert.NoError(t, TracerConfig{}.Validate())
	assert.NoError(t, TracerConfig{Exporter: "otlp", SamplingRate: 0.5}.Validate())
	assert.Error(t, TracerConfig{Exporter: "jaeger"}.Validate())
	assert.Error(t, TracerConfig{Exporter: "console", SamplingRate: 1.5}.Validate())

	_, _, err := InitTracer(context.Background(), TracerConfig{Exporter: "zipkin"})
	assert.Error(t, err)
}

func TestRecordError(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))

	_, failed := tp.Tracer("test").Start(context.Background(), "failed")
	RecordError(failed, errors.New("boom"))
	failed.End()

	_, cancelled := tp.Tracer("test").Start(context.Background(), "cancelled")
	RecordError(cancelled, context.Canceled)
	cancelled.End()

	_, ok := tp.Tracer("test").Start(context.Background(), "ok")
	RecordError(ok, nil)
	ok.End()

	spans := rec.Ended()
	require.Len(t, spans, 3)
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Equal(t, "boom", spans[0].Status().Description)
	assert.Equal(t, codes.Unset, spans[1].Status().Code)
	assert.Len(t, spans[1].Events(), 1)
	assert.Equal(t, codes.Unset, spans[2].Status().Code)
	assert.Empty(t, spans[2].Events())
}
