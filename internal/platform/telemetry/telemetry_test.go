package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestInit_Disabled(t *testing.T) {
	p, err := Init(context.Background(), Config{Enabled: false})
	require.NoError(t, err)
	require.NotNil(t, p.Tracer)

	ctx, span := StartSpan(context.Background(), p.Tracer, "noop")
	EndSpan(span, nil)
	assert.Empty(t, TraceID(ctx))
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestInit_NoneExporter(t *testing.T) {
	p, err := Init(context.Background(), Config{Enabled: true, Exporter: "none", SampleRate: 1})
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })

	ctx, span := StartSpan(context.Background(), p.Tracer, "engine.claim")
	assert.Len(t, TraceID(ctx), 32)
	EndSpan(span, nil)
}

func TestInit_StdoutExporter(t *testing.T) {
	p, err := Init(context.Background(), Config{Enabled: true, Exporter: "stdout"})
	require.NoError(t, err)
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestInit_UnknownExporter(t *testing.T) {
	_, err := Init(context.Background(), Config{Enabled: true, Exporter: "carrier-pigeon"})
	assert.ErrorContains(t, err, "unknown exporter")
}

func TestEndSpan_RecordsError(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	tracer := tp.Tracer(TracerName)

	_, span := StartSpan(context.Background(), tracer, "engine.progress", AttrTaskID.String("t-1"))
	EndSpan(span, errors.New("conflict"))

	ended := recorder.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, "engine.progress", ended[0].Name())
	assert.Equal(t, codes.Error, ended[0].Status().Code)
	assert.Equal(t, "conflict", ended[0].Status().Description)
	assert.Len(t, ended[0].Events(), 1)
}
