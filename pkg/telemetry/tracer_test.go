package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTracerDisabled(t *testing.T) {
	tracer, err := NewTracer(TracingConfig{}, "kindler", "dev", "test")
	require.NoError(t, err)
	defer func() { _ = tracer.Shutdown(context.Background()) }()

	ctx, span := tracer.StartRunSpan(context.Background(), "run-1", "INIT")
	require.NotNil(t, span)
	require.NotNil(t, ctx)
	span.End()
}

func TestNewTracerRejectsUnknownExporter(t *testing.T) {
	_, err := NewTracer(TracingConfig{Enabled: true, Exporter: "carrier-pigeon"}, "kindler", "dev", "test")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported trace exporter")
}

func TestTaskSpanParentedByRunSpan(t *testing.T) {
	tracer, err := NewTracer(TracingConfig{
		Enabled:      true,
		Exporter:     "none",
		SamplingRate: 1.0,
	}, "kindler", "dev", "test")
	require.NoError(t, err)
	defer func() { _ = tracer.Shutdown(context.Background()) }()

	ctx, runSpan := tracer.StartRunSpan(context.Background(), "run-1", "INIT")
	_, taskSpan := tracer.StartTaskSpan(ctx, "run-1", "install-containerd", "worker-1")

	// A task span opened under the run context shares its trace.
	assert.Equal(t,
		runSpan.SpanContext().TraceID(),
		taskSpan.SpanContext().TraceID())

	RecordError(taskSpan, errors.New("exploded"))
	taskSpan.End()
	runSpan.End()
}
