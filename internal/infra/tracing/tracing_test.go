package tracing

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStdoutExporterWritesSpans(t *testing.T) {
	var buf bytes.Buffer
	p, err := New(Options{Exporter: ExporterStdout, ServiceName: "sans-pilot", ServiceVersion: "test", Writer: &buf})
	require.NoError(t, err)

	ctx, span := p.Tracer("test").Start(context.Background(), "analysis.execute")
	id := TraceID(ctx)
	span.End()
	require.NoError(t, p.Shutdown(context.Background()))

	assert.Len(t, id, 32)
	assert.Contains(t, buf.String(), `"Name":"analysis.execute"`)
	assert.Contains(t, buf.String(), id)
	assert.Contains(t, buf.String(), "sans-pilot")
}

func TestNoneExporterStillAssignsTraceIDs(t *testing.T) {
	p, err := New(Options{Exporter: ExporterNone, ServiceName: "sans-pilot"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })

	ctx, span := p.Tracer("test").Start(context.Background(), "mcp.tools_call")
	defer span.End()
	assert.NotEmpty(t, TraceID(ctx))
	assert.Empty(t, TraceID(context.Background()))
}

func TestUnknownExporter(t *testing.T) {
	_, err := New(Options{Exporter: "jaeger"})
	assert.ErrorContains(t, err, "jaeger")
}
