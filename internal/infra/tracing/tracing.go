// Package tracing installs the OpenTelemetry tracer provider used by the
// MCP server and the analysis dispatcher.
package tracing

import (
	"context"
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const (
	ExporterNone   = "none"
	ExporterStdout = "stdout"
)

type Options struct {
	Exporter       string
	ServiceName    string
	ServiceVersion string
	// Writer receives stdout exporter output. Defaults to os.Stderr, since
	// stdout may carry the stdio transport.
	Writer io.Writer
}

// Provider owns the SDK tracer provider and its exporter.
type Provider struct {
	tp *sdktrace.TracerProvider
}

// New builds a provider. With ExporterNone spans are still recorded and
// carry trace ids for log correlation but are never exported.
func New(opts Options) (*Provider, error) {
	res, err := sdkresource.Merge(sdkresource.Default(), sdkresource.NewSchemaless(
		attribute.String("service.name", opts.ServiceName),
		attribute.String("service.version", opts.ServiceVersion),
	))
	if err != nil {
		return nil, fmt.Errorf("tracing resource: %w", err)
	}

	tpOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	switch opts.Exporter {
	case "", ExporterNone:
	case ExporterStdout:
		w := opts.Writer
		if w == nil {
			w = os.Stderr
		}
		exp, err := stdouttrace.New(stdouttrace.WithWriter(w))
		if err != nil {
			return nil, fmt.Errorf("stdout exporter: %w", err)
		}
		tpOpts = append(tpOpts, sdktrace.WithBatcher(exp))
	default:
		return nil, fmt.Errorf("unknown trace exporter %q", opts.Exporter)
	}
	return &Provider{tp: sdktrace.NewTracerProvider(tpOpts...)}, nil
}

// Install makes p the global provider.
func (p *Provider) Install() {
	otel.SetTracerProvider(p.tp)
}

func (p *Provider) Tracer(name string) trace.Tracer {
	return p.tp.Tracer(name)
}

// Shutdown flushes pending spans.
func (p *Provider) Shutdown(ctx context.Context) error {
	return p.tp.Shutdown(ctx)
}

// TraceID returns the id of the span in ctx, or "" when there is none.
func TraceID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}
