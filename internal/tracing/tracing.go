// Package tracing configures OpenTelemetry spans around remote operations.
package tracing

import (
	"context"
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Exporter names accepted by NewProvider.
const (
	ExporterNone   = "none"
	ExporterStdout = "stdout"
)

const defaultServiceName = "greeter"

// Config selects the exporter.
type Config struct {
	Exporter    string
	ServiceName string
	// Writer receives stdout-exporter output. It defaults to os.Stderr so
	// spans never mix with command output.
	Writer io.Writer
}

// Provider owns the tracer provider and hands out its tracer.
type Provider struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// NewProvider returns a provider for cfg. The "none" exporter (or empty)
// yields a no-op tracer.
func NewProvider(cfg Config) (*Provider, error) {
	name := cfg.ServiceName
	if name == "" {
		name = defaultServiceName
	}

	switch cfg.Exporter {
	case "", ExporterNone:
		return &Provider{tracer: noop.NewTracerProvider().Tracer(name)}, nil
	case ExporterStdout:
	default:
		return nil, fmt.Errorf("unsupported trace exporter %q", cfg.Exporter)
	}

	w := cfg.Writer
	if w == nil {
		w = os.Stderr
	}
	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w), stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("create stdout exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(resource.NewSchemaless(attribute.String("service.name", name))),
		sdktrace.WithBatcher(exporter),
	)
	otel.SetTracerProvider(tp)
	return &Provider{provider: tp, tracer: tp.Tracer(name)}, nil
}

// Noop returns a provider whose spans are discarded.
func Noop() *Provider {
	p, _ := NewProvider(Config{})
	return p
}

// Tracer returns the tracer. It is never nil.
func (p *Provider) Tracer() trace.Tracer { return p.tracer }

// Enabled reports whether spans are exported.
func (p *Provider) Enabled() bool { return p.provider != nil }

// Shutdown flushes pending spans.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.provider == nil {
		return nil
	}
	return p.provider.Shutdown(ctx)
}
