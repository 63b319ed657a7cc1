// Package observability wires OpenTelemetry tracing for the engine. Tracing
// is off unless Init is called; StartSpan is a cheap no-op then.
package observability

import (
	"context"
	"fmt"
	"log"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

const defaultServiceName = "agentpipe"

var (
	tracerProvider *sdktrace.TracerProvider
	tracer         trace.Tracer = otel.GetTracerProvider().Tracer(defaultServiceName)
)

// Config selects the exporter. ExporterType is "stdout", "otlp", or "none".
type Config struct {
	ServiceName  string
	ExporterType string
	OTLPEndpoint string
}

// Init installs a tracer provider for the configured exporter.
func Init(config Config) error {
	if config.ServiceName == "" {
		config.ServiceName = defaultServiceName
	}
	if config.ExporterType == "" || config.ExporterType == "none" {
		tracer = otel.GetTracerProvider().Tracer(config.ServiceName)
		return nil
	}

	res, err := resource.New(
		context.Background(),
		resource.WithAttributes(semconv.ServiceName(config.ServiceName)),
	)
	if err != nil {
		return fmt.Errorf("create resource: %w", err)
	}

	var exporter sdktrace.SpanExporter
	switch config.ExporterType {
	case "otlp":
		opts := []otlptracehttp.Option{}
		if config.OTLPEndpoint != "" {
			opts = append(opts, otlptracehttp.WithEndpointURL(config.OTLPEndpoint))
		}
		exporter, err = otlptrace.New(context.Background(), otlptracehttp.NewClient(opts...))
		if err != nil {
			return fmt.Errorf("create OTLP exporter: %w", err)
		}
	case "stdout":
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return fmt.Errorf("create stdout exporter: %w", err)
		}
	default:
		return fmt.Errorf("unknown exporter type: %s", config.ExporterType)
	}

	tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tracerProvider)
	tracer = tracerProvider.Tracer(config.ServiceName)
	log.Printf("tracing initialized (%s exporter)", config.ExporterType)
	return nil
}

// Shutdown flushes pending spans.
func Shutdown(ctx context.Context) error {
	if tracerProvider == nil {
		return nil
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
	}
	return tracerProvider.Shutdown(ctx)
}

// Span wraps an active span.
type Span struct {
	span trace.Span
}

// End finishes the span.
func (s Span) End() {
	if s.span != nil {
		s.span.End()
	}
}

// RecordError marks the span as failed.
func (s Span) RecordError(err error) {
	if s.span != nil && err != nil {
		s.span.RecordError(err)
	}
}

// StartSpan opens a span with the given attributes.
func StartSpan(ctx context.Context, name string, attrs map[string]any) (context.Context, Span) {
	var kv []attribute.KeyValue
	for k, v := range attrs {
		switch val := v.(type) {
		case string:
			kv = append(kv, attribute.String(k, val))
		case int:
			kv = append(kv, attribute.Int(k, val))
		case bool:
			kv = append(kv, attribute.Bool(k, val))
		default:
			kv = append(kv, attribute.String(k, fmt.Sprintf("%v", val)))
		}
	}
	ctx, span := tracer.Start(ctx, name, trace.WithAttributes(kv...))
	return ctx, Span{span: span}
}
