package telemetry

import (
	"context"
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/kidoz/vmsmoke/internal/config"
)

const serviceName = "vmsmoke"

// Options tunes the tracer provider beyond the telemetry config section.
type Options struct {
	ServiceVersion string
	// Verbose prints spans when no OTLP endpoint is configured.
	Verbose bool
	// Debug receives printed spans. Defaults to stderr, since stdout
	// carries json and yaml reports.
	Debug io.Writer
}

// Init installs the global tracer provider for session and strategy spans
// and returns a shutdown function that flushes buffered spans. Spans go to
// the OTLP endpoint when one is set, to opts.Debug when verbose, and
// nowhere otherwise.
func Init(ctx context.Context, cfg *config.TelemetryConfig, opts Options) (shutdown func(context.Context) error, err error) {
	exporter, err := newExporter(ctx, cfg, opts)
	if err != nil {
		return nil, err
	}
	if exporter == nil {
		otel.SetTracerProvider(noop.NewTracerProvider())
		return func(context.Context) error { return nil }, nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(opts.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTel resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

// newExporter returns nil when spans should be dropped.
func newExporter(ctx context.Context, cfg *config.TelemetryConfig, opts Options) (sdktrace.SpanExporter, error) {
	switch {
	case !cfg.Enabled:
		return nil, nil
	case cfg.OTLPEndpoint != "":
		exp, err := otlptracehttp.New(ctx,
			otlptracehttp.WithEndpoint(cfg.OTLPEndpoint),
			otlptracehttp.WithInsecure(),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
		}
		return exp, nil
	case opts.Verbose:
		w := opts.Debug
		if w == nil {
			w = os.Stderr
		}
		exp, err := stdouttrace.New(stdouttrace.WithWriter(w), stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("failed to create span printer: %w", err)
		}
		return exp, nil
	default:
		return nil, nil
	}
}

// Tracer returns the application tracer.
func Tracer() trace.Tracer {
	return otel.Tracer(serviceName)
}

// StartSpan starts a span named after the operation with the given string
// attributes, given as key/value pairs.
func StartSpan(ctx context.Context, name string, kv ...string) (context.Context, trace.Span) {
	attrs := make([]attribute.KeyValue, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		attrs = append(attrs, attribute.String(kv[i], kv[i+1]))
	}
	return Tracer().Start(ctx, name, trace.WithAttributes(attrs...))
}
