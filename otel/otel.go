// Package otel provides higher level APIs around Open Telemetry instrumentation.
package otel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.20.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const serviceName = "torwell-verify"

// Trace outputs.
const (
	OutputNone   = "none"
	OutputStdout = "stdout"
	OutputHTTP   = "http"
	OutputGRPC   = "grpc"
)

// ErrUnsupportedProto indicates that the defined exporter protocol is not supported.
var ErrUnsupportedProto = errors.New("unsupported protocol")

// TraceProvider provides methods for tracers initialization and shutdown of the
// processing pipeline.
type TraceProvider interface {
	trace.TracerProvider
	Shutdown(ctx context.Context) error
}

type (
	traceProvShutdownFunc func(ctx context.Context) error
)

type traceProvider struct {
	trace.TracerProvider

	noop bool

	shutdown traceProvShutdownFunc
}

// Options selects where spans are exported to.
type Options struct {
	// Output is one of none, stdout, http or grpc.
	Output   string
	Endpoint string
	Insecure bool
	// Writer receives the stdout output; nil means os.Stdout.
	Writer io.Writer
}

// NewTraceProvider creates a new trace provider exporting to opts.Output.
func NewTraceProvider(ctx context.Context, opts Options) (TraceProvider, error) {
	output := strings.ToLower(opts.Output)
	if output == "" || output == OutputNone {
		return NewNoopTraceProvider(), nil
	}

	exporter, err := newExporter(ctx, output, opts)
	if err != nil {
		return nil, fmt.Errorf("creating exporter: %w", err)
	}

	prov := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(newResource()),
	)

	otel.SetTracerProvider(prov)

	return &traceProvider{
		TracerProvider: prov,
		shutdown:       prov.Shutdown,
	}, nil
}

func newResource() *resource.Resource {
	return resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(serviceName),
	)
}

func newExporter(ctx context.Context, output string, opts Options) (sdktrace.SpanExporter, error) {
	if output == OutputStdout {
		sopts := []stdouttrace.Option{stdouttrace.WithPrettyPrint()}
		if opts.Writer != nil {
			sopts = append(sopts, stdouttrace.WithWriter(opts.Writer))
		}
		return stdouttrace.New(sopts...)
	}

	client, err := newClient(output, opts.Endpoint, opts.Insecure)
	if err != nil {
		return nil, fmt.Errorf("creating exporter client: %w", err)
	}

	return otlptrace.New(ctx, client)
}

func newClient(proto, endpoint string, insecure bool) (otlptrace.Client, error) {
	switch proto {
	case OutputHTTP:
		return newHTTPClient(endpoint, insecure), nil
	case OutputGRPC:
		return newGRPCClient(endpoint, insecure), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedProto, proto)
	}
}

func newHTTPClient(endpoint string, insecure bool) otlptrace.Client {
	var opts []otlptracehttp.Option
	if endpoint != "" {
		opts = append(opts, otlptracehttp.WithEndpoint(endpoint))
	}
	if insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	return otlptracehttp.NewClient(opts...)
}

func newGRPCClient(endpoint string, insecure bool) otlptrace.Client {
	var opts []otlptracegrpc.Option
	if endpoint != "" {
		opts = append(opts, otlptracegrpc.WithEndpoint(endpoint))
	}
	if insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	return otlptracegrpc.NewClient(opts...)
}

// NewNoopTraceProvider creates a new noop trace provider.
func NewNoopTraceProvider() TraceProvider {
	return &traceProvider{
		TracerProvider: noop.NewTracerProvider(),
		noop:           true,
	}
}

// Shutdown flushes pending spans and shuts down TracerProvider releasing any
// held computational resources. After Shutdown is called, all methods are
// no-ops.
func (tp *traceProvider) Shutdown(ctx context.Context) error {
	if tp.noop {
		return nil
	}

	return tp.shutdown(ctx)
}
