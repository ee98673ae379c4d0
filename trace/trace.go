// Package trace provides tracing instrumentation for verification runs.
package trace

import (
	"context"
	"sort"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/torwell84/torwell-verify/log"
)

const tracerName = "torwell.verify"

// liveSpan is the root span of a scenario run in progress.
type liveSpan struct {
	ctx  context.Context
	span trace.Span
}

// Tracer generates a span per scenario run with child spans for its
// navigation, steps, assertions and screenshot.
type Tracer struct {
	logger *log.Logger

	trace.Tracer

	metadata []attribute.KeyValue

	liveSpansMu sync.Mutex
	liveSpans   map[string]*liveSpan
}

// NewTracer creates a new Tracer from the given TracerProvider. Every span
// carries metadata as string attributes.
func NewTracer(
	logger *log.Logger, tp trace.TracerProvider, metadata map[string]string, options ...trace.TracerOption,
) *Tracer {
	return &Tracer{
		logger:    logger,
		Tracer:    tp.Tracer(tracerName, options...),
		metadata:  buildMetadataAttributes(metadata),
		liveSpans: make(map[string]*liveSpan),
	}
}

// NewNoopTracer returns a Tracer whose spans record nothing.
func NewNoopTracer() *Tracer {
	return NewTracer(log.NewNullLogger(), noop.NewTracerProvider(), nil)
}

// Start overrides the underlying OTEL tracer method to include the tracer metadata.
func (t *Tracer) Start(
	ctx context.Context, spanName string, opts ...trace.SpanStartOption,
) (context.Context, trace.Span) {
	opts = append(opts, trace.WithAttributes(t.metadata...))
	return t.Tracer.Start(ctx, spanName, opts...)
}

// GetTraceID returns the hex trace ID of spanCtx, or "" if it has none.
func GetTraceID(spanCtx trace.SpanContext) string {
	if spanCtx.HasTraceID() {
		traceID := spanCtx.TraceID()
		return traceID.String()
	}
	return ""
}

// TraceScenario starts the root span of the scenario run identified by key.
// A live span left over from an earlier run under the same key is ended
// first. The span is ended by EndScenario.
func (t *Tracer) TraceScenario(
	ctx context.Context, key string, opts ...trace.SpanStartOption,
) (context.Context, trace.Span) {
	t.liveSpansMu.Lock()
	defer t.liveSpansMu.Unlock()

	ls := t.liveSpans[key]
	if ls != nil {
		ls.span.End()
	} else {
		ls = &liveSpan{}
	}

	spanName := "scenario " + key
	ls.ctx, ls.span = t.Start(ctx, spanName, opts...)
	t.liveSpans[key] = ls

	t.logger.Debugf("Tracer:TraceScenario", "spanName:%q traceID:%q",
		spanName, GetTraceID(ls.span.SpanContext()))

	return ls.ctx, &SpanLogger{Span: ls.span, logger: t.logger, spanName: spanName}
}

// TraceStep starts a child span of the live scenario span for key. The
// returned context keeps the deadline and values of ctx; only the parent
// span is replaced. Without a live span the new span is based on ctx alone.
// It is the caller's responsibility to end the span.
func (t *Tracer) TraceStep(
	ctx context.Context, key string, spanName string, opts ...trace.SpanStartOption,
) (context.Context, trace.Span) {
	t.liveSpansMu.Lock()
	parent := ctx
	if ls := t.liveSpans[key]; ls != nil {
		parent = trace.ContextWithSpan(ctx, ls.span)
	}
	t.liveSpansMu.Unlock()

	sCtx, span := t.Start(parent, spanName, opts...)

	return sCtx, &SpanLogger{Span: span, logger: t.logger, spanName: spanName}
}

// EndScenario records err on the live span for key, ends it and forgets it.
func (t *Tracer) EndScenario(key string, err error) {
	t.liveSpansMu.Lock()
	ls := t.liveSpans[key]
	delete(t.liveSpans, key)
	t.liveSpansMu.Unlock()

	if ls == nil {
		t.logger.Debugf("Tracer:EndScenario", "no live span for %q", key)
		return
	}
	EndWith(ls.span, err)
}

// EndWith sets the span status from err and ends the span.
func EndWith(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

func buildMetadataAttributes(metadata map[string]string) []attribute.KeyValue {
	keys := make([]string, 0, len(metadata))
	for k := range metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	meta := make([]attribute.KeyValue, 0, len(metadata))
	for _, k := range keys {
		meta = append(meta, attribute.String(k, metadata[k]))
	}

	return meta
}

// SpanLogger is a Span that will log the method calls.
type SpanLogger struct {
	trace.Span
	logger   *log.Logger
	spanName string
}

// SetStatus will log some info before calling the underlying SetStatus.
func (i *SpanLogger) SetStatus(code codes.Code, description string) {
	traceID := GetTraceID(i.SpanContext())
	i.logger.Tracef("Span:SetStatus", "spanName:%q traceID:%q code:%q description:%q", i.spanName, traceID, code, description)

	i.Span.SetStatus(code, description)
}

// End will log some info before calling the underlying End.
func (i *SpanLogger) End(options ...trace.SpanEndOption) {
	traceID := GetTraceID(i.SpanContext())
	i.logger.Tracef("Span:End", "spanName:%q traceID:%q", i.spanName, traceID)

	i.Span.End(options...)
}

// RecordError will log some info before calling the underlying RecordError.
func (i *SpanLogger) RecordError(err error, options ...trace.EventOption) {
	traceID := GetTraceID(i.SpanContext())
	i.logger.Tracef("Span:RecordError", "spanName:%q traceID:%q err:%q", i.spanName, traceID, err)

	i.Span.RecordError(err, options...)
}
