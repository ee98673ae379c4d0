package trace

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/torwell84/torwell-verify/log"
)

func newRecordingTracer(t *testing.T) (*Tracer, *tracetest.SpanRecorder) {
	t.Helper()

	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	return NewTracer(log.NewNullLogger(), tp, map[string]string{"run.id": "r1"}), sr
}

func spansByName(spans []sdktrace.ReadOnlySpan) map[string]sdktrace.ReadOnlySpan {
	m := make(map[string]sdktrace.ReadOnlySpan, len(spans))
	for _, s := range spans {
		m[s.Name()] = s
	}
	return m
}

func TestTraceScenario(t *testing.T) {
	t.Parallel()

	tr, sr := newRecordingTracer(t)
	ctx := context.Background()

	sCtx, _ := tr.TraceScenario(ctx, "settings")
	_, step := tr.TraceStep(sCtx, "settings", "wait")
	EndWith(step, nil)
	// Without the scenario context the step still joins the live span.
	_, shot := tr.TraceStep(ctx, "settings", "screenshot")
	EndWith(shot, errors.New("capture failed"))
	tr.EndScenario("settings", nil)

	spans := spansByName(sr.Ended())
	require.Len(t, spans, 3)

	root := spans["scenario settings"]
	require.NotNil(t, root)
	assert.Equal(t, codes.Ok, root.Status().Code)
	assert.Contains(t, root.Attributes(), attribute.String("run.id", "r1"))

	for _, name := range []string{"wait", "screenshot"} {
		s := spans[name]
		require.NotNil(t, s, name)
		assert.Equal(t, root.SpanContext().SpanID(), s.Parent().SpanID(), name)
		assert.Equal(t, root.SpanContext().TraceID(), s.SpanContext().TraceID(), name)
	}
	assert.Equal(t, codes.Error, spans["screenshot"].Status().Code)
	assert.Equal(t, "capture failed", spans["screenshot"].Status().Description)
}

func TestTraceScenarioEndsPreviousLiveSpan(t *testing.T) {
	t.Parallel()

	tr, sr := newRecordingTracer(t)

	tr.TraceScenario(context.Background(), "dashboard")
	assert.Empty(t, sr.Ended())

	tr.TraceScenario(context.Background(), "dashboard")
	assert.Len(t, sr.Ended(), 1)

	tr.EndScenario("dashboard", errors.New("navigation timed out"))
	ended := sr.Ended()
	require.Len(t, ended, 2)
	assert.Equal(t, codes.Error, ended[1].Status().Code)

	// A second end is a no-op.
	tr.EndScenario("dashboard", nil)
	assert.Len(t, sr.Ended(), 2)
}

func TestTraceStepKeepsDeadline(t *testing.T) {
	t.Parallel()

	type ctxKey struct{}

	tr, sr := newRecordingTracer(t)
	sCtx, _ := tr.TraceScenario(context.Background(), "settings")

	stepCtx, cancel := context.WithTimeout(sCtx, 50*time.Millisecond)
	defer cancel()
	stepCtx = context.WithValue(stepCtx, ctxKey{}, "step")
	want, ok := stepCtx.Deadline()
	require.True(t, ok)

	ctx, span := tr.TraceStep(stepCtx, "settings", "wait")

	got, ok := ctx.Deadline()
	require.True(t, ok, "the step deadline must survive")
	assert.Equal(t, want, got)
	assert.Equal(t, "step", ctx.Value(ctxKey{}))
	assert.Equal(t, span.SpanContext().SpanID(), trace.SpanContextFromContext(ctx).SpanID())

	select {
	case <-ctx.Done():
		assert.ErrorIs(t, ctx.Err(), context.DeadlineExceeded)
	case <-time.After(5 * time.Second):
		t.Fatal("step context was never cancelled by its deadline")
	}

	EndWith(span, ctx.Err())
	tr.EndScenario("settings", nil)

	spans := spansByName(sr.Ended())
	require.Len(t, spans, 2)
	root := spans["scenario settings"]
	require.NotNil(t, root)
	assert.Equal(t, root.SpanContext().SpanID(), spans["wait"].Parent().SpanID())
}

func TestTraceStepWithoutLiveSpan(t *testing.T) {
	t.Parallel()

	tr, sr := newRecordingTracer(t)

	_, span := tr.TraceStep(context.Background(), "missing", "wait")
	span.End()

	ended := sr.Ended()
	require.Len(t, ended, 1)
	assert.False(t, ended[0].Parent().IsValid())
}

func TestNoopTracer(t *testing.T) {
	t.Parallel()

	tr := NewNoopTracer()
	ctx, span := tr.TraceScenario(context.Background(), "showcase")
	assert.False(t, span.IsRecording())
	assert.Empty(t, GetTraceID(span.SpanContext()))

	_, step := tr.TraceStep(ctx, "showcase", "sleep")
	EndWith(step, nil)
	tr.EndScenario("showcase", nil)
}
