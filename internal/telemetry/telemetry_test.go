package telemetry

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func TestEmitPlanAndRunStep(t *testing.T) {
	t.Parallel()

	tracer, recorder := newTestTracer()
	var plan Plan
	plan.Add("agent", "", "Generate agent key").Add("app/chat", "", "Install chat")
	op, err := EmitPlan(context.Background(), tracer, "install", plan)
	if err != nil {
		t.Fatalf("EmitPlan() error = %v", err)
	}

	err = op.RunStep(op.Context(), "app/chat", func(ctx context.Context) error {
		RecordState(ctx, "chat", "installed")
		return nil
	}, attribute.String(AppIDKey, "chat"))
	if err != nil {
		t.Fatalf("RunStep() error = %v", err)
	}
	op.End(nil)

	spans := recorder.Ended()
	if got, want := len(spans), 2; got != want {
		t.Fatalf("ended span count = %d, want %d", got, want)
	}

	root := findSpan(spans, "install")
	if root == nil {
		t.Fatal("missing root span")
	}
	if len(root.Events()) == 0 || root.Events()[0].Name != PlanEventName {
		t.Fatalf("root events = %v, want plan event", root.Events())
	}
	recorded, err := ParsePlan(attr(root.Events()[0].Attributes, PlanJSONKey))
	if err != nil {
		t.Fatalf("ParsePlan() error = %v", err)
	}
	if got, want := len(recorded.Steps), 2; got != want {
		t.Fatalf("recorded plan steps = %d, want %d", got, want)
	}

	step := findSpan(spans, "app/chat")
	if step == nil {
		t.Fatal("missing step span")
	}
	if step.Parent().SpanID() != root.SpanContext().SpanID() {
		t.Fatalf("step parent = %s, want %s", step.Parent().SpanID(), root.SpanContext().SpanID())
	}
	if got, want := attr(step.Attributes(), AppIDKey), "chat"; got != want {
		t.Fatalf("step app id = %q, want %q", got, want)
	}
	events := step.Events()
	if len(events) != 1 || events[0].Name != StateEventName {
		t.Fatalf("step events = %v, want one state event", events)
	}
	if got, want := attr(events[0].Attributes, AppStateKey), "installed"; got != want {
		t.Fatalf("state event = %q, want %q", got, want)
	}
}

func TestRunStepFailureSetsErrorStatus(t *testing.T) {
	t.Parallel()

	tracer, recorder := newTestTracer()
	op, err := EmitPlan(context.Background(), tracer, "install", Plan{Steps: []PlannedStep{{ID: "agent", Title: "agent"}}})
	if err != nil {
		t.Fatalf("EmitPlan() error = %v", err)
	}

	boom := errors.New("boom")
	err = op.RunStep(op.Context(), "agent", func(context.Context) error { return boom })
	if !errors.Is(err, boom) {
		t.Fatalf("RunStep() error = %v, want boom", err)
	}
	op.End(err)

	for _, name := range []string{"agent", "install"} {
		span := findSpan(recorder.Ended(), name)
		if span == nil {
			t.Fatalf("missing span %q", name)
		}
		if span.Status().Code != codes.Error || span.Status().Description != "boom" {
			t.Fatalf("span %q status = %+v, want error boom", name, span.Status())
		}
	}
}

func TestRunStepWithoutOperation(t *testing.T) {
	t.Parallel()

	var op *Operation
	called := false
	if err := op.RunStep(context.Background(), "x", func(context.Context) error {
		called = true
		return nil
	}); err != nil {
		t.Fatalf("RunStep() error = %v", err)
	}
	if !called {
		t.Fatal("step function not called")
	}
	if err := op.RunStep(context.Background(), " ", func(context.Context) error { return nil }); err == nil {
		t.Fatal("RunStep() with blank id error = nil, want error")
	}
	op.End(nil)
}

func TestEmitPlanValidation(t *testing.T) {
	t.Parallel()

	tracer, _ := newTestTracer()
	tests := []struct {
		name string
		plan Plan
	}{
		{"duplicate", Plan{Steps: []PlannedStep{{ID: "a"}, {ID: "a"}}}},
		{"empty id", Plan{Steps: []PlannedStep{{ID: " "}}}},
		{"missing parent", Plan{Steps: []PlannedStep{{ID: "a", ParentID: "b"}}}},
	}
	for _, tt := range tests {
		if _, err := EmitPlan(context.Background(), tracer, "install", tt.plan); err == nil {
			t.Fatalf("%s: EmitPlan() error = nil, want error", tt.name)
		}
	}
	if _, err := EmitPlan(context.Background(), nil, "install", Plan{}); err == nil {
		t.Fatal("EmitPlan() with nil tracer error = nil, want error")
	}
}

func newTestTracer() (trace.Tracer, *tracetest.SpanRecorder) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	return provider.Tracer("telemetry-test"), recorder
}

func findSpan(spans []sdktrace.ReadOnlySpan, name string) sdktrace.ReadOnlySpan {
	for _, span := range spans {
		if span.Name() == name {
			return span
		}
	}
	return nil
}

func attr(attrs []attribute.KeyValue, key string) string {
	for _, a := range attrs {
		if string(a.Key) == key {
			return a.Value.AsString()
		}
	}
	return ""
}
