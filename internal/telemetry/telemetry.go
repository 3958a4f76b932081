// Package telemetry wraps an install run in OpenTelemetry spans: one root
// span carrying the planned steps, and one child span per executed step.
// Console output is rendered from these spans.
package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	TracerName       = "happinstall"
	PlanEventName    = "happinstall.plan"
	PlanVersion      = "1"
	PlanVersionKey   = "happinstall.plan.version"
	PlanJSONKey      = "happinstall.plan.json"
	StateEventName   = "happinstall.state"
	AppIDKey         = "happinstall.app.id"
	AppIndexKey      = "happinstall.app.index"
	AppStateKey      = "happinstall.app.state"
	defaultOperation = "install"
)

// Tracer returns the process tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(TracerName)
}

type PlannedStep struct {
	ID       string `json:"id"`
	ParentID string `json:"parent_id,omitempty"`
	Title    string `json:"title"`
}

type Plan struct {
	Steps []PlannedStep `json:"steps"`
}

// Add appends a step and returns the plan for chaining.
func (p *Plan) Add(id, parentID, title string) *Plan {
	p.Steps = append(p.Steps, PlannedStep{ID: id, ParentID: parentID, Title: title})
	return p
}

// Operation is the root span of one run.
type Operation struct {
	ctx    context.Context
	tracer trace.Tracer
	span   trace.Span
}

// EmitPlan validates plan, opens the root span and records the plan on it.
func EmitPlan(ctx context.Context, tracer trace.Tracer, operation string, plan Plan) (*Operation, error) {
	if tracer == nil {
		return nil, fmt.Errorf("emit telemetry plan: tracer is required")
	}
	if err := validatePlan(plan); err != nil {
		return nil, fmt.Errorf("emit telemetry plan: %w", err)
	}

	operation = strings.TrimSpace(operation)
	if operation == "" {
		operation = defaultOperation
	}

	planJSON, err := json.Marshal(plan)
	if err != nil {
		return nil, fmt.Errorf("emit telemetry plan: marshal plan: %w", err)
	}
	attrs := []attribute.KeyValue{
		attribute.String(PlanVersionKey, PlanVersion),
		attribute.String(PlanJSONKey, string(planJSON)),
	}

	spanCtx, span := tracer.Start(ctx, operation, trace.WithAttributes(attrs...))
	span.AddEvent(PlanEventName, trace.WithAttributes(attrs...))
	return &Operation{ctx: spanCtx, tracer: tracer, span: span}, nil
}

// ParsePlan decodes the plan JSON recorded by EmitPlan.
func ParsePlan(raw string) (Plan, error) {
	var plan Plan
	if err := json.Unmarshal([]byte(raw), &plan); err != nil {
		return Plan{}, fmt.Errorf("parse telemetry plan: %w", err)
	}
	return plan, nil
}

func (o *Operation) Context() context.Context {
	if o == nil {
		return context.Background()
	}
	return o.ctx
}

// RunStep runs fn inside a child span named id. A failing fn marks the
// span as errored and its error is returned unchanged.
func (o *Operation) RunStep(ctx context.Context, id string, fn func(context.Context) error, attrs ...attribute.KeyValue) error {
	if fn == nil {
		return nil
	}

	stepID := strings.TrimSpace(id)
	if stepID == "" {
		return fmt.Errorf("run telemetry step: step id is required")
	}
	if o == nil || o.tracer == nil {
		return fn(ctx)
	}
	if ctx == nil {
		ctx = o.ctx
	}

	stepCtx, span := o.tracer.Start(ctx, stepID, trace.WithAttributes(attrs...))
	defer span.End()

	if err := fn(stepCtx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, strings.TrimSpace(err.Error()))
		return err
	}
	return nil
}

// RecordState adds a state transition event to the span active in ctx.
func RecordState(ctx context.Context, appID, state string) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	span.AddEvent(StateEventName, trace.WithAttributes(
		attribute.String(AppIDKey, appID),
		attribute.String(AppStateKey, state),
	))
}

// End closes the root span, marking it errored when err is non-nil.
func (o *Operation) End(err error) {
	if o == nil || o.span == nil {
		return
	}
	if err != nil {
		o.span.RecordError(err)
		o.span.SetStatus(codes.Error, strings.TrimSpace(err.Error()))
	}
	o.span.End()
}

func validatePlan(plan Plan) error {
	seen := make(map[string]struct{}, len(plan.Steps))
	for i, step := range plan.Steps {
		stepID := strings.TrimSpace(step.ID)
		if stepID == "" {
			return fmt.Errorf("step %d has empty id", i)
		}
		if _, exists := seen[stepID]; exists {
			return fmt.Errorf("duplicate step id %q", stepID)
		}
		seen[stepID] = struct{}{}
	}
	for i, step := range plan.Steps {
		parentID := strings.TrimSpace(step.ParentID)
		if parentID == "" {
			continue
		}
		if _, exists := seen[parentID]; !exists {
			return fmt.Errorf("step %d parent %q not found in plan", i, parentID)
		}
	}
	return nil
}
