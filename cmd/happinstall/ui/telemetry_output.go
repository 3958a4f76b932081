package ui

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"happinstall/internal/telemetry"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// TelemetryOutput turns operation spans into step lines on w.
type TelemetryOutput struct {
	provider *sdktrace.TracerProvider
}

func NewTelemetryOutput(w io.Writer) *TelemetryOutput {
	line := newLineTelemetry(w, IsInteractive())
	return &TelemetryOutput{provider: newProvider(newStepObserver(line.OnSteps))}
}

func newProvider(observer *stepObserver) *sdktrace.TracerProvider {
	return sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(&stepSpanProcessor{observer: observer}))
}

func (o *TelemetryOutput) Tracer(name string) trace.Tracer {
	if o == nil || o.provider == nil {
		return otel.Tracer(name)
	}
	return o.provider.Tracer(name)
}

func (o *TelemetryOutput) Close() {
	if o == nil || o.provider == nil {
		return
	}
	_ = o.provider.Shutdown(context.Background())
}

type stepStatus uint8

const (
	stepPending stepStatus = iota
	stepRunning
	stepDone
	stepFailed
)

func (s stepStatus) String() string {
	switch s {
	case stepPending:
		return "pending"
	case stepRunning:
		return "running"
	case stepDone:
		return "done"
	case stepFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// stepState is one rendered step. A derived step is known only from a
// "parent/child" id; its status follows its children until its own span
// starts.
type stepState struct {
	ID       string
	ParentID string
	Title    string
	Status   stepStatus
	Message  string

	derived bool
}

type lineTelemetry struct {
	mu       sync.Mutex
	w        io.Writer
	styled   bool
	status   map[string]stepStatus
	messages map[string]string
}

func newLineTelemetry(w io.Writer, styled bool) *lineTelemetry {
	return &lineTelemetry{
		w:        w,
		styled:   styled,
		status:   make(map[string]stepStatus),
		messages: make(map[string]string),
	}
}

// OnSteps prints only steps whose status or message changed.
func (l *lineTelemetry) OnSteps(steps []stepState) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, step := range steps {
		if step.Status == stepPending {
			continue
		}
		id := strings.TrimSpace(step.ID)
		if id == "" {
			continue
		}

		msg := strings.TrimSpace(step.Message)
		prev, seen := l.status[id]
		if seen && prev == step.Status && l.messages[id] == msg {
			continue
		}
		l.status[id] = step.Status
		l.messages[id] = msg
		fmt.Fprintln(l.w, formatStepLine(step, msg, l.styled))
	}
}

func formatStepLine(step stepState, msg string, styled bool) string {
	prefix := "[..]"
	switch step.Status {
	case stepRunning:
		prefix = "[->]"
		if styled {
			prefix = AccentStyle.Render(prefix)
		}
	case stepDone:
		prefix = "[ok]"
		if styled {
			prefix = SuccessStyle.Render(prefix)
		}
	case stepFailed:
		prefix = "[x]"
		if styled {
			prefix = ErrorStyle.Render(prefix)
		}
	}

	indent := "  "
	if step.ParentID != "" {
		indent = "    "
	}
	title := strings.TrimSpace(step.Title)
	if title == "" {
		title = step.ID
	}
	if msg == "" {
		return fmt.Sprintf("%s%s %s", indent, prefix, title)
	}
	if styled {
		msg = MutedStyle.Render(msg)
	}
	return fmt.Sprintf("%s%s %s (%s)", indent, prefix, title, msg)
}

// stepObserver folds plan, start and end events into ordered step lists.
// Steps seen only through a child "parent/child" id get a derived parent.
type stepObserver struct {
	mu       sync.Mutex
	steps    map[string]stepState
	order    []string
	reporter func([]stepState)
}

func newStepObserver(reporter func([]stepState)) *stepObserver {
	return &stepObserver{
		steps:    make(map[string]stepState),
		order:    make([]string, 0, 8),
		reporter: reporter,
	}
}

func (o *stepObserver) onPlan(plan telemetry.Plan) {
	o.mu.Lock()
	defer o.mu.Unlock()

	for _, planned := range plan.Steps {
		id := strings.TrimSpace(planned.ID)
		if id == "" {
			continue
		}
		step, ok := o.steps[id]
		if !ok {
			o.order = append(o.order, id)
			step = stepState{ID: id, Status: stepPending}
		}
		step.ParentID = strings.TrimSpace(planned.ParentID)
		step.Title = strings.TrimSpace(planned.Title)
		if step.Title == "" {
			step.Title = id
		}
		step.derived = false
		o.steps[id] = step
	}
	o.emitLocked()
}

func (o *stepObserver) onStepStart(id string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	step := o.ensureStepLocked(id)
	step.Status = stepRunning
	step.Message = ""
	step.derived = false
	o.steps[step.ID] = step
	o.emitLocked()
}

func (o *stepObserver) onStepEnd(id string, failed bool, message string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	step := o.ensureStepLocked(id)
	step.derived = false
	step.Status = stepDone
	step.Message = ""
	if failed {
		step.Status = stepFailed
		step.Message = strings.TrimSpace(message)
	}
	o.steps[step.ID] = step
	o.emitLocked()
}

func (o *stepObserver) ensureStepLocked(id string) stepState {
	id = strings.TrimSpace(id)
	if id == "" {
		id = "unnamed"
	}
	if step, ok := o.steps[id]; ok {
		return step
	}

	parentID := parentOf(id)
	if parentID != "" {
		o.ensureParentLocked(parentID)
	}
	o.order = append(o.order, id)
	return stepState{ID: id, ParentID: parentID, Title: id, Status: stepPending}
}

func (o *stepObserver) ensureParentLocked(id string) {
	if _, ok := o.steps[id]; ok {
		return
	}
	ancestorID := parentOf(id)
	if ancestorID != "" {
		o.ensureParentLocked(ancestorID)
	}
	o.order = append(o.order, id)
	o.steps[id] = stepState{
		ID:        id,
		ParentID:  ancestorID,
		Title:     id,
		Status:    stepPending,
		derived: true,
	}
}

func parentOf(id string) string {
	if idx := strings.LastIndex(id, "/"); idx > 0 {
		return strings.TrimSpace(id[:idx])
	}
	return ""
}

func (o *stepObserver) emitLocked() {
	if o.reporter == nil {
		return
	}

	children := make(map[string][]stepState, len(o.steps))
	for _, step := range o.steps {
		if step.ParentID != "" {
			children[step.ParentID] = append(children[step.ParentID], step)
		}
	}

	steps := make([]stepState, 0, len(o.order))
	for _, id := range o.order {
		step, ok := o.steps[id]
		if !ok {
			continue
		}
		if kids := children[id]; len(kids) > 0 {
			if step.derived {
				step.Status = derivedStatus(kids)
			}
			summary := summarizeFanout(kids)
			switch {
			case step.Message == "":
				step.Message = summary
			case step.Status == stepFailed && !strings.Contains(step.Message, summary):
				step.Message = summary + "; " + step.Message
			}
		}
		steps = append(steps, step)
	}
	o.reporter(steps)
}

func summarizeFanout(children []stepState) string {
	total := len(children)
	if total == 0 {
		return ""
	}
	done, failed := 0, 0
	for _, child := range children {
		switch child.Status {
		case stepDone:
			done++
		case stepFailed:
			failed++
		}
	}
	if failed > 0 {
		return fmt.Sprintf("%d/%d done, %d failed", done, total, failed)
	}
	return fmt.Sprintf("%d/%d done", done, total)
}

func derivedStatus(children []stepState) stepStatus {
	if len(children) == 0 {
		return stepPending
	}
	running, failed, done := false, false, 0
	for _, child := range children {
		switch child.Status {
		case stepFailed:
			failed = true
		case stepRunning:
			running = true
		case stepDone:
			done++
		}
	}
	switch {
	case failed:
		return stepFailed
	case done == len(children):
		return stepDone
	case running || done > 0:
		return stepRunning
	default:
		return stepPending
	}
}

// stepSpanProcessor reads the plan off root spans and step status off
// their children.
type stepSpanProcessor struct {
	observer *stepObserver
}

func (p *stepSpanProcessor) OnStart(_ context.Context, span sdktrace.ReadWriteSpan) {
	if p == nil || p.observer == nil {
		return
	}
	if span.Parent().IsValid() {
		p.observer.onStepStart(span.Name())
		return
	}

	raw := attributeValue(span.Attributes(), telemetry.PlanJSONKey)
	if strings.TrimSpace(raw) == "" {
		return
	}
	plan, err := telemetry.ParsePlan(raw)
	if err != nil {
		return
	}
	p.observer.onPlan(plan)
}

func (p *stepSpanProcessor) OnEnd(span sdktrace.ReadOnlySpan) {
	if p == nil || p.observer == nil || !span.Parent().IsValid() {
		return
	}
	status := span.Status()
	p.observer.onStepEnd(span.Name(), status.Code == codes.Error, status.Description)
}

func (p *stepSpanProcessor) Shutdown(context.Context) error   { return nil }
func (p *stepSpanProcessor) ForceFlush(context.Context) error { return nil }

func attributeValue(attrs []attribute.KeyValue, key string) string {
	for _, attr := range attrs {
		if string(attr.Key) == key {
			return attr.Value.AsString()
		}
	}
	return ""
}
