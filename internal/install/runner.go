package install

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"happinstall/internal/admin"
	"happinstall/internal/proof"
	"happinstall/internal/telemetry"
)

const (
	OperationName = "install"
	StepAgentKey  = "agent-key"
	StepApps      = "apps"
)

// AppStepID is the telemetry step id of the app at index, nested under
// StepApps.
func AppStepID(index int) string {
	return fmt.Sprintf("%s/app-%d", StepApps, index+1)
}

// InstalledApp pairs a requested id with the id the conductor assigned.
type InstalledApp struct {
	Requested      string
	InstalledAppID string
}

// Result reports how far a run got.
type Result struct {
	AgentKey admin.AgentPubKey
	// Completed counts apps that reached StateActive.
	Completed int
	Apps      []InstalledApp
}

// Runner installs and activates a batch over one admin channel.
type Runner struct {
	Installer Installer
	// Observer is told about every state transition. Optional.
	Observer Observer
	// Out receives one "Installing <id>" line per app. Nil discards.
	Out io.Writer
	// Tracer records the run. Nil uses the global provider.
	Tracer trace.Tracer
}

// Run generates one agent key and then installs and activates every app in
// order, stopping at the first failure. The returned error is an *Error.
func (r Runner) Run(ctx context.Context, ch admin.Commander, batch Batch) (res Result, err error) {
	log := slog.With("component", "install-runner", "batch", batch.Name)
	tracer := r.Tracer
	if tracer == nil {
		tracer = telemetry.Tracer()
	}

	op, err := telemetry.EmitPlan(ctx, tracer, OperationName, planFor(batch))
	if err != nil {
		return res, Wrap(KindConfig, err)
	}
	defer func() { op.End(err) }()
	ctx = op.Context()

	err = op.RunStep(ctx, StepAgentKey, func(ctx context.Context) error {
		key, err := admin.GenerateAgentPubKey(ctx, ch)
		if err != nil {
			return &Error{Kind: KindChannel, Index: -1, Err: err}
		}
		res.AgentKey = key
		return nil
	})
	if err != nil {
		return res, err
	}
	log.Debug("Generated agent key.", "agent", res.AgentKey.String())

	err = op.RunStep(ctx, StepApps, func(ctx context.Context) error {
		for i, app := range batch.Apps {
			if err := r.runApp(ctx, op, ch, i, app, &res); err != nil {
				attrs := []any{"app", app.Label(), "kind", KindOf(err).String()}
				if pe, ok := asProtocolError(err); ok {
					attrs = append(attrs, "variant", pe.Variant)
				}
				log.Debug("App failed.", attrs...)
				return err
			}
		}
		return nil
	})
	return res, err
}

// runApp installs and activates the app at index inside its own step.
func (r Runner) runApp(ctx context.Context, op *telemetry.Operation, ch admin.Commander, index int, app AppDescriptor, res *Result) error {
	label := app.Label()
	if err := ctx.Err(); err != nil {
		return &Error{Kind: KindChannel, AppID: label, Index: index, State: StatePending, Err: err}
	}
	fmt.Fprintf(r.out(), "Installing %s\n", label)

	step := func(ctx context.Context) error {
		installed, err := r.installOne(ctx, ch, res.AgentKey, index, app)
		if err != nil {
			return err
		}
		res.Completed++
		res.Apps = append(res.Apps, installed)
		return nil
	}
	err := op.RunStep(ctx, AppStepID(index), step,
		attribute.String(telemetry.AppIDKey, label),
		attribute.Int(telemetry.AppIndexKey, index),
	)
	if err != nil {
		r.notify(ctx, label, StateFailed)
	}
	return err
}

func (r Runner) out() io.Writer {
	if r.Out == nil {
		return io.Discard
	}
	return r.Out
}

func (r Runner) installOne(ctx context.Context, ch admin.Commander, agent admin.AgentPubKey, index int, app AppDescriptor) (InstalledApp, error) {
	label := app.Label()
	state := StatePending
	advance := func(s AppState) {
		state = s
		r.notify(ctx, label, s)
	}
	fail := func(err error) (InstalledApp, error) {
		return InstalledApp{}, annotate(err, label, index, state)
	}
	advance(StatePending)

	src, err := r.Installer.Resolve(app)
	if err != nil {
		return fail(err)
	}
	advance(StateBundleResolved)

	proofs, err := proof.Decode(app.Proofs)
	if err != nil {
		return fail(&Error{Kind: KindProofDecode, Err: err})
	}
	advance(StateProofsDecoded)

	advance(StateInstallRequested)
	installedID, err := r.Installer.Submit(ctx, ch, agent, app, src, proofs)
	if err != nil {
		return fail(err)
	}
	advance(StateInstalled)
	if app.InstalledAppID != "" && installedID != app.InstalledAppID {
		slog.Info("Conductor assigned a different app id.", "requested", app.InstalledAppID, "installed", installedID)
	}

	advance(StateActivationRequested)
	if err := Activate(ctx, ch, installedID); err != nil {
		return fail(err)
	}
	advance(StateActive)

	return InstalledApp{Requested: app.InstalledAppID, InstalledAppID: installedID}, nil
}

func (r Runner) notify(ctx context.Context, appID string, state AppState) {
	telemetry.RecordState(ctx, appID, state.String())
	if r.Observer != nil {
		r.Observer.AppStateChanged(appID, state)
	}
}

// annotate attaches the app position to a classified error.
func annotate(err error, appID string, index int, state AppState) error {
	var ie *Error
	if !errors.As(err, &ie) {
		return &Error{Kind: KindUnknown, AppID: appID, Index: index, State: state, Err: err}
	}
	out := *ie
	out.AppID = appID
	out.Index = index
	out.State = state
	return &out
}

func planFor(batch Batch) telemetry.Plan {
	var plan telemetry.Plan
	plan.Add(StepAgentKey, "", "Generate agent key")
	plan.Add(StepApps, "", fmt.Sprintf("Install %d apps", len(batch.Apps)))
	for i, app := range batch.Apps {
		plan.Add(AppStepID(i), StepApps, "Install "+app.Label())
	}
	return plan
}
