package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"happinstall/cmd/happinstall/ui"
	"happinstall/internal/adapter/sqlite"
	"happinstall/internal/admin"
	"happinstall/internal/conductor"
	"happinstall/internal/install"
	"happinstall/internal/sandbox"
	"happinstall/internal/telemetry"

	"github.com/docker/docker/client"
	"github.com/spf13/cobra"
)

const (
	// defaultConfigFile is the conductor config template read from the
	// working directory.
	defaultConfigFile = "config.yaml"
	// builtinConfig selects the built-in template instead of a file.
	builtinConfig = "builtin"
)

const (
	runtimeExec      = "exec"
	runtimeService   = "service"
	runtimeContainer = "container"
)

type installOptions struct {
	configPath     string
	holochainPath  string
	runtime        string
	image          string
	adminPort      int
	readyTimeout   time.Duration
	requestTimeout time.Duration
	sandboxRoot    string
	sandboxDir     string
	batchPath      string
	preset         string
	dnasDir        string
	journalPath    string
	uid            string
}

func installCmd() *cobra.Command {
	opts := installOptions{}

	cmd := &cobra.Command{
		Use:   "install [happ]",
		Short: "Provision a sandbox, then install and activate every app of a batch",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				slog.Warn("Positional hApp argument is ignored, apps come from the batch.", "arg", args[0])
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			res, err := runInstall(ctx, opts, cmd.OutOrStdout(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), ui.SuccessMsg("Installed %d apps.", res.Completed))
			pairs := []ui.Pair{ui.KV("Agent", res.AgentKey.String())}
			for _, app := range res.Apps {
				pairs = append(pairs, ui.KV(app.Requested, app.InstalledAppID))
			}
			fmt.Fprint(cmd.OutOrStdout(), ui.KeyValues("  ", pairs...))
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.configPath, "config", defaultConfigFile, "Conductor config template, or \""+builtinConfig+"\" for the built-in one")
	cmd.Flags().StringVar(&opts.holochainPath, "holochain-path", conductor.DefaultBinary, "Conductor binary for the exec runtime")
	cmd.Flags().StringVar(&opts.runtime, "runtime", runtimeExec, "Conductor runtime: exec, service or container")
	cmd.Flags().StringVar(&opts.image, "image", "", "Conductor image for the container runtime")
	cmd.Flags().IntVar(&opts.adminPort, "admin-port", sandbox.DefaultAdminPort, "Admin port forced onto the sandbox (0 keeps the config's)")
	cmd.Flags().DurationVar(&opts.readyTimeout, "ready-timeout", conductor.DefaultReadyTimeout, "How long to wait for the conductor to come up")
	cmd.Flags().DurationVar(&opts.requestTimeout, "request-timeout", admin.DefaultRequestTimeout, "Deadline for each admin request")
	cmd.Flags().StringVar(&opts.sandboxRoot, "sandbox-root", ".", "Directory holding the sandbox and its .hc registry")
	cmd.Flags().StringVar(&opts.sandboxDir, "sandbox-dir", sandbox.DefaultDir, "Sandbox directory name (empty picks a random name)")
	cmd.Flags().StringVar(&opts.batchPath, "batch", "", "YAML batch file (overrides --preset)")
	cmd.Flags().StringVar(&opts.preset, "preset", install.PresetHosting, "Built-in batch: "+strings.Join(install.Presets(), ", "))
	cmd.Flags().StringVar(&opts.dnasDir, "dnas-dir", install.DefaultDNAsDir, "Directory holding the preset bundles")
	cmd.Flags().StringVar(&opts.journalPath, "journal", "", "SQLite journal recording the run (optional)")
	cmd.Flags().StringVar(&opts.uid, "uid", "", "Network seed passed with every install")
	return cmd
}

func runInstall(ctx context.Context, opts installOptions, stdout, stderr io.Writer) (res install.Result, err error) {
	batch, err := opts.loadBatch()
	if err != nil {
		return res, install.Wrap(install.KindConfig, err)
	}
	template, err := opts.conductorConfig()
	if err != nil {
		return res, install.Wrap(install.KindConfig, err)
	}
	if err := checkAdminPort(opts.adminPort, template); err != nil {
		return res, install.Wrap(install.KindConfig, err)
	}
	rt, closeRuntime, err := opts.conductorRuntime()
	if err != nil {
		return res, install.Wrap(install.KindConfig, err)
	}
	defer closeRuntime()

	prov := sandbox.Provisioner{
		Config:    template,
		Root:      opts.sandboxRoot,
		Dir:       opts.sandboxDir,
		AdminPort: opts.adminPort,
	}
	launcher := conductor.Launcher{Runtime: rt, RequestTimeout: opts.requestTimeout}

	output := ui.NewTelemetryOutput(stderr)
	defer output.Close()

	runner := install.Runner{
		Installer: install.Installer{UID: opts.uid},
		Out:       stdout,
		Tracer:    output.Tracer(telemetry.TracerName),
	}

	observers := install.Observers{install.ObserverFunc(func(appID string, state install.AppState) {
		slog.Debug("App state changed.", "app", appID, "state", state.String())
	})}
	if opts.journalPath != "" {
		journal, openErr := sqlite.Open(opts.journalPath)
		if openErr != nil {
			return res, install.Wrap(install.KindConfig, openErr)
		}
		defer journal.Close()

		run, beginErr := journal.BeginRun(ctx, batch.Name, batch.AppIDs())
		if beginErr != nil {
			return res, install.Wrap(install.KindConfig, beginErr)
		}
		observers = append(observers, journal.Observe(ctx, run))
		defer func() {
			if finishErr := journal.FinishRun(context.WithoutCancel(ctx), run, res.Completed, err); finishErr != nil {
				slog.Warn("Record run result.", "run", run, "err", finishErr)
			}
		}()
	}

	runner.Observer = observers

	return install.Bootstrap(ctx, prov, launcherOpener(launcher), runner, batch)
}

// launcherOpener adapts a Launcher so a failed Open yields a nil Session
// interface rather than a typed nil.
func launcherOpener(l conductor.Launcher) install.Opener {
	return install.OpenerFunc(func(ctx context.Context, sandboxPath string) (install.Session, error) {
		s, err := l.Open(ctx, sandboxPath)
		if err != nil {
			return nil, err
		}
		return s, nil
	})
}

func (o installOptions) loadBatch() (install.Batch, error) {
	if o.batchPath != "" {
		return install.LoadBatch(o.batchPath)
	}
	return install.Preset(o.preset, o.dnasDir)
}

// conductorConfig returns the template to provision from. Nil means the
// built-in default, which must be asked for explicitly.
func (o installOptions) conductorConfig() (*conductor.Config, error) {
	path := strings.TrimSpace(o.configPath)
	switch path {
	case builtinConfig:
		return nil, nil
	case "":
		path = defaultConfigFile
	}
	return conductor.LoadConfig(path)
}

// checkAdminPort rejects a port the sandbox could not listen on. Zero keeps
// the template's port, so the template must carry one.
func checkAdminPort(port int, template *conductor.Config) error {
	if port < 0 || port > 65535 {
		return fmt.Errorf("invalid --admin-port %d", port)
	}
	if port != 0 {
		return nil
	}
	if template == nil {
		return fmt.Errorf("--admin-port 0 needs a config with an admin interface: %w", conductor.ErrNoAdminInterface)
	}
	if _, err := template.AdminPort(); err != nil {
		return fmt.Errorf("--admin-port 0 keeps the config's port: %w", err)
	}
	return nil
}

func (o installOptions) conductorRuntime() (conductor.Runtime, func(), error) {
	noop := func() {}
	switch strings.ToLower(strings.TrimSpace(o.runtime)) {
	case "", runtimeExec:
		rt := conductor.NewExec(
			conductor.WithBinary(o.holochainPath),
			conductor.WithReadyTimeout(o.readyTimeout),
		)
		return rt, noop, nil
	case runtimeService:
		return conductor.NewService(o.readyTimeout), noop, nil
	case runtimeContainer:
		if o.image == "" {
			return nil, noop, fmt.Errorf("--image is required for the %s runtime: %w", runtimeContainer, conductor.ErrNoImage)
		}
		docker, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
		if err != nil {
			return nil, noop, fmt.Errorf("create docker client: %w", err)
		}
		rt := conductor.NewContainer(docker, o.image, conductor.WithContainerReadyTimeout(o.readyTimeout))
		return rt, func() { _ = docker.Close() }, nil
	default:
		return nil, noop, fmt.Errorf("unknown runtime %q (want exec, service or container)", o.runtime)
	}
}
