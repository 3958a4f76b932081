package conductor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// DefaultBinary is the conductor executable looked up on PATH.
const DefaultBinary = "holochain"

// Exec runs the conductor as a child process in its own process group.
type Exec struct {
	binary       string
	readyTimeout time.Duration
	log          *slog.Logger

	mu      sync.Mutex
	cmd     *exec.Cmd
	exited  chan struct{}
	waitErr error
}

var _ Runtime = (*Exec)(nil)

// ExecOption configures an Exec runtime.
type ExecOption func(*Exec)

// WithBinary sets the conductor binary. Defaults to "holochain" (found via PATH).
func WithBinary(path string) ExecOption {
	return func(e *Exec) {
		if strings.TrimSpace(path) != "" {
			e.binary = path
		}
	}
}

// WithReadyTimeout bounds how long Start waits for the conductor.
func WithReadyTimeout(d time.Duration) ExecOption {
	return func(e *Exec) { e.readyTimeout = d }
}

// NewExec creates a child-process conductor runtime.
func NewExec(opts ...ExecOption) *Exec {
	e := &Exec{
		binary:       DefaultBinary,
		readyTimeout: DefaultReadyTimeout,
		log:          slog.With("component", "conductor-exec"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Binary returns the configured conductor binary.
func (e *Exec) Binary() string { return e.binary }

// Start launches the conductor and waits until it prints its ready line or
// its admin port accepts connections.
func (e *Exec) Start(ctx context.Context, configPath string, adminAddr netip.AddrPort) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cmd != nil {
		return fmt.Errorf("start conductor: already started")
	}

	bin, err := exec.LookPath(e.binary)
	if err != nil {
		return fmt.Errorf("start conductor: %w", err)
	}

	ready := make(chan struct{})
	var readyOnce sync.Once
	markReady := func() { readyOnce.Do(func() { close(ready) }) }

	stdout := newLineWriter(func(line string) {
		e.log.Debug(line, "stream", "stdout")
		if strings.Contains(line, ReadyLine) {
			markReady()
		}
	})
	stderr := newLineWriter(func(line string) {
		lower := strings.ToLower(line)
		if strings.Contains(lower, "error") || strings.Contains(lower, "warn") {
			e.log.Warn(line, "stream", "stderr")
			return
		}
		e.log.Debug(line, "stream", "stderr")
	})

	cmd := exec.Command(bin, "-c", configPath)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	setProcessGroup(cmd)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start conductor process: %w", err)
	}
	e.cmd = cmd
	e.exited = make(chan struct{})
	go func() {
		err := cmd.Wait()
		stdout.Flush()
		stderr.Flush()
		e.waitErr = err
		close(e.exited)
	}()
	e.log.Info("Conductor process started.", "pid", cmd.Process.Pid, "binary", bin, "config", configPath)

	portCtx, cancelPort := context.WithCancel(ctx)
	defer cancelPort()
	portReady := make(chan error, 1)
	go func() { portReady <- WaitReady(portCtx, adminAddr, e.readyTimeout) }()

	var startErr error
	select {
	case <-ready:
	case err := <-portReady:
		if err != nil {
			startErr = err
		}
	case <-e.exited:
		startErr = fmt.Errorf("conductor exited before becoming ready: %w", exitError(e.waitErr))
	case <-ctx.Done():
		startErr = ctx.Err()
	}
	if startErr != nil {
		e.killLocked()
		return startErr
	}

	e.log.Debug("Conductor ready.", "admin", adminAddr)
	return nil
}

// Stop asks the process group to terminate and force kills it when ctx
// expires first.
func (e *Exec) Stop(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.cmd == nil || e.cmd.Process == nil {
		return nil
	}
	select {
	case <-e.exited:
		return nil
	default:
	}

	if err := terminate(e.cmd.Process); err != nil {
		// Process may have already exited.
		e.log.Debug("Terminate conductor.", "err", err)
	}

	select {
	case <-e.exited:
		e.log.Info("Conductor process stopped.", "pid", e.cmd.Process.Pid)
		return nil
	case <-ctx.Done():
		e.killLocked()
		return fmt.Errorf("stop conductor process: %w", ctx.Err())
	}
}

func (e *Exec) killLocked() {
	if e.cmd == nil || e.cmd.Process == nil {
		return
	}
	_ = kill(e.cmd.Process) // best-effort force kill
	<-e.exited
}

func exitError(err error) error {
	if err == nil {
		return errors.New("exit status 0")
	}
	return err
}
