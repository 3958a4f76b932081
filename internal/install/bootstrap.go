package install

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"happinstall/internal/admin"
)

// CloseTimeout bounds how long releasing the conductor may take.
const CloseTimeout = 15 * time.Second

// Provisioner prepares a sandbox and returns its path.
type Provisioner interface {
	Provision(ctx context.Context) (string, error)
}

// Session is an open admin channel whose Close releases the conductor.
type Session interface {
	admin.Commander
	Close(ctx context.Context) error
}

// Opener starts a conductor for a sandbox and opens its admin channel.
type Opener interface {
	Open(ctx context.Context, sandboxPath string) (Session, error)
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(ctx context.Context, sandboxPath string) (Session, error)

func (f OpenerFunc) Open(ctx context.Context, sandboxPath string) (Session, error) {
	return f(ctx, sandboxPath)
}

// Bootstrap provisions a sandbox, opens a session on it and runs batch.
// The session is closed on every exit path once it was opened.
func Bootstrap(ctx context.Context, prov Provisioner, opener Opener, runner Runner, batch Batch) (res Result, err error) {
	log := slog.With("component", "install-bootstrap")
	if err := batch.Validate(); err != nil {
		return res, Wrap(KindConfig, err)
	}

	path, err := prov.Provision(ctx)
	if err != nil {
		return res, Wrap(KindProvision, fmt.Errorf("provision sandbox: %w", err))
	}
	log.Debug("Sandbox ready.", "path", path)

	session, err := opener.Open(ctx, path)
	if err != nil {
		return res, Wrap(KindChannel, fmt.Errorf("open admin channel: %w", err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), CloseTimeout)
		defer cancel()
		closeErr := session.Close(closeCtx)
		if closeErr == nil {
			return
		}
		if err != nil {
			log.Warn("Release conductor after failed run.", "err", closeErr)
			return
		}
		err = Wrap(KindChannel, fmt.Errorf("release conductor: %w", closeErr))
	}()

	return runner.Run(ctx, session, batch)
}
