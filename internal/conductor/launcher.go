package conductor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"sync"
	"time"

	"happinstall/internal/admin"
)

// DefaultHost is where the admin interface is reached.
var DefaultHost = netip.MustParseAddr("127.0.0.1")

// Launcher starts a conductor for a sandbox and opens its admin channel.
type Launcher struct {
	Runtime        Runtime
	Host           netip.Addr
	RequestTimeout time.Duration
}

// Session is a running conductor plus its open admin channel. Close
// releases both.
type Session struct {
	client  *admin.Client
	runtime Runtime
	addr    netip.AddrPort

	closeOnce sync.Once
	closeErr  error
}

var _ admin.Commander = (*Session)(nil)

// Open starts the conductor for the sandbox at sandboxPath and dials its
// admin interface. On failure everything started so far is stopped.
func (l Launcher) Open(ctx context.Context, sandboxPath string) (*Session, error) {
	if l.Runtime == nil {
		return nil, errors.New("open conductor: runtime is required")
	}
	cfg, err := ReadConfig(sandboxPath)
	if err != nil {
		return nil, err
	}
	port, err := cfg.AdminPort()
	if err != nil {
		return nil, err
	}

	host := l.Host
	if !host.IsValid() {
		host = DefaultHost
	}
	addr := netip.AddrPortFrom(host, uint16(port))

	if err := l.Runtime.Start(ctx, ConfigPath(sandboxPath), addr); err != nil {
		return nil, err
	}

	var opts []admin.Option
	if l.RequestTimeout > 0 {
		opts = append(opts, admin.WithRequestTimeout(l.RequestTimeout))
	}
	client, err := admin.Dial(ctx, "ws://"+addr.String(), opts...)
	if err != nil {
		if stopErr := l.Runtime.Stop(context.WithoutCancel(ctx)); stopErr != nil {
			slog.Warn("Stop conductor after dial failure.", "err", stopErr)
		}
		return nil, fmt.Errorf("connect admin interface %s: %w", addr, err)
	}

	return &Session{client: client, runtime: l.Runtime, addr: addr}, nil
}

// Addr is the admin interface address.
func (s *Session) Addr() netip.AddrPort { return s.addr }

// Command forwards to the admin client.
func (s *Session) Command(ctx context.Context, req admin.Request) (admin.Response, error) {
	return s.client.Command(ctx, req)
}

// Close closes the admin channel and stops the conductor. Repeated calls
// return the first result.
func (s *Session) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		s.closeErr = errors.Join(s.client.Close(), s.runtime.Stop(ctx))
	})
	return s.closeErr
}
