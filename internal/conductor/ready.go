package conductor

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"time"
)

// DefaultReadyTimeout bounds how long a runtime waits for the admin port.
const DefaultReadyTimeout = 30 * time.Second

// WaitReady polls addr until it accepts TCP connections.
func WaitReady(ctx context.Context, addr netip.AddrPort, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultReadyTimeout
	}
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	dialer := net.Dialer{Timeout: time.Second}
	for {
		conn, err := dialer.DialContext(ctx, "tcp", addr.String())
		if err == nil {
			_ = conn.Close()
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return fmt.Errorf("conductor admin port %s not ready after %s: %w", addr, timeout, err)
		case <-ticker.C:
		}
	}
}
