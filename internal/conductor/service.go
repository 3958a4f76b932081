package conductor

import (
	"context"
	"fmt"
	"log/slog"
	"net/netip"
	"time"
)

// Service assumes the conductor is managed externally (systemd, a
// supervisor, a developer shell). Start only waits for the admin port;
// Stop is a no-op.
type Service struct {
	readyTimeout time.Duration
}

var _ Runtime = (*Service)(nil)

// NewService creates a runtime that expects the conductor to be running externally.
func NewService(readyTimeout time.Duration) *Service {
	return &Service{readyTimeout: readyTimeout}
}

// Start waits for the external conductor to accept admin connections.
func (s *Service) Start(ctx context.Context, _ string, adminAddr netip.AddrPort) error {
	if err := WaitReady(ctx, adminAddr, s.readyTimeout); err != nil {
		return fmt.Errorf("external conductor not ready: %w", err)
	}
	slog.Info("Connected to external conductor.", "addr", adminAddr)
	return nil
}

// Stop is a no-op; the external service manages its own lifecycle.
func (s *Service) Stop(context.Context) error {
	return nil
}
