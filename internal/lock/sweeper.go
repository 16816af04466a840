package lock

import (
	"context"
	"time"
)

// Sweep runs ReclaimAll every interval until ctx is cancelled. Acquire already
// reclaims opportunistically; the sweep only keeps idle hooks from showing a
// dead holder indefinitely.
func (m *Manager) Sweep(ctx context.Context, interval time.Duration) error {
	m.logger.Info("lock sweeper started", "interval", interval)
	defer m.logger.Info("lock sweeper stopped")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := m.ReclaimAll(ctx); err != nil {
				m.logger.Error("failed to reclaim stale locks", "error", err)
			}
		}
	}
}
