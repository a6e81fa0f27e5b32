package sessions

import (
	"context"
	"time"

	"go.uber.org/zap"

	"sitedeploy/internal/logging"
)

// StartSweeper launches the periodic sweeper goroutine: every
// SweeperInterval it cleans up every session past its expiry and purges
// stale routes. It returns a stop function. Grounded on the teacher's
// CleanupIdleSessions/cleanupOldContainers periodic-goroutine idiom in
// internal/sessions_src/container_preview.go, generalized from a single
// in-process ticker over a map to one driven by the registry.
func (m *Manager) StartSweeper(ctx context.Context) func() {
	m.stopSweeper = make(chan struct{})
	ticker := time.NewTicker(m.cfg.SweeperInterval)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-m.stopSweeper:
				return
			case <-ticker.C:
				m.sweep(ctx)
			}
		}
	}()

	return func() { close(m.stopSweeper) }
}

func (m *Manager) sweep(ctx context.Context) {
	expired, err := m.reg.ExpiredSessions(time.Now().UTC())
	if err != nil {
		logging.L().Error("sweeper: list expired sessions failed", zap.Error(err))
		return
	}
	for _, session := range expired {
		if err := m.CleanupExpired(ctx, session.ID); err != nil {
			logging.L().Warn("sweeper: session cleanup failed", zap.Uint("session_id", session.ID), zap.Error(err))
		}
	}

	n, err := m.orch.CleanupExpired(m.cfg.SessionTTL)
	if err != nil {
		logging.L().Error("sweeper: route cleanup failed", zap.Error(err))
		return
	}
	if n > 0 {
		logging.S().Infow("sweeper purged stale routes", "count", n)
	}
}
