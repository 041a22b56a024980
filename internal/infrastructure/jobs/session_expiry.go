package jobs

import (
	"context"
	"time"

	"go.uber.org/zap"
	"unicity-proxy.backend/internal/domain/repositories"
	"unicity-proxy.backend/pkg/clock"
	"unicity-proxy.backend/pkg/logger"
)

// SessionExpiryJob sweeps pending payment sessions whose payment window has
// closed. Completion also detects expiry inline, so the sweep only keeps the
// table tidy and frees the per-key pending slot.
type SessionExpiryJob struct {
	sessions repositories.PaymentSessionRepository
	clk      clock.Clock
	interval time.Duration
	stop     chan struct{}
}

func NewSessionExpiryJob(sessions repositories.PaymentSessionRepository, clk clock.Clock) *SessionExpiryJob {
	if clk == nil {
		clk = clock.System()
	}
	return &SessionExpiryJob{
		sessions: sessions,
		clk:      clk,
		interval: 30 * time.Second,
		stop:     make(chan struct{}),
	}
}

func (j *SessionExpiryJob) Start(ctx context.Context) {
	logger.Info(ctx, "session expiry job started", zap.Duration("interval", j.interval))

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info(ctx, "session expiry job stopped")
			return
		case <-j.stop:
			logger.Info(ctx, "session expiry job stopped")
			return
		case <-ticker.C:
			j.sweep(ctx)
		}
	}
}

func (j *SessionExpiryJob) Stop() {
	close(j.stop)
}

func (j *SessionExpiryJob) sweep(ctx context.Context) {
	n, err := j.sessions.ExpirePendingBefore(ctx, j.clk.Now())
	if err != nil {
		logger.Error(ctx, "session expiry sweep failed", zap.Error(err))
		return
	}
	if n > 0 {
		logger.Info(ctx, "expired pending payment sessions", zap.Int64("count", n))
	}
}
