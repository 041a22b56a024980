package jobs

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"unicity-proxy.backend/internal/domain/entities"
	domainerrors "unicity-proxy.backend/internal/domain/errors"
	"unicity-proxy.backend/internal/domain/repositories"
	"unicity-proxy.backend/internal/routing"
	"unicity-proxy.backend/pkg/logger"
)

// ConfigReloader keeps the in-memory routing table in sync with the newest
// stored shard config. An invalid stored document never replaces a working
// table; if no valid table was ever installed the Holder stays nil and the
// proxy refuses routing.
type ConfigReloader struct {
	shards   repositories.ShardConfigRepository
	holder   *routing.Holder
	interval time.Duration
	stop     chan struct{}

	lastRecordID int64
}

func NewConfigReloader(shards repositories.ShardConfigRepository, holder *routing.Holder, interval time.Duration) *ConfigReloader {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &ConfigReloader{
		shards:   shards,
		holder:   holder,
		interval: interval,
		stop:     make(chan struct{}),
	}
}

// LoadOnce performs one synchronous reload; main calls it at startup so the
// proxy comes up routing when a valid config exists.
func (r *ConfigReloader) LoadOnce(ctx context.Context) error {
	return r.reload(ctx)
}

func (r *ConfigReloader) Start(ctx context.Context) {
	logger.Info(ctx, "shard config reloader started", zap.Duration("interval", r.interval))

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info(ctx, "shard config reloader stopped")
			return
		case <-r.stop:
			logger.Info(ctx, "shard config reloader stopped")
			return
		case <-ticker.C:
			if err := r.reload(ctx); err != nil {
				logger.Error(ctx, "shard config reload failed", zap.Error(err))
			}
		}
	}
}

func (r *ConfigReloader) Stop() {
	close(r.stop)
}

func (r *ConfigReloader) reload(ctx context.Context) error {
	record, err := r.shards.Latest(ctx)
	if err != nil {
		if errors.Is(err, domainerrors.ErrNotFound) {
			// Nothing stored yet; stay in (or enter) the failsafe state.
			return nil
		}
		return err
	}
	if record.ID == r.lastRecordID {
		return nil
	}

	cfg, err := entities.ParseShardConfig([]byte(record.Document))
	if err != nil {
		return err
	}
	table, err := routing.Build(cfg)
	if err != nil {
		return err
	}

	r.holder.Store(table)
	r.lastRecordID = record.ID
	logger.Info(ctx, "routing table installed",
		zap.Int64("recordId", record.ID),
		zap.Int("version", cfg.Version),
		zap.Int("shards", len(cfg.Shards)))
	return nil
}
