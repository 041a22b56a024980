package repositories

import (
	"context"
	"time"

	"unicity-proxy.backend/internal/domain/entities"
)

type ApiKeyRepository interface {
	Create(ctx context.Context, apiKey *entities.ApiKey) error
	FindByKey(ctx context.Context, key string) (*entities.ApiKey, error)
	// FindEffectiveLimits resolves the plan budget for a key that is
	// effective at now; ErrNotFound otherwise.
	FindEffectiveLimits(ctx context.Context, key string, now time.Time) (*entities.KeyLimits, error)
	// LockForUpdate takes a row-level exclusive lock with NOWAIT semantics;
	// ErrLockNotAvailable on contention.
	LockForUpdate(ctx context.Context, key string) (*entities.ApiKey, error)
	Update(ctx context.Context, apiKey *entities.ApiKey) error
	Revoke(ctx context.Context, key string) error
}
