package repositories

import (
	"context"

	"unicity-proxy.backend/internal/domain/entities"
)

type ShardConfigRepository interface {
	// Latest returns the newest stored routing document; ErrNotFound when
	// none has been stored yet.
	Latest(ctx context.Context) (*entities.ShardConfigRecord, error)
	// Append stores a new revision. History is append-only.
	Append(ctx context.Context, document, createdBy string) (*entities.ShardConfigRecord, error)
}
