package usecases

import (
	"context"
	"encoding/json"
	"errors"

	"unicity-proxy.backend/internal/domain/entities"
	domainerrors "unicity-proxy.backend/internal/domain/errors"
	"unicity-proxy.backend/internal/domain/repositories"
)

// ShardConfigUsecase serves the public routing document so SDK clients can
// pre-compute which shard owns a request id.
type ShardConfigUsecase struct {
	shards repositories.ShardConfigRepository
}

func NewShardConfigUsecase(shards repositories.ShardConfigRepository) *ShardConfigUsecase {
	return &ShardConfigUsecase{shards: shards}
}

// Current returns the newest stored routing document.
func (uc *ShardConfigUsecase) Current(ctx context.Context) (*entities.ShardConfig, error) {
	record, err := uc.shards.Latest(ctx)
	if err != nil {
		if errors.Is(err, domainerrors.ErrNotFound) {
			return nil, domainerrors.NotFound("No shard configuration stored")
		}
		return nil, err
	}
	var cfg entities.ShardConfig
	if err := json.Unmarshal([]byte(record.Document), &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
