package repositories

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"unicity-proxy.backend/internal/domain/entities"
	domainerrors "unicity-proxy.backend/internal/domain/errors"
	"unicity-proxy.backend/internal/infrastructure/models"
)

// ShardConfigRepository implements shard config document storage
type ShardConfigRepository struct {
	db *gorm.DB
}

// NewShardConfigRepository creates a new shard config repository
func NewShardConfigRepository(db *gorm.DB) *ShardConfigRepository {
	return &ShardConfigRepository{db: db}
}

func (r *ShardConfigRepository) Latest(ctx context.Context) (*entities.ShardConfigRecord, error) {
	var m models.ShardConfig
	db := GetDB(ctx, r.db)
	if err := db.WithContext(ctx).Order("id DESC").First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domainerrors.ErrNotFound
		}
		return nil, err
	}
	return shardConfigToEntity(&m), nil
}

func (r *ShardConfigRepository) Append(ctx context.Context, document, createdBy string) (*entities.ShardConfigRecord, error) {
	m := &models.ShardConfig{
		Document:  document,
		CreatedBy: createdBy,
		CreatedAt: time.Now().UTC(),
	}
	db := GetDB(ctx, r.db)
	if err := db.WithContext(ctx).Create(m).Error; err != nil {
		return nil, err
	}
	return shardConfigToEntity(m), nil
}

func shardConfigToEntity(m *models.ShardConfig) *entities.ShardConfigRecord {
	return &entities.ShardConfigRecord{
		ID:        m.ID,
		Document:  m.Document,
		CreatedBy: m.CreatedBy,
		CreatedAt: m.CreatedAt,
	}
}
