package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/volatiletech/null/v8"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"unicity-proxy.backend/internal/domain/entities"
	domainerrors "unicity-proxy.backend/internal/domain/errors"
)

// ApiKeyRepository implements API key data operations
type ApiKeyRepository struct {
	db *gorm.DB
}

// NewApiKeyRepository creates a new API key repository
func NewApiKeyRepository(db *gorm.DB) *ApiKeyRepository {
	return &ApiKeyRepository{db: db}
}

func (r *ApiKeyRepository) Create(ctx context.Context, apiKey *entities.ApiKey) error {
	m := apiKeyToModel(apiKey)
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	db := GetDB(ctx, r.db)
	if err := db.WithContext(ctx).Table("api_keys").Create(m).Error; err != nil {
		if isUniqueViolation(err) {
			return domainerrors.ErrAlreadyExists
		}
		return err
	}
	apiKey.ID = m.ID
	apiKey.CreatedAt = m.CreatedAt
	return nil
}

func (r *ApiKeyRepository) FindByKey(ctx context.Context, key string) (*entities.ApiKey, error) {
	var m apiKeyModel
	db := GetDB(ctx, r.db)
	if err := db.WithContext(ctx).Table("api_keys").Where("key = ?", key).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domainerrors.ErrNotFound
		}
		return nil, err
	}
	return apiKeyToEntity(&m), nil
}

func (r *ApiKeyRepository) FindEffectiveLimits(ctx context.Context, key string, now time.Time) (*entities.KeyLimits, error) {
	var row struct {
		RequestsPerSecond int
		RequestsPerDay    int
	}
	db := GetDB(ctx, r.db)
	err := db.WithContext(ctx).
		Table("api_keys").
		Select("pricing_plans.requests_per_second, pricing_plans.requests_per_day").
		Joins("JOIN pricing_plans ON pricing_plans.id = api_keys.pricing_plan_id").
		Where("api_keys.key = ?", key).
		Where("api_keys.status = ?", string(entities.ApiKeyStatusActive)).
		Where("api_keys.pricing_plan_id IS NOT NULL").
		Where("api_keys.active_until > ?", now).
		Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domainerrors.ErrNotFound
		}
		return nil, err
	}
	return &entities.KeyLimits{
		RequestsPerSecond: row.RequestsPerSecond,
		RequestsPerDay:    row.RequestsPerDay,
	}, nil
}

// LockForUpdate takes an exclusive row lock on the api_keys row. NOWAIT makes
// contention surface as ErrLockNotAvailable instead of blocking. Locking is a
// no-op on sqlite, which serializes writers anyway.
func (r *ApiKeyRepository) LockForUpdate(ctx context.Context, key string) (*entities.ApiKey, error) {
	var m apiKeyModel
	db := GetDB(ctx, r.db)
	q := db.WithContext(ctx).Table("api_keys").Where("key = ?", key)
	if db.Dialector.Name() == "postgres" {
		q = q.Clauses(clause.Locking{Strength: "UPDATE", Options: "NOWAIT"})
	}
	if err := q.First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domainerrors.ErrNotFound
		}
		if isLockNotAvailable(err) {
			return nil, domainerrors.ErrLockNotAvailable
		}
		return nil, err
	}
	return apiKeyToEntity(&m), nil
}

func (r *ApiKeyRepository) Update(ctx context.Context, apiKey *entities.ApiKey) error {
	m := apiKeyToModel(apiKey)
	db := GetDB(ctx, r.db)
	res := db.WithContext(ctx).Table("api_keys").Where("id = ?", apiKey.ID).Updates(map[string]interface{}{
		"description":     m.Description,
		"status":          m.Status,
		"pricing_plan_id": m.PricingPlanID,
		"active_until":    m.ActiveUntil,
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domainerrors.ErrNotFound
	}
	return nil
}

func (r *ApiKeyRepository) Revoke(ctx context.Context, key string) error {
	db := GetDB(ctx, r.db)
	res := db.WithContext(ctx).Table("api_keys").Where("key = ?", key).
		Update("status", string(entities.ApiKeyStatusRevoked))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domainerrors.ErrNotFound
	}
	return nil
}

// apiKeyModel mirrors models.ApiKey without the plan association so raw table
// scans stay cheap.
type apiKeyModel struct {
	ID            int64
	Key           string
	Description   string
	Status        string
	PricingPlanID *int64
	ActiveUntil   *time.Time
	CreatedAt     time.Time
}

func apiKeyToEntity(m *apiKeyModel) *entities.ApiKey {
	e := &entities.ApiKey{
		ID:          m.ID,
		Key:         m.Key,
		Description: m.Description,
		Status:      entities.ApiKeyStatus(m.Status),
		CreatedAt:   m.CreatedAt,
	}
	e.PricingPlanID = null.Int64FromPtr(m.PricingPlanID)
	e.ActiveUntil = null.TimeFromPtr(m.ActiveUntil)
	return e
}

func apiKeyToModel(e *entities.ApiKey) *apiKeyModel {
	return &apiKeyModel{
		ID:            e.ID,
		Key:           e.Key,
		Description:   e.Description,
		Status:        string(e.Status),
		PricingPlanID: e.PricingPlanID.Ptr(),
		ActiveUntil:   e.ActiveUntil.Ptr(),
		CreatedAt:     e.CreatedAt,
	}
}
