package repositories

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"gorm.io/gorm"
	"unicity-proxy.backend/internal/domain/entities"
	domainerrors "unicity-proxy.backend/internal/domain/errors"
)

// PricingPlanRepository implements pricing plan data operations
type PricingPlanRepository struct {
	db *gorm.DB
}

// NewPricingPlanRepository creates a new pricing plan repository
func NewPricingPlanRepository(db *gorm.DB) *PricingPlanRepository {
	return &PricingPlanRepository{db: db}
}

func (r *PricingPlanRepository) FindByID(ctx context.Context, id int64) (*entities.PricingPlan, error) {
	var m planModel
	db := GetDB(ctx, r.db)
	if err := db.WithContext(ctx).Table("pricing_plans").Where("id = ?", id).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domainerrors.ErrNotFound
		}
		return nil, err
	}
	return planToEntity(&m)
}

func (r *PricingPlanRepository) List(ctx context.Context) ([]*entities.PricingPlan, error) {
	var ms []planModel
	db := GetDB(ctx, r.db)
	if err := db.WithContext(ctx).Table("pricing_plans").Order("id").Find(&ms).Error; err != nil {
		return nil, err
	}
	plans := make([]*entities.PricingPlan, 0, len(ms))
	for i := range ms {
		p, err := planToEntity(&ms[i])
		if err != nil {
			return nil, err
		}
		plans = append(plans, p)
	}
	return plans, nil
}

type planModel struct {
	ID                int64
	Name              string
	RequestsPerSecond int
	RequestsPerDay    int
	Price             string
	CreatedAt         time.Time
}

func planToEntity(m *planModel) (*entities.PricingPlan, error) {
	price, ok := new(big.Int).SetString(m.Price, 10)
	if !ok {
		return nil, fmt.Errorf("plan %d: malformed price %q", m.ID, m.Price)
	}
	return &entities.PricingPlan{
		ID:                m.ID,
		Name:              m.Name,
		RequestsPerSecond: m.RequestsPerSecond,
		RequestsPerDay:    m.RequestsPerDay,
		Price:             price,
		CreatedAt:         m.CreatedAt,
	}, nil
}
