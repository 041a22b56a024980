package repositories

import (
	"context"

	"unicity-proxy.backend/internal/domain/entities"
)

type PricingPlanRepository interface {
	FindByID(ctx context.Context, id int64) (*entities.PricingPlan, error)
	List(ctx context.Context) ([]*entities.PricingPlan, error)
}
