package usecases

import (
	"context"
	"errors"
	"time"

	"github.com/volatiletech/null/v8"
	"go.uber.org/zap"
	"unicity-proxy.backend/internal/domain/entities"
	domainerrors "unicity-proxy.backend/internal/domain/errors"
	"unicity-proxy.backend/internal/domain/repositories"
	"unicity-proxy.backend/internal/routing"
	"unicity-proxy.backend/pkg/clock"
	"unicity-proxy.backend/pkg/logger"
	"unicity-proxy.backend/pkg/utils"
)

// AdminUsecase backs the operator endpoints: key provisioning and shard
// config replacement. Every key mutation notifies onKeyChanged so cached
// auth state is dropped eagerly instead of waiting for the TTL.
type AdminUsecase struct {
	keys         repositories.ApiKeyRepository
	plans        repositories.PricingPlanRepository
	shards       repositories.ShardConfigRepository
	uow          repositories.UnitOfWork
	clk          clock.Clock
	onKeyChanged func(key string)
}

func NewAdminUsecase(
	keys repositories.ApiKeyRepository,
	plans repositories.PricingPlanRepository,
	shards repositories.ShardConfigRepository,
	uow repositories.UnitOfWork,
	clk clock.Clock,
	onKeyChanged func(key string),
) *AdminUsecase {
	if clk == nil {
		clk = clock.System()
	}
	if onKeyChanged == nil {
		onKeyChanged = func(string) {}
	}
	return &AdminUsecase{
		keys:         keys,
		plans:        plans,
		shards:       shards,
		uow:          uow,
		clk:          clk,
		onKeyChanged: onKeyChanged,
	}
}

// CreateKeyInput provisions a key outside the payment flow.
type CreateKeyInput struct {
	Description string
	PlanID      int64
	ActiveDays  int
}

// CreateKey mints an active key on the given plan.
func (uc *AdminUsecase) CreateKey(ctx context.Context, input CreateKeyInput) (*entities.ApiKey, error) {
	if input.ActiveDays <= 0 {
		input.ActiveDays = int(SubscriptionDuration / (24 * time.Hour))
	}
	if _, err := uc.plans.FindByID(ctx, input.PlanID); err != nil {
		if errors.Is(err, domainerrors.ErrNotFound) {
			return nil, domainerrors.BadRequest("Unknown pricing plan")
		}
		return nil, err
	}

	keyString, err := utils.GenerateApiKey()
	if err != nil {
		return nil, err
	}
	now := uc.clk.Now()
	apiKey := &entities.ApiKey{
		Key:           keyString,
		Description:   input.Description,
		Status:        entities.ApiKeyStatusActive,
		PricingPlanID: null.Int64From(input.PlanID),
		ActiveUntil:   null.TimeFrom(now.Add(time.Duration(input.ActiveDays) * 24 * time.Hour)),
		CreatedAt:     now,
	}
	if err := uc.keys.Create(ctx, apiKey); err != nil {
		return nil, err
	}
	uc.onKeyChanged(keyString)
	logger.Info(ctx, "api key created", zap.Int64("planId", input.PlanID))
	return apiKey, nil
}

// RevokeKey permanently disables a key. Revocation is terminal; the key can
// never pay its way back to active.
func (uc *AdminUsecase) RevokeKey(ctx context.Context, key string) error {
	if err := uc.keys.Revoke(ctx, key); err != nil {
		if errors.Is(err, domainerrors.ErrNotFound) {
			return domainerrors.NotFound("Unknown API key")
		}
		return err
	}
	uc.onKeyChanged(key)
	logger.Info(ctx, "api key revoked")
	return nil
}

// AssignPlanInput re-plans an existing key.
type AssignPlanInput struct {
	Key        string
	PlanID     int64
	ActiveDays int
}

// AssignPlan sets the key's plan and a fresh absolute expiry under the row
// lock, serializing against in-flight payment completions.
func (uc *AdminUsecase) AssignPlan(ctx context.Context, input AssignPlanInput) (*entities.ApiKey, error) {
	if input.ActiveDays <= 0 {
		input.ActiveDays = int(SubscriptionDuration / (24 * time.Hour))
	}
	if _, err := uc.plans.FindByID(ctx, input.PlanID); err != nil {
		if errors.Is(err, domainerrors.ErrNotFound) {
			return nil, domainerrors.BadRequest("Unknown pricing plan")
		}
		return nil, err
	}

	var out *entities.ApiKey
	err := uc.uow.Do(ctx, func(txCtx context.Context) error {
		apiKey, err := uc.keys.LockForUpdate(txCtx, input.Key)
		if err != nil {
			switch {
			case errors.Is(err, domainerrors.ErrNotFound):
				return domainerrors.NotFound("Unknown API key")
			case errors.Is(err, domainerrors.ErrLockNotAvailable):
				return domainerrors.Conflict("API key is busy with another operation")
			}
			return err
		}
		if apiKey.Status == entities.ApiKeyStatusRevoked {
			return domainerrors.BadRequest("API key is revoked")
		}
		apiKey.PricingPlanID = null.Int64From(input.PlanID)
		apiKey.ActiveUntil = null.TimeFrom(uc.clk.Now().Add(time.Duration(input.ActiveDays) * 24 * time.Hour))
		if err := uc.keys.Update(txCtx, apiKey); err != nil {
			return err
		}
		out = apiKey
		return nil
	})
	if err != nil {
		return nil, err
	}
	uc.onKeyChanged(input.Key)
	return out, nil
}

// ReplaceShardConfig validates a routing document end to end, including
// bit-suffix completeness, before appending it as the newest revision. The
// reloader picks it up on its next poll.
func (uc *AdminUsecase) ReplaceShardConfig(ctx context.Context, document []byte, createdBy string) (*entities.ShardConfigRecord, error) {
	cfg, err := entities.ParseShardConfig(document)
	if err != nil {
		return nil, domainerrors.BadRequest(err.Error())
	}
	if _, err := routing.Build(cfg); err != nil {
		return nil, domainerrors.BadRequest(err.Error())
	}
	record, err := uc.shards.Append(ctx, string(document), createdBy)
	if err != nil {
		return nil, err
	}
	logger.Info(ctx, "shard config replaced",
		zap.Int("version", cfg.Version), zap.Int("shards", len(cfg.Shards)))
	return record, nil
}
