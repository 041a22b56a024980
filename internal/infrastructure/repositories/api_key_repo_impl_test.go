package repositories

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/volatiletech/null/v8"
	"unicity-proxy.backend/internal/domain/entities"
	domainerrors "unicity-proxy.backend/internal/domain/errors"
)

func TestApiKeyCreateAndFind(t *testing.T) {
	db := newTestDB(t)
	repo := NewApiKeyRepository(db)
	ctx := context.Background()

	seedPlan(t, db, 1, "basic", 5, 1000, "5000")

	key := &entities.ApiKey{
		Key:           "sk_test1",
		Description:   "test key",
		Status:        entities.ApiKeyStatusActive,
		PricingPlanID: null.Int64From(1),
		ActiveUntil:   null.TimeFrom(time.Now().Add(24 * time.Hour)),
	}
	require.NoError(t, repo.Create(ctx, key))
	assert.NotZero(t, key.ID)

	got, err := repo.FindByKey(ctx, "sk_test1")
	require.NoError(t, err)
	assert.Equal(t, "sk_test1", got.Key)
	assert.Equal(t, int64(1), got.PricingPlanID.Int64)

	_, err = repo.FindByKey(ctx, "sk_missing")
	assert.ErrorIs(t, err, domainerrors.ErrNotFound)

	dup := &entities.ApiKey{Key: "sk_test1", Status: entities.ApiKeyStatusActive}
	assert.ErrorIs(t, repo.Create(ctx, dup), domainerrors.ErrAlreadyExists)
}

func TestFindEffectiveLimits(t *testing.T) {
	db := newTestDB(t)
	repo := NewApiKeyRepository(db)
	ctx := context.Background()
	now := time.Now().UTC()

	seedPlan(t, db, 1, "basic", 5, 1000, "5000")
	seedKey(t, db, "sk_live", "active", 1, now.Add(time.Hour))
	seedKey(t, db, "sk_expired", "active", 1, now.Add(-time.Hour))
	seedKey(t, db, "sk_revoked", "revoked", 1, now.Add(time.Hour))
	seedKey(t, db, "sk_no_plan", "active", nil, now.Add(time.Hour))

	limits, err := repo.FindEffectiveLimits(ctx, "sk_live", now)
	require.NoError(t, err)
	assert.Equal(t, 5, limits.RequestsPerSecond)
	assert.Equal(t, 1000, limits.RequestsPerDay)

	for _, key := range []string{"sk_expired", "sk_revoked", "sk_no_plan", "sk_missing"} {
		_, err := repo.FindEffectiveLimits(ctx, key, now)
		assert.ErrorIs(t, err, domainerrors.ErrNotFound, "key=%s", key)
	}
}

func TestApiKeyUpdateAndRevoke(t *testing.T) {
	db := newTestDB(t)
	repo := NewApiKeyRepository(db)
	ctx := context.Background()

	seedPlan(t, db, 1, "basic", 5, 1000, "5000")
	seedPlan(t, db, 2, "pro", 50, 100000, "50000")

	key := &entities.ApiKey{
		Key:           "sk_up",
		Status:        entities.ApiKeyStatusActive,
		PricingPlanID: null.Int64From(1),
		ActiveUntil:   null.TimeFrom(time.Now().Add(time.Hour)),
	}
	require.NoError(t, repo.Create(ctx, key))

	key.PricingPlanID = null.Int64From(2)
	require.NoError(t, repo.Update(ctx, key))

	got, err := repo.FindByKey(ctx, "sk_up")
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.PricingPlanID.Int64)

	require.NoError(t, repo.Revoke(ctx, "sk_up"))
	got, err = repo.FindByKey(ctx, "sk_up")
	require.NoError(t, err)
	assert.Equal(t, entities.ApiKeyStatusRevoked, got.Status)

	assert.ErrorIs(t, repo.Revoke(ctx, "sk_missing"), domainerrors.ErrNotFound)
}

func TestLockForUpdateMissingKey(t *testing.T) {
	db := newTestDB(t)
	repo := NewApiKeyRepository(db)

	_, err := repo.LockForUpdate(context.Background(), "sk_missing")
	assert.ErrorIs(t, err, domainerrors.ErrNotFound)
}
