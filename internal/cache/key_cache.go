package cache

import (
	"context"
	"errors"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"unicity-proxy.backend/internal/domain/entities"
	domainerrors "unicity-proxy.backend/internal/domain/errors"
	"unicity-proxy.backend/internal/domain/repositories"
	"unicity-proxy.backend/pkg/clock"
)

const (
	// DefaultTTL bounds how long a stale (or negative) entry can shadow the
	// database; admin writes invalidate eagerly.
	DefaultTTL  = 60 * time.Second
	defaultSize = 100_000
)

type entry struct {
	limits   entities.KeyLimits
	negative bool
}

// KeyCache is the TTL cache in front of the api_keys table. A miss loads the
// effective-key limits from the store; keys that are unknown or not effective
// are cached as negative entries for the same TTL.
type KeyCache struct {
	lru  *expirable.LRU[string, entry]
	keys repositories.ApiKeyRepository
	ts   clock.Clock
}

func NewKeyCache(keys repositories.ApiKeyRepository, ts clock.Clock, ttl time.Duration) *KeyCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if ts == nil {
		ts = clock.System()
	}
	return &KeyCache{
		lru:  expirable.NewLRU[string, entry](defaultSize, nil, ttl),
		keys: keys,
		ts:   ts,
	}
}

// Lookup resolves the request budget of an effective key. The boolean is
// false when the key does not authorize proxied traffic right now.
func (c *KeyCache) Lookup(ctx context.Context, key string) (entities.KeyLimits, bool, error) {
	if e, ok := c.lru.Get(key); ok {
		if e.negative {
			return entities.KeyLimits{}, false, nil
		}
		return e.limits, true, nil
	}

	limits, err := c.keys.FindEffectiveLimits(ctx, key, c.ts.Now())
	if err != nil {
		if errors.Is(err, domainerrors.ErrNotFound) {
			c.lru.Add(key, entry{negative: true})
			return entities.KeyLimits{}, false, nil
		}
		return entities.KeyLimits{}, false, err
	}

	c.lru.Add(key, entry{limits: *limits})
	return *limits, true, nil
}

// Invalidate drops the entry for one key string. Admin writes call this so a
// freshly created or re-planned key is not shadowed by a negative entry.
func (c *KeyCache) Invalidate(key string) {
	c.lru.Remove(key)
}

// Purge drops every entry.
func (c *KeyCache) Purge() {
	c.lru.Purge()
}
