package entities

import (
	"time"

	"github.com/volatiletech/null/v8"
)

// ApiKeyStatus represents the lifecycle state of an API key
type ApiKeyStatus string

const (
	ApiKeyStatusActive  ApiKeyStatus = "active"
	ApiKeyStatusRevoked ApiKeyStatus = "revoked"
)

// ApiKey represents a client credential for proxied aggregator traffic
type ApiKey struct {
	ID            int64        `json:"id"`
	Key           string       `json:"key"`
	Description   string       `json:"description"`
	Status        ApiKeyStatus `json:"status"`
	PricingPlanID null.Int64   `json:"pricingPlanId,omitempty"`
	ActiveUntil   null.Time    `json:"activeUntil,omitempty"`
	CreatedAt     time.Time    `json:"createdAt"`
}

// EffectiveAt reports whether the key authorizes proxied requests at the
// given instant: active status, an assigned plan, and not past ActiveUntil.
func (k *ApiKey) EffectiveAt(now time.Time) bool {
	if k.Status != ApiKeyStatusActive {
		return false
	}
	if !k.PricingPlanID.Valid {
		return false
	}
	if !k.ActiveUntil.Valid {
		return false
	}
	return k.ActiveUntil.Time.After(now)
}

// KeyLimits is the per-key request budget resolved from the pricing plan.
type KeyLimits struct {
	RequestsPerSecond int `json:"requestsPerSecond"`
	RequestsPerDay    int `json:"requestsPerDay"`
}
