package entities

import (
	"math/big"
	"time"
)

// PricingPlan defines the request budget and price of a subscription tier.
// Price is denominated in the smallest on-chain currency unit.
type PricingPlan struct {
	ID                int64     `json:"id"`
	Name              string    `json:"name"`
	RequestsPerSecond int       `json:"requestsPerSecond"`
	RequestsPerDay    int       `json:"requestsPerDay"`
	Price             *big.Int  `json:"price"`
	CreatedAt         time.Time `json:"createdAt"`
}

// Limits returns the plan's budget as KeyLimits.
func (p *PricingPlan) Limits() KeyLimits {
	return KeyLimits{
		RequestsPerSecond: p.RequestsPerSecond,
		RequestsPerDay:    p.RequestsPerDay,
	}
}
