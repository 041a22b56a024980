package models

import (
	"time"
)

type PricingPlan struct {
	ID                int64  `gorm:"primaryKey;autoIncrement"`
	Name              string `gorm:"type:varchar(100);uniqueIndex;not null"`
	RequestsPerSecond int    `gorm:"not null"`
	RequestsPerDay    int    `gorm:"not null"`
	// Price is stored as a decimal string; amounts exceed int64 range.
	Price     string `gorm:"type:varchar(78);not null"`
	CreatedAt time.Time
}

func (PricingPlan) TableName() string { return "pricing_plans" }
