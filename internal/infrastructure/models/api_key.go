package models

import (
	"time"
)

type ApiKey struct {
	ID            int64      `gorm:"primaryKey;autoIncrement"`
	Key           string     `gorm:"type:varchar(128);uniqueIndex;not null"`
	Description   string     `gorm:"type:text"`
	Status        string     `gorm:"type:varchar(16);not null;default:active"`
	PricingPlanID *int64     `gorm:"index"`
	ActiveUntil   *time.Time `gorm:"index"`
	CreatedAt     time.Time

	PricingPlan *PricingPlan `gorm:"foreignKey:PricingPlanID"`
}

func (ApiKey) TableName() string { return "api_keys" }
