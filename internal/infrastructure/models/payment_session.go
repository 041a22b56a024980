package models

import (
	"time"

	"github.com/google/uuid"
)

type PaymentSession struct {
	ID                         uuid.UUID `gorm:"type:uuid;primaryKey"`
	ApiKey                     *string   `gorm:"type:varchar(128);index"`
	PaymentAddress             string    `gorm:"type:text;not null"`
	ReceiverNonce              []byte    `gorm:"not null"`
	Status                     string    `gorm:"type:varchar(16);not null;index"`
	TargetPlanID               int64     `gorm:"not null"`
	AmountRequired             string    `gorm:"type:varchar(78);not null"`
	TokenReceived              *string   `gorm:"type:text"`
	CreatedAt                  time.Time
	CompletedAt                *time.Time
	CancelledAt                *time.Time
	ExpiresAt                  time.Time `gorm:"not null;index"`
	ShouldCreateKey            bool      `gorm:"not null"`
	RefundAmount               string    `gorm:"type:varchar(78);not null;default:0"`
	RequestID                  *string   `gorm:"type:varchar(128)"`
	CompletionRequestJSON      *string   `gorm:"type:text"`
	CompletionRequestTimestamp *time.Time
}

func (PaymentSession) TableName() string { return "payment_sessions" }
