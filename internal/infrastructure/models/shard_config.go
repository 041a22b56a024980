package models

import (
	"time"
)

type ShardConfig struct {
	ID        int64  `gorm:"primaryKey;autoIncrement"`
	Document  string `gorm:"type:text;not null"`
	CreatedBy string `gorm:"type:varchar(100);not null"`
	CreatedAt time.Time
}

func (ShardConfig) TableName() string { return "shard_configs" }
