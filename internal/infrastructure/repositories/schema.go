package repositories

import (
	"gorm.io/gorm"
	"unicity-proxy.backend/internal/infrastructure/models"
)

// EnsureSchema creates the tables and the partial unique indexes the payment
// state machine relies on: at most one pending session per key, and a
// globally unique blockchain request id where assigned. Both postgres and
// sqlite accept the partial index syntax.
func EnsureSchema(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.PricingPlan{},
		&models.ApiKey{},
		&models.PaymentSession{},
		&models.ShardConfig{},
	); err != nil {
		return err
	}
	stmts := []string{
		`CREATE UNIQUE INDEX IF NOT EXISTS uq_payment_sessions_pending_key
			ON payment_sessions (api_key) WHERE status = 'pending' AND api_key IS NOT NULL`,
		`CREATE UNIQUE INDEX IF NOT EXISTS uq_payment_sessions_request_id
			ON payment_sessions (request_id) WHERE request_id IS NOT NULL`,
	}
	for _, stmt := range stmts {
		if err := db.Exec(stmt).Error; err != nil {
			return err
		}
	}
	return nil
}
