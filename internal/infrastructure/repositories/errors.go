package repositories

import (
	"errors"
	"strings"

	"gorm.io/gorm"
)

// isUniqueViolation recognizes unique-constraint breaches from both the
// postgres driver (SQLSTATE 23505) and the sqlite driver used in tests.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLSTATE 23505") ||
		strings.Contains(msg, "duplicate key value") ||
		strings.Contains(msg, "UNIQUE constraint failed")
}

// isLockNotAvailable recognizes FOR UPDATE NOWAIT contention
// (SQLSTATE 55P03 on postgres).
func isLockNotAvailable(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLSTATE 55P03") ||
		strings.Contains(msg, "could not obtain lock") ||
		strings.Contains(msg, "database is locked")
}
