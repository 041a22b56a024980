package repositories

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared", t.Name(), time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err, "open sqlite")
	require.NoError(t, EnsureSchema(db), "ensure schema")
	return db
}

func mustExec(t *testing.T, db *gorm.DB, q string, args ...interface{}) {
	t.Helper()
	require.NoError(t, db.Exec(q, args...).Error, "exec failed: query=%s", q)
}

func seedPlan(t *testing.T, db *gorm.DB, id int64, name string, rps, rpd int, price string) {
	t.Helper()
	mustExec(t, db, `INSERT INTO pricing_plans (id, name, requests_per_second, requests_per_day, price, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`, id, name, rps, rpd, price, time.Now().UTC())
}

func seedKey(t *testing.T, db *gorm.DB, key string, status string, planID interface{}, activeUntil interface{}) {
	t.Helper()
	mustExec(t, db, `INSERT INTO api_keys (key, description, status, pricing_plan_id, active_until, created_at)
		VALUES (?, '', ?, ?, ?, ?)`, key, status, planID, activeUntil, time.Now().UTC())
}
