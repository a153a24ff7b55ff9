package migration

import (
	"testing"

	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared&_pragma=busy_timeout(5000)"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("unwrap sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	return db
}

func TestRunAppliesAllMigrations(t *testing.T) {
	db := openTestDB(t)
	if err := Run(db, zap.NewNop()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	for _, table := range []string{"credit_accounts", "credit_transactions", "campaigns", "credit_events", "audit_logs"} {
		var count int64
		err := db.Raw(`SELECT COUNT(1) FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&count).Error
		if err != nil {
			t.Fatalf("inspect %s: %v", table, err)
		}
		if count != 1 {
			t.Fatalf("table %s missing", table)
		}
	}
}

func TestRunIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	if err := Run(db, zap.NewNop()); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	if err := Run(db, zap.NewNop()); err != nil {
		t.Fatalf("second Run: %v", err)
	}

	var applied int64
	if err := db.Raw(`SELECT COUNT(1) FROM schema_migrations`).Scan(&applied).Error; err != nil {
		t.Fatalf("count applied: %v", err)
	}
	if applied != 5 {
		t.Fatalf("applied = %d, want 5", applied)
	}
}
