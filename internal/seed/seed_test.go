package seed

import (
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	ledgerdomain "github.com/smallbiznis/mailforge/internal/ledger/domain"
)

func TestEnsureDefaultAccountIsIdempotent(t *testing.T) {
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
	if err := db.AutoMigrate(&ledgerdomain.CreditAccount{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	if err := EnsureDefaultAccount(db); err != nil {
		t.Fatalf("first EnsureDefaultAccount: %v", err)
	}
	if err := EnsureDefaultAccount(db); err != nil {
		t.Fatalf("second EnsureDefaultAccount: %v", err)
	}

	var count int64
	if err := db.Model(&ledgerdomain.CreditAccount{}).Count(&count).Error; err != nil {
		t.Fatalf("count accounts: %v", err)
	}
	if count != 1 {
		t.Fatalf("accounts = %d, want 1", count)
	}

	var account ledgerdomain.CreditAccount
	if err := db.Where("api_key_hash = ?", HashAPIKey(defaultAPIKey)).First(&account).Error; err != nil {
		t.Fatalf("lookup seeded account: %v", err)
	}
	if account.Balance != 0 {
		t.Fatalf("seeded balance = %d, want 0", account.Balance)
	}
}
