package migration

import (
	"fmt"
	"io/fs"
	"path"
	"sort"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Run applies every embedded migration that has not been recorded in
// schema_migrations yet, in filename order, one transaction per file.
func Run(db *gorm.DB, log *zap.Logger) error {
	log = log.Named("migration")

	err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		name TEXT PRIMARY KEY,
		applied_at TIMESTAMP NOT NULL
	)`).Error
	if err != nil {
		return fmt.Errorf("ensure schema_migrations: %w", err)
	}

	names, err := fs.Glob(embeddedMigrations, migrationsDir+"/*.up.sql")
	if err != nil {
		return fmt.Errorf("list migrations: %w", err)
	}
	sort.Strings(names)

	for _, name := range names {
		base := path.Base(name)

		var applied int64
		err := db.Raw(`SELECT COUNT(1) FROM schema_migrations WHERE name = ?`, base).Scan(&applied).Error
		if err != nil {
			return fmt.Errorf("check migration %s: %w", base, err)
		}
		if applied > 0 {
			continue
		}

		contents, err := embeddedMigrations.ReadFile(name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", base, err)
		}

		err = db.Transaction(func(tx *gorm.DB) error {
			if err := tx.Exec(string(contents)).Error; err != nil {
				return err
			}
			return tx.Exec(
				`INSERT INTO schema_migrations (name, applied_at) VALUES (?, ?)`,
				base, time.Now().UTC(),
			).Error
		})
		if err != nil {
			return fmt.Errorf("apply migration %s: %w", base, err)
		}
		log.Info("migration applied", zap.String("name", base))
	}
	return nil
}
