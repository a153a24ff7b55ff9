package seed

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"

	ledgerdomain "github.com/smallbiznis/mailforge/internal/ledger/domain"
)

const (
	defaultAccountName = "default"
	defaultAPIKey      = "mf-dev-key"
)

// EnsureDefaultAccount seeds a zero-balance operator account keyed by the
// development API key. Intended for local and test bootstrap only; production
// accounts are provisioned out of band.
func EnsureDefaultAccount(db *gorm.DB) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		return err
	}

	ctx := context.Background()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		hash := HashAPIKey(defaultAPIKey)

		var account ledgerdomain.CreditAccount
		err := tx.WithContext(ctx).Where("api_key_hash = ?", hash).First(&account).Error
		if err == nil {
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		now := time.Now().UTC()
		account = ledgerdomain.CreditAccount{
			ID:         node.Generate(),
			Name:       defaultAccountName,
			APIKeyHash: hash,
			Balance:    0,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		return tx.WithContext(ctx).Create(&account).Error
	})
}

// HashAPIKey is the canonical API-key hash stored on credit accounts.
func HashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}
