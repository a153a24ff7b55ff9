package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// TransactionKind classifies a balance mutation.
type TransactionKind string

const (
	TransactionKindTopUp  TransactionKind = "top_up"
	TransactionKindUsage  TransactionKind = "usage"
	TransactionKindRefund TransactionKind = "refund"
)

// CreditAccount holds the spendable balance for one operator.
// Balance is mutated only through the ledger service and never goes below zero.
type CreditAccount struct {
	ID         snowflake.ID `gorm:"primaryKey" json:"id"`
	Name       string       `gorm:"type:text;not null" json:"name"`
	APIKeyHash string       `gorm:"type:text;not null;uniqueIndex" json:"-"`
	Balance    int64        `gorm:"not null;default:0" json:"balance"`
	CreatedAt  time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt  time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (CreditAccount) TableName() string { return "credit_accounts" }

// CreditTransaction is an immutable log entry for one balance mutation.
// Amount is signed: negative for usage, positive for top-ups and refunds.
// Summing Amount over an account's transactions reproduces its balance.
type CreditTransaction struct {
	ID           snowflake.ID    `gorm:"primaryKey" json:"id"`
	AccountID    snowflake.ID    `gorm:"not null;index" json:"account_id"`
	Kind         TransactionKind `gorm:"type:text;not null;index" json:"kind"`
	Amount       int64           `gorm:"not null" json:"amount"`
	BalanceAfter int64           `gorm:"not null" json:"balance_after"`
	Description  string          `gorm:"type:text;not null" json:"description"`
	ProviderRef  string          `gorm:"type:text" json:"provider_ref"`
	CreatedAt    time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP;index" json:"created_at"`
}

// TableName sets the database table name.
func (CreditTransaction) TableName() string { return "credit_transactions" }
