package domain

import (
	"context"
	"errors"
	"time"

	"github.com/smallbiznis/mailforge/pkg/pagination"

	"github.com/bwmarrin/snowflake"
)

// LedgerService is the single entry point for credit balance mutations.
//
// Reserve is the only operation that removes credits for usage: it is an
// atomic check-and-deduct, so a successful reservation already is the final
// charge. Refund credits back the exact amount of an earlier reservation when
// the paid work failed. TopUp is reserved for the payment confirmation flow.
type LedgerService interface {
	GetBalance(ctx context.Context, accountID snowflake.ID) (int64, error)
	Reserve(ctx context.Context, req ReserveRequest) (int64, error)
	Refund(ctx context.Context, req RefundRequest) (int64, error)
	TopUp(ctx context.Context, req TopUpRequest) (int64, error)
	History(ctx context.Context, req HistoryRequest) (HistoryResponse, error)
}

// Service is the package alias for LedgerService.
type Service = LedgerService

// ReserveRequest deducts Amount from the account if it can afford it.
type ReserveRequest struct {
	AccountID   snowflake.ID
	Amount      int64
	Description string
	ProviderRef string
}

// RefundRequest credits back a previously reserved amount.
type RefundRequest struct {
	AccountID   snowflake.ID
	Amount      int64
	Description string
	ProviderRef string
}

// TopUpRequest adds purchased credits to the account.
type TopUpRequest struct {
	AccountID   snowflake.ID
	Amount      int64
	Description string
	PaymentRef  string
}

// HistoryRequest filters the transaction log for one account.
type HistoryRequest struct {
	AccountID snowflake.ID
	Kind      TransactionKind
	StartAt   *time.Time
	EndAt     *time.Time
	PageToken string
	PageSize  int32
}

// HistoryResponse is one page of the transaction log, newest first.
type HistoryResponse struct {
	Transactions []CreditTransaction `json:"transactions"`
	PageInfo     pagination.PageInfo `json:"page_info"`
}

var (
	ErrAccountNotFound     = errors.New("account_not_found")
	ErrInvalidAccount      = errors.New("invalid_account")
	ErrInvalidAmount       = errors.New("invalid_amount")
	ErrInsufficientCredits = errors.New("insufficient_credits")
)
