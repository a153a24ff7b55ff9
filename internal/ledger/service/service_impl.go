package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/mailforge/internal/clock"
	"github.com/smallbiznis/mailforge/internal/events"
	ledgerdomain "github.com/smallbiznis/mailforge/internal/ledger/domain"
	"github.com/smallbiznis/mailforge/pkg/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const defaultHistoryPageSize = 50

type Params struct {
	fx.In

	DB     *gorm.DB
	Log    *zap.Logger
	GenID  *snowflake.Node
	Clock  clock.Clock
	Outbox *events.Outbox `optional:"true"`
}

type Service struct {
	db     *gorm.DB
	log    *zap.Logger
	genID  *snowflake.Node
	clock  clock.Clock
	outbox *events.Outbox
}

func NewService(p Params) ledgerdomain.Service {
	return &Service{
		db:     p.DB,
		log:    p.Log.Named("ledger.service"),
		genID:  p.GenID,
		clock:  p.Clock,
		outbox: p.Outbox,
	}
}

func (s *Service) GetBalance(ctx context.Context, accountID snowflake.ID) (int64, error) {
	if accountID == 0 {
		return 0, ledgerdomain.ErrInvalidAccount
	}

	var row struct {
		ID      snowflake.ID `gorm:"column:id"`
		Balance int64        `gorm:"column:balance"`
	}
	if err := s.db.WithContext(ctx).Raw(
		`SELECT id, balance
		 FROM credit_accounts
		 WHERE id = ?`,
		accountID,
	).Scan(&row).Error; err != nil {
		return 0, err
	}
	if row.ID == 0 {
		return 0, ledgerdomain.ErrAccountNotFound
	}
	return row.Balance, nil
}

// Reserve atomically checks affordability and deducts in a single conditional
// UPDATE, then appends the usage transaction in the same database transaction.
// Two concurrent reserves can therefore never jointly overdraw the balance.
func (s *Service) Reserve(ctx context.Context, req ledgerdomain.ReserveRequest) (int64, error) {
	if req.AccountID == 0 {
		return 0, ledgerdomain.ErrInvalidAccount
	}
	if req.Amount <= 0 {
		return 0, ledgerdomain.ErrInvalidAmount
	}

	now := s.clock.Now()
	var newBalance int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.WithContext(ctx).Exec(
			`UPDATE credit_accounts
			 SET balance = balance - ?, updated_at = ?
			 WHERE id = ? AND balance >= ?`,
			req.Amount,
			now,
			req.AccountID,
			req.Amount,
		)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			exists, err := s.accountExists(ctx, tx, req.AccountID)
			if err != nil {
				return err
			}
			if !exists {
				return ledgerdomain.ErrAccountNotFound
			}
			return ledgerdomain.ErrInsufficientCredits
		}

		balance, err := s.lockedBalance(ctx, tx, req.AccountID)
		if err != nil {
			return err
		}
		newBalance = balance

		record := ledgerdomain.CreditTransaction{
			ID:           s.genID.Generate(),
			AccountID:    req.AccountID,
			Kind:         ledgerdomain.TransactionKindUsage,
			Amount:       -req.Amount,
			BalanceAfter: balance,
			Description:  strings.TrimSpace(req.Description),
			ProviderRef:  strings.TrimSpace(req.ProviderRef),
			CreatedAt:    now,
		}
		if err := s.insertTransaction(ctx, tx, record); err != nil {
			return err
		}
		return s.publishTx(ctx, tx, events.EventCreditsReserved, record)
	})
	if err != nil {
		return 0, err
	}
	return newBalance, nil
}

// Refund credits back a previously reserved amount. It is never blocked by a
// balance check; the caller passes the exact amount it reserved.
func (s *Service) Refund(ctx context.Context, req ledgerdomain.RefundRequest) (int64, error) {
	return s.increment(ctx, incrementRequest{
		AccountID:   req.AccountID,
		Amount:      req.Amount,
		Kind:        ledgerdomain.TransactionKindRefund,
		Description: req.Description,
		ProviderRef: req.ProviderRef,
		EventType:   events.EventCreditsRefunded,
	})
}

// TopUp adds purchased credits. Idempotency against duplicate payment
// confirmations is the payment subsystem's responsibility.
func (s *Service) TopUp(ctx context.Context, req ledgerdomain.TopUpRequest) (int64, error) {
	return s.increment(ctx, incrementRequest{
		AccountID:   req.AccountID,
		Amount:      req.Amount,
		Kind:        ledgerdomain.TransactionKindTopUp,
		Description: req.Description,
		ProviderRef: req.PaymentRef,
		EventType:   events.EventCreditsToppedUp,
	})
}

type incrementRequest struct {
	AccountID   snowflake.ID
	Amount      int64
	Kind        ledgerdomain.TransactionKind
	Description string
	ProviderRef string
	EventType   string
}

func (s *Service) increment(ctx context.Context, req incrementRequest) (int64, error) {
	if req.AccountID == 0 {
		return 0, ledgerdomain.ErrInvalidAccount
	}
	if req.Amount <= 0 {
		return 0, ledgerdomain.ErrInvalidAmount
	}

	now := s.clock.Now()
	var newBalance int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.WithContext(ctx).Exec(
			`UPDATE credit_accounts
			 SET balance = balance + ?, updated_at = ?
			 WHERE id = ?`,
			req.Amount,
			now,
			req.AccountID,
		)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ledgerdomain.ErrAccountNotFound
		}

		balance, err := s.lockedBalance(ctx, tx, req.AccountID)
		if err != nil {
			return err
		}
		newBalance = balance

		record := ledgerdomain.CreditTransaction{
			ID:           s.genID.Generate(),
			AccountID:    req.AccountID,
			Kind:         req.Kind,
			Amount:       req.Amount,
			BalanceAfter: balance,
			Description:  strings.TrimSpace(req.Description),
			ProviderRef:  strings.TrimSpace(req.ProviderRef),
			CreatedAt:    now,
		}
		if err := s.insertTransaction(ctx, tx, record); err != nil {
			return err
		}
		return s.publishTx(ctx, tx, req.EventType, record)
	})
	if err != nil {
		return 0, err
	}
	return newBalance, nil
}

func (s *Service) History(ctx context.Context, req ledgerdomain.HistoryRequest) (ledgerdomain.HistoryResponse, error) {
	if req.AccountID == 0 {
		return ledgerdomain.HistoryResponse{}, ledgerdomain.ErrInvalidAccount
	}

	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = defaultHistoryPageSize
	}

	query := `SELECT id, account_id, kind, amount, balance_after, description, provider_ref, created_at
	          FROM credit_transactions
	          WHERE account_id = ?`
	args := []any{req.AccountID}

	if req.Kind != "" {
		query += ` AND kind = ?`
		args = append(args, req.Kind)
	}
	if req.StartAt != nil {
		query += ` AND created_at >= ?`
		args = append(args, req.StartAt.UTC())
	}
	if req.EndAt != nil {
		query += ` AND created_at < ?`
		args = append(args, req.EndAt.UTC())
	}
	if req.PageToken != "" {
		cursor, err := pagination.DecodeCursor(req.PageToken)
		if err != nil {
			return ledgerdomain.HistoryResponse{}, err
		}
		cursorID, err := snowflake.ParseString(cursor.ID)
		if err != nil {
			return ledgerdomain.HistoryResponse{}, pagination.ErrInvalidPageToken
		}
		cursorAt, err := time.Parse(time.RFC3339Nano, cursor.CreatedAt)
		if err != nil {
			return ledgerdomain.HistoryResponse{}, pagination.ErrInvalidPageToken
		}
		query += ` AND (created_at < ? OR (created_at = ? AND id < ?))`
		args = append(args, cursorAt, cursorAt, cursorID)
	}

	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, pageSize+1)

	var rows []*ledgerdomain.CreditTransaction
	if err := s.db.WithContext(ctx).Raw(query, args...).Scan(&rows).Error; err != nil {
		return ledgerdomain.HistoryResponse{}, err
	}

	pageInfo := pagination.BuildCursorPageInfo(rows, pageSize, func(record *ledgerdomain.CreditTransaction) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        record.ID.String(),
			CreatedAt: record.CreatedAt.UTC().Format(time.RFC3339Nano),
		})
		if err != nil {
			return ""
		}
		return token
	})
	if pageInfo.HasMore && len(rows) > int(pageSize) {
		rows = rows[:pageSize]
	}

	records := make([]ledgerdomain.CreditTransaction, 0, len(rows))
	for _, row := range rows {
		if row == nil {
			continue
		}
		records = append(records, *row)
	}
	return ledgerdomain.HistoryResponse{
		Transactions: records,
		PageInfo:     *pageInfo,
	}, nil
}

func (s *Service) accountExists(ctx context.Context, tx *gorm.DB, accountID snowflake.ID) (bool, error) {
	var id snowflake.ID
	if err := tx.WithContext(ctx).Raw(
		`SELECT id FROM credit_accounts WHERE id = ?`,
		accountID,
	).Scan(&id).Error; err != nil {
		return false, err
	}
	return id != 0, nil
}

func (s *Service) lockedBalance(ctx context.Context, tx *gorm.DB, accountID snowflake.ID) (int64, error) {
	var balance int64
	if err := tx.WithContext(ctx).Raw(
		`SELECT balance FROM credit_accounts WHERE id = ?`,
		accountID,
	).Scan(&balance).Error; err != nil {
		return 0, err
	}
	return balance, nil
}

func (s *Service) insertTransaction(ctx context.Context, tx *gorm.DB, record ledgerdomain.CreditTransaction) error {
	return tx.WithContext(ctx).Exec(
		`INSERT INTO credit_transactions (id, account_id, kind, amount, balance_after, description, provider_ref, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		record.ID,
		record.AccountID,
		record.Kind,
		record.Amount,
		record.BalanceAfter,
		record.Description,
		record.ProviderRef,
		record.CreatedAt,
	).Error
}

func (s *Service) publishTx(ctx context.Context, tx *gorm.DB, eventType string, record ledgerdomain.CreditTransaction) error {
	if s.outbox == nil {
		return nil
	}
	return s.outbox.PublishTx(ctx, tx, events.Event{
		AccountID: record.AccountID,
		Type:      eventType,
		Payload: map[string]any{
			"transaction_id": record.ID.String(),
			"amount":         record.Amount,
			"balance_after":  record.BalanceAfter,
			"provider_ref":   record.ProviderRef,
		},
		DedupeKey: eventType + ":" + record.ID.String(),
	})
}
