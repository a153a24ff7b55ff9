package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	auditdomain "github.com/smallbiznis/mailforge/internal/audit/domain"
	"github.com/smallbiznis/mailforge/internal/clock"
)

// Entry is the caller-facing shape of one audit record.
type Entry struct {
	AccountID  snowflake.ID
	ActorType  auditdomain.ActorType
	ActorID    string
	Action     string
	TargetType string
	TargetID   string
	Metadata   map[string]any
}

type Service interface {
	Record(ctx context.Context, entry Entry)
	List(ctx context.Context, filter auditdomain.ListFilter) ([]*auditdomain.AuditLog, error)
}

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Repository auditdomain.Repository
}

type auditService struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	repository auditdomain.Repository
}

func NewService(p Params) Service {
	return &auditService{
		db:         p.DB,
		log:        p.Log.Named("audit.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		repository: p.Repository,
	}
}

// Record writes an audit row. Audit failures are logged, never propagated;
// the audited operation has already happened.
func (s *auditService) Record(ctx context.Context, entry Entry) {
	row := &auditdomain.AuditLog{
		ID:         s.genID.Generate(),
		ActorType:  string(entry.ActorType),
		Action:     entry.Action,
		TargetType: entry.TargetType,
		Metadata:   datatypes.JSONMap(entry.Metadata),
		CreatedAt:  s.clock.Now(),
	}
	if row.Metadata == nil {
		row.Metadata = datatypes.JSONMap{}
	}
	if entry.AccountID != 0 {
		accountID := entry.AccountID
		row.AccountID = &accountID
	}
	if entry.ActorID != "" {
		actorID := entry.ActorID
		row.ActorID = &actorID
	}
	if entry.TargetID != "" {
		targetID := entry.TargetID
		row.TargetID = &targetID
	}

	if err := s.repository.Insert(ctx, s.db, row); err != nil {
		s.log.Error("audit insert failed",
			zap.String("action", entry.Action),
			zap.Error(err),
		)
	}
}

func (s *auditService) List(ctx context.Context, filter auditdomain.ListFilter) ([]*auditdomain.AuditLog, error) {
	return s.repository.List(ctx, s.db, filter)
}
