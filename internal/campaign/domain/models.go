package domain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"

	generationdomain "github.com/smallbiznis/mailforge/internal/generation/domain"
)

var (
	ErrCampaignNotFound = errors.New("campaign_not_found")
	ErrInvalidCampaign  = errors.New("invalid_campaign")
)

// Campaign is one email campaign owned by a credit account. Generated
// artifacts land in GeneratedFields keyed by artifact key; failures for the
// latest run land in GenerationErrors under the same keys.
type Campaign struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"id"`
	AccountID snowflake.ID `gorm:"index;not null" json:"account_id"`
	Name      string       `gorm:"type:text;not null" json:"name"`
	Tone      string       `gorm:"type:text" json:"tone"`

	Products datatypes.JSON `gorm:"type:jsonb;not null;default:'[]'" json:"products"`

	GeneratedFields  datatypes.JSONMap `gorm:"type:jsonb;not null;default:'{}'" json:"generated_fields"`
	GenerationErrors datatypes.JSONMap `gorm:"type:jsonb;not null;default:'{}'" json:"generation_errors"`

	LastRunID     *snowflake.ID `gorm:"index" json:"last_run_id,omitempty"`
	LastRunStatus string        `gorm:"type:text" json:"last_run_status,omitempty"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Campaign) TableName() string { return "campaigns" }

// ArtifactKey is the GeneratedFields key for one task. Campaign-level tasks
// use the bare kind; per-product tasks append the product index.
func ArtifactKey(kind generationdomain.TaskKind, productIndex int) string {
	if kind.PerProduct() {
		return fmt.Sprintf("%s.%d", kind, productIndex)
	}
	return string(kind)
}

// Store persists campaigns and their generated artifacts.
type Store interface {
	Get(ctx context.Context, accountID, campaignID snowflake.ID) (*Campaign, error)
	Create(ctx context.Context, campaign *Campaign) error
	WriteGeneratedField(ctx context.Context, campaignID snowflake.ID, kind generationdomain.TaskKind, productIndex int, value string) error
	MarkGenerationError(ctx context.Context, campaignID snowflake.ID, kind generationdomain.TaskKind, productIndex int, message string) error
	RecordRun(ctx context.Context, campaignID, runID snowflake.ID, status generationdomain.RunStatus) error
}
