package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	campaigndomain "github.com/smallbiznis/mailforge/internal/campaign/domain"
	"github.com/smallbiznis/mailforge/internal/clock"
	generationdomain "github.com/smallbiznis/mailforge/internal/generation/domain"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Clock clock.Clock
}

type gormStore struct {
	db    *gorm.DB
	clock clock.Clock
}

func Provide(p Params) campaigndomain.Store {
	return &gormStore{db: p.DB, clock: p.Clock}
}

func (s *gormStore) Get(ctx context.Context, accountID, campaignID snowflake.ID) (*campaigndomain.Campaign, error) {
	var campaign campaigndomain.Campaign
	err := s.db.WithContext(ctx).
		Where("id = ? AND account_id = ?", campaignID, accountID).
		First(&campaign).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, campaigndomain.ErrCampaignNotFound
	}
	if err != nil {
		return nil, err
	}
	return &campaign, nil
}

func (s *gormStore) Create(ctx context.Context, campaign *campaigndomain.Campaign) error {
	if campaign == nil || campaign.ID == 0 || campaign.AccountID == 0 || campaign.Name == "" {
		return campaigndomain.ErrInvalidCampaign
	}
	if campaign.GeneratedFields == nil {
		campaign.GeneratedFields = datatypes.JSONMap{}
	}
	if campaign.GenerationErrors == nil {
		campaign.GenerationErrors = datatypes.JSONMap{}
	}
	now := s.clock.Now()
	campaign.CreatedAt = now
	campaign.UpdatedAt = now
	return s.db.WithContext(ctx).Create(campaign).Error
}

// WriteGeneratedField records one artifact and clears any stale error left
// under the same key by a previous run.
func (s *gormStore) WriteGeneratedField(ctx context.Context, campaignID snowflake.ID, kind generationdomain.TaskKind, productIndex int, value string) error {
	key := campaigndomain.ArtifactKey(kind, productIndex)
	return s.mutate(ctx, campaignID, func(campaign *campaigndomain.Campaign) {
		campaign.GeneratedFields[key] = value
		delete(campaign.GenerationErrors, key)
	})
}

func (s *gormStore) MarkGenerationError(ctx context.Context, campaignID snowflake.ID, kind generationdomain.TaskKind, productIndex int, message string) error {
	key := campaigndomain.ArtifactKey(kind, productIndex)
	return s.mutate(ctx, campaignID, func(campaign *campaigndomain.Campaign) {
		campaign.GenerationErrors[key] = message
	})
}

func (s *gormStore) RecordRun(ctx context.Context, campaignID, runID snowflake.ID, status generationdomain.RunStatus) error {
	result := s.db.WithContext(ctx).Model(&campaigndomain.Campaign{}).
		Where("id = ?", campaignID).
		Updates(map[string]any{
			"last_run_id":     runID,
			"last_run_status": string(status),
			"updated_at":      s.clock.Now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return campaigndomain.ErrCampaignNotFound
	}
	return nil
}

// mutate applies a read-modify-write on the campaign's JSON columns inside a
// transaction. Runs against one campaign are sequential, so the row lock is
// only guarding against concurrent runs on different campaigns sharing a
// connection.
func (s *gormStore) mutate(ctx context.Context, campaignID snowflake.ID, apply func(*campaigndomain.Campaign)) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var campaign campaigndomain.Campaign
		err := tx.Where("id = ?", campaignID).First(&campaign).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return campaigndomain.ErrCampaignNotFound
		}
		if err != nil {
			return err
		}
		if campaign.GeneratedFields == nil {
			campaign.GeneratedFields = datatypes.JSONMap{}
		}
		if campaign.GenerationErrors == nil {
			campaign.GenerationErrors = datatypes.JSONMap{}
		}
		apply(&campaign)
		return tx.Model(&campaigndomain.Campaign{}).
			Where("id = ?", campaignID).
			Updates(map[string]any{
				"generated_fields":  campaign.GeneratedFields,
				"generation_errors": campaign.GenerationErrors,
				"updated_at":        s.clock.Now(),
			}).Error
	})
}
