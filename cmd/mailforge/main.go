package main

import (
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/smallbiznis/mailforge/internal/audit"
	"github.com/smallbiznis/mailforge/internal/campaign"
	"github.com/smallbiznis/mailforge/internal/clock"
	"github.com/smallbiznis/mailforge/internal/config"
	"github.com/smallbiznis/mailforge/internal/costs"
	"github.com/smallbiznis/mailforge/internal/events"
	"github.com/smallbiznis/mailforge/internal/generation"
	"github.com/smallbiznis/mailforge/internal/ledger"
	"github.com/smallbiznis/mailforge/internal/migration"
	"github.com/smallbiznis/mailforge/internal/observability/logger"
	"github.com/smallbiznis/mailforge/internal/observability/tracing"
	"github.com/smallbiznis/mailforge/internal/provider"
	"github.com/smallbiznis/mailforge/internal/seed"
	"github.com/smallbiznis/mailforge/internal/server"
	"github.com/smallbiznis/mailforge/pkg/db"
)

var version = "dev"

func main() {
	app := fx.New(
		config.Module,
		logger.Module,
		tracing.Module,
		clock.Module,
		fx.Provide(func() (*snowflake.Node, error) {
			return snowflake.NewNode(1)
		}),
		db.Module,
		fx.Invoke(func(conn *gorm.DB, cfg config.Config, log *zap.Logger) error {
			if err := migration.Run(conn, log); err != nil {
				return err
			}
			if cfg.IsProduction() {
				return nil
			}
			return seed.EnsureDefaultAccount(conn)
		}),
		events.Module,
		costs.Module,
		provider.Module,
		ledger.Module,
		campaign.Module,
		audit.Module,
		generation.Module,
		server.Module,
		fx.Invoke(func(log *zap.Logger) {
			log.Info("mailforge starting", zap.String("version", version))
		}),
	)
	app.Run()
}
