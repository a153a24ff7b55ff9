package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	auditservice "github.com/smallbiznis/mailforge/internal/audit/service"
	"github.com/smallbiznis/mailforge/internal/cache"
	campaigndomain "github.com/smallbiznis/mailforge/internal/campaign/domain"
	"github.com/smallbiznis/mailforge/internal/config"
	generationdomain "github.com/smallbiznis/mailforge/internal/generation/domain"
	ledgerdomain "github.com/smallbiznis/mailforge/internal/ledger/domain"
	"github.com/smallbiznis/mailforge/internal/observability/logger"
)

const accountCacheTTL = 30 * time.Second

type Params struct {
	fx.In

	Cfg           config.Config
	Log           *zap.Logger
	DB            *gorm.DB
	GenID         *snowflake.Node
	LedgerSvc     ledgerdomain.Service
	GenerationSvc generationdomain.Service
	Campaigns     campaigndomain.Store
	AuditSvc      auditservice.Service `optional:"true"`
}

type Server struct {
	cfg           config.Config
	log           *zap.Logger
	db            *gorm.DB
	genID         *snowflake.Node
	ledgerSvc     ledgerdomain.Service
	generationSvc generationdomain.Service
	campaigns     campaigndomain.Store
	auditSvc      auditservice.Service

	accountCache cache.Cache[string, cachedAccount]
	limiter      *rateLimiter
}

func NewServer(p Params) *Server {
	limit := p.Cfg.RateLimit.Limit
	if limit <= 0 {
		limit = 30
	}
	window := p.Cfg.RateLimit.Window
	if window <= 0 {
		window = time.Minute
	}
	return &Server{
		cfg:           p.Cfg,
		log:           p.Log.Named("server"),
		db:            p.DB,
		genID:         p.GenID,
		ledgerSvc:     p.LedgerSvc,
		generationSvc: p.GenerationSvc,
		campaigns:     p.Campaigns,
		auditSvc:      p.AuditSvc,
		accountCache:  cache.NewTTLCache[string, cachedAccount](),
		limiter:       newRateLimiter(limit, window),
	}
}

func NewEngine(s *Server, cfg config.Config) *gin.Engine {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(logger.GinMiddleware(logger.MiddlewareConfig{SkipPaths: []string{"/healthz"}}))

	engine.GET("/healthz", s.Healthz)

	v1 := engine.Group("/v1", s.APIKeyRequired())
	{
		v1.POST("/campaigns", s.CreateCampaign)
		v1.GET("/campaigns/:id", s.GetCampaign)
		v1.POST("/campaigns/:id/generate", s.RateLimited(), s.GenerateCampaign)

		v1.GET("/credits/balance", s.GetBalance)
		v1.GET("/credits/transactions", s.ListTransactions)
		v1.POST("/credits/topup", s.TopUp)
	}
	return engine
}

func RunHTTP(lc fx.Lifecycle, engine *gin.Engine, cfg config.Config, log *zap.Logger) {
	addr := cfg.HTTPAddr
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{Addr: addr, Handler: engine}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				log.Info("http server listening", zap.String("addr", addr))
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Error("http server stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}

var Module = fx.Module("server",
	fx.Provide(
		NewServer,
		NewEngine,
	),
	fx.Invoke(RunHTTP),
)
