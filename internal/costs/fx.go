package costs

import (
	"github.com/smallbiznis/mailforge/internal/config"
	"go.uber.org/fx"
)

var Module = fx.Module("costs",
	fx.Provide(func(cfg config.Config) (*Table, error) {
		return Load(cfg.CostTablePath)
	}),
)
