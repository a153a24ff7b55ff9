package generation

import (
	"go.uber.org/fx"

	"github.com/smallbiznis/mailforge/internal/generation/service"
)

var Module = fx.Module("generation.service",
	fx.Provide(service.NewService),
)
