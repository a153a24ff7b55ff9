package campaign

import (
	"go.uber.org/fx"

	"github.com/smallbiznis/mailforge/internal/campaign/repository"
)

var Module = fx.Module("campaign",
	fx.Provide(repository.Provide),
)
