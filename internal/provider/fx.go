package provider

import (
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/smallbiznis/mailforge/internal/config"
	"github.com/smallbiznis/mailforge/internal/provider/adapters"
	"github.com/smallbiznis/mailforge/internal/provider/adapters/openai"
	"github.com/smallbiznis/mailforge/internal/provider/adapters/stability"
	providerdomain "github.com/smallbiznis/mailforge/internal/provider/domain"
)

// ClientSet holds the configured provider clients keyed by provider id.
// Providers without credentials are simply absent; tasks routed to them fail
// with provider_not_found at run time rather than blocking startup.
type ClientSet map[string]providerdomain.Client

// Client resolves a configured client by provider id.
func (s ClientSet) Client(provider string) (providerdomain.Client, error) {
	client, ok := s[provider]
	if !ok {
		return nil, providerdomain.ErrProviderNotFound
	}
	return client, nil
}

func NewRegistry() *adapters.Registry {
	return adapters.NewRegistry(
		openai.NewFactory(),
		stability.NewFactory(),
	)
}

// NewClientSet builds one client per provider that has credentials configured.
func NewClientSet(registry *adapters.Registry, cfg config.Config, log *zap.Logger) (ClientSet, error) {
	log = log.Named("provider")
	set := make(ClientSet)

	configs := map[string]config.ProviderConfig{
		openai.ProviderID:    cfg.Providers.OpenAI,
		stability.ProviderID: cfg.Providers.Stability,
	}
	for providerID, providerCfg := range configs {
		if providerCfg.APIKey == "" {
			log.Warn("provider not configured, skipping", zap.String("provider", providerID))
			continue
		}
		client, err := registry.NewClient(providerID, providerdomain.Config{
			APIKey:  providerCfg.APIKey,
			BaseURL: providerCfg.BaseURL,
			Model:   providerCfg.Model,
			Timeout: cfg.Providers.CallTimeout,
		})
		if err != nil {
			return nil, err
		}
		set[providerID] = client
		log.Info("provider configured", zap.String("provider", providerID))
	}
	return set, nil
}

var Module = fx.Module("provider",
	fx.Provide(
		NewRegistry,
		NewClientSet,
	),
)
