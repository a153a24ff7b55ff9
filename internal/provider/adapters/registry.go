package adapters

import (
	"strings"

	providerdomain "github.com/smallbiznis/mailforge/internal/provider/domain"
)

// Registry holds one factory per known provider.
type Registry struct {
	factories map[string]providerdomain.Factory
}

func NewRegistry(factories ...providerdomain.Factory) *Registry {
	registry := &Registry{factories: make(map[string]providerdomain.Factory, len(factories))}
	for _, factory := range factories {
		if factory == nil {
			continue
		}
		registry.factories[normalize(factory.Provider())] = factory
	}
	return registry
}

// ProviderExists reports whether a factory is registered for the provider.
func (r *Registry) ProviderExists(provider string) bool {
	if r == nil {
		return false
	}
	_, ok := r.factories[normalize(provider)]
	return ok
}

// NewClient builds a configured client for the provider.
func (r *Registry) NewClient(provider string, cfg providerdomain.Config) (providerdomain.Client, error) {
	if r == nil {
		return nil, providerdomain.ErrProviderNotFound
	}
	factory, ok := r.factories[normalize(provider)]
	if !ok {
		return nil, providerdomain.ErrProviderNotFound
	}
	return factory.NewClient(cfg)
}

func normalize(provider string) string {
	return strings.ToLower(strings.TrimSpace(provider))
}
