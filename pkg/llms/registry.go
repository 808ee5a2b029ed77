package llms

import (
	"github.com/loomlabs/loom/pkg/registry"
)

// Registry holds named provider instances.
type Registry struct {
	*registry.Base[Provider]
}

func NewRegistry() *Registry {
	return &Registry{Base: registry.NewBase[Provider]()}
}

// RegisterFromConfig builds the provider for cfg and registers it under name.
func (r *Registry) RegisterFromConfig(name string, cfg Config) (Provider, error) {
	provider, err := NewProvider(cfg)
	if err != nil {
		return nil, err
	}
	if err := r.Register(name, provider); err != nil {
		return nil, err
	}
	return provider, nil
}
