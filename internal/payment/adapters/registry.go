package adapters

import (
	"fmt"
	"sort"
	"strings"

	"github.com/smallbiznis/penwork/internal/payment/domain"
)

// Registry maps a configured gateway name (GATEWAY_PROVIDER) to the factory
// that builds its adapter. It is filled once at startup.
type Registry struct {
	factories map[string]domain.AdapterFactory
}

func NewRegistry(factories ...domain.AdapterFactory) *Registry {
	r := &Registry{factories: make(map[string]domain.AdapterFactory, len(factories))}
	for _, f := range factories {
		if f == nil {
			continue
		}
		// first registration wins; later duplicates are ignored
		_ = r.Register(f)
	}
	return r
}

func providerKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Register adds a factory. Blank and duplicate provider names are rejected.
func (r *Registry) Register(f domain.AdapterFactory) error {
	key := providerKey(f.Provider())
	if key == "" {
		return fmt.Errorf("register gateway: %w", domain.ErrProviderNotFound)
	}
	if _, dup := r.factories[key]; dup {
		return fmt.Errorf("gateway %q already registered", key)
	}
	r.factories[key] = f
	return nil
}

// Providers lists registered gateway names in sorted order.
func (r *Registry) Providers() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Open builds the adapter for provider with the merchant settings in cfg.
func (r *Registry) Open(provider string, cfg domain.AdapterConfig) (domain.GatewayAdapter, error) {
	if r == nil {
		return nil, domain.ErrProviderNotFound
	}
	f, ok := r.factories[providerKey(provider)]
	if !ok {
		return nil, domain.ErrProviderNotFound
	}
	return f.NewAdapter(cfg)
}
