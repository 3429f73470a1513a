package adapters

import (
	"sort"

	"github.com/smallbiznis/loyaltyrail/internal/merchant/domain"
)

type Registry struct {
	adapters map[domain.Platform]domain.Adapter
}

func NewRegistry(adapters ...domain.Adapter) *Registry {
	registry := &Registry{adapters: map[domain.Platform]domain.Adapter{}}
	for _, adapter := range adapters {
		if adapter == nil {
			continue
		}
		registry.adapters[adapter.Platform()] = adapter
	}
	return registry
}

func (r *Registry) Get(platform domain.Platform) (domain.Adapter, error) {
	if r == nil {
		return nil, domain.ErrUnsupportedPlatform
	}
	adapter, ok := r.adapters[platform]
	if !ok {
		return nil, domain.ErrUnsupportedPlatform
	}
	return adapter, nil
}

func (r *Registry) Platforms() []domain.Platform {
	if r == nil {
		return nil
	}
	out := make([]domain.Platform, 0, len(r.adapters))
	for platform := range r.adapters {
		out = append(out, platform)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
