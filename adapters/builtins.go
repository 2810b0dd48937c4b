package adapters

import "github.com/brettbedarf/tempofs/config"

// NOTE: If build bloat becomes a concern for unused adapters
// look into build tags i.e. +build !nohttp

type BuiltInAdapterType = string

const (
	HTTPAdapterType BuiltInAdapterType = "http"
)

// RegisterBuiltins registers all built-in adapters with the default registry
// or only the specific ones if keys are provided
func RegisterBuiltins(cfg *config.Config, adapters ...BuiltInAdapterType) {
	RegisterBuiltinsWith(defaultRegistry, cfg, adapters...)
}

// RegisterBuiltinsWith is [RegisterBuiltins] for an explicit registry.
func RegisterBuiltinsWith(r *Registry, cfg *config.Config, adapters ...BuiltInAdapterType) {
	if len(adapters) == 0 {
		adapters = append(adapters, HTTPAdapterType)
	}

	for _, key := range adapters {
		switch key {
		case HTTPAdapterType:
			RegisterHTTP(r, cfg)
		}
	}
}

// RegisterHTTP registers one shared [HTTPProvider] for both http and https.
func RegisterHTTP(r *Registry, cfg *config.Config) {
	p := NewHTTPProvider(cfg)
	r.Register("http", p.NewSource)
	r.Register("https", p.NewSource)
}
