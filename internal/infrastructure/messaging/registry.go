package messaging

import (
	"fmt"
)

// NewAdapter creates the adapter named by cfg.Type.
func NewAdapter(cfg AdapterConfig) (Adapter, error) {
	switch cfg.Type {
	case "webhook":
		return NewWebhookAdapter(cfg), nil
	case "slack":
		return NewSlackAdapter(cfg), nil
	default:
		return nil, fmt.Errorf("unknown adapter type: %s", cfg.Type)
	}
}

// Route pairs an adapter with its delivery settings.
type Route struct {
	Adapter Adapter
	Config  AdapterConfig
}

// Routes creates a route for every enabled adapter config.
func Routes(configs []AdapterConfig) ([]Route, error) {
	var routes []Route
	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}
		adapter, err := NewAdapter(cfg)
		if err != nil {
			return nil, fmt.Errorf("create adapter %q: %w", cfg.Name, err)
		}
		routes = append(routes, Route{Adapter: adapter, Config: cfg})
	}
	return routes, nil
}
