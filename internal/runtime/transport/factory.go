// Package transport builds the Pub/Sub pair a channel owns from its
// settings.
package transport

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"

	"github.com/drblury/interflow/internal/runtime/config"
	"github.com/drblury/interflow/transport"

	_ "github.com/drblury/interflow/transport/transports"
)

// Factory abstracts how channels obtain their transport.
type Factory interface {
	Build(ctx context.Context, settings config.TransportSettings, logger watermill.LoggerAdapter) (transport.Transport, error)
	Capabilities(settings config.TransportSettings) transport.Capabilities
}

// FactoryFunc adapts a function into a Factory reporting zero capabilities
// for every transport.
type FactoryFunc func(ctx context.Context, settings config.TransportSettings, logger watermill.LoggerAdapter) (transport.Transport, error)

func (f FactoryFunc) Build(ctx context.Context, settings config.TransportSettings, logger watermill.LoggerAdapter) (transport.Transport, error) {
	return f(ctx, settings, logger)
}

func (f FactoryFunc) Capabilities(settings config.TransportSettings) transport.Capabilities {
	return transport.Capabilities{Name: settings.PubSubSystem}
}

// DefaultFactory resolves transports through a registry, the default one
// when reg is nil.
func DefaultFactory(reg *transport.Registry) Factory {
	if reg == nil {
		reg = transport.DefaultRegistry
	}
	return registryFactory{registry: reg}
}

type registryFactory struct {
	registry *transport.Registry
}

func (f registryFactory) Build(ctx context.Context, settings config.TransportSettings, logger watermill.LoggerAdapter) (transport.Transport, error) {
	return f.registry.Build(ctx, &settings, logger)
}

func (f registryFactory) Capabilities(settings config.TransportSettings) transport.Capabilities {
	return f.registry.GetCapabilities(settings.PubSubSystem)
}
