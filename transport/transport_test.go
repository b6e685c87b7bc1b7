package transport

import (
	"context"
	"errors"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/interflow/internal/runtime/config"
)

type closeCounter struct {
	closes int
	err    error
}

func (c *closeCounter) Publish(string, ...*message.Message) error { return nil }

func (c *closeCounter) Subscribe(context.Context, string) (<-chan *message.Message, error) {
	ch := make(chan *message.Message)
	close(ch)
	return ch, nil
}

func (c *closeCounter) Close() error {
	c.closes++
	return c.err
}

func TestTransportCloseSharedPubSubOnce(t *testing.T) {
	pubSub := &closeCounter{}
	tr := Transport{Publisher: pubSub, Subscriber: pubSub}

	require.NoError(t, tr.Close())
	assert.Equal(t, 1, pubSub.closes)
}

func TestTransportCloseJoinsErrors(t *testing.T) {
	pub := &closeCounter{err: errors.New("pub")}
	sub := &closeCounter{err: errors.New("sub")}

	err := Transport{Publisher: pub, Subscriber: sub}.Close()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pub")
	assert.Contains(t, err.Error(), "sub")
	assert.Equal(t, 1, pub.closes)
	assert.Equal(t, 1, sub.closes)
}

func TestTransportCloseEmpty(t *testing.T) {
	assert.NoError(t, Transport{}.Close())
}

func TestRegistryBuild(t *testing.T) {
	reg := NewRegistry()
	pubSub := &closeCounter{}
	reg.RegisterWithCapabilities("Memory", func(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error) {
		assert.NotNil(t, logger)
		return Transport{Publisher: pubSub, Subscriber: pubSub}, nil
	}, Capabilities{Name: "memory", SupportsAck: true, SupportsNack: true})

	tr, err := reg.Build(context.Background(), &config.TransportSettings{PubSubSystem: "memory"}, nil)
	require.NoError(t, err)
	assert.Same(t, pubSub, tr.Publisher)

	assert.True(t, reg.Has("MEMORY"))
	assert.True(t, reg.GetCapabilities("memory").SupportsRedelivery())
}

func TestRegistryBuildDefaultsToChannel(t *testing.T) {
	reg := NewRegistry()
	called := false
	reg.Register(DefaultSystem, func(context.Context, Config, watermill.LoggerAdapter) (Transport, error) {
		called = true
		return Transport{}, nil
	})

	_, err := reg.Build(context.Background(), &config.TransportSettings{}, watermill.NopLogger{})
	require.NoError(t, err)
	assert.True(t, called)
}

func TestRegistryBuildErrors(t *testing.T) {
	reg := NewRegistry()
	reg.Register("b", nil)
	reg.Register("a", nil)

	_, err := reg.Build(context.Background(), nil, nil)
	assert.ErrorContains(t, err, "config is required")

	_, err = reg.Build(context.Background(), &config.TransportSettings{PubSubSystem: "zmq"}, nil)
	assert.ErrorContains(t, err, `unknown transport: "zmq"`)
	assert.Equal(t, []string{"a", "b"}, reg.Names())
}

func TestGetCapabilitiesUnknown(t *testing.T) {
	caps := NewRegistry().GetCapabilities("custom")
	assert.Equal(t, Capabilities{Name: "custom"}, caps)
	assert.False(t, caps.SupportsRedelivery())
}

func TestPredefinedCapabilities(t *testing.T) {
	assert.True(t, ChannelCapabilities.SupportsRedelivery())
	assert.True(t, RabbitMQCapabilities.SupportsRedelivery())
	assert.False(t, NATSCapabilities.SupportsRedelivery())
	assert.False(t, HTTPCapabilities.SupportsRedelivery())
}
