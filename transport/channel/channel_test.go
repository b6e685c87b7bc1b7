package channel

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/interflow/internal/runtime/config"
	"github.com/drblury/interflow/transport"
)

func TestRegistered(t *testing.T) {
	assert.True(t, transport.DefaultRegistry.Has(TransportName))
	assert.True(t, transport.DefaultRegistry.Has("gochannel"))
	assert.Equal(t, transport.ChannelCapabilities, transport.GetCapabilities(TransportName))
}

func TestBuildRoundTrip(t *testing.T) {
	tr, err := Build(context.Background(), &config.TransportSettings{}, watermill.NopLogger{})
	require.NoError(t, err)
	defer func() { require.NoError(t, tr.Close()) }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	msgs, err := tr.Subscriber.Subscribe(ctx, "orders")
	require.NoError(t, err)

	require.NoError(t, tr.Publisher.Publish("orders", message.NewMessage("1", []byte("hello"))))

	select {
	case msg := <-msgs:
		assert.Equal(t, "hello", string(msg.Payload))
		msg.Ack()
	case <-time.After(time.Second):
		t.Fatal("expected message to be delivered")
	}
}

func TestBuildUsesFactory(t *testing.T) {
	original := Factory
	defer func() { Factory = original }()

	var got gochannel.Config
	Factory = func(cfg gochannel.Config, logger watermill.LoggerAdapter) (message.Publisher, message.Subscriber) {
		got = cfg
		ps := gochannel.NewGoChannel(cfg, logger)
		return ps, ps
	}

	tr, err := Build(context.Background(), &config.TransportSettings{}, watermill.NopLogger{})
	require.NoError(t, err)
	defer tr.Close()
	assert.Equal(t, int64(OutputBuffer), got.OutputChannelBuffer)
}
