package runtime

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/ThreeDotsLabs/watermill"

	configpkg "github.com/drblury/interflow/internal/runtime/config"
	loggingpkg "github.com/drblury/interflow/internal/runtime/logging"
	transportpkg "github.com/drblury/interflow/internal/runtime/transport"
	"github.com/drblury/interflow/internal/testutil"
	"github.com/drblury/interflow/transport"
)

func newTestLogger() loggingpkg.ServiceLogger {
	return loggingpkg.NewSlogServiceLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// transportFixture hands every channel the same fake Pub/Sub pair, except
// for the systems listed in failing.
type transportFixture struct {
	pub *testutil.Publisher
	sub *testutil.Subscriber

	mu      sync.Mutex
	builds  map[string]int
	failing map[string]error
}

func newTransportFixture() *transportFixture {
	return &transportFixture{
		pub:     testutil.NewPublisher(),
		sub:     testutil.NewSubscriber(),
		builds:  make(map[string]int),
		failing: make(map[string]error),
	}
}

func (f *transportFixture) factory() transportpkg.Factory {
	return transportpkg.FactoryFunc(func(_ context.Context, settings configpkg.TransportSettings, _ watermill.LoggerAdapter) (transport.Transport, error) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.builds[settings.PubSubSystem]++
		if err := f.failing[settings.PubSubSystem]; err != nil {
			return transport.Transport{}, err
		}
		return transport.Transport{Publisher: f.pub, Subscriber: f.sub}, nil
	})
}

func (f *transportFixture) fail(system string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failing[system] = err
}

func testConfig() *configpkg.Config {
	conf := configpkg.Default()
	conf.ID = "adapter"
	conf.ProduceMaxRetries = 0
	conf.RetryInterval = 0
	conf.Channels = []configpkg.ChannelConfig{{
		ID: "orders",
		Workflows: []configpkg.WorkflowConfig{{
			ID:           "enrich",
			ConsumeTopic: "orders.in",
			ProduceTopic: "orders.out",
		}},
	}}
	return conf
}

func newTestService(t *testing.T, conf *configpkg.Config, fx *transportFixture, deps ServiceDependencies) *Service {
	t.Helper()
	deps.TransportFactory = fx.factory()
	s, err := TryNewService(conf, newTestLogger(), deps)
	if err != nil {
		t.Fatalf("failed to build service: %v", err)
	}
	t.Cleanup(func() { s.Close(context.Background()) })
	return s
}
