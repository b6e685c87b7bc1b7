// Package channel implements the container that owns a transport and the
// ordered workflows consuming from it.
package channel

import (
	"context"
	"fmt"
	"sync"

	"github.com/drblury/interflow/internal/runtime/component"
	"github.com/drblury/interflow/internal/runtime/config"
	"github.com/drblury/interflow/internal/runtime/errhandler"
	"github.com/drblury/interflow/internal/runtime/ids"
	"github.com/drblury/interflow/internal/runtime/lifecycle"
	"github.com/drblury/interflow/internal/runtime/logging"
	"github.com/drblury/interflow/internal/runtime/metadata"
	transportpkg "github.com/drblury/interflow/internal/runtime/transport"
	"github.com/drblury/interflow/internal/runtime/workflow"
	"github.com/drblury/interflow/transport"
)

// Option configures a Channel.
type Option func(*Channel)

func WithFactory(f transportpkg.Factory) Option {
	return func(c *Channel) {
		if f != nil {
			c.factory = f
		}
	}
}

func WithStrategy(s lifecycle.Strategy) Option {
	return func(c *Channel) {
		if s != nil {
			c.strategy = s
		}
	}
}

func WithLogger(logger logging.ServiceLogger) Option {
	return func(c *Channel) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func WithOutOfStateHandler(h component.OutOfStateHandler) Option {
	return func(c *Channel) { c.outOfState = h }
}

// WithDigester records every failure reported by the channel's workflows.
func WithDigester(d *errhandler.Digester) Option {
	return func(c *Channel) { c.digester = d }
}

// Channel owns a transport and its workflows. Lifecycle calls are passed
// to the workflows through the channel's strategy; failures reported by
// the workflows are digested and forwarded to the channel's parent.
type Channel struct {
	*component.Lifecycle
	*errhandler.Registrar

	settings   config.TransportSettings
	factory    transportpkg.Factory
	strategy   lifecycle.Strategy
	outOfState component.OutOfStateHandler
	digester   *errhandler.Digester
	logger     logging.ServiceLogger

	mu        sync.Mutex
	workflows []*workflow.Workflow
	transport *transport.Transport
}

// New returns a CLOSED channel. A missing id is replaced by a random one.
func New(id string, settings config.TransportSettings, opts ...Option) *Channel {
	if id == "" {
		id = ids.NewComponentID()
	}
	c := &Channel{settings: settings, logger: logging.NewNopLogger()}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = logging.ForComponent(c.logger, "channel", id)
	if c.factory == nil {
		c.factory = transportpkg.DefaultFactory(nil)
	}
	if c.strategy == nil {
		c.strategy = lifecycle.NewDefaultStrategy(c.logger)
	}

	lifecycleOpts := []component.Option{component.WithLogger(c.logger)}
	if c.outOfState != nil {
		lifecycleOpts = append(lifecycleOpts, component.WithOutOfStateHandler(c.outOfState))
	}
	c.Lifecycle = component.NewLifecycle(id, component.Hooks{
		Init:  c.init,
		Start: c.start,
		Stop:  c.stop,
		Close: c.close,
	}, lifecycleOpts...)
	c.Registrar = errhandler.NewRegistrar(c.logger)
	if c.digester != nil {
		_ = c.Registrar.RegisterDigester(c.digester)
	}
	return c
}

// Add appends w and makes the channel its parent. Workflows can only be
// added while the channel is CLOSED.
func (c *Channel) Add(w *workflow.Workflow) error {
	if c.State() != component.StateClosed {
		return c.OutOfStateHandler().HandleOutOfState(c, "add workflow", component.StateClosed)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, existing := range c.workflows {
		if existing.ID() == w.ID() {
			return fmt.Errorf("channel %q: duplicate workflow id %q", c.ID(), w.ID())
		}
	}
	if err := w.RegisterParent(c); err != nil {
		return fmt.Errorf("channel %q: workflow %q: %w", c.ID(), w.ID(), err)
	}
	c.workflows = append(c.workflows, w)
	return nil
}

// Workflows returns the workflows in insertion order.
func (c *Channel) Workflows() []*workflow.Workflow {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*workflow.Workflow(nil), c.workflows...)
}

func (c *Channel) Children() []component.Component {
	c.mu.Lock()
	defer c.mu.Unlock()
	children := make([]component.Component, len(c.workflows))
	for i, w := range c.workflows {
		children[i] = w
	}
	return children
}

// Transport returns the transport built by Init, if any.
func (c *Channel) Transport() (transport.Transport, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.transport == nil {
		return transport.Transport{}, false
	}
	return *c.transport, true
}

// Digest returns a snapshot of the failures seen by this channel.
func (c *Channel) Digest() errhandler.ErrorDigest {
	if d := c.Digester(); d != nil {
		return d.Snapshot()
	}
	return errhandler.ErrorDigest{Owner: c.ID()}
}

// OnChildError tags the failure with the channel id and passes it up.
func (c *Channel) OnChildError(ctx context.Context, f errhandler.Failure) error {
	if f.Message != nil {
		f.Message.Metadata.Set(metadata.KeyChannelID, c.ID())
	}
	return c.NotifyParent(ctx, f)
}

func (c *Channel) init(ctx context.Context) error {
	c.mu.Lock()
	previous := c.transport
	c.transport = nil
	c.mu.Unlock()
	if previous != nil {
		c.closeTransport(*previous)
	}

	t, err := c.factory.Build(ctx, c.settings, logging.NewWatermillAdapter(c.logger))
	if err != nil {
		return fmt.Errorf("build transport %q: %w", c.settings.PubSubSystem, err)
	}
	if caps := c.factory.Capabilities(c.settings); !caps.SupportsRedelivery() {
		c.logger.Info("Transport cannot redeliver nacked messages", logging.LogFields{
			"pubsub_system": c.settings.PubSubSystem,
		})
	}

	for _, w := range c.Workflows() {
		if err := w.Bind(t); err != nil {
			c.closeTransport(t)
			return err
		}
	}
	if err := c.strategy.Init(ctx, c.Children()); err != nil {
		c.closeTransport(t)
		return err
	}

	c.mu.Lock()
	c.transport = &t
	c.mu.Unlock()
	return nil
}

func (c *Channel) start(ctx context.Context) error {
	return c.strategy.Start(ctx, c.Children())
}

func (c *Channel) stop(ctx context.Context) error {
	c.strategy.Stop(ctx, c.Children())
	return nil
}

func (c *Channel) close(ctx context.Context) error {
	c.strategy.Close(ctx, c.Children())

	c.mu.Lock()
	t := c.transport
	c.transport = nil
	c.mu.Unlock()
	if t != nil {
		c.closeTransport(*t)
	}
	return nil
}

func (c *Channel) closeTransport(t transport.Transport) {
	if err := t.Close(); err != nil {
		c.logger.Error("Failed to close transport", err, nil)
	}
}
