package workflow

import (
	"context"
	"time"

	wm "github.com/ThreeDotsLabs/watermill/message"
	"github.com/sony/gobreaker"

	errspkg "github.com/drblury/interflow/internal/runtime/errors"
	"github.com/drblury/interflow/internal/runtime/logging"
	"github.com/drblury/interflow/internal/runtime/message"
)

// Stage transforms or inspects a message before it reaches the output
// stage. Stages may mutate the message in place.
type Stage interface {
	Process(ctx context.Context, msg *message.Message) error
}

// StageFunc adapts a function into a Stage.
type StageFunc func(ctx context.Context, msg *message.Message) error

func (fn StageFunc) Process(ctx context.Context, msg *message.Message) error {
	return fn(ctx, msg)
}

// Producer is a workflow's output stage.
type Producer interface {
	Produce(ctx context.Context, msg *message.Message) error
}

// ProducerFunc adapts a function into a Producer.
type ProducerFunc func(ctx context.Context, msg *message.Message) error

func (fn ProducerFunc) Produce(ctx context.Context, msg *message.Message) error {
	return fn(ctx, msg)
}

// PublisherProducer publishes to a fixed topic. Every attempt publishes a
// fresh copy so transports never see a message that was already acked.
type PublisherProducer struct {
	publisher wm.Publisher
	topic     string
}

func NewPublisherProducer(publisher wm.Publisher, topic string) (*PublisherProducer, error) {
	if publisher == nil {
		return nil, errspkg.ErrPublisherRequired
	}
	if topic == "" {
		return nil, errspkg.ErrTopicRequired
	}
	return &PublisherProducer{publisher: publisher, topic: topic}, nil
}

func (p *PublisherProducer) Produce(ctx context.Context, msg *message.Message) error {
	out := msg.Clone()
	out.SetContext(ctx)
	return p.publisher.Publish(p.topic, out.Message)
}

// BreakerSettings tune a BreakerProducer. Zero values fall back to the
// config defaults.
type BreakerSettings struct {
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold uint32
}

// BreakerProducer stops calling its producer after FailureThreshold
// consecutive failures and fails fast with gobreaker.ErrOpenState until the
// breaker half-opens again.
type BreakerProducer struct {
	inner   Producer
	breaker *gobreaker.CircuitBreaker
}

func NewBreakerProducer(name string, inner Producer, settings BreakerSettings, logger logging.ServiceLogger) *BreakerProducer {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	threshold := settings.FailureThreshold
	if threshold == 0 {
		threshold = 5
	}
	maxRequests := settings.MaxRequests
	if maxRequests == 0 {
		maxRequests = 1
	}

	return &BreakerProducer{
		inner: inner,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        name,
			MaxRequests: maxRequests,
			Interval:    settings.Interval,
			Timeout:     settings.Timeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= threshold
			},
			OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
				logger.Info("Output circuit breaker state changed", logging.LogFields{
					"breaker": name,
					"from":    from.String(),
					"to":      to.String(),
				})
			},
		}),
	}
}

func (p *BreakerProducer) Produce(ctx context.Context, msg *message.Message) error {
	_, err := p.breaker.Execute(func() (interface{}, error) {
		return nil, p.inner.Produce(ctx, msg)
	})
	return err
}

// State returns the breaker's current state.
func (p *BreakerProducer) State() gobreaker.State {
	return p.breaker.State()
}
