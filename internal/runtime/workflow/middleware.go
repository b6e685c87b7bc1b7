package workflow

import (
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wm "github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/drblury/interflow/internal/runtime/ids"
	"github.com/drblury/interflow/internal/runtime/metadata"
)

const tracerName = "github.com/drblury/interflow/workflow"

// RetryConfig controls the output stage's immediate retries. MaxRetries 0
// disables them.
type RetryConfig struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	// RetryIf limits retries to matching errors. Nil retries every error.
	RetryIf func(error) bool
}

func (cfg RetryConfig) withDefaults() RetryConfig {
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = 100 * time.Millisecond
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = 2 * time.Second
	}
	return cfg
}

// outputChain wraps the output stage: a span around the whole attempt
// sequence, the retry middleware, and panic recovery for every attempt.
func outputChain(workflowID string, retry RetryConfig, logger watermill.LoggerAdapter) wm.HandlerMiddleware {
	chain := []wm.HandlerMiddleware{
		correlationIDMiddleware(),
		tracerMiddleware(workflowID),
	}
	if retry.MaxRetries > 0 {
		chain = append(chain, retryMiddleware(retry, logger))
	}
	chain = append(chain, middleware.Recoverer)

	return func(h wm.HandlerFunc) wm.HandlerFunc {
		for i := len(chain) - 1; i >= 0; i-- {
			h = chain[i](h)
		}
		return h
	}
}

// correlationIDMiddleware stamps a correlation id on messages without one.
func correlationIDMiddleware() wm.HandlerMiddleware {
	return func(h wm.HandlerFunc) wm.HandlerFunc {
		return func(msg *wm.Message) ([]*wm.Message, error) {
			if msg.Metadata.Get(metadata.KeyCorrelationID) == "" {
				msg.Metadata.Set(metadata.KeyCorrelationID, ids.CreateULID())
			}
			return h(msg)
		}
	}
}

func tracerMiddleware(workflowID string) wm.HandlerMiddleware {
	return func(h wm.HandlerFunc) wm.HandlerFunc {
		return func(msg *wm.Message) ([]*wm.Message, error) {
			ctx, span := otel.Tracer(tracerName).Start(
				msg.Context(),
				"Produce",
				trace.WithSpanKind(trace.SpanKindProducer),
			)
			defer span.End()
			msg.SetContext(ctx)

			span.SetAttributes(
				attribute.String("message.uuid", msg.UUID),
				attribute.String("workflow.id", workflowID),
			)
			msgs, err := h(msg)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			}
			return msgs, err
		}
	}
}

func retryMiddleware(cfg RetryConfig, logger watermill.LoggerAdapter) wm.HandlerMiddleware {
	normalized := cfg.withDefaults()
	return middleware.Retry{
		MaxRetries:      normalized.MaxRetries,
		InitialInterval: normalized.InitialInterval,
		MaxInterval:     normalized.MaxInterval,
		Multiplier:      2,
		Logger:          logger,
		ShouldRetry: func(params middleware.RetryParams) bool {
			if normalized.RetryIf != nil {
				return normalized.RetryIf(params.Err)
			}
			return true
		},
	}.Middleware
}
