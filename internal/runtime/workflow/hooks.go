package workflow

import (
	"context"
	"time"

	"github.com/drblury/interflow/internal/runtime/logging"
	"github.com/drblury/interflow/internal/runtime/metadata"
)

// JobContext describes one message passing through a workflow.
type JobContext struct {
	WorkflowID string
	Topic      string
	MessageID  string
	Metadata   metadata.Metadata
	Context    context.Context
	StartedAt  time.Time
	// Duration is set for OnJobDone and OnJobError.
	Duration time.Duration
	// Attempt is the retry queue resubmission number, 0 on first delivery.
	Attempt int
}

// Hooks observe message processing. Nil hooks are skipped. OnJobError
// fires for failures handed to the error chain as well as rejected
// messages.
type Hooks struct {
	OnJobStart func(ctx JobContext)
	OnJobDone  func(ctx JobContext)
	OnJobError func(ctx JobContext, err error)
}

// Merge returns hooks that call h first, then other.
func (h Hooks) Merge(other Hooks) Hooks {
	return Hooks{
		OnJobStart: chain(h.OnJobStart, other.OnJobStart),
		OnJobDone:  chain(h.OnJobDone, other.OnJobDone),
		OnJobError: chainErr(h.OnJobError, other.OnJobError),
	}
}

func chain(a, b func(JobContext)) func(JobContext) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx JobContext) {
		a(ctx)
		b(ctx)
	}
}

func chainErr(a, b func(JobContext, error)) func(JobContext, error) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx JobContext, err error) {
		a(ctx, err)
		b(ctx, err)
	}
}

func (h Hooks) start(ctx JobContext) {
	if h.OnJobStart != nil {
		h.OnJobStart(ctx)
	}
}

func (h Hooks) finish(ctx JobContext, err error) {
	ctx.Duration = time.Since(ctx.StartedAt)
	if err != nil {
		if h.OnJobError != nil {
			h.OnJobError(ctx, err)
		}
		return
	}
	if h.OnJobDone != nil {
		h.OnJobDone(ctx)
	}
}

// LoggingHooks log every job at debug level and failures at error level.
func LoggingHooks(logger logging.ServiceLogger) Hooks {
	return Hooks{
		OnJobStart: func(ctx JobContext) {
			logger.Debug("Job started", logging.LogFields{
				"workflow_id": ctx.WorkflowID,
				"topic":       ctx.Topic,
				"message_id":  ctx.MessageID,
				"attempt":     ctx.Attempt,
			})
		},
		OnJobDone: func(ctx JobContext) {
			logger.Debug("Job completed", logging.LogFields{
				"workflow_id": ctx.WorkflowID,
				"message_id":  ctx.MessageID,
				"duration_ms": ctx.Duration.Milliseconds(),
			})
		},
		OnJobError: func(ctx JobContext, err error) {
			logger.Error("Job failed", err, logging.LogFields{
				"workflow_id": ctx.WorkflowID,
				"topic":       ctx.Topic,
				"message_id":  ctx.MessageID,
				"duration_ms": ctx.Duration.Milliseconds(),
				"attempt":     ctx.Attempt,
			})
		},
	}
}
