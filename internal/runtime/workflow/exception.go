package workflow

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/singleflight"

	"github.com/drblury/interflow/internal/runtime/config"
	errspkg "github.com/drblury/interflow/internal/runtime/errors"
	"github.com/drblury/interflow/internal/runtime/logging"
	"github.com/drblury/interflow/internal/runtime/message"
)

// Restartable is a component that can be cycled through stop and start.
type Restartable interface {
	ID() string
	Restart(ctx context.Context) error
}

// ProduceExceptionHandler decides what happens to a message whose output
// stage failed after its own retries. A nil return means the message is
// handled; an error sends it up the error chain.
type ProduceExceptionHandler interface {
	HandleProduceException(ctx context.Context, owner Restartable, msg *message.Message, err error) error
}

// NullProduceExceptionHandler logs the failure and drops the message. The
// success callback is not invoked.
type NullProduceExceptionHandler struct {
	Logger logging.ServiceLogger
}

func (h NullProduceExceptionHandler) HandleProduceException(_ context.Context, owner Restartable, msg *message.Message, err error) error {
	if h.Logger != nil {
		h.Logger.Error("Dropping message after output failure", err, logging.LogFields{
			"workflow_id": owner.ID(),
			"message_id":  msg.ID(),
		})
	}
	return nil
}

// RestartProduceExceptionHandler restarts the owning workflow and reports
// the message as failed so the retry queue can redeliver it. The restart
// runs in the background because it waits for the worker that triggered
// it; concurrent failures of one workflow share a single restart.
type RestartProduceExceptionHandler struct {
	logger logging.ServiceLogger
	group  singleflight.Group
}

func NewRestartProduceExceptionHandler(logger logging.ServiceLogger) *RestartProduceExceptionHandler {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &RestartProduceExceptionHandler{logger: logger}
}

func (h *RestartProduceExceptionHandler) HandleProduceException(ctx context.Context, owner Restartable, msg *message.Message, err error) error {
	h.restart(context.WithoutCancel(ctx), owner)
	return &errspkg.ProduceFailure{WorkflowID: owner.ID(), MessageID: msg.ID(), Err: err}
}

// restart starts the owner's restart, or joins the one in flight, and
// returns a channel carrying its outcome.
func (h *RestartProduceExceptionHandler) restart(ctx context.Context, owner Restartable) <-chan singleflight.Result {
	ch := h.group.DoChan(owner.ID(), func() (interface{}, error) {
		h.logger.Info("Restarting workflow after output failure", logging.LogFields{"workflow_id": owner.ID()})
		return nil, owner.Restart(ctx)
	})

	out := make(chan singleflight.Result, 1)
	go func() {
		res := <-ch
		if res.Err != nil {
			h.logger.Error("Workflow restart failed", res.Err, logging.LogFields{"workflow_id": owner.ID()})
		}
		out <- res
	}()
	return out
}

// ExceptionHandlerByName maps a configured policy name to its handler. An
// empty name selects the restart policy.
func ExceptionHandlerByName(name string, logger logging.ServiceLogger) (ProduceExceptionHandler, error) {
	switch strings.ToLower(name) {
	case "", config.ProduceHandlerRestart:
		return NewRestartProduceExceptionHandler(logger), nil
	case config.ProduceHandlerNull:
		return NullProduceExceptionHandler{Logger: logger}, nil
	}
	return nil, fmt.Errorf("produce exception handler %q: %w", name, errspkg.ErrUnknownExceptionHandler)
}
