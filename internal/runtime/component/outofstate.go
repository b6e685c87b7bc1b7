package component

import (
	"fmt"
	"strings"

	"github.com/drblury/interflow/internal/runtime/config"
	errspkg "github.com/drblury/interflow/internal/runtime/errors"
	"github.com/drblury/interflow/internal/runtime/logging"
)

// OutOfStateHandler decides whether an operation may run in a component's
// current state, and what happens when it may not.
type OutOfStateHandler interface {
	IsInCorrectState(c StateReporter, required ...State) bool
	// HandleOutOfState is called after IsInCorrectState rejected an
	// operation. A nil return skips the operation silently.
	HandleOutOfState(c StateReporter, operation string, required ...State) error
}

// NoOpOutOfStateHandler disables state checking.
type NoOpOutOfStateHandler struct{}

func (NoOpOutOfStateHandler) IsInCorrectState(StateReporter, ...State) bool { return true }

func (NoOpOutOfStateHandler) HandleOutOfState(StateReporter, string, ...State) error { return nil }

// RaiseOutOfStateHandler rejects operations with an *OutOfStateError.
type RaiseOutOfStateHandler struct{}

func (RaiseOutOfStateHandler) IsInCorrectState(c StateReporter, required ...State) bool {
	return c.State().In(required...)
}

func (RaiseOutOfStateHandler) HandleOutOfState(c StateReporter, operation string, required ...State) error {
	return &errspkg.OutOfStateError{
		ComponentID: c.ID(),
		Operation:   operation,
		State:       c.State().String(),
		Required:    stateStrings(required),
	}
}

// LogOutOfStateHandler rejects operations, logs them and lets the caller
// carry on.
type LogOutOfStateHandler struct {
	Logger logging.ServiceLogger
}

func (LogOutOfStateHandler) IsInCorrectState(c StateReporter, required ...State) bool {
	return c.State().In(required...)
}

func (h LogOutOfStateHandler) HandleOutOfState(c StateReporter, operation string, required ...State) error {
	if h.Logger != nil {
		h.Logger.Info("Operation skipped, component in wrong state", logging.LogFields{
			"component_id": c.ID(),
			"operation":    operation,
			"state":        c.State().String(),
			"required":     stateStrings(required),
		})
	}
	return nil
}

// OutOfStateHandlerByName maps a configured policy name to its handler. An
// empty name selects the raising handler.
func OutOfStateHandlerByName(name string, logger logging.ServiceLogger) (OutOfStateHandler, error) {
	switch strings.ToLower(name) {
	case "", config.OutOfStateRaise:
		return RaiseOutOfStateHandler{}, nil
	case config.OutOfStateLog:
		return LogOutOfStateHandler{Logger: logger}, nil
	case config.OutOfStateNoOp:
		return NoOpOutOfStateHandler{}, nil
	}
	return nil, fmt.Errorf("out-of-state policy %q: %w", name, errspkg.ErrUnknownOutOfStatePolicy)
}
