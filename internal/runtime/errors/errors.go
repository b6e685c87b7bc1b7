package errors

import (
	sterrors "errors"
	"fmt"
)

var (
	ErrConfigRequired      = sterrors.New("interflow: configuration is required")
	ErrLoggerRequired      = sterrors.New("interflow: logger is required")
	ErrComponentIDRequired = sterrors.New("interflow: component id is required")
	ErrTopicRequired       = sterrors.New("interflow: topic is required")
	ErrPublisherRequired   = sterrors.New("interflow: publisher is required")
	ErrSubscriberRequired  = sterrors.New("interflow: subscriber is required")
	ErrProducerRequired    = sterrors.New("interflow: producer is required")
	ErrMessageRequired     = sterrors.New("interflow: message is required")
	ErrPayloadRequired     = sterrors.New("interflow: message payload is required")

	// ErrNoParent is returned when a component reports an error but no parent
	// error handler has been registered for it.
	ErrNoParent                = sterrors.New("interflow: no parent error handler registered")
	ErrParentAlreadyRegistered = sterrors.New("interflow: parent error handler already registered")
	ErrDigesterRegistered      = sterrors.New("interflow: error digester already registered")

	ErrDuplicateEntry   = sterrors.New("interflow: message was already queued for retry")
	ErrEntryNotFound    = sterrors.New("interflow: retry entry not found")
	ErrEntryNotPending  = sterrors.New("interflow: retry entry is not pending")
	ErrNoResubmitter    = sterrors.New("interflow: retry entry has no resubmitter")
	ErrRetriesSuspended = sterrors.New("interflow: retries are suspended, message failed on arrival")
	ErrForcedFailure    = sterrors.New("interflow: message failed by operator")

	// ErrMessageDropped marks a resubmission whose output failure was
	// absorbed by the null produce-exception policy.
	ErrMessageDropped = sterrors.New("interflow: message dropped by produce exception handler")

	// ErrMessageRejected marks a message that was not processed because its
	// workflow was not running and the out-of-state policy suppressed the error.
	ErrMessageRejected = sterrors.New("interflow: message rejected by component state")

	ErrUnknownStrategy         = sterrors.New("interflow: unknown lifecycle strategy")
	ErrUnknownExceptionHandler = sterrors.New("interflow: unknown produce exception handler")
	ErrUnknownOutOfStatePolicy = sterrors.New("interflow: unknown out-of-state policy")
)

// LifecycleError is returned by init and start orchestration. It is fatal to the
// pass that raised it.
type LifecycleError struct {
	Phase       string
	ComponentID string
	Err         error
}

func (e *LifecycleError) Error() string {
	return fmt.Sprintf("interflow: %s of %q failed: %v", e.Phase, e.ComponentID, e.Err)
}

func (e *LifecycleError) Unwrap() error {
	return e.Err
}

// OutOfStateError reports an operation attempted while a component was not in
// one of the states the operation requires.
type OutOfStateError struct {
	ComponentID string
	Operation   string
	State       string
	Required    []string
}

func (e *OutOfStateError) Error() string {
	return fmt.Sprintf("interflow: cannot %s %q in state %s (requires %v)", e.Operation, e.ComponentID, e.State, e.Required)
}

// ProduceFailure wraps an output failure that survived the output stage's own
// retries and was passed to a produce exception handler.
type ProduceFailure struct {
	WorkflowID string
	MessageID  string
	Err        error
}

func (e *ProduceFailure) Error() string {
	return fmt.Sprintf("interflow: workflow %q failed to produce message %s: %v", e.WorkflowID, e.MessageID, e.Err)
}

func (e *ProduceFailure) Unwrap() error {
	return e.Err
}

// RetryExhaustedError marks a retry entry that reached its attempt limit.
type RetryExhaustedError struct {
	MessageID string
	Attempts  int
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("interflow: message %s exhausted %d retry attempts", e.MessageID, e.Attempts)
}

// ConfigValidationError wraps configuration problems found while building a
// service.
type ConfigValidationError struct {
	Err error
}

func (e ConfigValidationError) Error() string {
	return "interflow: invalid configuration: " + e.Err.Error()
}

func (e ConfigValidationError) Unwrap() error {
	return e.Err
}
