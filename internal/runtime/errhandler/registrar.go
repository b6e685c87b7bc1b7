// Package errhandler carries message failures from workflows up the
// component tree to the retry queue.
package errhandler

import (
	"context"
	"sync"
	"time"

	errspkg "github.com/drblury/interflow/internal/runtime/errors"
	"github.com/drblury/interflow/internal/runtime/logging"
	"github.com/drblury/interflow/internal/runtime/message"
)

// Resubmitter can process a failed message again. Workflows implement it so
// the retry queue can redeliver through the workflow that failed.
type Resubmitter interface {
	ID() string
	Resubmit(ctx context.Context, msg *message.Message) error
}

// Failure describes a message a component could not process.
type Failure struct {
	Message *message.Message
	// Origin is the workflow the message failed in.
	Origin Resubmitter
	Err    error
	At     time.Time
}

// OriginID returns the failing workflow's id, or "" without an origin.
func (f Failure) OriginID() string {
	if f.Origin == nil {
		return ""
	}
	return f.Origin.ID()
}

// ErrorHandler is the parent side of the chain.
type ErrorHandler interface {
	OnChildError(ctx context.Context, f Failure) error
}

// ErrorHandlerFunc adapts a function into an ErrorHandler.
type ErrorHandlerFunc func(ctx context.Context, f Failure) error

func (fn ErrorHandlerFunc) OnChildError(ctx context.Context, f Failure) error {
	return fn(ctx, f)
}

// Registrar is embedded by components that report failures upward. Parent
// and digester are wired once at composition time. The parent is a
// back-reference and is never owned.
type Registrar struct {
	mu       sync.RWMutex
	parent   ErrorHandler
	digester *Digester
	logger   logging.ServiceLogger
}

// NewRegistrar returns a registrar logging undeliverable failures to logger.
func NewRegistrar(logger logging.ServiceLogger) *Registrar {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Registrar{logger: logger}
}

func (r *Registrar) RegisterParent(parent ErrorHandler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.parent != nil {
		return errspkg.ErrParentAlreadyRegistered
	}
	r.parent = parent
	return nil
}

func (r *Registrar) RegisterDigester(d *Digester) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.digester != nil {
		return errspkg.ErrDigesterRegistered
	}
	r.digester = d
	return nil
}

func (r *Registrar) Parent() ErrorHandler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.parent
}

func (r *Registrar) Digester() *Digester {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.digester
}

// NotifyParent records f in the digester and hands it to the parent. Without
// a parent the failure is logged and ErrNoParent returned.
func (r *Registrar) NotifyParent(ctx context.Context, f Failure) error {
	if f.Message == nil {
		return errspkg.ErrMessageRequired
	}
	if f.At.IsZero() {
		f.At = time.Now()
	}

	r.mu.RLock()
	parent, digester := r.parent, r.digester
	r.mu.RUnlock()

	if digester != nil {
		digester.Digest(f)
	}
	if parent == nil {
		r.logger.Error("Message failure has no parent to report to", f.Err, logging.LogFields{
			"message_id": f.Message.ID(),
			"origin":     f.OriginID(),
		})
		return errspkg.ErrNoParent
	}
	return parent.OnChildError(ctx, f)
}
