package component

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/drblury/interflow/internal/runtime/logging"
)

// Hooks hold the work a component performs on each transition. Nil hooks
// succeed immediately.
type Hooks struct {
	Init  func(ctx context.Context) error
	Start func(ctx context.Context) error
	Stop  func(ctx context.Context) error
	Close func(ctx context.Context) error
}

// Option configures a Lifecycle.
type Option func(*Lifecycle)

// WithOutOfStateHandler replaces the default RaiseOutOfStateHandler.
func WithOutOfStateHandler(h OutOfStateHandler) Option {
	return func(l *Lifecycle) {
		if h != nil {
			l.outOfState = h
		}
	}
}

// WithLogger sets the logger that receives stop and close failures.
func WithLogger(log logging.ServiceLogger) Option {
	return func(l *Lifecycle) {
		if log != nil {
			l.logger = log
		}
	}
}

// Lifecycle implements Component's state machine around a set of Hooks.
// Embed it to make a type a Component.
//
//	CLOSED -> INITIALISED -> STARTED -> STOPPED -> CLOSED
//
// STOPPED may be started again. A failing init or start leaves the
// component FAILED, from where it may be stopped, closed or initialised
// again. Transitions are serialised; State is safe to read at any time.
type Lifecycle struct {
	id         string
	hooks      Hooks
	outOfState OutOfStateHandler
	logger     logging.ServiceLogger

	mu    sync.Mutex
	state atomic.Int32
}

// NewLifecycle returns a CLOSED lifecycle.
func NewLifecycle(id string, hooks Hooks, opts ...Option) *Lifecycle {
	l := &Lifecycle{
		id:         id,
		hooks:      hooks,
		outOfState: RaiseOutOfStateHandler{},
		logger:     logging.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Lifecycle) ID() string { return l.id }

func (l *Lifecycle) State() State { return State(l.state.Load()) }

// OutOfStateHandler returns the handler used for this component, so
// operations outside the lifecycle can apply the same policy.
func (l *Lifecycle) OutOfStateHandler() OutOfStateHandler { return l.outOfState }

func (l *Lifecycle) setState(s State) { l.state.Store(int32(s)) }

func (l *Lifecycle) Init(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.State() == StateInitialised {
		return nil
	}
	if !l.outOfState.IsInCorrectState(l, StateClosed, StateFailed) {
		return l.outOfState.HandleOutOfState(l, "init", StateClosed, StateFailed)
	}

	l.setState(StateInitialising)
	if err := runHook(ctx, l.hooks.Init); err != nil {
		l.setState(StateFailed)
		return err
	}
	l.setState(StateInitialised)
	return nil
}

func (l *Lifecycle) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.State() == StateStarted {
		return nil
	}
	if !l.outOfState.IsInCorrectState(l, StateInitialised, StateStopped) {
		return l.outOfState.HandleOutOfState(l, "start", StateInitialised, StateStopped)
	}

	l.setState(StateStarting)
	if err := runHook(ctx, l.hooks.Start); err != nil {
		l.setState(StateFailed)
		return err
	}
	l.setState(StateStarted)
	return nil
}

// Stop is a no-op unless the component is STARTED or FAILED.
func (l *Lifecycle) Stop(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stopLocked(ctx)
}

func (l *Lifecycle) stopLocked(ctx context.Context) {
	if !l.State().In(StateStarted, StateFailed) {
		return
	}
	l.setState(StateStopping)
	if err := runHook(ctx, l.hooks.Stop); err != nil {
		l.logger.Error("Stop failed", err, logging.LogFields{"component_id": l.id})
	}
	l.setState(StateStopped)
}

// Cycle stops and starts a STARTED component as one transition, so no
// other Stop or Close can interleave. In any other state it does nothing
// and reports false. A failing start leaves the component FAILED.
func (l *Lifecycle) Cycle(ctx context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.State() != StateStarted {
		return false, nil
	}
	l.stopLocked(ctx)
	l.setState(StateStarting)
	if err := runHook(ctx, l.hooks.Start); err != nil {
		l.setState(StateFailed)
		return true, err
	}
	l.setState(StateStarted)
	return true, nil
}

// Close stops a running component first. Closing a CLOSED component is a
// no-op.
func (l *Lifecycle) Close(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.State() == StateClosed {
		return
	}
	l.stopLocked(ctx)
	if err := runHook(ctx, l.hooks.Close); err != nil {
		l.logger.Error("Close failed", err, logging.LogFields{"component_id": l.id})
	}
	l.setState(StateClosed)
}

func runHook(ctx context.Context, hook func(context.Context) error) (err error) {
	if hook == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return hook(ctx)
}
