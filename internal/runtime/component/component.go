// Package component defines the lifecycle contract shared by adapters,
// channels and workflows, together with the state machine that enforces it.
package component

import "context"

// Component is anything the runtime brings up and tears down. Init and Start
// may fail; Stop and Close always complete and report problems through
// logging.
type Component interface {
	ID() string
	Init(ctx context.Context) error
	Start(ctx context.Context) error
	Stop(ctx context.Context)
	Close(ctx context.Context)
}

// StateReporter exposes a component's current state.
type StateReporter interface {
	ID() string
	State() State
}

// Wrapper is implemented by containers that own child components.
type Wrapper interface {
	Children() []Component
}

// Children returns c's children when it is a Wrapper.
func Children(c Component) []Component {
	if w, ok := c.(Wrapper); ok {
		return w.Children()
	}
	return nil
}

// StateOf returns c's state, or false when c does not report one.
func StateOf(c Component) (State, bool) {
	if r, ok := c.(StateReporter); ok {
		return r.State(), true
	}
	return StateClosed, false
}
