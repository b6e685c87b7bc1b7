// Package lifecycle drives init, start, stop and close across an ordered
// list of components.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/drblury/interflow/internal/runtime/component"
	"github.com/drblury/interflow/internal/runtime/config"
	errspkg "github.com/drblury/interflow/internal/runtime/errors"
	"github.com/drblury/interflow/internal/runtime/logging"
)

// Strategy orchestrates one lifecycle pass over components. Init and Start
// visit components in list order; Stop and Close visit them in reverse
// order, attempt every component and never fail.
type Strategy interface {
	Init(ctx context.Context, components []component.Component) error
	Start(ctx context.Context, components []component.Component) error
	Stop(ctx context.Context, components []component.Component)
	Close(ctx context.Context, components []component.Component)
}

// ByName maps a configured strategy name to its implementation. An empty
// name selects DefaultStrategy.
func ByName(name string, logger logging.ServiceLogger) (Strategy, error) {
	switch strings.ToLower(name) {
	case "", config.StrategyDefault:
		return NewDefaultStrategy(logger), nil
	case config.StrategyBestEffort:
		return NewBestEffortStrategy(logger), nil
	}
	return nil, fmt.Errorf("lifecycle strategy %q: %w", name, errspkg.ErrUnknownStrategy)
}

// DefaultStrategy aborts a pass on the first failure and rolls back every
// component it already brought up in that pass.
type DefaultStrategy struct {
	logger logging.ServiceLogger
}

// NewDefaultStrategy returns the abort-and-rollback strategy.
func NewDefaultStrategy(logger logging.ServiceLogger) *DefaultStrategy {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &DefaultStrategy{logger: logger}
}

func (s *DefaultStrategy) Init(ctx context.Context, components []component.Component) error {
	return s.forward(ctx, "init", components, component.Component.Init)
}

func (s *DefaultStrategy) Start(ctx context.Context, components []component.Component) error {
	return s.forward(ctx, "start", components, component.Component.Start)
}

func (s *DefaultStrategy) forward(ctx context.Context, phase string, components []component.Component, step func(component.Component, context.Context) error) error {
	for i, c := range components {
		if err := guard(func() error { return step(c, ctx) }); err != nil {
			lerr := &errspkg.LifecycleError{Phase: phase, ComponentID: c.ID(), Err: err}
			s.logger.Error("Lifecycle pass aborted, rolling back", lerr, logging.LogFields{
				"phase":       phase,
				"rolled_back": i,
			})
			rollback := components[:i]
			stopAll(ctx, s.logger, rollback)
			closeAll(ctx, s.logger, rollback)
			return lerr
		}
	}
	return nil
}

func (s *DefaultStrategy) Stop(ctx context.Context, components []component.Component) {
	stopAll(ctx, s.logger, components)
}

func (s *DefaultStrategy) Close(ctx context.Context, components []component.Component) {
	closeAll(ctx, s.logger, components)
}

// BestEffortStrategy attempts every component during init and start, logs
// each failure and never rolls back. The returned error joins one
// *LifecycleError per failed component.
type BestEffortStrategy struct {
	logger logging.ServiceLogger
}

// NewBestEffortStrategy returns a strategy that continues past failures.
func NewBestEffortStrategy(logger logging.ServiceLogger) *BestEffortStrategy {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &BestEffortStrategy{logger: logger}
}

func (s *BestEffortStrategy) Init(ctx context.Context, components []component.Component) error {
	return s.forward(ctx, "init", components, component.Component.Init)
}

func (s *BestEffortStrategy) Start(ctx context.Context, components []component.Component) error {
	return s.forward(ctx, "start", components, component.Component.Start)
}

func (s *BestEffortStrategy) forward(ctx context.Context, phase string, components []component.Component, step func(component.Component, context.Context) error) error {
	var errs []error
	for _, c := range components {
		if err := guard(func() error { return step(c, ctx) }); err != nil {
			lerr := &errspkg.LifecycleError{Phase: phase, ComponentID: c.ID(), Err: err}
			s.logger.Error("Component failed, continuing", lerr, logging.LogFields{"phase": phase})
			errs = append(errs, lerr)
		}
	}
	return errors.Join(errs...)
}

func (s *BestEffortStrategy) Stop(ctx context.Context, components []component.Component) {
	stopAll(ctx, s.logger, components)
}

func (s *BestEffortStrategy) Close(ctx context.Context, components []component.Component) {
	closeAll(ctx, s.logger, components)
}

func stopAll(ctx context.Context, logger logging.ServiceLogger, components []component.Component) {
	reverse(ctx, logger, "stop", components, component.Component.Stop)
}

func closeAll(ctx context.Context, logger logging.ServiceLogger, components []component.Component) {
	reverse(ctx, logger, "close", components, component.Component.Close)
}

func reverse(ctx context.Context, logger logging.ServiceLogger, phase string, components []component.Component, step func(component.Component, context.Context)) {
	for i := len(components) - 1; i >= 0; i-- {
		c := components[i]
		err := guard(func() error {
			step(c, ctx)
			return nil
		})
		if err != nil {
			logger.Error("Component failed during shutdown", err, logging.LogFields{
				"phase":        phase,
				"component_id": c.ID(),
			})
		}
	}
}

func guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}
