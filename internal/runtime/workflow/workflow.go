// Package workflow implements the pipeline: processing stages ending in an
// output stage, fed by worker goroutines reading a subscription.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	wm "github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/interflow/internal/runtime/component"
	"github.com/drblury/interflow/internal/runtime/errhandler"
	errspkg "github.com/drblury/interflow/internal/runtime/errors"
	"github.com/drblury/interflow/internal/runtime/ids"
	"github.com/drblury/interflow/internal/runtime/logging"
	"github.com/drblury/interflow/internal/runtime/message"
	"github.com/drblury/interflow/internal/runtime/metadata"
	"github.com/drblury/interflow/transport"
)

// Config describes a workflow. ConsumeTopic may be empty for workflows fed
// only through Process. ProduceTopic is used when the producer is bound
// from a transport.
type Config struct {
	ID           string
	ConsumeTopic string
	ProduceTopic string
	// Concurrency is the number of workers; values below 1 mean 1.
	Concurrency int
	Retry       RetryConfig
}

// Option configures a Workflow.
type Option func(*Workflow)

// WithStages appends processing stages, run in order before the output.
func WithStages(stages ...Stage) Option {
	return func(w *Workflow) { w.stages = append(w.stages, stages...) }
}

// WithProducer sets the output stage. Without it the workflow publishes to
// ProduceTopic on the transport it is bound to.
func WithProducer(p Producer) Option {
	return func(w *Workflow) { w.producer = p }
}

// WithExceptionHandler replaces the default restart policy.
func WithExceptionHandler(h ProduceExceptionHandler) Option {
	return func(w *Workflow) {
		if h != nil {
			w.exceptions = h
		}
	}
}

// WithOutOfStateHandler sets the policy for transitions and messages that
// arrive in the wrong state.
func WithOutOfStateHandler(h component.OutOfStateHandler) Option {
	return func(w *Workflow) { w.outOfState = h }
}

// WithLogger sets the workflow logger.
func WithLogger(logger logging.ServiceLogger) Option {
	return func(w *Workflow) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithHooks adds job hooks to those already set.
func WithHooks(h Hooks) Option {
	return func(w *Workflow) { w.hooks = w.hooks.Merge(h) }
}

// WithBreaker wraps the producer bound from a transport in a circuit
// breaker.
func WithBreaker(settings BreakerSettings) Option {
	return func(w *Workflow) { w.breaker = &settings }
}

// Workflow is a component owning its workers. Failures it cannot recover
// from locally are reported to its parent through the embedded Registrar.
type Workflow struct {
	*component.Lifecycle
	*errhandler.Registrar

	cfg        Config
	stages     []Stage
	exceptions ProduceExceptionHandler
	outOfState component.OutOfStateHandler
	hooks      Hooks
	breaker    *BreakerSettings
	logger     logging.ServiceLogger
	output     wm.HandlerMiddleware

	mu         sync.Mutex
	producer   Producer
	bound      bool // producer was built by Bind
	subscriber wm.Subscriber
	cancel     context.CancelFunc
	workers    sync.WaitGroup
}

// New returns a CLOSED workflow. A missing id is replaced by a random one.
func New(cfg Config, opts ...Option) *Workflow {
	if cfg.ID == "" {
		cfg.ID = ids.NewComponentID()
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}

	w := &Workflow{cfg: cfg, logger: logging.NewNopLogger()}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = logging.ForComponent(w.logger, "workflow", cfg.ID)
	if w.exceptions == nil {
		w.exceptions = NewRestartProduceExceptionHandler(w.logger)
	}
	w.output = outputChain(cfg.ID, cfg.Retry, logging.NewWatermillAdapter(w.logger))

	lifecycleOpts := []component.Option{component.WithLogger(w.logger)}
	if w.outOfState != nil {
		lifecycleOpts = append(lifecycleOpts, component.WithOutOfStateHandler(w.outOfState))
	}
	w.Lifecycle = component.NewLifecycle(cfg.ID, component.Hooks{
		Init:  w.init,
		Start: w.start,
		Stop:  w.stop,
	}, lifecycleOpts...)
	w.Registrar = errhandler.NewRegistrar(w.logger)
	return w
}

// Config returns the workflow's configuration.
func (w *Workflow) Config() Config { return w.cfg }

// Bind attaches the transport the workflow consumes from and, when no
// producer was given, publishes to. Binding again replaces both.
func (w *Workflow) Bind(t transport.Transport) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.subscriber = t.Subscriber
	if (w.producer != nil && !w.bound) || w.cfg.ProduceTopic == "" {
		return nil
	}
	producer, err := NewPublisherProducer(t.Publisher, w.cfg.ProduceTopic)
	if err != nil {
		return fmt.Errorf("workflow %q: %w", w.cfg.ID, err)
	}
	w.producer, w.bound = producer, true
	if w.breaker != nil {
		w.producer = NewBreakerProducer(w.cfg.ID, producer, *w.breaker, w.logger)
	}
	return nil
}

func (w *Workflow) init(context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.producer == nil {
		return errspkg.ErrProducerRequired
	}
	if w.cfg.ConsumeTopic != "" && w.subscriber == nil {
		return errspkg.ErrSubscriberRequired
	}
	return nil
}

func (w *Workflow) start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cfg.ConsumeTopic == "" {
		return nil
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	messages, err := w.subscriber.Subscribe(runCtx, w.cfg.ConsumeTopic)
	if err != nil {
		cancel()
		return fmt.Errorf("subscribe to %q: %w", w.cfg.ConsumeTopic, err)
	}
	w.cancel = cancel

	for i := 0; i < w.cfg.Concurrency; i++ {
		w.workers.Add(1)
		go w.work(runCtx, messages)
	}
	w.logger.Info("Workflow started", logging.LogFields{
		"topic":   w.cfg.ConsumeTopic,
		"workers": w.cfg.Concurrency,
	})
	return nil
}

// stop cancels the subscription and waits for the workers of this run.
func (w *Workflow) stop(context.Context) error {
	w.mu.Lock()
	cancel := w.cancel
	w.cancel = nil
	w.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	w.workers.Wait()
	return nil
}

// Restart stops the workflow and starts it again. Only a STARTED workflow
// is restarted: a restart queued behind its owner's Stop or Close is
// skipped.
func (w *Workflow) Restart(ctx context.Context) error {
	restarted, err := w.Cycle(ctx)
	if !restarted {
		w.logger.Info("Restart skipped", logging.LogFields{"state": w.State().String()})
	}
	return err
}

func (w *Workflow) work(ctx context.Context, messages <-chan *wm.Message) {
	defer w.workers.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-messages:
			if !ok {
				return
			}
			if err := w.Process(ctx, message.Wrap(raw)); err != nil {
				raw.Nack()
				continue
			}
			raw.Ack()
		}
	}
}

// Process runs msg through the stages and the output stage. A nil return
// means the message reached a terminal outcome: it was produced, dropped
// by the exception handler, or handed to the error chain. Otherwise the
// caller should redeliver it.
func (w *Workflow) Process(ctx context.Context, msg *message.Message) error {
	if msg == nil {
		return errspkg.ErrMessageRequired
	}
	err := w.run(ctx, msg)
	if err == nil || isHandled(err) {
		return nil
	}

	var rejected *rejection
	if errors.As(err, &rejected) {
		return rejected.err
	}

	notifyErr := w.NotifyParent(ctx, errhandler.Failure{Message: msg, Origin: w, Err: err})
	switch {
	case notifyErr == nil:
		return nil
	case errors.Is(notifyErr, errspkg.ErrDuplicateEntry), errors.Is(notifyErr, errspkg.ErrRetriesSuspended):
		w.logger.Debug("Failure recorded without queueing", logging.LogFields{
			"message_id": msg.ID(),
			"reason":     notifyErr.Error(),
		})
		return nil
	}
	return errors.Join(err, notifyErr)
}

// Resubmit processes msg again on behalf of the retry queue. Failures are
// returned instead of being reported up the chain. A message the exception
// handler dropped yields ErrMessageDropped.
func (w *Workflow) Resubmit(ctx context.Context, msg *message.Message) error {
	if msg == nil {
		return errspkg.ErrMessageRequired
	}
	err := w.run(ctx, msg)
	if err == nil {
		return nil
	}
	if isHandled(err) {
		return errspkg.ErrMessageDropped
	}
	var rejected *rejection
	if errors.As(err, &rejected) {
		return rejected.err
	}
	return err
}

// errHandled marks output failures the exception handler absorbed.
var errHandled = errors.New("handled by produce exception handler")

func isHandled(err error) bool { return errors.Is(err, errHandled) }

// rejection carries the result of the out-of-state check.
type rejection struct{ err error }

func (r *rejection) Error() string { return r.err.Error() }

func (w *Workflow) run(ctx context.Context, msg *message.Message) (err error) {
	job := JobContext{
		WorkflowID: w.cfg.ID,
		Topic:      w.cfg.ConsumeTopic,
		MessageID:  msg.ID(),
		Metadata:   metadata.FromWatermill(msg.Metadata),
		Context:    ctx,
		StartedAt:  time.Now(),
	}
	if attempt, convErr := strconv.Atoi(msg.Metadata.Get(metadata.KeyRetryAttempt)); convErr == nil {
		job.Attempt = attempt
	}
	w.hooks.start(job)
	defer func() {
		if isHandled(err) {
			w.hooks.finish(job, nil)
			return
		}
		w.hooks.finish(job, err)
	}()

	oos := w.OutOfStateHandler()
	if !oos.IsInCorrectState(w, component.StateStarted) {
		reject := oos.HandleOutOfState(w, "process", component.StateStarted)
		if reject == nil {
			reject = errspkg.ErrMessageRejected
		}
		return &rejection{err: reject}
	}

	msg.SetContext(ctx)
	msg.Metadata.Set(metadata.KeyWorkflowID, w.cfg.ID)

	for _, stage := range w.stages {
		if err := stage.Process(ctx, msg); err != nil {
			return fmt.Errorf("stage failed: %w", err)
		}
	}

	if err := w.produce(msg); err != nil {
		if hErr := w.exceptions.HandleProduceException(ctx, w, msg, err); hErr != nil {
			return hErr
		}
		return errHandled
	}

	message.HandleSuccessCallback(msg)
	return nil
}

func (w *Workflow) produce(msg *message.Message) error {
	w.mu.Lock()
	producer := w.producer
	w.mu.Unlock()
	if producer == nil {
		return errspkg.ErrProducerRequired
	}

	handler := w.output(func(m *wm.Message) ([]*wm.Message, error) {
		return nil, producer.Produce(m.Context(), msg)
	})
	_, err := handler(msg.Message)
	return err
}
