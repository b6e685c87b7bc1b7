package runtime

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/drblury/interflow/internal/runtime/channel"
	"github.com/drblury/interflow/internal/runtime/component"
	configpkg "github.com/drblury/interflow/internal/runtime/config"
	"github.com/drblury/interflow/internal/runtime/errhandler"
	errspkg "github.com/drblury/interflow/internal/runtime/errors"
	"github.com/drblury/interflow/internal/runtime/ids"
	"github.com/drblury/interflow/internal/runtime/jsoncodec"
	"github.com/drblury/interflow/internal/runtime/lifecycle"
	loggingpkg "github.com/drblury/interflow/internal/runtime/logging"
	"github.com/drblury/interflow/internal/runtime/retry"
	transportpkg "github.com/drblury/interflow/internal/runtime/transport"
	"github.com/drblury/interflow/internal/runtime/workflow"
)

var listen = func(addr string) (net.Listener, error) {
	return net.Listen("tcp", addr)
}

const managementShutdownTimeout = 5 * time.Second

// ServiceDependencies holds the collaborators a Service cannot build from
// configuration alone. Every field is optional.
type ServiceDependencies struct {
	TransportFactory transportpkg.Factory
	// Stages resolves the stage names listed in workflow configs.
	Stages map[string]workflow.Stage
	// Producers replaces the transport-bound output stage of the workflow
	// with the same id.
	Producers map[string]workflow.Producer
	Hooks     workflow.Hooks
	// OnFailed observes every retry entry that fails terminally.
	OnFailed func(retry.Entry)
	// Registerer and Gatherer back the metrics when MetricsEnabled is set.
	// They default to the prometheus default registry.
	Registerer prometheus.Registerer
	Gatherer   prometheus.Gatherer
}

// Service is the adapter: the root container owning the channels and the
// retry queue at the end of the error chain.
type Service struct {
	*component.Lifecycle

	Conf   *configpkg.Config
	Logger loggingpkg.ServiceLogger

	strategy   lifecycle.Strategy
	retry      *retry.Handler
	scheduler  *retry.Scheduler
	digester   *errhandler.Digester
	channels   []*channel.Channel
	gatherer   prometheus.Gatherer
	management http.Handler
}

// TryNewService builds the channel and workflow topology described by conf.
// The returned Service is CLOSED.
func TryNewService(conf *configpkg.Config, log loggingpkg.ServiceLogger, deps ServiceDependencies) (*Service, error) {
	if conf == nil {
		return nil, errspkg.ErrConfigRequired
	}
	if log == nil {
		return nil, errspkg.ErrLoggerRequired
	}
	if err := conf.Validate(); err != nil {
		return nil, errspkg.ConfigValidationError{Err: err}
	}

	id := conf.ID
	if id == "" {
		id = ids.NewComponentID()
	}
	log.Info("Creating adapter", loggingpkg.LogFields{
		"adapter_id":    id,
		"pubsub_system": conf.Transport.PubSubSystem,
		"config":        conf,
	})

	oos, err := component.OutOfStateHandlerByName(conf.OutOfStatePolicy, log)
	if err != nil {
		return nil, err
	}
	strategy, err := lifecycle.ByName(conf.LifecycleStrategy, log)
	if err != nil {
		return nil, err
	}

	s := &Service{Conf: conf, Logger: log, strategy: strategy}

	var (
		retryMetrics  *retry.Metrics
		digestMetrics *errhandler.DigestMetrics
	)
	if conf.MetricsEnabled {
		registerer, gatherer := metricsRegistry(deps)
		if retryMetrics, err = retry.NewMetrics(registerer); err != nil {
			return nil, fmt.Errorf("failed to register retry metrics: %w", err)
		}
		if digestMetrics, err = errhandler.NewDigestMetrics(registerer); err != nil {
			return nil, fmt.Errorf("failed to register digest metrics: %w", err)
		}
		s.gatherer = gatherer
	}

	s.retry = retry.New(id+"-retry",
		retry.WithLogger(log),
		retry.WithMetrics(retryMetrics),
		retry.WithFailedHistory(conf.RetryFailedHistory),
		retry.WithOnFailed(deps.OnFailed),
		retry.WithOutOfStateHandler(oos),
	)
	s.scheduler = retry.NewScheduler(s.retry, conf.RetryInterval, conf.RetryLimit, log)
	s.digester = errhandler.NewDigester(id, conf.ErrorDigestSize, digestMetrics)

	exceptions := make(map[string]workflow.ProduceExceptionHandler)
	exceptionHandler := func(name string) (workflow.ProduceExceptionHandler, error) {
		if name == "" {
			name = conf.ProduceExceptionHandler
		}
		name = strings.ToLower(name)
		if h, ok := exceptions[name]; ok {
			return h, nil
		}
		h, err := workflow.ExceptionHandlerByName(name, log)
		if err != nil {
			return nil, err
		}
		exceptions[name] = h
		return h, nil
	}

	factory := deps.TransportFactory
	if factory == nil {
		factory = transportpkg.DefaultFactory(nil)
	}

	for _, cc := range conf.Channels {
		ch := channel.New(cc.ID, cc.TransportFor(conf.Transport),
			channel.WithFactory(factory),
			channel.WithStrategy(strategy),
			channel.WithLogger(log),
			channel.WithOutOfStateHandler(oos),
			channel.WithDigester(errhandler.NewDigester(cc.ID, conf.ErrorDigestSize, digestMetrics)),
		)
		if err := ch.RegisterParent(s); err != nil {
			return nil, fmt.Errorf("channel %q: %w", ch.ID(), err)
		}

		for _, wc := range cc.Workflows {
			w, err := s.buildWorkflow(wc, deps, oos, exceptionHandler)
			if err != nil {
				return nil, fmt.Errorf("channel %q: %w", ch.ID(), err)
			}
			if err := ch.Add(w); err != nil {
				return nil, err
			}
		}
		s.channels = append(s.channels, ch)
	}

	s.Lifecycle = component.NewLifecycle(id, component.Hooks{
		Init: func(ctx context.Context) error {
			return s.strategy.Init(ctx, s.Children())
		},
		Start: func(ctx context.Context) error {
			return s.strategy.Start(ctx, s.Children())
		},
		Stop: func(ctx context.Context) error {
			s.strategy.Stop(ctx, s.Children())
			return nil
		},
		Close: func(ctx context.Context) error {
			s.strategy.Close(ctx, s.Children())
			return nil
		},
	}, component.WithLogger(log), component.WithOutOfStateHandler(oos))

	s.management = s.routes()
	return s, nil
}

// NewService is TryNewService for callers that treat a bad configuration as
// a programming error.
func NewService(conf *configpkg.Config, log loggingpkg.ServiceLogger, deps ServiceDependencies) *Service {
	s, err := TryNewService(conf, log, deps)
	if err != nil {
		panic(err)
	}
	return s
}

func metricsRegistry(deps ServiceDependencies) (prometheus.Registerer, prometheus.Gatherer) {
	registerer := deps.Registerer
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	gatherer := deps.Gatherer
	if gatherer == nil {
		if g, ok := registerer.(prometheus.Gatherer); ok {
			gatherer = g
		} else {
			gatherer = prometheus.DefaultGatherer
		}
	}
	return registerer, gatherer
}

func (s *Service) buildWorkflow(
	wc configpkg.WorkflowConfig,
	deps ServiceDependencies,
	oos component.OutOfStateHandler,
	exceptionHandler func(string) (workflow.ProduceExceptionHandler, error),
) (*workflow.Workflow, error) {
	stages := make([]workflow.Stage, 0, len(wc.Stages))
	for _, name := range wc.Stages {
		stage, ok := deps.Stages[name]
		if !ok {
			return nil, fmt.Errorf("workflow %q: unknown stage %q", wc.ID, name)
		}
		stages = append(stages, stage)
	}

	exceptions, err := exceptionHandler(wc.ProduceExceptionHandler)
	if err != nil {
		return nil, fmt.Errorf("workflow %q: %w", wc.ID, err)
	}

	opts := []workflow.Option{
		workflow.WithStages(stages...),
		workflow.WithExceptionHandler(exceptions),
		workflow.WithOutOfStateHandler(oos),
		workflow.WithLogger(s.Logger),
		workflow.WithHooks(deps.Hooks),
	}
	if p, ok := deps.Producers[wc.ID]; ok {
		opts = append(opts, workflow.WithProducer(p))
	}
	if s.Conf.BreakerEnabled {
		opts = append(opts, workflow.WithBreaker(workflow.BreakerSettings{
			MaxRequests:      s.Conf.BreakerMaxRequests,
			Interval:         s.Conf.BreakerInterval,
			Timeout:          s.Conf.BreakerTimeout,
			FailureThreshold: s.Conf.BreakerFailureThreshold,
		}))
	}

	return workflow.New(workflow.Config{
		ID:           wc.ID,
		ConsumeTopic: wc.ConsumeTopic,
		ProduceTopic: wc.ProduceTopic,
		Concurrency:  wc.Concurrency,
		Retry: workflow.RetryConfig{
			MaxRetries:      s.Conf.ProduceMaxRetries,
			InitialInterval: s.Conf.ProduceInitialInterval,
			MaxInterval:     s.Conf.ProduceMaxInterval,
		},
	}, opts...), nil
}

// Children lists the retry queue first so it is running before any channel
// can report a failure and stops after the last one.
func (s *Service) Children() []component.Component {
	children := make([]component.Component, 0, len(s.channels)+1)
	children = append(children, s.retry)
	for _, ch := range s.channels {
		children = append(children, ch)
	}
	return children
}

// OnChildError digests failures reported by channels and queues them for
// retry.
func (s *Service) OnChildError(ctx context.Context, f errhandler.Failure) error {
	s.digester.Digest(f)
	return s.retry.OnChildError(ctx, f)
}

func (s *Service) Channels() []*channel.Channel {
	return append([]*channel.Channel(nil), s.channels...)
}

func (s *Service) Channel(id string) (*channel.Channel, bool) {
	for _, ch := range s.channels {
		if ch.ID() == id {
			return ch, true
		}
	}
	return nil, false
}

func (s *Service) RetryHandler() *retry.Handler { return s.retry }

// ErrorDigests returns the adapter's digest followed by one per channel.
func (s *Service) ErrorDigests() []errhandler.ErrorDigest {
	digests := make([]errhandler.ErrorDigest, 0, len(s.channels)+1)
	digests = append(digests, s.digester.Snapshot())
	for _, ch := range s.channels {
		digests = append(digests, ch.Digest())
	}
	return digests
}

// ManagementHandler serves the retry queue under /retry, the error digests
// under /errors and, with metrics enabled, /metrics.
func (s *Service) ManagementHandler() http.Handler { return s.management }

func (s *Service) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Mount("/retry", retry.Routes(s.retry, s.Logger))
	r.Get("/errors", func(w http.ResponseWriter, _ *http.Request) {
		if err := jsoncodec.WriteJSON(w, http.StatusOK, s.ErrorDigests()); err != nil {
			s.Logger.Error("Failed to write error digests", err, nil)
		}
	})
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return r
}

// Run initialises and starts the adapter, then blocks running the retry
// scheduler and the management server until ctx is cancelled or one of them
// fails. The adapter is closed before Run returns.
func (s *Service) Run(ctx context.Context) error {
	cleanup := context.WithoutCancel(ctx)
	if err := s.Init(ctx); err != nil {
		s.Close(cleanup)
		return err
	}
	if err := s.Start(ctx); err != nil {
		s.Close(cleanup)
		return err
	}
	defer s.Close(cleanup)

	s.Logger.Info("Adapter started", loggingpkg.LogFields{
		"adapter_id": s.ID(),
		"channels":   len(s.channels),
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.scheduler.Run(gctx)
	})
	if s.Conf.ManagementEnabled {
		g.Go(func() error {
			return s.serveManagement(gctx)
		})
	}
	return g.Wait()
}

func (s *Service) serveManagement(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.Conf.ManagementPort)
	listener, err := listen(addr)
	if err != nil {
		return fmt.Errorf("management server: %w", err)
	}

	server := &http.Server{
		Handler:      s.management,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	s.Logger.Info("Starting management server", loggingpkg.LogFields{"address": listener.Addr().String()})

	errCh := make(chan error, 1)
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("management server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), managementShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			s.Logger.Error("Management server shutdown failed", err, nil)
			return err
		}
		s.Logger.Info("Management server stopped", nil)
		return nil
	}
}
