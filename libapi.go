package interflow

import (
	runtimepkg "github.com/drblury/interflow/internal/runtime"
	"github.com/drblury/interflow/internal/runtime/channel"
	"github.com/drblury/interflow/internal/runtime/component"
	configpkg "github.com/drblury/interflow/internal/runtime/config"
	"github.com/drblury/interflow/internal/runtime/errhandler"
	errspkg "github.com/drblury/interflow/internal/runtime/errors"
	idspkg "github.com/drblury/interflow/internal/runtime/ids"
	"github.com/drblury/interflow/internal/runtime/jsoncodec"
	"github.com/drblury/interflow/internal/runtime/lifecycle"
	loggingpkg "github.com/drblury/interflow/internal/runtime/logging"
	messagepkg "github.com/drblury/interflow/internal/runtime/message"
	metadatapkg "github.com/drblury/interflow/internal/runtime/metadata"
	"github.com/drblury/interflow/internal/runtime/retry"
	transportpkg "github.com/drblury/interflow/internal/runtime/transport"
	"github.com/drblury/interflow/internal/runtime/workflow"
	newtransport "github.com/drblury/interflow/transport"
)

type (
	Config            = configpkg.Config
	ChannelConfig     = configpkg.ChannelConfig
	WorkflowConfig    = configpkg.WorkflowConfig
	TransportSettings = configpkg.TransportSettings

	Service             = runtimepkg.Service
	ServiceDependencies = runtimepkg.ServiceDependencies

	Component         = component.Component
	State             = component.State
	OutOfStateHandler = component.OutOfStateHandler
	LifecycleStrategy = lifecycle.Strategy

	Channel  = channel.Channel
	Workflow = workflow.Workflow

	WorkflowConfigSpec      = workflow.Config
	Stage                   = workflow.Stage
	StageFunc               = workflow.StageFunc
	Producer                = workflow.Producer
	ProducerFunc            = workflow.ProducerFunc
	ProduceExceptionHandler = workflow.ProduceExceptionHandler
	Restartable             = workflow.Restartable
	RetryConfig             = workflow.RetryConfig
	BreakerSettings         = workflow.BreakerSettings
	JobContext              = workflow.JobContext
	JobHooks                = workflow.Hooks

	Message         = messagepkg.Message
	SuccessCallback = messagepkg.Callback
	Metadata        = metadatapkg.Metadata

	ErrorHandler = errhandler.ErrorHandler
	Failure      = errhandler.Failure
	ErrorDigest  = errhandler.ErrorDigest
	ErrorRecord  = errhandler.ErrorRecord

	RetryHandler = retry.Handler
	RetryEntry   = retry.Entry
	RetryState   = retry.EntryState
	RetryStats   = retry.Stats

	LogFields     = loggingpkg.LogFields
	ServiceLogger = loggingpkg.ServiceLogger

	LifecycleError        = errspkg.LifecycleError
	OutOfStateError       = errspkg.OutOfStateError
	ProduceFailure        = errspkg.ProduceFailure
	RetryExhaustedError   = errspkg.RetryExhaustedError
	ConfigValidationError = errspkg.ConfigValidationError

	TransportFactory      = transportpkg.Factory
	TransportFactoryFunc  = transportpkg.FactoryFunc
	Transport             = newtransport.Transport
	TransportBuilder      = newtransport.Builder
	TransportConfig       = newtransport.Config
	TransportRegistry     = newtransport.Registry
	TransportCapabilities = newtransport.Capabilities
)

// Component states.
const (
	StateClosed       = component.StateClosed
	StateInitialising = component.StateInitialising
	StateInitialised  = component.StateInitialised
	StateStarting     = component.StateStarting
	StateStarted      = component.StateStarted
	StateStopping     = component.StateStopping
	StateStopped      = component.StateStopped
	StateFailed       = component.StateFailed
)

// Retry entry states.
const (
	RetryPending   = retry.EntryPending
	RetryRetrying  = retry.EntryRetrying
	RetryFailed    = retry.EntryFailed
	RetrySucceeded = retry.EntrySucceeded
)

// Metadata keys set by the runtime.
const (
	MetadataKeyCorrelationID = metadatapkg.KeyCorrelationID
	MetadataKeyChannelID     = metadatapkg.KeyChannelID
	MetadataKeyWorkflowID    = metadatapkg.KeyWorkflowID
	MetadataKeyRetryAttempt  = metadatapkg.KeyRetryAttempt
	MetadataKeyFailedAt      = metadatapkg.KeyFailedAt
	MetadataKeyEventSchema   = metadatapkg.KeyEventSchema
)

var (
	NewService     = runtimepkg.NewService
	TryNewService  = runtimepkg.TryNewService
	DefaultConfig  = configpkg.Default
	LoadConfig     = configpkg.Load
	ValidateConfig = configpkg.ValidateConfig

	NewChannel                        = channel.New
	NewWorkflow                       = workflow.New
	NewPublisherProducer              = workflow.NewPublisherProducer
	NewBreakerProducer                = workflow.NewBreakerProducer
	NewRestartProduceExceptionHandler = workflow.NewRestartProduceExceptionHandler
	ExceptionHandlerByName            = workflow.ExceptionHandlerByName
	LoggingHooks                      = workflow.LoggingHooks

	NewDefaultStrategy      = lifecycle.NewDefaultStrategy
	NewBestEffortStrategy   = lifecycle.NewBestEffortStrategy
	StrategyByName          = lifecycle.ByName
	OutOfStateHandlerByName = component.OutOfStateHandlerByName

	NewRetryHandler   = retry.New
	NewRetryScheduler = retry.NewScheduler
	NewRetryMetrics   = retry.NewMetrics
	RetryRoutes       = retry.Routes

	NewDigester = errhandler.NewDigester

	NewMessage            = messagepkg.New
	NewMessageWithID      = messagepkg.NewWithID
	MessageFromProto      = messagepkg.FromProto
	PrepareMessage        = messagepkg.Prepare
	HandleSuccessCallback = messagepkg.HandleSuccessCallback

	NewMetadata = metadatapkg.New

	NewSlogServiceLogger = loggingpkg.NewSlogServiceLogger
	NewNopLogger         = loggingpkg.NewNopLogger

	CreateULID     = idspkg.CreateULID
	NewComponentID = idspkg.NewComponentID

	Marshal   = jsoncodec.Marshal
	Unmarshal = jsoncodec.Unmarshal
	Encode    = jsoncodec.Encode
	Decode    = jsoncodec.Decode

	DefaultTransportRegistry = newtransport.DefaultRegistry
	RegisterTransport        = newtransport.Register
	BuildTransport           = newtransport.Build
	GetCapabilities          = newtransport.GetCapabilities
	DefaultTransportFactory  = transportpkg.DefaultFactory

	ErrConfigRequired          = errspkg.ErrConfigRequired
	ErrLoggerRequired          = errspkg.ErrLoggerRequired
	ErrTopicRequired           = errspkg.ErrTopicRequired
	ErrPublisherRequired       = errspkg.ErrPublisherRequired
	ErrSubscriberRequired      = errspkg.ErrSubscriberRequired
	ErrProducerRequired        = errspkg.ErrProducerRequired
	ErrMessageRequired         = errspkg.ErrMessageRequired
	ErrNoParent                = errspkg.ErrNoParent
	ErrDuplicateEntry          = errspkg.ErrDuplicateEntry
	ErrEntryNotFound           = errspkg.ErrEntryNotFound
	ErrEntryNotPending         = errspkg.ErrEntryNotPending
	ErrRetriesSuspended        = errspkg.ErrRetriesSuspended
	ErrForcedFailure           = errspkg.ErrForcedFailure
	ErrMessageRejected         = errspkg.ErrMessageRejected
	ErrMessageDropped          = errspkg.ErrMessageDropped
	ErrUnknownStrategy         = errspkg.ErrUnknownStrategy
	ErrUnknownExceptionHandler = errspkg.ErrUnknownExceptionHandler
	ErrUnknownOutOfStatePolicy = errspkg.ErrUnknownOutOfStatePolicy
)
