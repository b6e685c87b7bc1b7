package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Lifecycle strategy names.
const (
	StrategyDefault    = "default"
	StrategyBestEffort = "best_effort"
)

// Produce exception handler names.
const (
	ProduceHandlerNull    = "null"
	ProduceHandlerRestart = "restart"
)

// Out-of-state policy names.
const (
	OutOfStateRaise = "raise"
	OutOfStateLog   = "log"
	OutOfStateNoOp  = "noop"
)

// Config describes an adapter: its default transport, the policies applied
// to every component, and the channel/workflow topology.
type Config struct {
	// ID names the adapter. A random id is used when empty.
	ID string `yaml:"id"`

	Transport TransportSettings `yaml:"transport"`

	LifecycleStrategy       string `yaml:"lifecycle_strategy"`
	OutOfStatePolicy        string `yaml:"out_of_state_policy"`
	ProduceExceptionHandler string `yaml:"produce_exception_handler"`

	// Immediate output retries. Zero ProduceMaxRetries disables the retry
	// middleware.
	ProduceMaxRetries      int           `yaml:"produce_max_retries"`
	ProduceInitialInterval time.Duration `yaml:"produce_initial_interval"`
	ProduceMaxInterval     time.Duration `yaml:"produce_max_interval"`

	// Circuit breaker wrapped around publishing producers.
	BreakerEnabled          bool          `yaml:"breaker_enabled"`
	BreakerMaxRequests      uint32        `yaml:"breaker_max_requests"`
	BreakerInterval         time.Duration `yaml:"breaker_interval"`
	BreakerTimeout          time.Duration `yaml:"breaker_timeout"`
	BreakerFailureThreshold uint32        `yaml:"breaker_failure_threshold"`

	// Retry queue. A zero RetryInterval disables the resubmission scheduler;
	// a zero RetryLimit means unlimited attempts.
	RetryInterval      time.Duration `yaml:"retry_interval"`
	RetryLimit         int           `yaml:"retry_limit"`
	RetryFailedHistory int           `yaml:"retry_failed_history"`

	ErrorDigestSize int `yaml:"error_digest_size"`

	ManagementEnabled bool `yaml:"management_enabled"`
	ManagementPort    int  `yaml:"management_port"`
	MetricsEnabled    bool `yaml:"metrics_enabled"`

	Channels []ChannelConfig `yaml:"channels"`
}

// ChannelConfig describes a channel and its ordered workflows.
type ChannelConfig struct {
	ID string `yaml:"id"`
	// Transport overrides the adapter-wide transport for this channel.
	Transport *TransportSettings `yaml:"transport,omitempty"`
	Workflows []WorkflowConfig   `yaml:"workflows"`
}

// WorkflowConfig describes a single workflow.
type WorkflowConfig struct {
	ID           string `yaml:"id"`
	ConsumeTopic string `yaml:"consume_topic"`
	ProduceTopic string `yaml:"produce_topic"`
	Concurrency  int    `yaml:"concurrency"`
	// Stages lists processing stages by the names they were registered under.
	Stages []string `yaml:"stages"`
	// ProduceExceptionHandler overrides the adapter-wide policy.
	ProduceExceptionHandler string `yaml:"produce_exception_handler"`
}

// TransportFor returns the channel's transport settings, falling back to the
// adapter-wide settings.
func (c ChannelConfig) TransportFor(fallback TransportSettings) TransportSettings {
	if c.Transport != nil {
		return *c.Transport
	}
	return fallback
}

// Default returns a configuration with every tunable set.
func Default() *Config {
	return &Config{
		Transport:               TransportSettings{PubSubSystem: "channel"},
		LifecycleStrategy:       StrategyDefault,
		OutOfStatePolicy:        OutOfStateRaise,
		ProduceExceptionHandler: ProduceHandlerRestart,
		ProduceMaxRetries:       3,
		ProduceInitialInterval:  100 * time.Millisecond,
		ProduceMaxInterval:      2 * time.Second,
		BreakerMaxRequests:      1,
		BreakerInterval:         time.Minute,
		BreakerTimeout:          30 * time.Second,
		BreakerFailureThreshold: 5,
		RetryInterval:           30 * time.Second,
		RetryFailedHistory:      100,
		ErrorDigestSize:         50,
		ManagementPort:          8081,
	}
}

// Load reads a YAML file over Default. An empty filename or a missing file
// yields the defaults.
func Load(filename string) (*Config, error) {
	if filename == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c Config) String() string {
	copy := c
	copy.Transport = c.Transport.redacted()
	if len(c.Channels) > 0 {
		copy.Channels = make([]ChannelConfig, len(c.Channels))
		for i, ch := range c.Channels {
			if ch.Transport != nil {
				redacted := ch.Transport.redacted()
				ch.Transport = &redacted
			}
			copy.Channels[i] = ch
		}
	}
	type configAlias Config
	return fmt.Sprintf("%+v", configAlias(copy))
}

// Validate reports every configuration problem at once.
func (c *Config) Validate() error {
	var errs []error

	if err := c.Transport.Validate(); err != nil {
		errs = append(errs, err)
	}
	errs = append(errs, c.validatePolicies()...)
	errs = append(errs, c.validateProduceRetry()...)
	errs = append(errs, c.validateRetryQueue()...)
	errs = append(errs, c.validateTopology()...)
	if c.ManagementPort < 0 || c.ManagementPort > 65535 {
		errs = append(errs, fmt.Errorf("management: invalid port %d", c.ManagementPort))
	}

	return errors.Join(errs...)
}

func (c *Config) validatePolicies() []error {
	var errs []error
	switch strings.ToLower(c.LifecycleStrategy) {
	case "", StrategyDefault, StrategyBestEffort:
	default:
		errs = append(errs, fmt.Errorf("lifecycle: unknown strategy %q", c.LifecycleStrategy))
	}
	switch strings.ToLower(c.OutOfStatePolicy) {
	case "", OutOfStateRaise, OutOfStateLog, OutOfStateNoOp:
	default:
		errs = append(errs, fmt.Errorf("lifecycle: unknown out-of-state policy %q", c.OutOfStatePolicy))
	}
	if !validProduceHandler(c.ProduceExceptionHandler) {
		errs = append(errs, fmt.Errorf("produce: unknown exception handler %q", c.ProduceExceptionHandler))
	}
	return errs
}

func validProduceHandler(name string) bool {
	switch strings.ToLower(name) {
	case "", ProduceHandlerNull, ProduceHandlerRestart:
		return true
	}
	return false
}

func (c *Config) validateProduceRetry() []error {
	var errs []error
	if c.ProduceMaxRetries < 0 {
		errs = append(errs, errors.New("produce: max retries cannot be negative"))
	}
	if c.ProduceInitialInterval < 0 {
		errs = append(errs, errors.New("produce: initial interval cannot be negative"))
	}
	if c.ProduceMaxInterval < 0 {
		errs = append(errs, errors.New("produce: max interval cannot be negative"))
	}
	if c.ProduceMaxInterval > 0 && c.ProduceInitialInterval > c.ProduceMaxInterval {
		errs = append(errs, errors.New("produce: initial interval cannot exceed max interval"))
	}
	if c.BreakerEnabled && c.BreakerFailureThreshold == 0 {
		errs = append(errs, errors.New("breaker: failure threshold must be positive"))
	}
	return errs
}

func (c *Config) validateRetryQueue() []error {
	var errs []error
	if c.RetryInterval < 0 {
		errs = append(errs, errors.New("retry: interval cannot be negative"))
	}
	if c.RetryLimit < 0 {
		errs = append(errs, errors.New("retry: limit cannot be negative"))
	}
	if c.RetryFailedHistory < 0 {
		errs = append(errs, errors.New("retry: failed history cannot be negative"))
	}
	if c.ErrorDigestSize < 0 {
		errs = append(errs, errors.New("errors: digest size cannot be negative"))
	}
	return errs
}

func (c *Config) validateTopology() []error {
	var errs []error
	seen := make(map[string]struct{})
	claim := func(kind, id string) {
		if id == "" {
			return
		}
		if _, ok := seen[id]; ok {
			errs = append(errs, fmt.Errorf("%s: duplicate id %q", kind, id))
			return
		}
		seen[id] = struct{}{}
	}

	for i, ch := range c.Channels {
		claim("channel", ch.ID)
		if ch.Transport != nil {
			if err := ch.Transport.Validate(); err != nil {
				errs = append(errs, fmt.Errorf("channel %d: %w", i, err))
			}
		}
		for j, wf := range ch.Workflows {
			claim("workflow", wf.ID)
			if wf.ConsumeTopic == "" {
				errs = append(errs, fmt.Errorf("channel %d workflow %d: consume topic is required", i, j))
			}
			if wf.ProduceTopic == "" {
				errs = append(errs, fmt.Errorf("channel %d workflow %d: produce topic is required", i, j))
			}
			if wf.Concurrency < 0 {
				errs = append(errs, fmt.Errorf("channel %d workflow %d: concurrency cannot be negative", i, j))
			}
			if !validProduceHandler(wf.ProduceExceptionHandler) {
				errs = append(errs, fmt.Errorf("channel %d workflow %d: unknown exception handler %q", i, j, wf.ProduceExceptionHandler))
			}
		}
	}
	return errs
}

// ValidateConfig validates a config pointer, rejecting nil.
func ValidateConfig(c *Config) error {
	if c == nil {
		return errors.New("config is nil")
	}
	return c.Validate()
}
