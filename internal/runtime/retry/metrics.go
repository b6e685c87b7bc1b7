package retry

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Failure reasons reported on the failed_total counter.
const (
	ReasonOperator  = "operator"
	ReasonSuspended = "suspended"
	ReasonExhausted = "exhausted"
	ReasonNoSource  = "no_source"
)

// Metrics exports retry queue activity to Prometheus.
type Metrics struct {
	enqueued  *prometheus.CounterVec
	succeeded *prometheus.CounterVec
	dropped   *prometheus.CounterVec
	failed    *prometheus.CounterVec
	waiting   prometheus.Gauge
	attempts  *prometheus.HistogramVec
}

func newRetryCounterVec(name, help string, labels []string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "interflow",
			Subsystem: "retry",
			Name:      name,
			Help:      help,
		},
		labels,
	)
}

// NewMetrics creates the retry collectors and registers them with
// registerer, the default registerer when nil. Collectors registered by an
// earlier call are reused so several handlers can share one registry.
func NewMetrics(registerer prometheus.Registerer) (*Metrics, error) {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		enqueued:  newRetryCounterVec("enqueued_total", "Total number of messages queued for retry", []string{"source"}),
		succeeded: newRetryCounterVec("succeeded_total", "Total number of messages resubmitted successfully", []string{"source"}),
		dropped:   newRetryCounterVec("dropped_total", "Total number of resubmitted messages dropped by the produce exception policy", []string{"source"}),
		failed:    newRetryCounterVec("failed_total", "Total number of queued messages that failed terminally", []string{"source", "reason"}),
		waiting: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "interflow",
			Subsystem: "retry",
			Name:      "waiting",
			Help:      "Current number of messages waiting for retry",
		}),
		attempts: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "interflow",
			Subsystem: "retry",
			Name:      "attempts",
			Help:      "Resubmission attempt number of each retry",
			Buckets:   []float64{1, 2, 3, 5, 10, 20},
		}, []string{"source"}),
	}

	var err error
	if m.enqueued, err = register(registerer, m.enqueued); err != nil {
		return nil, err
	}
	if m.succeeded, err = register(registerer, m.succeeded); err != nil {
		return nil, err
	}
	if m.dropped, err = register(registerer, m.dropped); err != nil {
		return nil, err
	}
	if m.failed, err = register(registerer, m.failed); err != nil {
		return nil, err
	}
	if m.waiting, err = register(registerer, m.waiting); err != nil {
		return nil, err
	}
	if m.attempts, err = register(registerer, m.attempts); err != nil {
		return nil, err
	}
	return m, nil
}

func register[C prometheus.Collector](registerer prometheus.Registerer, c C) (C, error) {
	err := registerer.Register(c)
	if err == nil {
		return c, nil
	}
	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		if existing, ok := are.ExistingCollector.(C); ok {
			return existing, nil
		}
	}
	return c, err
}

func (m *Metrics) recordEnqueued(source string) {
	if m == nil {
		return
	}
	m.enqueued.WithLabelValues(source).Inc()
}

func (m *Metrics) recordSucceeded(source string) {
	if m == nil {
		return
	}
	m.succeeded.WithLabelValues(source).Inc()
}

func (m *Metrics) recordDropped(source string) {
	if m == nil {
		return
	}
	m.dropped.WithLabelValues(source).Inc()
}

func (m *Metrics) recordFailed(source, reason string) {
	if m == nil {
		return
	}
	m.failed.WithLabelValues(source, reason).Inc()
}

func (m *Metrics) recordAttempt(source string, attempt int) {
	if m == nil {
		return
	}
	m.attempts.WithLabelValues(source).Observe(float64(attempt))
}

func (m *Metrics) setWaiting(n int) {
	if m == nil {
		return
	}
	m.waiting.Set(float64(n))
}
