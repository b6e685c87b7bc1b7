package errhandler

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ErrorRecord is one digested failure.
type ErrorRecord struct {
	MessageID string    `json:"message_id"`
	Origin    string    `json:"origin"`
	Error     string    `json:"error"`
	At        time.Time `json:"at"`
}

// ErrorDigest is a point-in-time view of the failures reported inside a
// container.
type ErrorDigest struct {
	Owner  string        `json:"owner"`
	Count  uint64        `json:"count"`
	Recent []ErrorRecord `json:"recent"`
}

// Digester aggregates the failures of a container's subtree, keeping a total
// and the most recent records.
type Digester struct {
	owner   string
	size    int
	metrics *DigestMetrics

	mu     sync.Mutex
	count  uint64
	recent []ErrorRecord
	next   int
}

// NewDigester keeps up to size recent records; size 0 keeps only the count.
// metrics may be nil.
func NewDigester(owner string, size int, metrics *DigestMetrics) *Digester {
	if size < 0 {
		size = 0
	}
	return &Digester{
		owner:   owner,
		size:    size,
		metrics: metrics,
		recent:  make([]ErrorRecord, 0, size),
	}
}

func (d *Digester) Owner() string { return d.owner }

// Digest records f.
func (d *Digester) Digest(f Failure) {
	record := ErrorRecord{Origin: f.OriginID(), At: f.At}
	if f.Message != nil {
		record.MessageID = f.Message.ID()
	}
	if f.Err != nil {
		record.Error = f.Err.Error()
	}
	if record.At.IsZero() {
		record.At = time.Now()
	}

	d.mu.Lock()
	d.count++
	if d.size > 0 {
		if len(d.recent) < d.size {
			d.recent = append(d.recent, record)
		} else {
			d.recent[d.next] = record
		}
		d.next = (d.next + 1) % d.size
	}
	d.mu.Unlock()

	if d.metrics != nil {
		d.metrics.digested.WithLabelValues(d.owner, record.Origin).Inc()
	}
}

// Snapshot copies the digest, oldest record first.
func (d *Digester) Snapshot() ErrorDigest {
	d.mu.Lock()
	defer d.mu.Unlock()

	digest := ErrorDigest{
		Owner:  d.owner,
		Count:  d.count,
		Recent: make([]ErrorRecord, 0, len(d.recent)),
	}
	if len(d.recent) < d.size {
		digest.Recent = append(digest.Recent, d.recent...)
		return digest
	}
	digest.Recent = append(digest.Recent, d.recent[d.next:]...)
	digest.Recent = append(digest.Recent, d.recent[:d.next]...)
	return digest
}

// DigestMetrics exports digested failures to Prometheus. One instance is
// shared by every digester of a service.
type DigestMetrics struct {
	digested *prometheus.CounterVec
}

// NewDigestMetrics registers the digest counter with registerer, the
// default registerer when nil. A counter registered earlier is reused.
func NewDigestMetrics(registerer prometheus.Registerer) (*DigestMetrics, error) {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	digested := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "interflow",
		Subsystem: "errors",
		Name:      "digested_total",
		Help:      "Total number of message failures reported inside a container",
	}, []string{"owner", "origin"})

	if err := registerer.Register(digested); err != nil {
		are, ok := err.(prometheus.AlreadyRegisteredError)
		if !ok {
			return nil, err
		}
		existing, ok := are.ExistingCollector.(*prometheus.CounterVec)
		if !ok {
			return nil, err
		}
		digested = existing
	}
	return &DigestMetrics{digested: digested}, nil
}
