// Package retry holds messages whose output failed until they are resubmitted
// through the workflow that produced them, or failed for good.
package retry

import (
	"context"
	"errors"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/drblury/interflow/internal/runtime/component"
	"github.com/drblury/interflow/internal/runtime/errhandler"
	errspkg "github.com/drblury/interflow/internal/runtime/errors"
	"github.com/drblury/interflow/internal/runtime/logging"
	"github.com/drblury/interflow/internal/runtime/message"
	"github.com/drblury/interflow/internal/runtime/metadata"
)

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the logger for queue events.
func WithLogger(logger logging.ServiceLogger) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithMetrics reports queue activity to m.
func WithMetrics(m *Metrics) Option {
	return func(h *Handler) { h.metrics = m }
}

// WithFailedHistory caps how many terminally failed entries Failed returns.
func WithFailedHistory(n int) Option {
	return func(h *Handler) {
		if n >= 0 {
			h.historySize = n
		}
	}
}

// WithOnFailed registers a listener called, outside the handler's lock, for
// every entry that fails terminally.
func WithOnFailed(fn func(Entry)) Option {
	return func(h *Handler) { h.onFailed = fn }
}

// WithRetainedIDs caps how many resolved message ids are remembered for
// duplicate detection. The oldest are forgotten first.
func WithRetainedIDs(n int) Option {
	return func(h *Handler) {
		if n >= 0 {
			h.retainSize = n
		}
	}
}

// WithOutOfStateHandler sets the policy passed to the handler's lifecycle.
func WithOutOfStateHandler(oos component.OutOfStateHandler) Option {
	return func(h *Handler) { h.outOfState = oos }
}

// Handler terminates the error chain: failures reported by channels are
// queued here keyed by message id. It is a component so the service can
// start and stop it with the rest of the tree; starting it clears the
// future-failure gate.
type Handler struct {
	*component.Lifecycle

	logger      logging.ServiceLogger
	metrics     *Metrics
	historySize int
	retainSize  int
	onFailed    func(Entry)
	outOfState  component.OutOfStateHandler

	mu      sync.Mutex
	entries map[string]*entry
	failed  []Entry
	settled map[string]struct{}
	order   []string
	gate    bool
	stats   Stats
}

// Stats are cumulative counters since the handler was created.
type Stats struct {
	Waiting   int  `json:"waiting"`
	Enqueued  int  `json:"enqueued"`
	Succeeded int  `json:"succeeded"`
	Dropped   int  `json:"dropped"`
	Failed    int  `json:"failed"`
	Suspended bool `json:"suspended"`
}

// New returns a CLOSED handler.
func New(id string, opts ...Option) *Handler {
	h := &Handler{
		logger:      logging.NewNopLogger(),
		historySize: 100,
		retainSize:  10000,
		entries:     make(map[string]*entry),
		settled:     make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.logger = logging.ForComponent(h.logger, "retry", id)

	lifecycleOpts := []component.Option{component.WithLogger(h.logger)}
	if h.outOfState != nil {
		lifecycleOpts = append(lifecycleOpts, component.WithOutOfStateHandler(h.outOfState))
	}
	h.Lifecycle = component.NewLifecycle(id, component.Hooks{
		Start: func(context.Context) error {
			h.ResetGate()
			return nil
		},
	}, lifecycleOpts...)
	return h
}

// OnChildError queues the failed message.
func (h *Handler) OnChildError(_ context.Context, f errhandler.Failure) error {
	return h.Enqueue(f.Message, f.Origin, f.Err)
}

// Enqueue stores a clone of msg as a PENDING entry. A message id that is
// waiting, or that already succeeded or failed, is rejected with
// ErrDuplicateEntry. While the gate is set the
// message is recorded as FAILED straight away and ErrRetriesSuspended is
// returned.
func (h *Handler) Enqueue(msg *message.Message, source errhandler.Resubmitter, cause error) error {
	if msg == nil {
		return errspkg.ErrMessageRequired
	}

	e := &entry{
		view: Entry{
			MessageID:  msg.ID(),
			EnqueuedAt: time.Now(),
			State:      EntryPending,
		},
		msg:    msg.Clone(),
		source: source,
	}
	if source != nil {
		e.view.Source = source.ID()
	}
	e.setError(cause)

	h.mu.Lock()
	if h.knownLocked(e.view.MessageID) {
		h.mu.Unlock()
		return errspkg.ErrDuplicateEntry
	}
	h.stats.Enqueued++
	if h.gate {
		failed := h.failLocked(e, errspkg.ErrRetriesSuspended, ReasonSuspended)
		h.mu.Unlock()
		h.notifyFailed(failed)
		return errspkg.ErrRetriesSuspended
	}
	h.entries[e.view.MessageID] = e
	h.metrics.recordEnqueued(e.view.Source)
	h.metrics.setWaiting(len(h.entries))
	h.mu.Unlock()

	h.logger.Debug("Message queued for retry", logging.LogFields{
		"message_id": e.view.MessageID,
		"source":     e.view.Source,
	})
	return nil
}

// WaitingForRetry returns the sorted ids of every PENDING or RETRYING entry.
func (h *Handler) WaitingForRetry() []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	ids := make([]string, 0, len(h.entries))
	for id := range h.entries {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Entry returns the waiting entry for id.
func (h *Handler) Entry(id string) (Entry, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	e, ok := h.entries[id]
	if !ok {
		return Entry{}, false
	}
	return e.view, true
}

// Entries returns every waiting entry, oldest first.
func (h *Handler) Entries() []Entry {
	h.mu.Lock()
	out := make([]Entry, 0, len(h.entries))
	for _, e := range h.entries {
		out = append(out, e.view)
	}
	h.mu.Unlock()

	slices.SortFunc(out, func(a, b Entry) int {
		if c := a.EnqueuedAt.Compare(b.EnqueuedAt); c != 0 {
			return c
		}
		if a.MessageID < b.MessageID {
			return -1
		}
		if a.MessageID > b.MessageID {
			return 1
		}
		return 0
	})
	return out
}

// Failed returns the most recent terminally failed entries, oldest first.
func (h *Handler) Failed() []Entry {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Clone(h.failed)
}

// FailMessage fails the waiting entry for id. An entry being resubmitted
// is failed as well; the outcome of that resubmission is then ignored.
func (h *Handler) FailMessage(id string) error {
	h.mu.Lock()
	e, ok := h.entries[id]
	if !ok {
		h.mu.Unlock()
		return errspkg.ErrEntryNotFound
	}
	failed := h.failLocked(e, errspkg.ErrForcedFailure, ReasonOperator)
	h.mu.Unlock()

	h.notifyFailed(failed)
	return nil
}

// FailAllMessages fails every waiting entry. With failFuture set, messages
// arriving later are failed on arrival until the gate is reset.
func (h *Handler) FailAllMessages(failFuture bool) {
	h.mu.Lock()
	ids := make([]string, 0, len(h.entries))
	for id := range h.entries {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	failed := make([]Entry, 0, len(ids))
	for _, id := range ids {
		failed = append(failed, h.failLocked(h.entries[id], errspkg.ErrForcedFailure, ReasonOperator))
	}
	if failFuture {
		h.gate = true
	}
	h.mu.Unlock()

	h.logger.Info("Failed all waiting messages", logging.LogFields{
		"count":       len(failed),
		"fail_future": failFuture,
	})
	h.notifyFailed(failed...)
}

// ResetGate lets new failures queue again after FailAllMessages(true).
func (h *Handler) ResetGate() {
	h.mu.Lock()
	h.gate = false
	h.mu.Unlock()
}

// Suspended reports whether the future-failure gate is set.
func (h *Handler) Suspended() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.gate
}

// Stats returns the queue counters and current size.
func (h *Handler) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	s := h.stats
	s.Waiting = len(h.entries)
	s.Suspended = h.gate
	return s
}

// Retry resubmits the PENDING entry for id through its source. The entry
// is RETRYING while the source runs, outside the handler's lock. It is
// removed on success and returns to PENDING on failure, unless it was
// failed in the meantime. A resubmission the source dropped removes the
// entry and returns ErrMessageDropped.
func (h *Handler) Retry(ctx context.Context, id string) error {
	h.mu.Lock()
	e, ok := h.entries[id]
	if !ok {
		h.mu.Unlock()
		return errspkg.ErrEntryNotFound
	}
	if e.view.State != EntryPending {
		h.mu.Unlock()
		return errspkg.ErrEntryNotPending
	}
	if e.source == nil {
		failed := h.failLocked(e, errspkg.ErrNoResubmitter, ReasonNoSource)
		h.mu.Unlock()
		h.notifyFailed(failed)
		return errspkg.ErrNoResubmitter
	}

	e.view.State = EntryRetrying
	e.view.Attempts++
	attempt := e.view.Attempts
	msg := e.msg.Clone()
	msg.Metadata.Set(metadata.KeyRetryAttempt, strconv.Itoa(attempt))
	source, sourceID := e.source, e.view.Source
	h.mu.Unlock()

	h.metrics.recordAttempt(sourceID, attempt)
	err := source.Resubmit(ctx, msg)

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.entries[id] != e {
		if err == nil {
			h.logger.Info("Message produced after it was failed", logging.LogFields{"message_id": id})
		}
		return err
	}
	if errors.Is(err, errspkg.ErrMessageDropped) {
		delete(h.entries, id)
		h.settleLocked(id)
		h.stats.Dropped++
		h.metrics.recordDropped(e.view.Source)
		h.metrics.setWaiting(len(h.entries))
		h.logger.Info("Resubmitted message dropped", logging.LogFields{"message_id": id, "source": e.view.Source})
		return err
	}
	if err != nil {
		e.view.State = EntryPending
		e.setError(err)
		h.logger.Debug("Retry attempt failed", logging.LogFields{
			"message_id": id,
			"attempt":    attempt,
			"error":      err.Error(),
		})
		return err
	}

	e.view.State = EntrySucceeded
	delete(h.entries, id)
	h.settleLocked(id)
	h.stats.Succeeded++
	h.metrics.recordSucceeded(e.view.Source)
	h.metrics.setWaiting(len(h.entries))
	return nil
}

// Exhaust fails the PENDING entry for id with a *RetryExhaustedError.
func (h *Handler) Exhaust(id string) error {
	h.mu.Lock()
	e, ok := h.entries[id]
	if !ok {
		h.mu.Unlock()
		return errspkg.ErrEntryNotFound
	}
	if e.view.State != EntryPending {
		h.mu.Unlock()
		return errspkg.ErrEntryNotPending
	}
	cause := &errspkg.RetryExhaustedError{MessageID: id, Attempts: e.view.Attempts}
	failed := h.failLocked(e, errors.Join(cause, e.lastErr), ReasonExhausted)
	h.mu.Unlock()

	h.notifyFailed(failed)
	return nil
}

// failLocked must be called with h.mu held.
func (h *Handler) failLocked(e *entry, cause error, reason string) Entry {
	delete(h.entries, e.view.MessageID)
	h.settleLocked(e.view.MessageID)
	e.view.State = EntryFailed
	e.view.FailedAt = time.Now()
	e.setError(cause)

	if h.historySize > 0 {
		if len(h.failed) >= h.historySize {
			h.failed = slices.Delete(h.failed, 0, len(h.failed)-h.historySize+1)
		}
		h.failed = append(h.failed, e.view)
	}
	h.stats.Failed++
	h.metrics.recordFailed(e.view.Source, reason)
	h.metrics.setWaiting(len(h.entries))
	return e.view
}

func (h *Handler) knownLocked(id string) bool {
	if _, ok := h.entries[id]; ok {
		return true
	}
	_, ok := h.settled[id]
	return ok
}

// settleLocked remembers a resolved id, forgetting the oldest beyond
// retainSize.
func (h *Handler) settleLocked(id string) {
	if h.retainSize == 0 {
		return
	}
	if _, ok := h.settled[id]; ok {
		return
	}
	if len(h.order) >= h.retainSize {
		delete(h.settled, h.order[0])
		h.order = slices.Delete(h.order, 0, 1)
	}
	h.settled[id] = struct{}{}
	h.order = append(h.order, id)
}

func (h *Handler) notifyFailed(entries ...Entry) {
	for _, e := range entries {
		h.logger.Error("Message failed permanently", errors.New(e.LastError), logging.LogFields{
			"message_id": e.MessageID,
			"source":     e.Source,
			"attempts":   e.Attempts,
		})
		if h.onFailed != nil {
			h.onFailed(e)
		}
	}
}
