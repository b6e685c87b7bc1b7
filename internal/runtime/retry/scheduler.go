package retry

import (
	"context"
	"errors"
	"time"

	"github.com/drblury/interflow/internal/runtime/component"
	errspkg "github.com/drblury/interflow/internal/runtime/errors"
	"github.com/drblury/interflow/internal/runtime/logging"
)

// Scheduler resubmits waiting messages at a fixed interval. Entries that
// reached limit attempts are failed instead; a zero limit never gives up.
type Scheduler struct {
	handler  *Handler
	interval time.Duration
	limit    int
	logger   logging.ServiceLogger
}

func NewScheduler(handler *Handler, interval time.Duration, limit int, logger logging.ServiceLogger) *Scheduler {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Scheduler{
		handler:  handler,
		interval: interval,
		limit:    limit,
		logger:   logger.With(logging.LogFields{"component": "retry_scheduler"}),
	}
}

// Run ticks until ctx is done. A non-positive interval disables the
// scheduler and Run just waits for ctx.
func (s *Scheduler) Run(ctx context.Context) error {
	if s.interval <= 0 {
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("Retry scheduler started", logging.LogFields{
		"interval": s.interval.String(),
		"limit":    s.limit,
	})
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick makes one pass over the waiting messages and returns how many were
// resubmitted successfully. Nothing happens unless the handler is STARTED.
func (s *Scheduler) Tick(ctx context.Context) int {
	if s.handler.State() != component.StateStarted {
		return 0
	}

	succeeded := 0
	for _, id := range s.handler.WaitingForRetry() {
		if ctx.Err() != nil {
			return succeeded
		}
		entry, ok := s.handler.Entry(id)
		if !ok || entry.State != EntryPending {
			continue
		}
		if s.limit > 0 && entry.Attempts >= s.limit {
			if err := s.handler.Exhaust(id); err != nil && !isRace(err) {
				s.logger.Error("Failed to exhaust retry entry", err, logging.LogFields{"message_id": id})
			}
			continue
		}

		err := s.handler.Retry(ctx, id)
		switch {
		case err == nil:
			succeeded++
		case isRace(err):
		case errors.Is(err, errspkg.ErrMessageDropped):
		default:
			s.logger.Debug("Resubmission failed", logging.LogFields{
				"message_id": id,
				"error":      err.Error(),
			})
		}
	}
	return succeeded
}

// isRace reports errors caused by an entry changing between the snapshot
// and the call.
func isRace(err error) bool {
	return errors.Is(err, errspkg.ErrEntryNotFound) || errors.Is(err, errspkg.ErrEntryNotPending)
}
