package retry

import (
	"time"

	"github.com/drblury/interflow/internal/runtime/errhandler"
	"github.com/drblury/interflow/internal/runtime/message"
)

// EntryState is the position of a queued message in its retry cycle.
type EntryState int

const (
	EntryPending EntryState = iota
	EntryRetrying
	EntryFailed
	EntrySucceeded
)

func (s EntryState) String() string {
	switch s {
	case EntryPending:
		return "PENDING"
	case EntryRetrying:
		return "RETRYING"
	case EntryFailed:
		return "FAILED"
	case EntrySucceeded:
		return "SUCCEEDED"
	}
	return "UNKNOWN"
}

func (s EntryState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Entry is a read-only view of a queued or failed message.
type Entry struct {
	MessageID  string     `json:"message_id"`
	Source     string     `json:"source,omitempty"`
	EnqueuedAt time.Time  `json:"enqueued_at"`
	Attempts   int        `json:"attempts"`
	State      EntryState `json:"state"`
	LastError  string     `json:"last_error,omitempty"`
	FailedAt   time.Time  `json:"failed_at"`
}

type entry struct {
	view    Entry
	msg     *message.Message
	source  errhandler.Resubmitter
	lastErr error
}

func (e *entry) setError(err error) {
	e.lastErr = err
	if err != nil {
		e.view.LastError = err.Error()
	}
}
