package retry

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/drblury/interflow/internal/runtime/message"
)

type fakeSource struct {
	id string

	mu   sync.Mutex
	err  error
	got  []*message.Message
	gate chan struct{}
}

func newFakeSource(id string) *fakeSource { return &fakeSource{id: id} }

func (s *fakeSource) ID() string { return s.id }

func (s *fakeSource) Resubmit(ctx context.Context, msg *message.Message) error {
	s.mu.Lock()
	gate := s.gate
	s.mu.Unlock()
	if gate != nil {
		<-gate
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, msg)
	if s.err == nil {
		message.HandleSuccessCallback(msg)
	}
	return s.err
}

func (s *fakeSource) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *fakeSource) received() []*message.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*message.Message(nil), s.got...)
}

func newStartedHandler(t *testing.T, opts ...Option) *Handler {
	t.Helper()
	h := New("retry", opts...)
	require.NoError(t, h.Init(context.Background()))
	require.NoError(t, h.Start(context.Background()))
	return h
}

func msg(id string) *message.Message {
	return message.NewWithID(id, []byte("payload-"+id), nil)
}
