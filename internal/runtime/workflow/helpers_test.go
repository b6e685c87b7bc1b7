package workflow

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/drblury/interflow/internal/runtime/errhandler"
	"github.com/drblury/interflow/internal/runtime/message"
)

type recordingParent struct {
	mu       sync.Mutex
	failures []errhandler.Failure
	err      error
}

func (p *recordingParent) OnChildError(_ context.Context, f errhandler.Failure) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures = append(p.failures, f)
	return p.err
}

func (p *recordingParent) received() []errhandler.Failure {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]errhandler.Failure(nil), p.failures...)
}

type countingProducer struct {
	mu    sync.Mutex
	calls int
	fail  int
	err   error
	msgs  []*message.Message
}

func (p *countingProducer) Produce(_ context.Context, msg *message.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.err != nil {
		return p.err
	}
	if p.fail > 0 {
		p.fail--
		return errOutput
	}
	p.msgs = append(p.msgs, msg)
	return nil
}

func (p *countingProducer) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func startWorkflow(t *testing.T, w *Workflow) {
	t.Helper()
	require.NoError(t, w.Init(context.Background()))
	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(func() { w.Close(context.Background()) })
}
