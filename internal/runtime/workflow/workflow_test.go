package workflow

import (
	"context"
	"errors"
	"testing"
	"time"

	wm "github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/interflow/internal/runtime/component"
	errspkg "github.com/drblury/interflow/internal/runtime/errors"
	"github.com/drblury/interflow/internal/runtime/message"
	"github.com/drblury/interflow/internal/runtime/metadata"
	"github.com/drblury/interflow/internal/testutil"
	"github.com/drblury/interflow/transport"
)

var errOutput = errors.New("output unavailable")

func TestProcessRunsStagesThenProduces(t *testing.T) {
	var order []string
	producer := &countingProducer{}
	w := New(Config{ID: "orders"},
		WithProducer(producer),
		WithStages(
			StageFunc(func(_ context.Context, m *message.Message) error {
				order = append(order, "enrich")
				m.Metadata.Set("enriched", "yes")
				return nil
			}),
			StageFunc(func(context.Context, *message.Message) error {
				order = append(order, "validate")
				return nil
			}),
		),
	)
	startWorkflow(t, w)

	msg := message.NewWithID("m-1", []byte("{}"), nil)
	var callbacks int
	message.Prepare(msg, func(*message.Message) { callbacks++ })

	require.NoError(t, w.Process(context.Background(), msg))

	assert.Equal(t, []string{"enrich", "validate"}, order)
	require.Len(t, producer.msgs, 1)
	produced := producer.msgs[0]
	assert.Equal(t, "yes", produced.Metadata.Get("enriched"))
	assert.Equal(t, "orders", produced.Metadata.Get(metadata.KeyWorkflowID))
	assert.NotEmpty(t, produced.Metadata.Get(metadata.KeyCorrelationID))
	assert.Equal(t, 1, callbacks)
}

func TestProcessChecksState(t *testing.T) {
	producer := &countingProducer{}
	msg := message.NewWithID("m-1", nil, nil)

	raising := New(Config{ID: "raise"}, WithProducer(producer))
	var oos *errspkg.OutOfStateError
	require.ErrorAs(t, raising.Process(context.Background(), msg), &oos)
	assert.Equal(t, "process", oos.Operation)
	assert.Equal(t, "CLOSED", oos.State)

	logging := New(Config{ID: "log"}, WithProducer(producer), WithOutOfStateHandler(component.LogOutOfStateHandler{}))
	assert.ErrorIs(t, logging.Process(context.Background(), msg), errspkg.ErrMessageRejected)
	assert.Zero(t, producer.Calls())

	permissive := New(Config{ID: "noop"}, WithProducer(producer), WithOutOfStateHandler(component.NoOpOutOfStateHandler{}))
	assert.NoError(t, permissive.Process(context.Background(), msg))
	assert.Equal(t, 1, producer.Calls())
}

func TestNullHandlerDropsMessage(t *testing.T) {
	parent := &recordingParent{}
	w := New(Config{ID: "orders"},
		WithProducer(&countingProducer{err: errOutput}),
		WithExceptionHandler(NullProduceExceptionHandler{}),
	)
	require.NoError(t, w.RegisterParent(parent))
	startWorkflow(t, w)

	msg := message.NewWithID("m-1", nil, nil)
	var callbacks int
	message.Prepare(msg, func(*message.Message) { callbacks++ })

	require.NoError(t, w.Process(context.Background(), msg))
	assert.Empty(t, parent.received())
	assert.Zero(t, callbacks)

	err := w.Resubmit(context.Background(), message.NewWithID("m-2", nil, nil))
	assert.ErrorIs(t, err, errspkg.ErrMessageDropped)
	assert.Empty(t, parent.received())
}

func TestStageFailureGoesToParent(t *testing.T) {
	parent := &recordingParent{}
	producer := &countingProducer{}
	stageErr := errors.New("schema mismatch")
	w := New(Config{ID: "orders"},
		WithProducer(producer),
		WithStages(StageFunc(func(context.Context, *message.Message) error { return stageErr })),
	)
	require.NoError(t, w.RegisterParent(parent))
	startWorkflow(t, w)

	require.NoError(t, w.Process(context.Background(), message.NewWithID("m-1", nil, nil)))

	failures := parent.received()
	require.Len(t, failures, 1)
	assert.ErrorIs(t, failures[0].Err, stageErr)
	assert.Same(t, w, failures[0].Origin)
	assert.Zero(t, producer.Calls())
}

func TestProcessFailsWithoutParent(t *testing.T) {
	w := New(Config{ID: "orders"},
		WithProducer(&countingProducer{err: errOutput}),
		WithExceptionHandler(NewRestartProduceExceptionHandler(nil)),
		WithOutOfStateHandler(component.NoOpOutOfStateHandler{}),
	)
	startWorkflow(t, w)

	err := w.Process(context.Background(), message.NewWithID("m-1", nil, nil))

	assert.ErrorIs(t, err, errspkg.ErrNoParent)
	var failure *errspkg.ProduceFailure
	assert.ErrorAs(t, err, &failure)
}

func TestProcessTreatsRecordedFailuresAsTerminal(t *testing.T) {
	for _, parentErr := range []error{errspkg.ErrDuplicateEntry, errspkg.ErrRetriesSuspended} {
		w := New(Config{ID: "orders"},
			WithProducer(&countingProducer{err: errOutput}),
			WithExceptionHandler(NewRestartProduceExceptionHandler(nil)),
			WithOutOfStateHandler(component.NoOpOutOfStateHandler{}),
		)
		require.NoError(t, w.RegisterParent(&recordingParent{err: parentErr}))
		startWorkflow(t, w)

		assert.NoError(t, w.Process(context.Background(), message.NewWithID("m-1", nil, nil)), parentErr.Error())
	}
}

func TestOutputRetriesBeforeExceptionHandler(t *testing.T) {
	producer := &countingProducer{fail: 2}
	parent := &recordingParent{}
	w := New(Config{ID: "orders", Retry: RetryConfig{MaxRetries: 3, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond}},
		WithProducer(producer),
	)
	require.NoError(t, w.RegisterParent(parent))
	startWorkflow(t, w)

	require.NoError(t, w.Process(context.Background(), message.NewWithID("m-1", nil, nil)))

	assert.Equal(t, 3, producer.Calls())
	assert.Empty(t, parent.received())
}

func TestPanickingProducerIsRecovered(t *testing.T) {
	var handled error
	w := New(Config{ID: "orders"},
		WithProducer(ProducerFunc(func(context.Context, *message.Message) error { panic("broken producer") })),
		WithExceptionHandler(exceptionFunc(func(err error) error {
			handled = err
			return nil
		})),
	)
	startWorkflow(t, w)

	require.NoError(t, w.Process(context.Background(), message.NewWithID("m-1", nil, nil)))
	require.Error(t, handled)
	assert.Contains(t, handled.Error(), "broken producer")
}

func TestResubmitReturnsFailureWithoutNotifying(t *testing.T) {
	parent := &recordingParent{}
	producer := &countingProducer{err: errOutput}
	w := New(Config{ID: "orders"},
		WithProducer(producer),
		WithExceptionHandler(exceptionFunc(func(err error) error { return err })),
	)
	require.NoError(t, w.RegisterParent(parent))
	startWorkflow(t, w)

	err := w.Resubmit(context.Background(), message.NewWithID("m-1", nil, nil))

	assert.ErrorIs(t, err, errOutput)
	assert.Empty(t, parent.received())

	producer.mu.Lock()
	producer.err = nil
	producer.mu.Unlock()
	assert.NoError(t, w.Resubmit(context.Background(), message.NewWithID("m-1", nil, nil)))
}

func TestInitRequiresProducerAndSubscriber(t *testing.T) {
	noProducer := New(Config{ID: "a"})
	assert.ErrorIs(t, noProducer.Init(context.Background()), errspkg.ErrProducerRequired)
	assert.Equal(t, component.StateFailed, noProducer.State())

	noSubscriber := New(Config{ID: "b", ConsumeTopic: "in"}, WithProducer(&countingProducer{}))
	assert.ErrorIs(t, noSubscriber.Init(context.Background()), errspkg.ErrSubscriberRequired)
}

func TestWorkersAckAndNack(t *testing.T) {
	sub := testutil.NewSubscriber()
	pub := testutil.NewPublisher()
	w := New(Config{ID: "orders", ConsumeTopic: "in", ProduceTopic: "out", Concurrency: 2},
		WithExceptionHandler(exceptionFunc(func(err error) error { return err })),
	)
	require.NoError(t, w.Bind(transport.Transport{Publisher: pub, Subscriber: sub}))
	startWorkflow(t, w)

	ok := wm.NewMessage("m-ok", []byte("ok"))
	require.True(t, sub.Deliver("in", ok))
	select {
	case <-ok.Acked():
	case <-time.After(time.Second):
		t.Fatal("message was not acked")
	}
	require.Len(t, pub.Published("out"), 1)
	assert.Equal(t, "m-ok", pub.Published("out")[0].UUID)
	assert.NotSame(t, ok, pub.Published("out")[0])

	// No parent: the failure cannot be queued and the transport must redeliver.
	pub.FailAlways(true)
	bad := wm.NewMessage("m-bad", []byte("bad"))
	require.True(t, sub.Deliver("in", bad))
	select {
	case <-bad.Nacked():
	case <-time.After(time.Second):
		t.Fatal("message was not nacked")
	}
}

func TestRestartPolicyRestartsAndBubbles(t *testing.T) {
	sub := testutil.NewSubscriber()
	pub := testutil.NewPublisher()
	pub.FailAlways(true)
	parent := &recordingParent{}
	w := New(Config{ID: "orders", ConsumeTopic: "in", ProduceTopic: "out"})
	require.NoError(t, w.Bind(transport.Transport{Publisher: pub, Subscriber: sub}))
	require.NoError(t, w.RegisterParent(parent))
	startWorkflow(t, w)
	require.Equal(t, 1, sub.Subscriptions())

	raw := wm.NewMessage("m-1", []byte("x"))
	require.True(t, sub.Deliver("in", raw))

	select {
	case <-raw.Acked():
	case <-time.After(time.Second):
		t.Fatal("bubbled message was not acked")
	}
	require.Eventually(t, func() bool {
		return sub.Subscriptions() == 2 && w.State() == component.StateStarted
	}, time.Second, 5*time.Millisecond)

	failures := parent.received()
	require.Len(t, failures, 1)
	var failure *errspkg.ProduceFailure
	require.ErrorAs(t, failures[0].Err, &failure)
	assert.Equal(t, "orders", failure.WorkflowID)
	assert.Equal(t, "m-1", failure.MessageID)
	assert.ErrorIs(t, failure, testutil.ErrPublishFailed)
}

func TestRestartPolicyLeavesStoppedWorkflowStopped(t *testing.T) {
	sub := testutil.NewSubscriber()
	entered := make(chan struct{})
	release := make(chan struct{})
	producer := ProducerFunc(func(context.Context, *message.Message) error {
		close(entered)
		<-release
		return errOutput
	})
	w := New(Config{ID: "orders", ConsumeTopic: "in"}, WithProducer(producer))
	require.NoError(t, w.Bind(transport.Transport{Subscriber: sub}))
	require.NoError(t, w.RegisterParent(&recordingParent{}))
	startWorkflow(t, w)

	require.True(t, sub.Deliver("in", wm.NewMessage("m-1", []byte("x"))))
	select {
	case <-entered:
	case <-time.After(time.Second):
		t.Fatal("message did not reach the producer")
	}

	stopped := make(chan struct{})
	go func() {
		w.Stop(context.Background())
		close(stopped)
	}()
	require.Eventually(t, func() bool {
		return w.State() == component.StateStopping
	}, time.Second, 5*time.Millisecond)

	close(release)
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("stop did not finish")
	}

	assert.Never(t, func() bool {
		return w.State() != component.StateStopped
	}, 200*time.Millisecond, 10*time.Millisecond)
	assert.Equal(t, 1, sub.Subscriptions())
}

func TestBindBuildsBreakerProducer(t *testing.T) {
	pub := testutil.NewPublisher()
	w := New(Config{ID: "orders", ProduceTopic: "out"}, WithBreaker(BreakerSettings{FailureThreshold: 1}))
	require.NoError(t, w.Bind(transport.Transport{Publisher: pub, Subscriber: testutil.NewSubscriber()}))

	_, ok := w.producer.(*BreakerProducer)
	assert.True(t, ok)

	explicit := &countingProducer{}
	kept := New(Config{ID: "kept", ProduceTopic: "out"}, WithProducer(explicit))
	require.NoError(t, kept.Bind(transport.Transport{Publisher: pub}))
	assert.Same(t, explicit, kept.producer)

	broken := New(Config{ID: "broken", ProduceTopic: "out"})
	assert.ErrorIs(t, broken.Bind(transport.Transport{}), errspkg.ErrPublisherRequired)
}

func TestNewAssignsDefaults(t *testing.T) {
	w := New(Config{})
	assert.NotEmpty(t, w.ID())
	assert.Equal(t, 1, w.Config().Concurrency)
	assert.Equal(t, component.StateClosed, w.State())
}

type exceptionFunc func(err error) error

func (fn exceptionFunc) HandleProduceException(_ context.Context, _ Restartable, _ *message.Message, err error) error {
	return fn(err)
}
