// Package testutil holds Pub/Sub fakes shared by package tests.
package testutil

import (
	"context"
	"errors"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"
)

// ErrPublishFailed is returned by Publisher while it is set to fail.
var ErrPublishFailed = errors.New("testutil: publish failed")

// Publisher records published messages. It fails the next FailNext calls, or
// every call while FailAlways is set.
type Publisher struct {
	mu         sync.Mutex
	published  map[string][]*message.Message
	calls      int
	failNext   int
	failAlways bool
	closed     bool
}

func NewPublisher() *Publisher {
	return &Publisher{published: make(map[string][]*message.Message)}
}

func (p *Publisher) Publish(topic string, messages ...*message.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.failAlways {
		return ErrPublishFailed
	}
	if p.failNext > 0 {
		p.failNext--
		return ErrPublishFailed
	}
	p.published[topic] = append(p.published[topic], messages...)
	return nil
}

func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// FailNext makes the next n publishes fail.
func (p *Publisher) FailNext(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failNext = n
}

// FailAlways toggles permanent failure.
func (p *Publisher) FailAlways(fail bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failAlways = fail
}

// Published returns the messages accepted for topic.
func (p *Publisher) Published(topic string) []*message.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*message.Message(nil), p.published[topic]...)
}

// Calls counts every Publish invocation, failed or not.
func (p *Publisher) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func (p *Publisher) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Subscriber hands out one channel per subscription. Deliver pushes a
// message to the newest subscription on a topic.
type Subscriber struct {
	mu      sync.Mutex
	subs    map[string][]chan *message.Message
	Err     error
	closed  bool
	counter int
}

func NewSubscriber() *Subscriber {
	return &Subscriber{subs: make(map[string][]chan *message.Message)}
}

func (s *Subscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	ch := make(chan *message.Message, 16)
	s.subs[topic] = append(s.subs[topic], ch)
	s.counter++
	go func() {
		<-ctx.Done()
		s.mu.Lock()
		defer s.mu.Unlock()
		s.remove(topic, ch)
	}()
	return ch, nil
}

func (s *Subscriber) remove(topic string, ch chan *message.Message) {
	subs := s.subs[topic]
	for i, c := range subs {
		if c == ch {
			s.subs[topic] = append(subs[:i], subs[i+1:]...)
			close(ch)
			return
		}
	}
}

// Deliver sends msg to the newest live subscription on topic and reports
// whether it was accepted.
func (s *Subscriber) Deliver(topic string, msg *message.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	subs := s.subs[topic]
	if len(subs) == 0 {
		return false
	}
	select {
	case subs[len(subs)-1] <- msg:
		return true
	default:
		return false
	}
}

// Subscriptions counts every Subscribe call that succeeded.
func (s *Subscriber) Subscriptions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counter
}

func (s *Subscriber) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for topic, subs := range s.subs {
		for _, ch := range subs {
			close(ch)
		}
		delete(s.subs, topic)
	}
	return nil
}

func (s *Subscriber) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
