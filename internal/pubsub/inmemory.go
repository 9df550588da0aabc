package pubsub

import (
	"context"
	"errors"
	"sync"

	"github.com/fabriz042/Chat-test/internal/logging"
)

// InMemoryBroker delivers within the current process. Publishing never
// blocks: a subscriber whose buffer is full misses the message.
type InMemoryBroker struct {
	mu     sync.RWMutex
	subs   map[*memorySubscription]struct{}
	closed bool
}

func NewInMemoryBroker() *InMemoryBroker {
	return &InMemoryBroker{subs: make(map[*memorySubscription]struct{})}
}

type memorySubscription struct {
	broker *InMemoryBroker
	topics map[string]struct{}
	ch     chan Message
	err    error
	ended  bool
}

func (s *memorySubscription) Messages() <-chan Message { return s.ch }

func (s *memorySubscription) Err() error {
	s.broker.mu.RLock()
	defer s.broker.mu.RUnlock()
	return s.err
}

func (s *memorySubscription) Close() error {
	s.broker.mu.Lock()
	defer s.broker.mu.Unlock()
	s.broker.endLocked(s, nil)
	return nil
}

func (b *InMemoryBroker) Publish(_ context.Context, topic string, payload []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return ErrClosed
	}

	msg := Message{Topic: topic, Payload: payload}
	for s := range b.subs {
		if _, ok := s.topics[topic]; !ok {
			continue
		}
		select {
		case s.ch <- msg:
		default:
			logging.Component("pubsub").Warn().Str("topic", topic).Msg("subscriber buffer full, message dropped")
		}
	}
	return nil
}

func (b *InMemoryBroker) Subscribe(_ context.Context, topics ...string) (Subscription, error) {
	if len(topics) == 0 {
		return nil, errors.New("pubsub: at least one topic is required")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrClosed
	}

	s := &memorySubscription{
		broker: b,
		topics: make(map[string]struct{}, len(topics)),
		ch:     make(chan Message, subscriptionBuffer),
	}
	for _, t := range topics {
		s.topics[t] = struct{}{}
	}
	b.subs[s] = struct{}{}
	return s, nil
}

// dropSubscribers ends every open subscription with ErrConnectionLost, the
// way a transport outage would. The broker itself stays usable.
func (b *InMemoryBroker) dropSubscribers() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for s := range b.subs {
		b.endLocked(s, ErrConnectionLost)
	}
}

func (b *InMemoryBroker) subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

func (b *InMemoryBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	for s := range b.subs {
		b.endLocked(s, ErrClosed)
	}
	return nil
}

func (b *InMemoryBroker) endLocked(s *memorySubscription, err error) {
	if s.ended {
		return
	}
	s.ended = true
	s.err = err
	delete(b.subs, s)
	close(s.ch)
}
