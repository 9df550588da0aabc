package pubsub

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// RedisBroker uses Redis PUBLISH/SUBSCRIBE. A subscription ends on the
// first receive error instead of relying on the client's silent reconnect,
// so callers can observe the outage.
type RedisBroker struct {
	client *redis.Client

	mu     sync.Mutex
	closed bool
}

func NewRedisBroker(client *redis.Client) *RedisBroker {
	return &RedisBroker{client: client}
}

func (b *RedisBroker) Publish(ctx context.Context, topic string, payload []byte) error {
	if b.isClosed() {
		return ErrClosed
	}
	if err := b.client.Publish(ctx, topic, payload).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", topic, err)
	}
	return nil
}

// Subscribe returns once Redis has confirmed the subscription.
func (b *RedisBroker) Subscribe(ctx context.Context, topics ...string) (Subscription, error) {
	if len(topics) == 0 {
		return nil, errors.New("pubsub: at least one topic is required")
	}
	if b.isClosed() {
		return nil, ErrClosed
	}

	ps := b.client.Subscribe(ctx, topics...)
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("redis subscribe %v: %w", topics, err)
	}

	pumpCtx, cancel := context.WithCancel(context.Background())
	s := &redisSubscription{
		ps:     ps,
		ch:     make(chan Message, subscriptionBuffer),
		cancel: cancel,
	}
	go s.pump(pumpCtx)
	return s, nil
}

func (b *RedisBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	return b.client.Close()
}

func (b *RedisBroker) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

type redisSubscription struct {
	ps     *redis.PubSub
	ch     chan Message
	cancel context.CancelFunc

	mu     sync.Mutex
	err    error
	closed bool
}

func (s *redisSubscription) Messages() <-chan Message { return s.ch }

func (s *redisSubscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *redisSubscription) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cancel()
	return s.ps.Close()
}

func (s *redisSubscription) pump(ctx context.Context) {
	defer close(s.ch)
	for {
		msg, err := s.ps.ReceiveMessage(ctx)
		if err != nil {
			s.mu.Lock()
			if !s.closed && ctx.Err() == nil {
				s.err = fmt.Errorf("%w: %v", ErrConnectionLost, err)
			}
			s.mu.Unlock()
			return
		}
		select {
		case s.ch <- Message{Topic: msg.Channel, Payload: []byte(msg.Payload)}:
		case <-ctx.Done():
			return
		}
	}
}
