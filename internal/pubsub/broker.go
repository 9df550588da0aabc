// Package pubsub abstracts the topic-based transport the relay listens on.
package pubsub

import (
	"context"
	"errors"
)

var (
	// ErrClosed is returned when a closed broker is used.
	ErrClosed = errors.New("pubsub: broker closed")
	// ErrConnectionLost ends a subscription whose upstream went away.
	ErrConnectionLost = errors.New("pubsub: connection lost")
)

// Message is one payload received on a topic.
type Message struct {
	Topic   string
	Payload []byte
}

// Subscription delivers messages for the topics it was created with. The
// Messages channel is closed when the subscription ends; Err then reports
// why, and is nil after a local Close.
type Subscription interface {
	Messages() <-chan Message
	Err() error
	Close() error
}

// Broker publishes payloads to topics and opens subscriptions on them.
// Implementations: InMemoryBroker (single process), RedisBroker and
// KafkaBroker.
type Broker interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Subscribe(ctx context.Context, topics ...string) (Subscription, error)
	Close() error
}

const subscriptionBuffer = 256
