package pubsub

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaConfig holds configuration for the Kafka broker.
type KafkaConfig struct {
	Brokers       []string // list of broker addresses
	ConsumerGroup string   // consumer group ID
}

// KafkaBroker implements Broker over Kafka via segmentio/kafka-go. Each
// subscription is a consumer group reader over all of its topics.
type KafkaBroker struct {
	config KafkaConfig
	writer *kafka.Writer

	mu     sync.Mutex
	subs   map[*kafkaSubscription]struct{}
	closed bool
}

// NewKafkaBroker creates a broker with a shared producer. Consumers are
// created per subscription.
func NewKafkaBroker(config KafkaConfig) (*KafkaBroker, error) {
	if len(config.Brokers) == 0 {
		return nil, fmt.Errorf("at least one Kafka broker address is required")
	}
	if config.ConsumerGroup == "" {
		config.ConsumerGroup = "chathub-relay"
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(config.Brokers...),
		Balancer:               &kafka.LeastBytes{},
		BatchTimeout:           10 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}

	return &KafkaBroker{
		config: config,
		writer: writer,
		subs:   make(map[*kafkaSubscription]struct{}),
	}, nil
}

func (b *KafkaBroker) Publish(ctx context.Context, topic string, payload []byte) error {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return ErrClosed
	}

	if err := b.writer.WriteMessages(ctx, kafka.Message{Topic: topic, Value: payload}); err != nil {
		return fmt.Errorf("write to kafka: %w", err)
	}
	return nil
}

func (b *KafkaBroker) Subscribe(_ context.Context, topics ...string) (Subscription, error) {
	if len(topics) == 0 {
		return nil, errors.New("pubsub: at least one topic is required")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrClosed
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     b.config.Brokers,
		GroupID:     b.config.ConsumerGroup,
		GroupTopics: topics,
		MinBytes:    1,
		MaxBytes:    10e6, // 10MB
		MaxWait:     500 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	s := &kafkaSubscription{
		broker: b,
		reader: reader,
		ch:     make(chan Message, subscriptionBuffer),
		cancel: cancel,
	}
	b.subs[s] = struct{}{}

	go s.consume(ctx)
	return s, nil
}

// Close shuts down all consumers and the producer.
func (b *KafkaBroker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := make([]*kafkaSubscription, 0, len(b.subs))
	for s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	var firstErr error
	for _, s := range subs {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := b.writer.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

type kafkaSubscription struct {
	broker *KafkaBroker
	reader *kafka.Reader
	ch     chan Message
	cancel context.CancelFunc

	mu     sync.Mutex
	err    error
	closed bool
}

func (s *kafkaSubscription) Messages() <-chan Message { return s.ch }

func (s *kafkaSubscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *kafkaSubscription) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.broker.mu.Lock()
	delete(s.broker.subs, s)
	s.broker.mu.Unlock()

	s.cancel()
	return s.reader.Close()
}

func (s *kafkaSubscription) consume(ctx context.Context) {
	defer close(s.ch)
	for {
		msg, err := s.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() == nil {
				s.mu.Lock()
				s.err = fmt.Errorf("%w: %v", ErrConnectionLost, err)
				s.mu.Unlock()
			}
			return
		}
		select {
		case s.ch <- Message{Topic: msg.Topic, Payload: msg.Value}:
		case <-ctx.Done():
			return
		}
	}
}
