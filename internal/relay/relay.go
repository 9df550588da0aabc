// Package relay bridges messages published by other backend services on the
// pub/sub transport into the hub's channels.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fabriz042/Chat-test/internal/logging"
	"github.com/fabriz042/Chat-test/internal/metrics"
	"github.com/fabriz042/Chat-test/internal/pubsub"
	"github.com/fabriz042/Chat-test/internal/ws"
)

// ErrRetriesExhausted is returned by Run when MaxRetries consecutive
// subscribe attempts have failed.
var ErrRetriesExhausted = errors.New("relay: subscribe retries exhausted")

// Broadcaster is the part of the broadcast engine the relay needs.
type Broadcaster interface {
	HasChannel(name string) bool
	BroadcastToChannel(channel string, payload []byte, exclude *ws.Client) ws.Delivery
}

type Config struct {
	Topics         []string
	DefaultChannel string
	// Backoff is the fixed delay before every resubscribe attempt.
	Backoff time.Duration
	// MaxRetries bounds consecutive failed subscribe attempts; 0 retries
	// forever. A successful subscribe resets the count.
	MaxRetries int
}

// Relay owns one subscription at a time. Run is a single loop, so at most
// one resubscribe attempt is ever in flight.
type Relay struct {
	broker pubsub.Broker
	target Broadcaster
	cfg    Config
}

func New(broker pubsub.Broker, target Broadcaster, cfg Config) *Relay {
	if cfg.Backoff <= 0 {
		cfg.Backoff = 5 * time.Second
	}
	return &Relay{broker: broker, target: target, cfg: cfg}
}

// Run subscribes to the configured topics and forwards messages until ctx
// is cancelled. Upstream drops are followed by a backoff and a fresh
// subscription. It returns nil on cancellation.
func (r *Relay) Run(ctx context.Context) error {
	log := logging.Component("relay")
	failures := 0

	for {
		sub, err := r.broker.Subscribe(ctx, r.cfg.Topics...)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, pubsub.ErrClosed) {
				return err
			}
			failures++
			if r.cfg.MaxRetries > 0 && failures > r.cfg.MaxRetries {
				return fmt.Errorf("%w after %d attempts: %v", ErrRetriesExhausted, failures, err)
			}
			log.Warn().Err(err).Int("attempt", failures).Dur("backoff", r.cfg.Backoff).Msg("subscribe failed")
			if !r.wait(ctx) {
				return nil
			}
			continue
		}

		failures = 0
		log.Info().Strs("topics", r.cfg.Topics).Msg("subscribed")

		err = r.consume(ctx, sub)
		sub.Close()
		if ctx.Err() != nil {
			return nil
		}

		metrics.RelayResubscribe()
		log.Warn().Err(err).Dur("backoff", r.cfg.Backoff).Msg("subscription lost, resubscribing")
		if !r.wait(ctx) {
			return nil
		}
	}
}

func (r *Relay) consume(ctx context.Context, sub pubsub.Subscription) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m, ok := <-sub.Messages():
			if !ok {
				if err := sub.Err(); err != nil {
					return err
				}
				return pubsub.ErrConnectionLost
			}
			r.forward(m)
		}
	}
}

// forward routes one external message to the channel it names, falling back
// to the default channel. The payload is broadcast unchanged.
func (r *Relay) forward(m pubsub.Message) {
	log := logging.Component("relay")

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(m.Payload, &fields); err != nil || fields == nil {
		log.Warn().Str("topic", m.Topic).Msg("dropping message that is not a JSON object")
		return
	}

	channel := r.cfg.DefaultChannel
	if raw, ok := fields["channel"]; ok {
		var name string
		if json.Unmarshal(raw, &name) == nil && r.target.HasChannel(name) {
			channel = name
		}
	}

	d := r.target.BroadcastToChannel(channel, m.Payload, nil)
	metrics.RelayMessage(m.Topic)
	log.Debug().Str("topic", m.Topic).Str("channel", channel).Int("recipients", d.Recipients).Msg("relayed")
}

func (r *Relay) wait(ctx context.Context) bool {
	t := time.NewTimer(r.cfg.Backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
