package pubsub

import (
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/fabriz042/Chat-test/internal/config"
	"github.com/fabriz042/Chat-test/internal/logging"
)

// NewBroker creates the Broker selected by RELAY_BACKEND.
func NewBroker(cfg *config.Config) (Broker, error) {
	log := logging.Component("pubsub")

	switch cfg.RelayBackend {
	case "redis":
		log.Info().Str("addr", cfg.RedisAddr).Msg("using RedisBroker")
		return NewRedisBroker(redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})), nil
	case "kafka":
		brokers := splitList(cfg.KafkaBrokers)
		log.Info().Strs("brokers", brokers).Str("group", cfg.KafkaConsumerGroup).Msg("using KafkaBroker")
		return NewKafkaBroker(KafkaConfig{
			Brokers:       brokers,
			ConsumerGroup: cfg.KafkaConsumerGroup,
		})
	case "", "memory":
		log.Info().Msg("using InMemoryBroker")
		return NewInMemoryBroker(), nil
	}
	return nil, fmt.Errorf("unknown relay backend %q", cfg.RelayBackend)
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
