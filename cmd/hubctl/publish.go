package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fabriz042/Chat-test/internal/config"
	"github.com/fabriz042/Chat-test/internal/pubsub"
)

// newBroker is replaced in tests.
var newBroker = pubsub.NewBroker

func newPublishCmd() *cobra.Command {
	var (
		topic   string
		channel string
	)
	cmd := &cobra.Command{
		Use:   "publish <json>",
		Short: "Publish a message onto a relay topic",
		Long: `publish sends a JSON object onto a relay topic using the broker selected by
RELAY_BACKEND and its connection settings. The memory backend is refused. Hubs subscribed to the topic forward
it to the channel named in the payload, or to their default channel.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var payload map[string]interface{}
			if err := json.Unmarshal([]byte(args[0]), &payload); err != nil || payload == nil {
				return fmt.Errorf("payload must be a JSON object")
			}
			if channel != "" {
				payload["channel"] = channel
			}
			data, err := json.Marshal(payload)
			if err != nil {
				return err
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.RelayBackend == "memory" {
				return fmt.Errorf("RELAY_BACKEND=memory only reaches subscribers in this process; set it to redis or kafka")
			}
			if topic == "" {
				if len(cfg.RelayTopics) == 0 {
					return fmt.Errorf("no --topic given and RELAY_TOPICS is empty")
				}
				topic = cfg.RelayTopics[0]
			}
			broker, err := newBroker(cfg)
			if err != nil {
				return err
			}
			defer broker.Close()

			if err := broker.Publish(cmd.Context(), topic, data); err != nil {
				return fmt.Errorf("publish to %s: %w", topic, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "published %d bytes to %s\n", len(data), topic)
			return nil
		},
	}
	cmd.Flags().StringVar(&topic, "topic", "", "Relay topic (default: first of RELAY_TOPICS)")
	cmd.Flags().StringVar(&channel, "channel", "", "Target channel, set as the payload's channel field")
	return cmd
}
