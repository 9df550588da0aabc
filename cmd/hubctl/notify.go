package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

type notifyOptions struct {
	title    string
	message  string
	priority string
	channels []string
	data     string
	roles    []string
}

func newNotifyCmd(g *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "notify",
		Short: "Submit a notification",
	}
	cmd.AddCommand(newNotifyUserCmd(g), newNotifyBroadcastCmd(g))
	return cmd
}

func addContentFlags(cmd *cobra.Command, o *notifyOptions) {
	cmd.Flags().StringVar(&o.title, "title", "", "Notification title")
	cmd.Flags().StringVar(&o.message, "message", "", "Notification body")
	cmd.Flags().StringVar(&o.priority, "priority", "", "low, normal, high or critical")
	cmd.Flags().StringSliceVar(&o.channels, "channels", nil, "Delivery channels (socket, email, sms)")
	cmd.Flags().StringVar(&o.data, "data", "", "Extra JSON payload")
	cmd.MarkFlagRequired("title")   //nolint:errcheck
	cmd.MarkFlagRequired("message") //nolint:errcheck
}

// body builds the request fields shared by both targets. channels is only
// sent when the flag was given so the server default applies otherwise.
func (o *notifyOptions) body(cmd *cobra.Command) (map[string]interface{}, error) {
	b := map[string]interface{}{
		"title":   o.title,
		"message": o.message,
	}
	if o.priority != "" {
		b["priority"] = o.priority
	}
	if cmd.Flags().Changed("channels") {
		b["channels"] = o.channels
	}
	if o.data != "" {
		if !json.Valid([]byte(o.data)) {
			return nil, fmt.Errorf("--data is not valid JSON")
		}
		b["data"] = json.RawMessage(o.data)
	}
	return b, nil
}

func newNotifyUserCmd(g *globalOptions) *cobra.Command {
	o := &notifyOptions{}
	cmd := &cobra.Command{
		Use:   "user <user-id>",
		Short: "Notify a single user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := o.body(cmd)
			if err != nil {
				return err
			}
			body["user_id"] = args[0]

			id, err := g.client().submit(cmd.Context(), "/api/v1/notifications/user", body)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "accepted %s\n", id)
			return nil
		},
	}
	addContentFlags(cmd, o)
	return cmd
}

func newNotifyBroadcastCmd(g *globalOptions) *cobra.Command {
	o := &notifyOptions{}
	cmd := &cobra.Command{
		Use:   "broadcast",
		Short: "Notify every user holding one of the given roles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := o.body(cmd)
			if err != nil {
				return err
			}
			if len(o.roles) > 0 {
				body["roles"] = o.roles
			}

			id, err := g.client().submit(cmd.Context(), "/api/v1/notifications/broadcast", body)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "accepted %s (roles: %s)\n", id, rolesLabel(o.roles))
			return nil
		},
	}
	addContentFlags(cmd, o)
	cmd.Flags().StringSliceVar(&o.roles, "roles", nil, "Target roles (default all)")
	return cmd
}

func rolesLabel(roles []string) string {
	if len(roles) == 0 {
		return "all"
	}
	return strings.Join(roles, ",")
}
