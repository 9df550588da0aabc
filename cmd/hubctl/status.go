package main

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/spf13/cobra"
)

func newStatusCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status <notification-id>",
		Short: "Show the delivery status of a notification",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := g.client().status(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printStatus(cmd.OutOrStdout(), n)
			return nil
		},
	}
}

func printStatus(w io.Writer, n *notificationView) {
	fmt.Fprintf(w, "ID:        %s\n", n.ID)
	fmt.Fprintf(w, "Type:      %s\n", n.Type)
	fmt.Fprintf(w, "Title:     %s\n", n.Content.Title)
	fmt.Fprintf(w, "Status:    %s\n", n.Status)
	fmt.Fprintf(w, "Created:   %s\n", n.CreatedAt.Format(time.RFC3339))
	if n.DeliveredAt != nil {
		fmt.Fprintf(w, "Delivered: %s\n", n.DeliveredAt.Format(time.RFC3339))
	}

	names := make([]string, 0, len(n.Channels))
	for name := range n.Channels {
		names = append(names, name)
	}
	sort.Strings(names)
	fmt.Fprintln(w, "Channels:")
	for _, name := range names {
		fmt.Fprintf(w, "  %-8s %s\n", name, n.Channels[name])
	}
}

func newListCmd(g *globalOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list <user-id>",
		Short: "List recent notifications sent to a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			list, err := g.client().list(cmd.Context(), args[0], limit)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(list) == 0 {
				fmt.Fprintln(out, "No notifications.")
				return nil
			}
			fmt.Fprintf(out, "  %-44s  %-20s  %-20s  %s\n", "ID", "STATUS", "CREATED", "TITLE")
			for _, n := range list {
				fmt.Fprintf(out, "  %-44s  %-20s  %-20s  %s\n",
					n.ID, n.Status, n.CreatedAt.Format(time.RFC3339), n.Content.Title)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of notifications (1-100)")
	return cmd
}
