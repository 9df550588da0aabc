package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}

	rootCmd := &cobra.Command{
		Use:   "hubctl",
		Short: "Operator CLI for the chat hub and notification service",
		Long: `hubctl publishes messages onto the relay topics the hub subscribes to and
submits or inspects notifications through the notification API.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	server := os.Getenv("HUBCTL_SERVER")
	if server == "" {
		server = "http://localhost:8000"
	}
	rootCmd.PersistentFlags().StringVar(&opts.server, "server", server, "Notification API base URL")

	rootCmd.AddCommand(
		newPublishCmd(),
		newNotifyCmd(opts),
		newStatusCmd(opts),
		newListCmd(opts),
	)
	return rootCmd
}

type globalOptions struct {
	server string
}

func (o *globalOptions) client() *apiClient {
	return newAPIClient(o.server)
}
