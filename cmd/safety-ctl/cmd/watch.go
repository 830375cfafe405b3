package cmd

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/oshokin/ship-safety/internal/service/ctl"
)

var (
	// reconnect is the delay before a broken stream is reopened.
	reconnect time.Duration

	watchCmd = &cobra.Command{
		Use:   "watch",
		Short: "Print processed events as they happen.",
		Long: `Subscribes to the server notification stream and prints every processed event
with the resulting ship status. The stream is reopened when the server restarts.`,
		Args: cobra.NoArgs,
		RunE: withSession(func(ctx context.Context, session *ctl.Session, _ []string) error {
			return session.Watch(ctx, reconnect)
		}),
	}
)

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	watchCmd.Flags().DurationVar(&reconnect, "reconnect", ctl.DefaultReconnectInterval, "delay before reopening the stream")

	rootCmd.AddCommand(watchCmd)
}
