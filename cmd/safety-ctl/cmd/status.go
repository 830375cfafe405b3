package cmd

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/oshokin/ship-safety/internal/coordinator"
	"github.com/oshokin/ship-safety/internal/service/ctl"
)

var (
	// hours is the window of the events command.
	hours float64
	// since is the lower bound of the history command.
	since string
	// limit caps the history command.
	limit int

	statusCmd = &cobra.Command{
		Use:   "status",
		Short: "Show the ship status and every subsystem.",
		Args:  cobra.NoArgs,
		RunE: withSession(func(ctx context.Context, session *ctl.Session, _ []string) error {
			return session.Status(ctx)
		}),
	}

	eventsCmd = &cobra.Command{
		Use:   "events",
		Short: "List events from the in-memory log, newest first.",
		Args:  cobra.NoArgs,
		RunE: withSession(func(ctx context.Context, session *ctl.Session, _ []string) error {
			return session.Events(ctx, hours)
		}),
	}

	historyCmd = &cobra.Command{
		Use:   "history",
		Short: "List archived events, newest first.",
		Args:  cobra.NoArgs,
		RunE: withSession(func(ctx context.Context, session *ctl.Session, _ []string) error {
			var from time.Time

			if since != "" {
				parsed, err := time.Parse(time.RFC3339, since)
				if err != nil {
					return err
				}

				from = parsed
			}

			return session.History(ctx, from, limit)
		}),
	}

	complianceCmd = &cobra.Command{
		Use:   "compliance",
		Short: "Show the compliance report and certificate validity.",
		Args:  cobra.NoArgs,
		RunE: withSession(func(ctx context.Context, session *ctl.Session, _ []string) error {
			return session.Compliance(ctx)
		}),
	}

	selfTestCmd = &cobra.Command{
		Use:   "self-test",
		Short: "Run the self-test of every subsystem.",
		Args:  cobra.NoArgs,
		RunE: withSession(func(ctx context.Context, session *ctl.Session, _ []string) error {
			return session.SelfTest(ctx)
		}),
	}
)

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	eventsCmd.Flags().Float64Var(&hours, "hours", coordinator.DefaultTimeframe.Hours(), "time window in hours")
	historyCmd.Flags().StringVar(&since, "since", "", "RFC 3339 start time, empty for the whole archive")
	historyCmd.Flags().IntVar(&limit, "limit", 100, "maximum number of events, 0 for no limit")

	rootCmd.AddCommand(statusCmd, eventsCmd, historyCmd, complianceCmd, selfTestCmd)
}
