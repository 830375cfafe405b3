package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/oshokin/ship-safety/internal/domain/safety"
	"github.com/oshokin/ship-safety/internal/service/ctl"
)

var (
	// source is the reporting system of the report command.
	source string
	// payload holds key=value attributes of the report command.
	payload map[string]string

	emergencyStopCmd = &cobra.Command{
		Use:   "emergency-stop [zone]",
		Short: "Stop machinery in a zone, or in every zone without an argument.",
		Args:  cobra.MaximumNArgs(1),
		RunE: withSession(func(ctx context.Context, session *ctl.Session, args []string) error {
			var zone string
			if len(args) > 0 {
				zone = args[0]
			}

			return session.EmergencyStop(ctx, zone)
		}),
	}

	fireAlarmCmd = &cobra.Command{
		Use:   "fire-alarm <zone>",
		Short: "Raise a fire alarm in a zone.",
		Args:  cobra.ExactArgs(1),
		RunE: withSession(func(ctx context.Context, session *ctl.Session, args []string) error {
			return session.FireAlarm(ctx, args[0])
		}),
	}

	manOverboardCmd = &cobra.Command{
		Use:   "man-overboard [position]",
		Short: "Report a person overboard at the given position.",
		Args:  cobra.MaximumNArgs(1),
		RunE: withSession(func(ctx context.Context, session *ctl.Session, args []string) error {
			var position string
			if len(args) > 0 {
				position = args[0]
			}

			return session.ManOverboard(ctx, position)
		}),
	}

	reportCmd = &cobra.Command{
		Use:   "report <event-type>",
		Short: "Queue an externally observed event.",
		Args:  cobra.ExactArgs(1),
		RunE: withSession(func(ctx context.Context, session *ctl.Session, args []string) error {
			system, err := parseSystem(source, false)
			if err != nil {
				return err
			}

			return session.Report(ctx, system, args[0], toPayload(payload))
		}),
	}

	resetAllCmd = &cobra.Command{
		Use:   "reset-all",
		Short: "Reset every subsystem and wait until the ship is back to normal.",
		Args:  cobra.NoArgs,
		RunE: withSession(func(ctx context.Context, session *ctl.Session, _ []string) error {
			return session.ResetAll(ctx)
		}),
	}
)

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	reportCmd.Flags().StringVar(&source, "source", string(safety.SystemSafetyManager), "reporting system")
	reportCmd.Flags().StringToStringVarP(&payload, "payload", "p", nil, "event attributes as key=value")

	rootCmd.AddCommand(emergencyStopCmd, fireAlarmCmd, manOverboardCmd, reportCmd, resetAllCmd)
}
